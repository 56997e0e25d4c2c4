package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/gitscout/internal/adapter/driven/credstore"
	"github.com/ericfisherdev/gitscout/internal/adapter/driven/gemini"
	githubadapter "github.com/ericfisherdev/gitscout/internal/adapter/driven/github"
	httphandler "github.com/ericfisherdev/gitscout/internal/adapter/driving/http"
	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store,
		"retry_base_delay", cfg.RetryBaseDelay,
		"attempt_timeout", cfg.AttemptTimeout,
		"gemini_model", cfg.GeminiModel,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the credential store backend.
	store, closeStore, err := credstore.Open(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			slog.Error("error closing credential store", "error", closeErr)
		}
	}()

	// 4. Load the keyring (falls back to env bootstrap secrets).
	keyring := application.NewKeyring(store, cfg.BootstrapSecrets(), slog.Default())
	if err := keyring.Load(ctx); err != nil {
		return err
	}

	// 5. Create the dispatcher every outbound call goes through.
	dispatcher := application.NewDispatcher(keyring, application.DispatcherConfig{
		BaseDelay:      cfg.RetryBaseDelay,
		AttemptTimeout: cfg.AttemptTimeout,
	}, slog.Default())

	// 6. Wire driven adapters.
	ghClient := githubadapter.NewClient(dispatcher, http.DefaultTransport)
	evaluator := gemini.NewEvaluator(dispatcher, cfg.GeminiModel, slog.Default())

	// 7. Create the report service.
	reportSvc := application.NewReportService(ghClient, evaluator, slog.Default())

	// 8. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(reportSvc, keyring, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	// Reports fan out to a dozen GitHub calls plus a model call, each with
	// retries, so the write timeout is generous.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	// 9. Log startup complete.
	snapshot := keyring.Snapshot()
	for _, pool := range snapshot.Pools {
		slog.Info("credential pool ready",
			"service", pool.Service,
			"strategy", pool.Strategy,
			"credentials", len(pool.Credentials),
		)
	}
	slog.Info("gitscout started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
