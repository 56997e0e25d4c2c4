package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/infrastructure/metrics"
)

// MaxAttempts is the total number of attempts a dispatch makes before failing.
const MaxAttempts = 3

// ErrNoCredential is returned when a pool has no active credential and
// anonymous fallback is disabled.
var ErrNoCredential = errors.New("no active credential available")

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// CallFunc performs one outbound attempt. cred is nil for anonymous calls.
// The function must read the whole response before returning; ctx carries
// the per-attempt deadline. A non-nil error means no response was received.
type CallFunc func(ctx context.Context, cred *model.Credential) (*Response, error)

// DispatchError is returned when a dispatch gives up. It carries enough
// context for callers to render a meaningful message.
type DispatchError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: failed after %d attempt(s): %v", e.Service, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// DispatcherConfig holds the retry timing.
type DispatcherConfig struct {
	// BaseDelay is multiplied by the attempt number (starting at 1) to get the
	// sleep before the next attempt.
	BaseDelay time.Duration
	// AttemptTimeout bounds a single attempt.
	AttemptTimeout time.Duration
}

// DefaultDispatcherConfig returns a one second linear backoff and a
// twenty second per-attempt deadline.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BaseDelay:      1 * time.Second,
		AttemptTimeout: 20 * time.Second,
	}
}

// DispatcherOption customizes a Dispatcher at construction.
type DispatcherOption func(*Dispatcher)

// WithSleep replaces the backoff sleep. fn must return ctx.Err() if ctx is
// canceled before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) DispatcherOption {
	return func(disp *Dispatcher) { disp.sleep = fn }
}

// Dispatcher is the single chokepoint for outbound calls to credentialed
// services. It acquires a credential, performs the call, feeds usage
// telemetry back to the keyring and retries transport faults and credential
// exhaustion with linear backoff.
type Dispatcher struct {
	keyring *Keyring
	cfg     DispatcherConfig
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher drawing credentials from keyring.
func NewDispatcher(keyring *Keyring, cfg DispatcherConfig, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		keyring: keyring,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch performs one logical call to service. Any received response is
// returned as-is, whatever its status code, except that a response reporting
// credential exhaustion is retried while attempts remain. Transport errors
// are retried. After MaxAttempts failures a *DispatchError is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, service string, call CallFunc) (*Response, error) {
	start := time.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
	}()

	kind, ok := d.keyring.Kind(service)
	if !ok {
		return nil, &DispatchError{Service: service, Err: ErrUnknownService}
	}
	signal := signalFor(kind, d.logger)
	opts := d.keyring.Options()
	callID := uuid.NewString()

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		cred, err := d.keyring.Acquire(ctx, service)
		if err != nil {
			return nil, &DispatchError{Service: service, Attempts: attempt - 1, Err: err}
		}
		if cred == nil && !opts.AnonymousFallback {
			return nil, &DispatchError{Service: service, Attempts: attempt - 1, Err: ErrNoCredential}
		}
		if cred == nil {
			d.logger.Debug("no active credential, calling anonymously", "service", service, "call_id", callID)
		}

		resp, err := d.attempt(ctx, cred, call)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				metrics.DispatchAttempts.WithLabelValues(service, "canceled").Inc()
				return nil, &DispatchError{Service: service, Attempts: attempt, Err: ctx.Err()}
			}
			metrics.DispatchAttempts.WithLabelValues(service, "transport_error").Inc()
			d.logger.Warn("outbound request failed",
				"service", service,
				"call_id", callID,
				"attempt", attempt,
				"max_attempts", MaxAttempts,
				"error", err,
			)
			if attempt < MaxAttempts {
				if err := d.backoff(ctx, attempt); err != nil {
					return nil, &DispatchError{Service: service, Attempts: attempt, Err: err}
				}
			}
			continue
		}

		d.observe(ctx, service, cred, signal, resp)

		if signal.Exhausted(resp) && opts.RetryOnExhaustion && attempt < MaxAttempts {
			metrics.DispatchAttempts.WithLabelValues(service, "exhausted").Inc()
			lastErr = fmt.Errorf("credential exhausted: status %d", resp.StatusCode)
			d.logger.Warn("credential exhausted, retrying with next credential",
				"service", service,
				"call_id", callID,
				"attempt", attempt,
				"status", resp.StatusCode,
			)
			if err := d.backoff(ctx, attempt); err != nil {
				return nil, &DispatchError{Service: service, Attempts: attempt, Err: err}
			}
			continue
		}

		metrics.DispatchAttempts.WithLabelValues(service, "ok").Inc()
		return resp, nil
	}

	return nil, &DispatchError{Service: service, Attempts: MaxAttempts, Err: lastErr}
}

// attempt runs call under the per-attempt deadline.
func (d *Dispatcher) attempt(ctx context.Context, cred *model.Credential, call CallFunc) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	resp, err := call(attemptCtx, cred)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("call returned neither response nor error")
	}
	return resp, nil
}

// observe feeds the response telemetry to the keyring. Failures are logged,
// not returned: the response was received and belongs to the caller.
func (d *Dispatcher) observe(ctx context.Context, service string, cred *model.Credential, signal usageSignal, resp *Response) {
	if model.IsAnonymous(cred) {
		return
	}
	if err := signal.Record(ctx, d.keyring, service, cred, resp); err != nil {
		d.logger.Error("failed to record credential usage", "service", service, "name", cred.Name, "error", err)
	}
}

func (d *Dispatcher) backoff(ctx context.Context, attempt int) error {
	return d.sleep(ctx, d.cfg.BaseDelay*time.Duration(attempt))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
