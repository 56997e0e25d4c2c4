// Package credstore opens the credential store backend selected in config.
package credstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/gitscout/internal/adapter/driven/keyfile"
	"github.com/ericfisherdev/gitscout/internal/adapter/driven/redisstore"
	"github.com/ericfisherdev/gitscout/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/gitscout/internal/config"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// Open returns the configured store and a function releasing its resources.
// The close function is never nil.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (driven.CredentialStore, func() error, error) {
	switch cfg.Store {
	case config.StoreFile:
		logger.Info("credential store opened", "backend", cfg.Store, "path", cfg.KeysPath)
		return keyfile.NewStore(cfg.KeysPath), func() error { return nil }, nil

	case config.StoreSQLite:
		db, err := sqlite.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.RunMigrations(db.Writer); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("credential store opened", "backend", cfg.Store, "path", db.Path())
		return sqlite.NewCredentialRepo(db, cfg.SecretKey), db.Close, nil

	case config.StoreRedis:
		store := redisstore.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("credential store opened", "backend", cfg.Store, "addr", cfg.RedisAddr, "key", cfg.RedisKey)
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Store)
	}
}
