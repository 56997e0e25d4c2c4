// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// StoreBackend selects where the credential state is persisted.
type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
	StoreRedis  StoreBackend = "redis"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string

	Store     StoreBackend
	KeysPath  string
	DBPath    string
	SecretKey []byte // 32 bytes when set; nil otherwise.

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	RetryBaseDelay time.Duration
	AttemptTimeout time.Duration

	GeminiModel string

	// Bootstrap secrets seed the credential pools when no state is persisted.
	GitHubToken  string
	GoogleAPIKey string
}

// BootstrapSecrets maps service names to the secrets taken from the environment.
func (c *Config) BootstrapSecrets() map[string]string {
	return map[string]string{
		model.ServiceGitHub: c.GitHubToken,
		model.ServiceGoogle: c.GoogleAPIKey,
	}
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional. Defaults: GITSCOUT_LISTEN_ADDR (127.0.0.1:8080),
// GITSCOUT_STORE (file), GITSCOUT_KEYS_PATH (keys_config.json),
// GITSCOUT_DB_PATH (gitscout.db), GITSCOUT_REDIS_ADDR (127.0.0.1:6379),
// GITSCOUT_REDIS_DB (0), GITSCOUT_REDIS_KEY (gitscout:keys),
// GITSCOUT_RETRY_BASE_DELAY (1s), GITSCOUT_ATTEMPT_TIMEOUT (20s),
// GITSCOUT_GEMINI_MODEL (gemini-flash-latest). GITSCOUT_SECRET_KEY is
// required by the sqlite store.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("GITSCOUT_LISTEN_ADDR", "127.0.0.1:8080"),
		Store:          StoreBackend(envOr("GITSCOUT_STORE", string(StoreFile))),
		KeysPath:       envOr("GITSCOUT_KEYS_PATH", "keys_config.json"),
		DBPath:         envOr("GITSCOUT_DB_PATH", "gitscout.db"),
		RedisAddr:      envOr("GITSCOUT_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:  os.Getenv("GITSCOUT_REDIS_PASSWORD"),
		RedisKey:       envOr("GITSCOUT_REDIS_KEY", "gitscout:keys"),
		GeminiModel:    envOr("GITSCOUT_GEMINI_MODEL", "gemini-flash-latest"),
		GitHubToken:    os.Getenv("GITHUB_TOKEN"),
		GoogleAPIKey:   os.Getenv("GOOGLE_API_KEY"),
		RetryBaseDelay: 1 * time.Second,
		AttemptTimeout: 20 * time.Second,
	}

	switch cfg.Store {
	case StoreFile, StoreSQLite, StoreRedis:
	default:
		return nil, fmt.Errorf("GITSCOUT_STORE must be one of file, sqlite, redis; got %q", cfg.Store)
	}

	if v, ok := os.LookupEnv("GITSCOUT_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return nil, fmt.Errorf("GITSCOUT_REDIS_DB must be a non-negative integer, got %q", v)
		}
		cfg.RedisDB = db
	}

	var err error
	if cfg.RetryBaseDelay, err = durationEnv("GITSCOUT_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return nil, err
	}
	if cfg.AttemptTimeout, err = durationEnv("GITSCOUT_ATTEMPT_TIMEOUT", cfg.AttemptTimeout); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("GITSCOUT_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("GITSCOUT_SECRET_KEY must be 64 hex characters (32 bytes)")
		}
		cfg.SecretKey = key
	}
	if cfg.Store == StoreSQLite && cfg.SecretKey == nil {
		return nil, fmt.Errorf("GITSCOUT_SECRET_KEY is required when GITSCOUT_STORE=sqlite")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}
