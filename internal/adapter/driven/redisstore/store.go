// Package redisstore keeps the credential state in Redis so several gitscout
// processes can share one rotation pool.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/gitscout/internal/adapter/driven/keyfile"
	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// DefaultKey is the Redis key holding the state document.
const DefaultKey = "gitscout:keys"

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

// Store stores the JSON state document under a single key.
type Store struct {
	client *redis.Client
	key    string
}

// NewStore connects to the Redis server at addr.
func NewStore(addr, password string, db int, key string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: rdb, key: key}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Load fetches and decodes the state document.
func (s *Store) Load(ctx context.Context) (model.State, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.State{}, fmt.Errorf("get %s: %w", s.key, driven.ErrStateNotFound)
	}
	if err != nil {
		return model.State{}, fmt.Errorf("get %s: %w", s.key, err)
	}

	state, err := keyfile.Unmarshal(data)
	if err != nil {
		return model.State{}, fmt.Errorf("load %s: %w", s.key, err)
	}
	return state, nil
}

// Save replaces the state document. SET is atomic so readers never observe
// a partial document.
func (s *Store) Save(ctx context.Context, state model.State) error {
	data, err := keyfile.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}
