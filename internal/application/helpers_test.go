package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// memStore is an in-memory driven.CredentialStore that records saves.
type memStore struct {
	mu      sync.Mutex
	state   model.State
	has     bool
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(_ context.Context) (model.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return model.State{}, m.loadErr
	}
	if !m.has {
		return model.State{}, driven.ErrStateNotFound
	}
	return m.state.Clone(), nil
}

func (m *memStore) Save(_ context.Context, state model.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = state.Clone()
	m.has = true
	m.saves++
	return nil
}

func (m *memStore) saved() (model.State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), m.saves
}

func (m *memStore) failSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

var errDiskFull = errors.New("disk full")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tickingClock returns a clock that advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func int64Ptr(v int64) *int64 { return &v }

// githubPool builds a rate-limit pool with the given credentials.
func githubPool(strategy model.Strategy, threshold int, creds ...model.Credential) model.Pool {
	pool := model.NewPool(model.ServiceGitHub)
	pool.Strategy = strategy
	pool.Threshold = threshold
	pool.Credentials = creds
	return pool
}

func activeCred(secret string, remaining int) model.Credential {
	return model.Credential{Secret: secret, Name: secret, Remaining: remaining, Active: true}
}

// newLoadedKeyring persists pools into a memStore and returns a keyring loaded
// from it with a ticking clock starting at baseTime.
func newLoadedKeyring(t *testing.T, pools ...model.Pool) (*application.Keyring, *memStore) {
	t.Helper()

	store := &memStore{
		state: model.State{Pools: pools, Options: model.DefaultRotationOptions()},
		has:   true,
	}
	k := application.NewKeyring(store, nil, discardLogger(), application.WithClock(tickingClock(baseTime)))
	require.NoError(t, k.Load(context.Background()))
	return k, store
}

func poolOf(t *testing.T, k *application.Keyring, service string) model.Pool {
	t.Helper()
	state := k.Snapshot()
	pool := state.Pool(service)
	require.NotNil(t, pool, "pool %q missing", service)
	return *pool
}
