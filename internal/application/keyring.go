package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
	"github.com/ericfisherdev/gitscout/internal/infrastructure/metrics"
)

var (
	// ErrUnknownService is returned when an operation names a service with no pool.
	ErrUnknownService = errors.New("unknown service")
	// ErrDuplicateCredential is returned when a secret is already in the pool.
	ErrDuplicateCredential = errors.New("credential already in pool")
	// ErrDuplicateName is returned when a display name is already used in the pool.
	ErrDuplicateName = errors.New("credential name already in pool")
	// ErrCredentialNotFound is returned by operator operations on a missing name.
	ErrCredentialNotFound = errors.New("credential not found")
)

// KeyringOption customizes a Keyring at construction.
type KeyringOption func(*Keyring)

// WithClock overrides the time source used to stamp LastUsedAt.
func WithClock(now func() time.Time) KeyringOption {
	return func(k *Keyring) { k.now = now }
}

// Keyring owns the in-memory credential pools and is the single writer of
// the persisted state. Every mutation runs under one mutex and is saved to
// the store before the lock is released; a failed save rolls the in-memory
// change back so memory never runs ahead of storage.
type Keyring struct {
	mu        sync.Mutex
	state     model.State
	store     driven.CredentialStore
	bootstrap map[string]string
	logger    *slog.Logger
	now       func() time.Time
}

// NewKeyring creates a keyring backed by store. bootstrap maps service names
// to secrets used to seed the default configuration when nothing usable is
// persisted. The keyring holds the default configuration until Load is called.
func NewKeyring(store driven.CredentialStore, bootstrap map[string]string, logger *slog.Logger, opts ...KeyringOption) *Keyring {
	k := &Keyring{
		state:     model.DefaultState(bootstrap),
		store:     store,
		bootstrap: bootstrap,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Load replaces the in-memory state with the persisted one. A missing or
// undecodable state falls back to the bootstrap configuration and is not
// reported as an error; any other store failure is returned.
func (k *Keyring) Load(ctx context.Context) error {
	state, err := k.store.Load(ctx)
	switch {
	case errors.Is(err, driven.ErrStateNotFound):
		k.logger.Info("no persisted credential state, using bootstrap configuration")
		state = model.DefaultState(k.bootstrap)
	case errors.Is(err, driven.ErrStateCorrupt):
		k.logger.Warn("persisted credential state is malformed, using bootstrap configuration", "error", err)
		state = model.DefaultState(k.bootstrap)
	case err != nil:
		return fmt.Errorf("load credential state: %w", err)
	}

	for _, service := range model.KnownServices() {
		if state.Pool(service) == nil {
			state.Pools = append(state.Pools, model.NewPool(service))
		}
	}
	sortPools(state.Pools)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = state
	for _, p := range state.Pools {
		for _, c := range p.Credentials {
			metrics.CredentialRemaining.WithLabelValues(p.Service, c.Name).Set(float64(c.Remaining))
		}
	}
	return nil
}

// Acquire selects the next credential for service, stamps it as used now and
// persists the change, all in one critical section. It returns (nil, nil)
// when the pool has no active credential. The returned credential is a copy.
func (k *Keyring) Acquire(ctx context.Context, service string) (*model.Credential, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	pool := k.state.Pool(service)
	if pool == nil {
		return nil, fmt.Errorf("acquire %q: %w", service, ErrUnknownService)
	}

	idx, ok := SelectCredential(*pool)
	if !ok {
		return nil, nil
	}

	prev := k.state.Clone()
	now := k.now().UTC()
	pool.Credentials[idx].LastUsedAt = &now

	if err := k.commit(ctx, prev); err != nil {
		return nil, err
	}

	cred := pool.Credentials[idx].Clone()
	return &cred, nil
}

// AddCredential appends a new active credential to the service's pool with
// full initial capacity. An empty name is replaced by
// "{service}_credential_{n}" where n is the pool size before insertion.
// Services without a pool get one built from their profile.
func (k *Keyring) AddCredential(ctx context.Context, service, secret, name string) (model.Credential, error) {
	service = strings.TrimSpace(service)
	if service == "" || secret == "" {
		return model.Credential{}, errors.New("add credential: service and secret are required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	prev := k.state.Clone()

	pool := k.state.Pool(service)
	if pool == nil {
		k.state.Pools = append(k.state.Pools, model.NewPool(service))
		sortPools(k.state.Pools)
		pool = k.state.Pool(service)
	}
	if pool.IndexOf(secret) != -1 {
		return model.Credential{}, fmt.Errorf("add credential to %q: %w", service, ErrDuplicateCredential)
	}
	if name == "" {
		name = pool.DefaultName()
	}
	if pool.IndexOfName(name) != -1 {
		return model.Credential{}, fmt.Errorf("add credential %s/%s: %w", service, name, ErrDuplicateName)
	}

	cred := model.Credential{
		Secret:    secret,
		Name:      name,
		Remaining: pool.InitialCapacity,
		Active:    true,
	}
	pool.Credentials = append(pool.Credentials, cred)

	if err := k.commit(ctx, prev); err != nil {
		return model.Credential{}, err
	}

	metrics.CredentialRemaining.WithLabelValues(service, name).Set(float64(cred.Remaining))
	k.logger.Info("credential added", "service", service, "name", name)
	return cred, nil
}

// SetActive flips the active flag of the named credential. It is the only
// way a deactivated credential returns to rotation.
func (k *Keyring) SetActive(ctx context.Context, service, name string, active bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	pool := k.state.Pool(service)
	if pool == nil {
		return fmt.Errorf("set active %q: %w", service, ErrUnknownService)
	}
	idx := pool.IndexOfName(name)
	if idx == -1 {
		return fmt.Errorf("set active %s/%s: %w", service, name, ErrCredentialNotFound)
	}

	prev := k.state.Clone()
	pool.Credentials[idx].Active = active
	if err := k.commit(ctx, prev); err != nil {
		return err
	}

	k.logger.Info("credential status changed", "service", service, "name", name, "active", active)
	return nil
}

// Snapshot returns a deep copy of the current state.
func (k *Keyring) Snapshot() model.State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Clone()
}

// Options returns the current rotation options.
func (k *Keyring) Options() model.RotationOptions {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state.Options
}

// Kind returns how the service reports usage. ok is false for unknown services.
func (k *Keyring) Kind(service string) (model.UsageKind, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pool := k.state.Pool(service)
	if pool == nil {
		return "", false
	}
	return pool.Kind, true
}

// commit persists the current state. On failure the state is reset to prev.
// The save is detached from ctx cancellation so a caller giving up cannot
// abandon a write halfway. Callers must hold k.mu.
func (k *Keyring) commit(ctx context.Context, prev model.State) error {
	if err := k.store.Save(context.WithoutCancel(ctx), k.state); err != nil {
		k.state = prev
		return fmt.Errorf("persist credential state: %w", err)
	}
	return nil
}

func sortPools(pools []model.Pool) {
	slices.SortFunc(pools, func(a, b model.Pool) int {
		return strings.Compare(a.Service, b.Service)
	})
}
