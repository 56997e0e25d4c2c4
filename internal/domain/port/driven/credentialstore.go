package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by stores that encrypt secrets at rest
// when GITSCOUT_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set GITSCOUT_SECRET_KEY")

// ErrStateNotFound is returned by CredentialStore.Load when nothing has been
// persisted yet.
var ErrStateNotFound = errors.New("credential state not found")

// ErrStateCorrupt is returned (wrapped) by CredentialStore.Load when persisted
// state exists but cannot be decoded.
var ErrStateCorrupt = errors.New("credential state corrupt")

// CredentialStore defines the driven port for durable credential state.
// Implementations persist the whole state at once; the keyring is the only
// writer and serializes calls.
type CredentialStore interface {
	// Load returns the persisted state. Returns ErrStateNotFound when no state
	// exists and an error wrapping ErrStateCorrupt when it cannot be decoded.
	Load(ctx context.Context) (model.State, error)

	// Save replaces any previously persisted state with state.
	Save(ctx context.Context, state model.State) error
}
