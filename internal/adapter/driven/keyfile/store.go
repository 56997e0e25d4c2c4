package keyfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

// Store keeps the credential state in a single JSON file. Writes replace the
// file atomically so a crash never leaves a truncated document behind.
type Store struct {
	path string
}

// NewStore creates a Store reading and writing path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store writes to.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the state file.
func (s *Store) Load(_ context.Context) (model.State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.State{}, fmt.Errorf("read %s: %w", s.path, driven.ErrStateNotFound)
	}
	if err != nil {
		return model.State{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	state, err := Unmarshal(data)
	if err != nil {
		return model.State{}, fmt.Errorf("load %s: %w", s.path, err)
	}
	return state, nil
}

// Save encodes state and atomically replaces the file.
func (s *Store) Save(_ context.Context, state model.State) error {
	data, err := Marshal(state)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
