package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Secrets are encrypted with AES-256-GCM before write and decrypted after read;
// every other field is stored in the clear.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (all operations will return ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Load reads every pool and credential. It returns driven.ErrStateNotFound
// when nothing has been saved yet.
func (r *CredentialRepo) Load(ctx context.Context) (model.State, error) {
	if r.key == nil {
		return model.State{}, driven.ErrEncryptionKeyNotSet
	}

	var state model.State
	const optsQuery = `SELECT retry_on_exhaustion, anonymous_fallback FROM rotation_options WHERE id = 1`
	err := r.db.Reader.QueryRowContext(ctx, optsQuery).Scan(
		&state.Options.RetryOnExhaustion,
		&state.Options.AnonymousFallback,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.State{}, fmt.Errorf("load rotation options: %w", driven.ErrStateNotFound)
	}
	if err != nil {
		return model.State{}, fmt.Errorf("load rotation options: %w", err)
	}

	pools, err := r.loadPools(ctx)
	if err != nil {
		return model.State{}, err
	}
	for i := range pools {
		creds, err := r.loadCredentials(ctx, pools[i].Service)
		if err != nil {
			return model.State{}, err
		}
		pools[i].Credentials = creds
	}
	state.Pools = pools

	return state, nil
}

func (r *CredentialRepo) loadPools(ctx context.Context) ([]model.Pool, error) {
	const query = `SELECT service, strategy, threshold FROM credential_pools ORDER BY service`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var service, strategy string
		var threshold int
		if err := rows.Scan(&service, &strategy, &threshold); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pool := model.NewPool(service)
		var known bool
		if pool.Strategy, known = model.ParseStrategy(strategy); !known {
			slog.Warn("unknown rotation strategy, using round_robin", "service", service, "strategy", strategy)
		}
		pool.Threshold = threshold
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}

	return pools, nil
}

func (r *CredentialRepo) loadCredentials(ctx context.Context, service string) ([]model.Credential, error) {
	const query = `SELECT name, secret, last_used_at, remaining, reset_at, quota_used, active
		FROM pool_credentials WHERE service = ? ORDER BY position`
	rows, err := r.db.Reader.QueryContext(ctx, query, service)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %q: %w", service, err)
	}
	defer rows.Close()

	creds := []model.Credential{}
	for rows.Next() {
		var cred model.Credential
		var encrypted string
		var lastUsed sql.NullString
		var resetAt sql.NullInt64
		if err := rows.Scan(&cred.Name, &encrypted, &lastUsed, &cred.Remaining, &resetAt, &cred.QuotaUsed, &cred.Active); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}

		cred.Secret, err = r.decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %s/%s: %w", service, cred.Name, err)
		}

		if lastUsed.Valid {
			t, err := parseTime(lastUsed.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_used_at for %s/%s: %w", service, cred.Name, err)
			}
			cred.LastUsedAt = &t
		}
		if resetAt.Valid {
			v := resetAt.Int64
			cred.ResetAt = &v
		}

		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Save replaces the stored state in a single transaction.
func (r *CredentialRepo) Save(ctx context.Context, state model.State) error {
	if r.key == nil {
		return driven.ErrEncryptionKeyNotSet
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pool_credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM credential_pools`); err != nil {
		return fmt.Errorf("clear pools: %w", err)
	}

	const optsQuery = `INSERT INTO rotation_options (id, retry_on_exhaustion, anonymous_fallback, updated_at)
		VALUES (1, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			retry_on_exhaustion = excluded.retry_on_exhaustion,
			anonymous_fallback = excluded.anonymous_fallback,
			updated_at = CURRENT_TIMESTAMP`
	if _, err := tx.ExecContext(ctx, optsQuery, state.Options.RetryOnExhaustion, state.Options.AnonymousFallback); err != nil {
		return fmt.Errorf("save rotation options: %w", err)
	}

	const poolQuery = `INSERT INTO credential_pools (service, strategy, threshold) VALUES (?, ?, ?)`
	const credQuery = `INSERT INTO pool_credentials
		(service, position, name, secret, last_used_at, remaining, reset_at, quota_used, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, pool := range state.Pools {
		if _, err := tx.ExecContext(ctx, poolQuery, pool.Service, string(pool.Strategy), pool.Threshold); err != nil {
			return fmt.Errorf("save pool %q: %w", pool.Service, err)
		}

		for i, cred := range pool.Credentials {
			encrypted, err := r.encrypt(cred.Secret)
			if err != nil {
				return err
			}

			var lastUsed sql.NullString
			if cred.LastUsedAt != nil {
				lastUsed = sql.NullString{String: formatTime(*cred.LastUsedAt), Valid: true}
			}
			var resetAt sql.NullInt64
			if cred.ResetAt != nil {
				resetAt = sql.NullInt64{Int64: *cred.ResetAt, Valid: true}
			}

			_, err = tx.ExecContext(ctx, credQuery,
				pool.Service, i, cred.Name, encrypted, lastUsed,
				cred.Remaining, resetAt, cred.QuotaUsed, cred.Active,
			)
			if err != nil {
				return fmt.Errorf("save credential %s/%s: %w", pool.Service, cred.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential state: %w", err)
	}
	return nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *CredentialRepo) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
