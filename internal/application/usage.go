package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/infrastructure/metrics"
)

// RecordRateLimit stores the server-reported remaining requests and reset
// time for the credential identified by secret, deactivating it when the
// remaining count drops below the pool threshold. Unknown secrets are ignored:
// the credential may have been replaced between acquisition and response.
func (k *Keyring) RecordRateLimit(ctx context.Context, service, secret string, remaining int, resetAt *int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	pool := k.state.Pool(service)
	if pool == nil {
		return nil
	}
	idx := pool.IndexOf(secret)
	if idx == -1 {
		return nil
	}

	prev := k.state.Clone()
	cred := &pool.Credentials[idx]
	cred.Remaining = remaining
	if resetAt != nil {
		r := *resetAt
		cred.ResetAt = &r
	} else {
		cred.ResetAt = nil
	}
	deactivated := k.applyThreshold(pool, idx)

	if err := k.commit(ctx, prev); err != nil {
		return fmt.Errorf("record rate limit: %w", err)
	}
	k.publishUsage(pool.Service, pool.Credentials[idx], deactivated)
	return nil
}

// RecordQuotaConsumption charges units against the credential's fixed quota
// ceiling (the pool's initial capacity) and applies the same threshold rule
// as RecordRateLimit. Unknown secrets are ignored.
func (k *Keyring) RecordQuotaConsumption(ctx context.Context, service, secret string, units int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	pool := k.state.Pool(service)
	if pool == nil {
		return nil
	}
	idx := pool.IndexOf(secret)
	if idx == -1 {
		return nil
	}

	prev := k.state.Clone()
	cred := &pool.Credentials[idx]
	cred.QuotaUsed += units
	cred.Remaining = max(0, pool.InitialCapacity-cred.QuotaUsed)
	deactivated := k.applyThreshold(pool, idx)

	if err := k.commit(ctx, prev); err != nil {
		return fmt.Errorf("record quota consumption: %w", err)
	}
	k.publishUsage(pool.Service, pool.Credentials[idx], deactivated)
	return nil
}

// applyThreshold deactivates the credential at idx when its remaining
// capacity is below the pool threshold. It reports whether the credential
// went from active to inactive.
func (k *Keyring) applyThreshold(pool *model.Pool, idx int) bool {
	cred := &pool.Credentials[idx]
	if cred.Remaining >= pool.Threshold || !cred.Active {
		return false
	}
	cred.Active = false
	return true
}

// publishUsage emits the observable side effects of a committed usage update.
func (k *Keyring) publishUsage(service string, cred model.Credential, deactivated bool) {
	metrics.CredentialRemaining.WithLabelValues(service, cred.Name).Set(float64(cred.Remaining))
	if !deactivated {
		return
	}
	metrics.CredentialDeactivations.WithLabelValues(service).Inc()
	k.logger.Warn("credential deactivated",
		"service", service,
		"name", cred.Name,
		"remaining", cred.Remaining,
	)
}
