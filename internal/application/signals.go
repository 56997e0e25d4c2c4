package application

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// Response headers carrying GitHub-style rate limit telemetry.
const (
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	// headerFromCache is set by httpcache on responses served from the local
	// cache; their rate limit headers are stale.
	headerFromCache = "X-From-Cache"
)

// criticalRemaining is the remaining request count below which a warning is
// logged regardless of the pool threshold.
const criticalRemaining = 10

// usageSignal interprets a response for one kind of service.
type usageSignal interface {
	// Exhausted reports whether resp says the credential's allowance is spent.
	Exhausted(resp *Response) bool
	// Record applies the consumption carried by resp to the credential.
	Record(ctx context.Context, k *Keyring, service string, cred *model.Credential, resp *Response) error
}

func signalFor(kind model.UsageKind, logger *slog.Logger) usageSignal {
	if kind == model.UsageQuota {
		return quotaSignal{unitsPerCall: 1}
	}
	return rateLimitSignal{logger: logger}
}

// rateLimitSignal reads X-RateLimit-* headers.
type rateLimitSignal struct {
	logger *slog.Logger
}

func (rateLimitSignal) Exhausted(resp *Response) bool {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return bytes.Contains(bytes.ToLower(resp.Body), []byte("rate limit"))
}

func (s rateLimitSignal) Record(ctx context.Context, k *Keyring, service string, cred *model.Credential, resp *Response) error {
	if resp.Header == nil || resp.Header.Get(headerFromCache) == "1" {
		return nil
	}
	raw := resp.Header.Get(headerRateLimitRemaining)
	if raw == "" {
		return nil
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed rate limit header", "header", headerRateLimitRemaining, "value", raw)
		return nil
	}

	var resetAt *int64
	if v, err := strconv.ParseInt(resp.Header.Get(headerRateLimitReset), 10, 64); err == nil {
		resetAt = &v
	}

	if remaining < criticalRemaining {
		s.logger.Warn("rate limit critical", "service", service, "name", cred.Name, "remaining", remaining)
	} else {
		s.logger.Debug("rate limit observed", "service", service, "name", cred.Name, "remaining", remaining)
	}

	return k.RecordRateLimit(ctx, service, cred.Secret, remaining, resetAt)
}

// quotaSignal charges a fixed number of units per received response.
type quotaSignal struct {
	unitsPerCall int
}

func (quotaSignal) Exhausted(resp *Response) bool {
	return resp.StatusCode == http.StatusTooManyRequests ||
		bytes.Contains(resp.Body, []byte("RESOURCE_EXHAUSTED"))
}

func (s quotaSignal) Record(ctx context.Context, k *Keyring, service string, cred *model.Credential, _ *Response) error {
	return k.RecordQuotaConsumption(ctx, service, cred.Secret, s.unitsPerCall)
}
