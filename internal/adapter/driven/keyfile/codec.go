// Package keyfile persists the credential state as a JSON document.
package keyfile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

const (
	credentialsSuffix = "_credentials"
	thresholdSuffix   = "_threshold"
	strategyKey       = "rotation_strategy"
	retryOnQuotaKey   = "retry_on_quota"
	fallbackKey       = "fallback_enabled"
	lastUsedKey       = "last_used"
	quotaUsedKey      = "quota_used"
	activeKey         = "active"
	nameKey           = "name"
)

// naiveLayouts are accepted for last_used values written without a zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Marshal encodes state into the persisted document layout, indented with
// two spaces.
func Marshal(state model.State) ([]byte, error) {
	doc := map[string]any{}
	strategies := map[string]any{
		retryOnQuotaKey: state.Options.RetryOnExhaustion,
		fallbackKey:     state.Options.AnonymousFallback,
	}

	for _, pool := range state.Pools {
		prof := model.ProfileFor(pool.Service)
		entries := make([]map[string]any, 0, len(pool.Credentials))
		for _, c := range pool.Credentials {
			entries = append(entries, encodeCredential(prof, c))
		}
		doc[pool.Service+credentialsSuffix] = entries
		doc[pool.Service+thresholdSuffix] = pool.Threshold
		strategies[pool.Service] = string(pool.Strategy)
	}
	doc[strategyKey] = strategies

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal credential state: %w", err)
	}
	return data, nil
}

func encodeCredential(prof model.ServiceProfile, c model.Credential) map[string]any {
	entry := map[string]any{
		prof.SecretField:   c.Secret,
		prof.CapacityField: c.Remaining,
		activeKey:          c.Active,
		nameKey:            c.Name,
		lastUsedKey:        nil,
	}
	if c.LastUsedAt != nil {
		entry[lastUsedKey] = c.LastUsedAt.UTC().Format(time.RFC3339Nano)
	}
	if prof.Kind == model.UsageQuota {
		entry[quotaUsedKey] = c.QuotaUsed
	} else if prof.ResetField != "" {
		if c.ResetAt != nil {
			entry[prof.ResetField] = *c.ResetAt
		} else {
			entry[prof.ResetField] = nil
		}
	}
	return entry
}

// legacyCredentialKeys and legacyThresholdKeys map the key names of the
// single-file layout used before per-service keys onto services. They are
// read when the per-service key is absent; Marshal always writes the
// per-service form, so a legacy file is migrated on its first save.
var (
	legacyCredentialKeys = map[string]string{
		"github_tokens":   model.ServiceGitHub,
		"google_api_keys": model.ServiceGoogle,
	}
	legacyThresholdKeys = map[string]string{
		"github_rate_limit_threshold": model.ServiceGitHub,
		"google_quota_threshold":      model.ServiceGoogle,
	}
)

// Unmarshal decodes a persisted document. Any structural problem is reported
// as driven.ErrStateCorrupt. Missing optional fields take the service
// profile defaults. Pools exist only for services with a credentials list;
// thresholds and strategies for other services are ignored.
func Unmarshal(data []byte) (model.State, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.State{}, corrupt("decode document", err)
	}

	credKeys, thresholdKeys := map[string]string{}, map[string]string{}
	for key := range doc {
		switch {
		case legacyCredentialKeys[key] != "":
			setIfAbsent(credKeys, legacyCredentialKeys[key], key)
		case legacyThresholdKeys[key] != "":
			setIfAbsent(thresholdKeys, legacyThresholdKeys[key], key)
		case strings.HasSuffix(key, credentialsSuffix):
			credKeys[strings.TrimSuffix(key, credentialsSuffix)] = key
		case strings.HasSuffix(key, thresholdSuffix):
			thresholdKeys[strings.TrimSuffix(key, thresholdSuffix)] = key
		}
	}

	state := model.State{Options: model.DefaultRotationOptions()}
	pools := map[string]*model.Pool{}
	for service, key := range credKeys {
		creds, err := decodeCredentials(service, key, doc[key])
		if err != nil {
			return model.State{}, err
		}
		p := model.NewPool(service)
		p.Credentials = creds
		pools[service] = &p
	}

	for service, key := range thresholdKeys {
		p, ok := pools[service]
		if !ok {
			slog.Debug("ignoring threshold for service without credentials", "key", key)
			continue
		}
		if err := json.Unmarshal(doc[key], &p.Threshold); err != nil {
			return model.State{}, corrupt("decode "+key, err)
		}
	}

	if raw, ok := doc[strategyKey]; ok {
		var strategies map[string]json.RawMessage
		if err := json.Unmarshal(raw, &strategies); err != nil {
			return model.State{}, corrupt("decode "+strategyKey, err)
		}
		for key, v := range strategies {
			switch key {
			case retryOnQuotaKey:
				if err := json.Unmarshal(v, &state.Options.RetryOnExhaustion); err != nil {
					return model.State{}, corrupt("decode "+key, err)
				}
			case fallbackKey:
				if err := json.Unmarshal(v, &state.Options.AnonymousFallback); err != nil {
					return model.State{}, corrupt("decode "+key, err)
				}
			default:
				var name string
				if err := json.Unmarshal(v, &name); err != nil {
					return model.State{}, corrupt("decode strategy for "+key, err)
				}
				// Strategies for services without credentials are ignored.
				if p, ok := pools[key]; ok {
					var known bool
					if p.Strategy, known = model.ParseStrategy(name); !known {
						slog.Warn("unknown rotation strategy, using round_robin", "service", key, "strategy", name)
					}
				}
			}
		}
	}

	services := make([]string, 0, len(pools))
	for service := range pools {
		services = append(services, service)
	}
	slices.Sort(services)
	for _, service := range services {
		state.Pools = append(state.Pools, *pools[service])
	}
	return state, nil
}

// setIfAbsent records a legacy key for service unless the per-service key
// already claimed it.
func setIfAbsent(keys map[string]string, service, key string) {
	if _, ok := keys[service]; !ok {
		keys[service] = key
	}
}

func decodeCredentials(service, key string, raw json.RawMessage) ([]model.Credential, error) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, corrupt("decode "+key, err)
	}

	prof := model.ProfileFor(service)
	creds := make([]model.Credential, 0, len(entries))
	for i, entry := range entries {
		c := model.Credential{
			Name:      fmt.Sprintf("%s_credential_%d", service, i),
			Remaining: prof.InitialCapacity,
			Active:    true,
		}
		fields := []struct {
			key string
			dst any
		}{
			{prof.SecretField, &c.Secret},
			{prof.CapacityField, &c.Remaining},
			{activeKey, &c.Active},
			{nameKey, &c.Name},
			{quotaUsedKey, &c.QuotaUsed},
		}
		for _, f := range fields {
			v, ok := entry[f.key]
			if !ok || isNull(v) {
				continue
			}
			if err := json.Unmarshal(v, f.dst); err != nil {
				return nil, corrupt(fmt.Sprintf("decode %s[%d].%s", service, i, f.key), err)
			}
		}

		if v, ok := entry[prof.ResetField]; ok && prof.ResetField != "" && !isNull(v) {
			var reset int64
			if err := json.Unmarshal(v, &reset); err != nil {
				return nil, corrupt(fmt.Sprintf("decode %s[%d].%s", service, i, prof.ResetField), err)
			}
			c.ResetAt = &reset
		}

		if v, ok := entry[lastUsedKey]; ok && !isNull(v) {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, corrupt(fmt.Sprintf("decode %s[%d].%s", service, i, lastUsedKey), err)
			}
			t, err := parseTimestamp(s)
			if err != nil {
				return nil, corrupt(fmt.Sprintf("decode %s[%d].%s", service, i, lastUsedKey), err)
			}
			c.LastUsedAt = &t
		}

		// Documents without quota_used only carry the remaining count; the
		// consumed units are whatever the ceiling no longer covers.
		if v, ok := entry[quotaUsedKey]; (!ok || isNull(v)) && prof.Kind == model.UsageQuota {
			c.QuotaUsed = max(0, prof.InitialCapacity-c.Remaining)
		}

		if slices.ContainsFunc(creds, func(o model.Credential) bool { return o.Name == c.Name }) {
			slog.Warn("duplicate credential name, only the first is addressable by name", "service", service, "name", c.Name)
		}
		creds = append(creds, c)
	}
	return creds, nil
}

// parseTimestamp accepts RFC 3339 and zone-less ISO 8601, the latter read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func corrupt(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, driven.ErrStateCorrupt, err)
}
