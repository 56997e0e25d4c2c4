package model

// Strategy selects how the next credential is picked from a pool.
type Strategy string

const (
	// StrategyRoundRobin prefers the least recently used credential.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyQuotaBased prefers the credential with the most remaining capacity.
	StrategyQuotaBased Strategy = "quota_based"
)

// ParseStrategy converts a persisted strategy name. Unknown names map to
// round robin; ok reports whether the name was recognised.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyRoundRobin:
		return StrategyRoundRobin, true
	case StrategyQuotaBased:
		return StrategyQuotaBased, true
	default:
		return StrategyRoundRobin, false
	}
}

// UsageKind describes how an upstream service reports consumption.
type UsageKind string

const (
	// UsageRateLimit services report remaining requests and a reset time in
	// response headers (GitHub style).
	UsageRateLimit UsageKind = "rate_limit"
	// UsageQuota services report nothing; consumption is counted locally
	// against a fixed ceiling (Google API key style).
	UsageQuota UsageKind = "quota"
)

// Well-known service names.
const (
	ServiceGitHub = "github"
	ServiceGoogle = "google"
)

// ServiceProfile holds the static, per-service facts: persisted field names,
// nominal ceilings and the bootstrap credential name.
type ServiceProfile struct {
	Service         string
	Kind            UsageKind
	SecretField     string
	CapacityField   string
	ResetField      string // Empty for quota services.
	InitialCapacity int
	Threshold       int
	BootstrapName   string
}

var knownProfiles = map[string]ServiceProfile{
	ServiceGitHub: {
		Service:         ServiceGitHub,
		Kind:            UsageRateLimit,
		SecretField:     "token",
		CapacityField:   "rate_limit_remaining",
		ResetField:      "rate_limit_reset",
		InitialCapacity: 5000,
		Threshold:       100,
		BootstrapName:   "primary_token",
	},
	ServiceGoogle: {
		Service:         ServiceGoogle,
		Kind:            UsageQuota,
		SecretField:     "key",
		CapacityField:   "quota_remaining",
		InitialCapacity: 1000,
		Threshold:       50,
		BootstrapName:   "primary_key",
	},
}

// ProfileFor returns the profile of a service. Services without a built-in
// profile are treated as rate-limit services with generic field names.
func ProfileFor(service string) ServiceProfile {
	if p, ok := knownProfiles[service]; ok {
		return p
	}
	return ServiceProfile{
		Service:         service,
		Kind:            UsageRateLimit,
		SecretField:     "secret",
		CapacityField:   "remaining",
		ResetField:      "reset",
		InitialCapacity: 5000,
		Threshold:       100,
		BootstrapName:   "primary_credential",
	}
}

// KnownServices returns the services that are bootstrapped when no persisted
// state exists, in a stable order.
func KnownServices() []string {
	return []string{ServiceGitHub, ServiceGoogle}
}

// NewPool creates an empty pool configured from the service profile.
func NewPool(service string) Pool {
	prof := ProfileFor(service)
	return Pool{
		Service:         service,
		Kind:            prof.Kind,
		Strategy:        StrategyRoundRobin,
		Threshold:       prof.Threshold,
		InitialCapacity: prof.InitialCapacity,
		Credentials:     []Credential{},
	}
}

// DefaultState builds the bootstrap configuration: one active credential per
// known service, capacity pre-filled to the service ceiling. secrets maps a
// service name to the secret taken from the environment (may be empty).
func DefaultState(secrets map[string]string) State {
	state := State{Options: DefaultRotationOptions()}
	for _, service := range KnownServices() {
		pool := NewPool(service)
		pool.Credentials = append(pool.Credentials, Credential{
			Secret:    secrets[service],
			Name:      ProfileFor(service).BootstrapName,
			Remaining: pool.InitialCapacity,
			Active:    true,
		})
		state.Pools = append(state.Pools, pool)
	}
	return state
}
