package model

import (
	"fmt"
	"strings"
	"time"
)

// Credential is one API secret in a service's rotation pool. Secret is the
// identifier used to locate the credential and must be unique in its pool.
type Credential struct {
	Secret     string
	Name       string
	LastUsedAt *time.Time // nil means never used.
	Remaining  int
	ResetAt    *int64 // Epoch seconds; only set for rate-limit services.
	QuotaUsed  int    // Cumulative units recorded for quota services.
	Active     bool
}

// IsAnonymous reports whether requests made with c should carry no
// authentication. A nil credential, an empty secret and unedited "PASTE_..."
// placeholders from example configs all count as missing.
func IsAnonymous(c *Credential) bool {
	return c == nil || c.Secret == "" || strings.Contains(c.Secret, "PASTE_")
}

// MaskedSecret returns the first few characters of the secret followed by an
// ellipsis, suitable for logs and status output.
func (c Credential) MaskedSecret() string {
	const visible = 8
	if len(c.Secret) <= visible {
		return strings.Repeat("*", len(c.Secret))
	}
	return c.Secret[:visible] + "..."
}

// Clone returns a deep copy so callers can read the credential without
// sharing pointer fields with the keyring.
func (c Credential) Clone() Credential {
	out := c
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		out.LastUsedAt = &t
	}
	if c.ResetAt != nil {
		r := *c.ResetAt
		out.ResetAt = &r
	}
	return out
}

// Pool is the ordered set of credentials for one upstream service.
// Credential order is insertion order and serves as the selection tie-break.
type Pool struct {
	Service         string
	Kind            UsageKind
	Strategy        Strategy
	Threshold       int
	InitialCapacity int
	Credentials     []Credential
}

// Clone returns a deep copy of the pool.
func (p Pool) Clone() Pool {
	out := p
	out.Credentials = make([]Credential, len(p.Credentials))
	for i, c := range p.Credentials {
		out.Credentials[i] = c.Clone()
	}
	return out
}

// IndexOf returns the position of the credential with the given secret,
// or -1 when the pool does not contain it.
func (p *Pool) IndexOf(secret string) int {
	for i := range p.Credentials {
		if p.Credentials[i].Secret == secret {
			return i
		}
	}
	return -1
}

// IndexOfName returns the position of the first credential with the given
// display name, or -1.
func (p *Pool) IndexOfName(name string) int {
	for i := range p.Credentials {
		if p.Credentials[i].Name == name {
			return i
		}
	}
	return -1
}

// DefaultName returns the display name given to a credential added without
// one. It is never a name already used in the pool.
func (p *Pool) DefaultName() string {
	for n := len(p.Credentials); ; n++ {
		name := fmt.Sprintf("%s_credential_%d", p.Service, n)
		if p.IndexOfName(name) == -1 {
			return name
		}
	}
}

// RotationOptions holds the pool-independent switches persisted alongside the
// per-service strategies.
type RotationOptions struct {
	// RetryOnExhaustion retries calls whose response reports an exhausted
	// credential. When false the exhausted response is returned immediately.
	RetryOnExhaustion bool
	// AnonymousFallback lets calls proceed without a credential when a pool
	// has no active entries.
	AnonymousFallback bool
}

// DefaultRotationOptions returns the options used when none are persisted.
func DefaultRotationOptions() RotationOptions {
	return RotationOptions{
		RetryOnExhaustion: true,
		AnonymousFallback: true,
	}
}

// State is the complete credential configuration: every pool plus the
// rotation options. Pools are kept sorted by service name.
type State struct {
	Pools   []Pool
	Options RotationOptions
}

// Pool returns a pointer to the named pool inside s, or nil.
func (s *State) Pool(service string) *Pool {
	for i := range s.Pools {
		if s.Pools[i].Service == service {
			return &s.Pools[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{Options: s.Options, Pools: make([]Pool, len(s.Pools))}
	for i, p := range s.Pools {
		out.Pools[i] = p.Clone()
	}
	return out
}
