package application

import (
	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// SelectCredential picks the next credential from pool according to its
// strategy and returns its index. ok is false when the pool has no active
// credential; callers treat that as "proceed without a credential".
//
// Round robin returns the least recently used active credential, never-used
// first. Quota based returns the active credential with the most remaining
// capacity. Both break ties by insertion order.
func SelectCredential(pool model.Pool) (idx int, ok bool) {
	idx = -1
	for i := range pool.Credentials {
		c := &pool.Credentials[i]
		if !c.Active {
			continue
		}
		if idx == -1 {
			idx = i
			continue
		}
		best := &pool.Credentials[idx]

		switch pool.Strategy {
		case model.StrategyQuotaBased:
			if c.Remaining > best.Remaining {
				idx = i
			}
		default:
			if usedBefore(c, best) {
				idx = i
			}
		}
	}
	return idx, idx != -1
}

// usedBefore reports whether a was last used strictly before b. A credential
// that was never used precedes every used one.
func usedBefore(a, b *model.Credential) bool {
	switch {
	case a.LastUsedAt == nil:
		return b.LastUsedAt != nil
	case b.LastUsedAt == nil:
		return false
	default:
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
}
