package ratelimit

import (
	"context"
	"sync"
	"time"

	"storefront/internal/util"

	"go.uber.org/zap"
)

// MemoryLimiter keeps a sliding log of hit times per key. Stale keys are
// removed by Run.
type MemoryLimiter struct {
	mu    sync.Mutex
	rules Rules
	logs  map[string][]time.Time
	now   func() time.Time
}

func NewMemoryLimiter(rules Rules) *MemoryLimiter {
	return &MemoryLimiter{
		rules: rules,
		logs:  make(map[string][]time.Time),
		now:   time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, class Class, key string) (Decision, error) {
	rule, ok := m.rules[class]
	if !ok || rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := windowKey(class, key)
	hits := prune(m.logs[k], now.Add(-rule.Window))

	if len(hits) >= rule.Limit {
		m.logs[k] = hits
		return Decision{Allowed: false, Limit: rule.Limit, ResetAt: hits[0].Add(rule.Window)}, nil
	}

	hits = append(hits, now)
	m.logs[k] = hits
	return Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - len(hits),
		ResetAt:   hits[0].Add(rule.Window),
	}, nil
}

// prune drops hits at or before cutoff. hits is sorted oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (m *MemoryLimiter) longestWindow() time.Duration {
	var longest time.Duration
	for _, r := range m.rules {
		if r.Window > longest {
			longest = r.Window
		}
	}
	return longest
}

// Sweep forgets keys whose newest hit is older than every window
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.longestWindow())
	removed := 0
	for k, hits := range m.logs {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(m.logs, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done
func (m *MemoryLimiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				util.GetLogger().Debug("rate limit sweep", zap.Int("removed", n))
			}
		}
	}
}
