package ratelimit

import (
	"context"
	"sync"
	"time"
)

// BotTracker counts honeypot hits per client over a rolling period
type BotTracker struct {
	mu     sync.Mutex
	period time.Duration
	hits   map[string]*botEntry
	now    func() time.Time
}

type botEntry struct {
	count    int
	lastSeen time.Time
}

func NewBotTracker(period time.Duration) *BotTracker {
	return &BotTracker{
		period: period,
		hits:   make(map[string]*botEntry),
		now:    time.Now,
	}
}

// Record counts a hit for key and returns its running total
func (b *BotTracker) Record(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, ok := b.hits[key]
	if !ok || now.Sub(e.lastSeen) > b.period {
		e = &botEntry{}
		b.hits[key] = e
	}
	e.count++
	e.lastSeen = now
	return e.count
}

func (b *BotTracker) Hits(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.hits[key]; ok && b.now().Sub(e.lastSeen) <= b.period {
		return e.count
	}
	return 0
}

func (b *BotTracker) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for k, e := range b.hits {
		if now.Sub(e.lastSeen) > b.period {
			delete(b.hits, k)
		}
	}
}

// Run sweeps every interval until ctx is done
func (b *BotTracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Sweep()
		}
	}
}
