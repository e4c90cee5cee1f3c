package rate

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type bucket struct {
	start  time.Time
	count  int
	window time.Duration
}

func (b *bucket) expired(now time.Time) bool {
	return !now.Before(b.start.Add(b.window))
}

// MemoryBackend keeps buckets in process memory. It is not shared across instances.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
	hits    uint64
}

// NewMemoryBackend creates an in-process bucket store. A nil clock defaults to time.Now.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{buckets: make(map[string]*bucket), now: now}
}

func (m *MemoryBackend) Hit(ctx context.Context, key string, rule Rule) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, ErrBackendUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.hits++
	if m.hits%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	b, ok := m.buckets[key]
	if !ok || b.expired(now) {
		b = &bucket{start: now, window: rule.Window}
		m.buckets[key] = b
	}

	if b.count >= rule.Max {
		return Decision{
			Allowed:    false,
			Count:      b.count,
			RetryAfter: b.start.Add(b.window).Sub(now),
		}, nil
	}

	b.count++
	return Decision{Allowed: true, Count: b.count}, nil
}

// Sweep drops buckets whose window has elapsed and returns how many were removed.
func (m *MemoryBackend) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

// Len returns the number of live buckets.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryBackend) sweepLocked(now time.Time) int {
	removed := 0
	for key, b := range m.buckets {
		if b.expired(now) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}
