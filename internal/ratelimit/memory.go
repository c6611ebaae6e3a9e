package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxKeys = 10000
	idleTTL        = 5 * time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Memory is a per-key token bucket allowing limit attempts per window with a
// burst of limit. State is local to the process.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	every   rate.Limit
	maxKeys int
	now     func() time.Time
}

// NewMemory builds a Memory limiter. A non-positive limit never rejects.
func NewMemory(limit int, window time.Duration, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = time.Minute
	}
	every := rate.Inf
	if limit > 0 {
		every = rate.Every(window / time.Duration(limit))
	}
	return &Memory{
		buckets: make(map[string]*bucket),
		limit:   limit,
		every:   every,
		maxKeys: defaultMaxKeys,
		now:     now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	if m.limit <= 0 {
		return Decision{Allowed: true, Limit: m.limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= m.maxKeys {
			m.gc(now)
		}
		b = &bucket{lim: rate.NewLimiter(m.every, m.limit)}
		m.buckets[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, Limit: m.limit, RetryAfter: delay}, nil
	}
	remaining := int(b.lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: m.limit, Remaining: remaining}, nil
}

func (m *Memory) gc(now time.Time) {
	for key, b := range m.buckets {
		if now.Sub(b.seen) > idleTTL {
			delete(m.buckets, key)
		}
	}
}
