package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

const (
	// DefaultTTL applies when the provider does not state a token lifetime.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxTTL bounds the lifetime of any entry, whatever the provider
	// claims.
	DefaultMaxTTL = 12 * time.Hour
)

// Memory is an in-memory token cache implementation using otter. Access is
// internally synchronized, so a single instance is shared by all callers.
type Memory struct {
	cache      *otter.Cache[string, CachedToken]
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
	counter    *stats.Counter
}

// MemoryOption customizes a Memory cache.
type MemoryOption func(*Memory)

// WithDefaultTTL sets the lifetime used when Set is given an unknown TTL.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithMaxTTL sets the upper bound for any cached entry.
func WithMaxTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.maxTTL = ttl
		}
	}
}

// WithClock replaces the time source used for expiry calculations.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates a new in-memory cache holding at most maxSize entries.
func NewMemory(maxSize int, opts ...MemoryOption) (*Memory, error) {
	m := &Memory{
		defaultTTL: DefaultTTL,
		maxTTL:     DefaultMaxTTL,
		now:        time.Now,
		counter:    stats.NewCounter(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.defaultTTL > m.maxTTL {
		m.defaultTTL = m.maxTTL
	}

	// The otter expiry is a backstop that keeps abandoned entries from
	// occupying space. Freshness is decided by ExpiresAt in Get.
	cache, err := otter.New(&otter.Options[string, CachedToken]{
		MaximumSize:      maxSize,
		StatsRecorder:    m.counter,
		ExpiryCalculator: otter.ExpiryWriting[string, CachedToken](m.maxTTL),
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache

	return m, nil
}

// Get retrieves a token from the cache. Entries at or past their expiry are
// evicted and reported as a miss.
func (m *Memory) Get(ctx context.Context, key string) (CachedToken, bool) {
	token, ok := m.cache.GetIfPresent(key)
	if !ok {
		return CachedToken{}, false
	}

	now := m.now()
	if !token.Expired(now) {
		return token, true
	}

	// Only the stale entry is removed: a token stored since the read above
	// is kept and returned.
	current, ok := m.cache.Compute(key, func(current CachedToken, found bool) (CachedToken, otter.ComputeOp) {
		if found && current.Expired(now) {
			return current, otter.InvalidateOp
		}
		return current, otter.CancelOp
	})
	if !ok || current.Expired(now) {
		return CachedToken{}, false
	}

	return current, true
}

// Set stores a token in the cache, replacing any existing entry.
func (m *Memory) Set(ctx context.Context, key string, authHeader string, ttl time.Duration) {
	m.cache.Set(key, CachedToken{
		IdentityKey: key,
		AuthHeader:  authHeader,
		ExpiresAt:   m.now().Add(m.effectiveTTL(ttl)),
	})
}

// Clear removes a token from the cache.
func (m *Memory) Clear(ctx context.Context, key string) {
	m.cache.Invalidate(key)
}

func (m *Memory) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return m.defaultTTL
	}
	return min(ttl, m.maxTTL)
}
