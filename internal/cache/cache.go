package cache

import (
	"context"
	"time"
)

// CachedToken is the bearer material held for a single credential identity.
// Entries are replaced wholesale: a refresh never mutates an existing entry.
type CachedToken struct {
	IdentityKey string
	AuthHeader  string
	ExpiresAt   time.Time
}

// Expired reports whether the token must no longer be returned at time now.
func (t CachedToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenCache defines the process-wide store of bearer tokens, keyed by the
// credential identity (the client ID used for the grant).
//
// Cache operations never fail: a lookup that cannot be satisfied is a miss.
type TokenCache interface {
	// Get returns the cached token only if it is present and unexpired.
	// Expired and absent entries are indistinguishable to the caller.
	Get(ctx context.Context, key string) (CachedToken, bool)

	// Set stores or overwrites the token for key, expiring after ttl. A
	// non-positive ttl is replaced with the cache's default TTL.
	Set(ctx context.Context, key string, authHeader string, ttl time.Duration)

	// Clear removes the token for key. Clearing an absent key is a no-op.
	Clear(ctx context.Context, key string)
}
