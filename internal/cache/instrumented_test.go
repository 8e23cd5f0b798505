package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// mockCache is a mock implementation of TokenCache for testing.
type mockCache struct {
	getValue   CachedToken
	getFound   bool
	getCalls   int
	setCalls   int
	clearCalls int
	lastTTL    time.Duration
}

func (m *mockCache) Get(ctx context.Context, key string) (CachedToken, bool) {
	m.getCalls++
	return m.getValue, m.getFound
}

func (m *mockCache) Set(ctx context.Context, key string, authHeader string, ttl time.Duration) {
	m.setCalls++
	m.lastTTL = ttl
}

func (m *mockCache) Clear(ctx context.Context, key string) {
	m.clearCalls++
}

func TestInstrumented_Get_Hit(t *testing.T) {
	mock := &mockCache{
		getValue: CachedToken{IdentityKey: "k", AuthHeader: "Bearer t"},
		getFound: true,
	}

	instrumented := NewInstrumented(mock, "test")

	value, found := instrumented.Get(context.Background(), "k")

	assert.True(t, found)
	assert.Equal(t, "Bearer t", value.AuthHeader)
	assert.Equal(t, 1, mock.getCalls)
}

func TestInstrumented_Get_Miss(t *testing.T) {
	mock := &mockCache{}

	instrumented := NewInstrumented(mock, "test")

	value, found := instrumented.Get(context.Background(), "k")

	assert.False(t, found)
	assert.Equal(t, CachedToken{}, value)
	assert.Equal(t, 1, mock.getCalls)
}

func TestInstrumented_SetAndClear_Delegate(t *testing.T) {
	mock := &mockCache{}

	instrumented := NewInstrumented(mock, "test")
	ctx := context.Background()

	instrumented.Set(ctx, "k", "Bearer t", 30*time.Second)
	instrumented.Clear(ctx, "k")

	assert.Equal(t, 1, mock.setCalls)
	assert.Equal(t, 30*time.Second, mock.lastTTL)
	assert.Equal(t, 1, mock.clearCalls)
}

func TestInstrumented_ImplementsTokenCache(t *testing.T) {
	var _ TokenCache = NewInstrumented(&mockCache{}, "test")
	var _ TokenCache = (*Memory)(nil)
}
