package cache

import (
	"fmt"
	"time"

	"github.com/chinmina/directory-bridge/internal/config"
	"github.com/rs/zerolog/log"
)

// NewFromConfig creates the process token cache from configuration. The
// cache is always in memory: tokens are never shared beyond this process.
func NewFromConfig(cfg config.TokenCacheConfig) (TokenCache, error) {
	defaultTTL := time.Duration(cfg.DefaultTTLSeconds) * time.Second
	maxTTL := time.Duration(cfg.MaxTTLSeconds) * time.Second

	log.Info().
		Str("cache_type", "memory").
		Dur("default_ttl", defaultTTL).
		Dur("max_ttl", maxTTL).
		Int("max_size", cfg.MaxSize).
		Msg("initializing in-memory token cache")

	memory, err := NewMemory(cfg.MaxSize,
		WithDefaultTTL(defaultTTL),
		WithMaxTTL(maxTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return NewInstrumented(memory, "memory"), nil
}
