package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/directory-bridge/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"token_cache.operations",
			metric.WithDescription("Total token cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"token_cache.operation.duration",
			metric.WithDescription("Token cache operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a TokenCache with metrics instrumentation.
type Instrumented struct {
	wrapped   TokenCache
	cacheType string
}

// NewInstrumented creates an instrumented cache wrapper.
func NewInstrumented(cache TokenCache, cacheType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   cache,
		cacheType: cacheType,
	}
}

// Get retrieves a token from the cache.
func (i *Instrumented) Get(ctx context.Context, key string) (CachedToken, bool) {
	start := time.Now()

	token, found := i.wrapped.Get(ctx, key)

	status := "miss"
	if found {
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return token, found
}

// Set stores a token in the cache.
func (i *Instrumented) Set(ctx context.Context, key string, authHeader string, ttl time.Duration) {
	start := time.Now()

	i.wrapped.Set(ctx, key, authHeader, ttl)

	i.record(ctx, "set", "success", time.Since(start))
}

// Clear removes a token from the cache.
func (i *Instrumented) Clear(ctx context.Context, key string) {
	start := time.Now()

	i.wrapped.Clear(ctx, key)

	i.record(ctx, "clear", "success", time.Since(start))
}

func (i *Instrumented) record(ctx context.Context, operation, status string, duration time.Duration) {
	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
			),
		)
	}

	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
				attribute.String("cache.status", status),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
