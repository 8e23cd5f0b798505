package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/chinmina/directory-bridge/internal/cache"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client is the resilient identity client. It obtains bearer tokens through
// the shared token cache, falling back to a grant exchange on a miss, and
// retries a directory query exactly once when the provider rejects the token.
//
// The client does not serialize callers: concurrent misses for the same
// identity may each perform a grant, and the last write to the cache wins.
// Grants are interchangeable, so this only costs an extra token request.
type Client struct {
	credentials Credentials
	tokens      cache.TokenCache
	issuer      TokenIssuer
	directory   DirectoryQuery
	tracer      trace.Tracer
}

// New creates a client for the given credentials. The token cache is
// normally shared by every client in the process.
func New(credentials Credentials, tokens cache.TokenCache, issuer TokenIssuer, directory DirectoryQuery) *Client {
	return &Client{
		credentials: credentials,
		tokens:      tokens,
		issuer:      issuer,
		directory:   directory,
		tracer:      otel.Tracer("github.com/chinmina/directory-bridge/internal/identity"),
	}
}

// identityKey is the cache key for this client's credentials.
func (c *Client) identityKey() string {
	return c.credentials.ClientID
}

// AuthHeader returns the Authorization header value for this client's
// credentials, reusing a cached token when one is fresh. A failed grant is
// reported as KindUnavailable, is never cached and is never retried here.
func (c *Client) AuthHeader(ctx context.Context) (string, error) {
	key := c.identityKey()

	if token, ok := c.tokens.Get(ctx, key); ok {
		log.Debug().
			Str("identity_key", key).
			Time("expiry", token.ExpiresAt).
			Msg("hit: existing token found for identity")
		return token.AuthHeader, nil
	}

	ctx, span := c.tracer.Start(ctx, "identity.grant",
		trace.WithAttributes(attribute.String("identity.key", key)),
	)
	defer span.End()

	grant, err := c.issuer.Grant(ctx, c.credentials)
	if err != nil {
		log.Error().Err(err).
			Str("identity_key", key).
			Msg("identity provider request for token failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "grant failed")
		return "", unavailable(fmt.Errorf("token grant failed: %w", err))
	}

	if grant.AuthHeader == "" {
		err := errors.New("token grant returned an empty token")
		span.SetStatus(codes.Error, err.Error())
		return "", unavailable(err)
	}

	c.tokens.Set(ctx, key, grant.AuthHeader, grant.TTL)

	log.Info().
		Str("identity_key", key).
		Dur("ttl", grant.TTL).
		Msg("miss: new token granted for identity")

	return grant.AuthHeader, nil
}

// withCacheRetry runs query with a current auth header. If the provider
// rejects the token, the cached entry is cleared and the whole
// obtain-and-query sequence runs once more. A second rejection is reported as
// KindUnavailable; every other failure is returned on first occurrence.
func withCacheRetry[T any](ctx context.Context, c *Client, query func(ctx context.Context, authHeader string) (T, error)) (T, error) {
	result, err := attempt(ctx, c, query)
	if !IsKind(err, KindInvalidToken) {
		return result, err
	}

	key := c.identityKey()
	log.Info().
		Str("identity_key", key).
		Msg("invalid: cached token rejected by identity provider, retrying with a new token")

	c.tokens.Clear(ctx, key)

	var zero T
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, unavailable(fmt.Errorf("retry abandoned: %w", ctxErr))
	}

	result, err = attempt(ctx, c, query)
	if IsKind(err, KindInvalidToken) {
		log.Warn().
			Str("identity_key", key).
			Msg("identity provider rejected a freshly granted token")
		return zero, unavailable(fmt.Errorf("token rejected after refresh: %w", err))
	}

	return result, err
}

func attempt[T any](ctx context.Context, c *Client, query func(ctx context.Context, authHeader string) (T, error)) (T, error) {
	var zero T

	header, err := c.AuthHeader(ctx)
	if err != nil {
		return zero, err
	}

	result, err := query(ctx, header)
	if err != nil {
		return zero, classify(err)
	}

	return result, nil
}

// classify ensures that every query failure carries a kind. Errors that do
// not come from the directory transport are treated as unavailability.
func classify(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return unavailable(err)
}
