package identity

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ClientsByIDs fetches the client record for each id. Clients the provider
// no longer knows about are omitted from the result. Any other failure aborts
// the lookup and is returned.
func (c *Client) ClientsByIDs(ctx context.Context, ids []string) ([]Principal, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []Principal{}, nil
	}

	ctx, span := c.startSpan(ctx, "identity.clients_by_ids", attribute.Int("identity.ids", len(ids)))
	defer span.End()

	clients := make([]Principal, 0, len(ids))
	for _, id := range ids {
		client, err := withCacheRetry(ctx, c, func(ctx context.Context, authHeader string) (Principal, error) {
			return c.directory.GetClient(ctx, authHeader, id)
		})
		if IsKind(err, KindNotFound) {
			log.Debug().Str("client_id", id).Msg("client not found, omitting from results")
			continue
		}
		if err != nil {
			recordSpanError(span, err)
			return nil, unavailable(err)
		}

		clients = append(clients, client)
	}

	return clients, nil
}

// UsersByIDs fetches the user records for ids with a single directory search,
// keyed by user id. This is a best effort lookup used to enrich other
// results: any failure is logged and yields an empty map.
func (c *Client) UsersByIDs(ctx context.Context, ids []string) map[string]Principal {
	users, err := c.fetchUsers(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("failed to retrieve usernames from identity provider")
		return map[string]Principal{}
	}

	return users
}

// UsernamesByIDs maps each known user id to its username. Like UsersByIDs,
// it never fails.
func (c *Client) UsernamesByIDs(ctx context.Context, ids []string) map[string]string {
	users := c.UsersByIDs(ctx, ids)

	usernames := make(map[string]string, len(users))
	for id, user := range users {
		usernames[id] = user.Username
	}

	return usernames
}

// IDForUsername resolves a username to a user id, optionally scoped to an
// origin. The boolean result is false when no user matches. If the provider
// refuses the lookup, a KindLookupDisabled error is returned without retry.
func (c *Client) IDForUsername(ctx context.Context, username string, origin string) (string, bool, error) {
	ctx, span := c.startSpan(ctx, "identity.id_for_username", attribute.Bool("identity.origin_scoped", origin != ""))
	defer span.End()

	users, err := c.search(ctx, SearchRequest{
		Filter:          usernameFilter(username, origin),
		IDsOnly:         true,
		IncludeInactive: true,
	})
	if IsKind(err, KindRejected) {
		recordSpanError(span, err)
		return "", false, NewError(KindLookupDisabled, err)
	}
	if err != nil {
		recordSpanError(span, err)
		return "", false, unavailable(err)
	}

	if len(users) == 0 {
		return "", false, nil
	}

	return users[0].ID, true, nil
}

// OriginsForUsername returns the distinct origins of every user with the
// given username, sorted. Unlike the batch user lookup this reports failure,
// as callers rely on the answer to disambiguate users across origins.
func (c *Client) OriginsForUsername(ctx context.Context, username string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "identity.origins_for_username")
	defer span.End()

	users, err := c.search(ctx, SearchRequest{
		Filter:          usernameFilter(username, ""),
		IDsOnly:         true,
		IncludeInactive: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to retrieve origins from identity provider")
		recordSpanError(span, err)
		return nil, unavailable(err)
	}

	origins := make([]string, 0, len(users))
	for _, user := range users {
		origins = append(origins, user.Origin)
	}
	slices.Sort(origins)

	return slices.Compact(origins), nil
}

func (c *Client) fetchUsers(ctx context.Context, ids []string) (map[string]Principal, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return map[string]Principal{}, nil
	}

	ctx, span := c.startSpan(ctx, "identity.users_by_ids", attribute.Int("identity.ids", len(ids)))
	defer span.End()

	users, err := c.search(ctx, SearchRequest{
		Filter:  anyIDFilter(ids),
		IDsOnly: true,
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	results := make(map[string]Principal, len(users))
	for _, user := range users {
		results[user.ID] = user
	}

	return results, nil
}

func (c *Client) search(ctx context.Context, req SearchRequest) ([]Principal, error) {
	return withCacheRetry(ctx, c, func(ctx context.Context, authHeader string) ([]Principal, error) {
		return c.directory.Search(ctx, authHeader, req)
	})
}

func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, KindOf(err).String())
}

// uniqueIDs returns the non-empty ids, sorted and without duplicates.
func uniqueIDs(ids []string) []string {
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			unique = append(unique, id)
		}
	}
	slices.Sort(unique)
	return slices.Compact(unique)
}
