package main

import (
	"context"
	"fmt"

	"github.com/chinmina/directory-bridge/internal/audit"
	"github.com/chinmina/directory-bridge/internal/identity"
)

// auditedLookup records each query and its outcome in the request's audit
// entry.
type auditedLookup struct {
	lookup IdentityLookup
}

func auditLookup(lookup IdentityLookup) IdentityLookup {
	return auditedLookup{lookup: lookup}
}

func (a auditedLookup) ClientsByIDs(ctx context.Context, ids []string) ([]identity.Principal, error) {
	clients, err := a.lookup.ClientsByIDs(ctx, ids)

	entry := begin(ctx, "clients_by_ids")
	entry.RequestedIDs = len(ids)
	finish(entry, len(clients), err)

	return clients, err
}

func (a auditedLookup) UsersByIDs(ctx context.Context, ids []string) map[string]identity.Principal {
	users := a.lookup.UsersByIDs(ctx, ids)

	entry := begin(ctx, "users_by_ids")
	entry.RequestedIDs = len(ids)
	finish(entry, len(users), nil)

	return users
}

func (a auditedLookup) UsernamesByIDs(ctx context.Context, ids []string) map[string]string {
	usernames := a.lookup.UsernamesByIDs(ctx, ids)

	entry := begin(ctx, "usernames_by_ids")
	entry.RequestedIDs = len(ids)
	finish(entry, len(usernames), nil)

	return usernames
}

func (a auditedLookup) IDForUsername(ctx context.Context, username string, origin string) (string, bool, error) {
	id, found, err := a.lookup.IDForUsername(ctx, username, origin)

	entry := begin(ctx, "id_for_username")
	entry.Username = username
	entry.Origin = origin
	results := 0
	if found {
		results = 1
	}
	finish(entry, results, err)

	return id, found, err
}

func (a auditedLookup) OriginsForUsername(ctx context.Context, username string) ([]string, error) {
	origins, err := a.lookup.OriginsForUsername(ctx, username)

	entry := begin(ctx, "origins_for_username")
	entry.Username = username
	finish(entry, len(origins), err)

	return origins, err
}

func begin(ctx context.Context, operation string) *audit.Entry {
	entry := audit.Log(ctx)
	entry.Operation = operation
	return entry
}

func finish(entry *audit.Entry, results int, err error) {
	if err != nil {
		entry.Error = fmt.Sprintf("lookup failure: %v", err)
		return
	}
	entry.Results = results
}
