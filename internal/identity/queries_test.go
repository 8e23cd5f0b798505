package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chinmina/directory-bridge/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersByIDs_DegradesToEmptyOnGrantFailure(t *testing.T) {
	f := newFixture(t)
	f.issuer.err = errors.New("provider down")

	users := f.client.UsersByIDs(context.Background(), []string{"a", "b"})

	assert.NotNil(t, users)
	assert.Empty(t, users)
	assert.Equal(t, 0, f.directory.searchCalls)
}

func TestUsersByIDs_DegradesToEmptyOnQueryFailure(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return nil, identity.NewError(identity.KindRejected, errors.New("403 insufficient_scope"))
	}

	users := f.client.UsersByIDs(context.Background(), []string{"a"})

	assert.Empty(t, users)
}

func TestUsersByIDs_EmptyInputShortCircuits(t *testing.T) {
	f := newFixture(t)

	users := f.client.UsersByIDs(context.Background(), []string{})
	assert.Equal(t, map[string]identity.Principal{}, users)

	users = f.client.UsersByIDs(context.Background(), nil)
	assert.Equal(t, map[string]identity.Principal{}, users)

	assert.Equal(t, 0, f.issuer.Calls())
	assert.Equal(t, 0, f.directory.searchCalls)
	assert.Equal(t, 0, f.cache.gets)
}

func TestUsersByIDs_SingleBatchedSearch(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return []identity.Principal{
			{ID: "a", Username: "alice", Origin: "uaa"},
			{ID: "b", Username: "bob", Origin: "ldap"},
		}, nil
	}

	users := f.client.UsersByIDs(context.Background(), []string{"b", "a", "b"})

	assert.Equal(t, map[string]identity.Principal{
		"a": {ID: "a", Username: "alice", Origin: "uaa"},
		"b": {ID: "b", Username: "bob", Origin: "ldap"},
	}, users)
	require.Len(t, f.directory.requests, 1)
	assert.Equal(t, identity.SearchRequest{
		Filter:  `id eq "a" or id eq "b"`,
		IDsOnly: true,
	}, f.directory.requests[0])
}

func TestUsernamesByIDs(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return []identity.Principal{
			{ID: "a", Username: "alice"},
			{ID: "b", Username: "bob"},
		}, nil
	}

	usernames := f.client.UsernamesByIDs(context.Background(), []string{"a", "b", "missing"})

	assert.Equal(t, map[string]string{"a": "alice", "b": "bob"}, usernames)
}

func TestUsernamesByIDs_NeverFails(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return nil, invalidToken()
	}

	usernames := f.client.UsernamesByIDs(context.Background(), []string{"a"})

	assert.Equal(t, map[string]string{}, usernames)
	assert.Equal(t, 2, f.directory.searchCalls)
}

func TestClientsByIDs_OmitsNotFound(t *testing.T) {
	f := newFixture(t)
	f.directory.getClientFun = func(call int, authHeader string, id string) (identity.Principal, error) {
		if id == "b" {
			return identity.Principal{}, identity.NewError(identity.KindNotFound, nil)
		}
		return identity.Principal{ID: id, Username: id + "-client"}, nil
	}

	clients, err := f.client.ClientsByIDs(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	assert.Equal(t, []identity.Principal{
		{ID: "a", Username: "a-client"},
		{ID: "c", Username: "c-client"},
	}, clients)
	assert.Equal(t, 3, f.directory.clientCalls)
	assert.Equal(t, 1, f.issuer.Calls())
}

func TestClientsByIDs_EmptyInput(t *testing.T) {
	f := newFixture(t)

	clients, err := f.client.ClientsByIDs(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, clients)
	assert.Equal(t, 0, f.issuer.Calls())
}

func TestClientsByIDs_RetriesEachLookupOnInvalidation(t *testing.T) {
	f := newFixture(t)
	f.seedToken("Bearer revoked", time.Hour)
	f.directory.getClientFun = func(call int, authHeader string, id string) (identity.Principal, error) {
		if authHeader == "Bearer revoked" {
			return identity.Principal{}, invalidToken()
		}
		return identity.Principal{ID: id}, nil
	}

	clients, err := f.client.ClientsByIDs(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, []identity.Principal{{ID: "a"}, {ID: "b"}}, clients)
	// only the first lookup sees the revoked token; the second reuses the new one
	assert.Equal(t, 1, f.issuer.Calls())
	assert.Equal(t, 1, f.cache.clears)
}

func TestClientsByIDs_UnavailableAborts(t *testing.T) {
	f := newFixture(t)
	f.directory.getClientFun = func(call int, authHeader string, id string) (identity.Principal, error) {
		return identity.Principal{}, identity.NewError(identity.KindUnavailable, errors.New("502"))
	}

	clients, err := f.client.ClientsByIDs(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.Nil(t, clients)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
	assert.Equal(t, 1, f.directory.clientCalls)
}

func TestIDForUsername_Found(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return []identity.Principal{
			{ID: "first", Username: "alice"},
			{ID: "second", Username: "alice"},
		}, nil
	}

	id, ok, err := f.client.IDForUsername(context.Background(), "alice", "")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", id)
	assert.Equal(t, identity.SearchRequest{
		Filter:          `username eq "alice"`,
		IDsOnly:         true,
		IncludeInactive: true,
	}, f.directory.requests[0])
}

func TestIDForUsername_OriginScoped(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return []identity.Principal{{ID: "ldap-alice"}}, nil
	}

	id, ok, err := f.client.IDForUsername(context.Background(), "alice", "ldap")

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ldap-alice", id)
	assert.Equal(t, `origin eq "ldap" and username eq "alice"`, f.directory.requests[0].Filter)
}

func TestIDForUsername_AbsentVersusDisabled(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return []identity.Principal{}, nil
	}

	id, ok, err := f.client.IDForUsername(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)

	disabled := newFixture(t)
	disabled.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return nil, identity.NewError(identity.KindRejected, errors.New("400 endpoint disabled"))
	}

	_, ok, err = disabled.client.IDForUsername(context.Background(), "nobody", "")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, identity.IsKind(err, identity.KindLookupDisabled))
	assert.False(t, identity.IsKind(err, identity.KindUnavailable))
	assert.Equal(t, 1, disabled.directory.searchCalls)
}

func TestIDForUsername_Unavailable(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return nil, identity.NewError(identity.KindUnavailable, errors.New("timeout"))
	}

	_, _, err := f.client.IDForUsername(context.Background(), "alice", "")

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
}

func TestIDForUsername_EscapesFilterValues(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return nil, nil
	}

	_, _, err := f.client.IDForUsername(context.Background(), `x" or username pr or "`, `a\b`)

	require.NoError(t, err)
	assert.Equal(t,
		`origin eq "a\\b" and username eq "x\" or username pr or \""`,
		f.directory.requests[0].Filter,
	)
}

func TestOriginsForUsername_DistinctSorted(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return []identity.Principal{
			{ID: "1", Origin: "uaa"},
			{ID: "2", Origin: "ldap"},
			{ID: "3", Origin: "uaa"},
		}, nil
	}

	origins, err := f.client.OriginsForUsername(context.Background(), "alice")

	require.NoError(t, err)
	assert.Equal(t, []string{"ldap", "uaa"}, origins)
	assert.True(t, f.directory.requests[0].IncludeInactive)
}

func TestOriginsForUsername_SurfacesUnavailable(t *testing.T) {
	f := newFixture(t)
	f.issuer.err = errors.New("provider down")

	origins, err := f.client.OriginsForUsername(context.Background(), "alice")

	require.Error(t, err)
	assert.Nil(t, origins)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
}

func TestOriginsForUsername_RejectedIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.directory.searchFunc = func(call int, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
		return nil, identity.NewError(identity.KindRejected, errors.New("403"))
	}

	_, err := f.client.OriginsForUsername(context.Background(), "alice")

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
}
