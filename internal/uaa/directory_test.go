package uaa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chinmina/directory-bridge/internal/identity"
	"github.com/chinmina/directory-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T, target string) *Directory {
	t.Helper()

	d, err := NewDirectory(target, http.DefaultClient)
	require.NoError(t, err)
	return d
}

func seedUsers(mock *testhelpers.MockUAAServer) {
	mock.Users = []testhelpers.MockUser{
		{ID: "u1", Username: "alice", Origin: "uaa", Active: true},
		{ID: "u2", Username: "bob", Origin: "uaa", Active: true},
		{ID: "u3", Username: "alice", Origin: "ldap", Active: false},
	}
}

func TestNewDirectory_RejectsRelativeTarget(t *testing.T) {
	_, err := NewDirectory("uaa.example.com", nil)
	require.Error(t, err)
}

func TestSearch_IDsEndpoint(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	seedUsers(mock)
	d := newTestDirectory(t, mock.URL())

	users, err := d.Search(context.Background(), "bearer token-1", identity.SearchRequest{
		Filter:          `username eq "alice"`,
		IDsOnly:         true,
		IncludeInactive: true,
	})

	require.NoError(t, err)
	assert.Equal(t, []identity.Principal{
		{ID: "u1", Username: "alice", Origin: "uaa"},
		{ID: "u3", Username: "alice", Origin: "ldap"},
	}, users)
	authHeader, rawQuery := mock.LastRequest()
	assert.Equal(t, "bearer token-1", authHeader)
	assert.Contains(t, rawQuery, "includeInactive=true")
}

func TestSearch_ExcludesInactiveByDefault(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	seedUsers(mock)
	d := newTestDirectory(t, mock.URL())

	users, err := d.Search(context.Background(), "bearer token-1", identity.SearchRequest{
		Filter:  `id eq "u1" or id eq "u3"`,
		IDsOnly: true,
	})

	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
}

func TestSearch_ActiveState(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	seedUsers(mock)
	d := newTestDirectory(t, mock.URL())

	t.Run("id endpoint leaves it unset", func(t *testing.T) {
		users, err := d.Search(context.Background(), "bearer token-1", identity.SearchRequest{
			Filter:  `id eq "u1"`,
			IDsOnly: true,
		})

		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Nil(t, users[0].Active)
	})

	t.Run("users endpoint reports inactive users", func(t *testing.T) {
		users, err := d.Search(context.Background(), "bearer token-1", identity.SearchRequest{
			Filter:          `id eq "u3"`,
			IncludeInactive: true,
		})

		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, identity.Flag(false), users[0].Active)
	})
}

func TestSearch_UsersEndpoint(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	seedUsers(mock)
	d := newTestDirectory(t, mock.URL())

	users, err := d.Search(context.Background(), "bearer token-1", identity.SearchRequest{
		Filter: `id eq "u2"`,
	})

	require.NoError(t, err)
	assert.Equal(t, []identity.Principal{{
		ID:       "u2",
		Username: "bob",
		Origin:   "uaa",
		Active:   identity.Flag(true),
		Emails:   []string{"bob@example.com"},
	}}, users)
}

func TestSearch_InvalidToken(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	mock.RejectedTokens["token-1"] = true
	d := newTestDirectory(t, mock.URL())

	_, err := d.Search(context.Background(), "bearer token-1", identity.SearchRequest{Filter: `id eq "u1"`})

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindInvalidToken))
	assert.ErrorContains(t, err, "invalid_token")
}

func TestSearch_EndpointDisabledIsRejected(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	mock.IDsStatusCode = http.StatusBadRequest
	d := newTestDirectory(t, mock.URL())

	_, err := d.Search(context.Background(), "bearer token-1", identity.SearchRequest{
		Filter:  `username eq "alice"`,
		IDsOnly: true,
	})

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindRejected))
}

func TestSearch_Pagination(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		switch r.URL.Query().Get("startIndex") {
		case "1":
			testhelpers.WriteJSON(w, map[string]any{
				"resources":    []map[string]string{{"id": "a"}, {"id": "b"}},
				"totalResults": 3,
			})
		case "3":
			testhelpers.WriteJSON(w, map[string]any{
				"resources":    []map[string]string{{"id": "c"}},
				"totalResults": 3,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(server.Close)
	d := newTestDirectory(t, server.URL)

	users, err := d.Search(context.Background(), "bearer t", identity.SearchRequest{Filter: `id eq "a"`})

	require.NoError(t, err)
	assert.Len(t, users, 3)
	assert.Equal(t, 2, requests)
}

func TestSearch_PageLimitIsUnavailable(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		testhelpers.WriteJSON(w, map[string]any{
			"resources":    []map[string]string{{"id": "a"}},
			"totalResults": 1000000,
		})
	}))
	t.Cleanup(server.Close)
	d := newTestDirectory(t, server.URL)

	users, err := d.Search(context.Background(), "bearer t", identity.SearchRequest{Filter: `origin eq "uaa"`})

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
	assert.ErrorContains(t, err, "exceeded")
	assert.Nil(t, users)
	assert.Equal(t, maxPages, requests)
}

func TestSearch_ServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	d := newTestDirectory(t, server.URL)

	_, err := d.Search(context.Background(), "bearer t", identity.SearchRequest{Filter: `id eq "a"`})

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
}

func TestSearch_MalformedResponseIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	}))
	t.Cleanup(server.Close)
	d := newTestDirectory(t, server.URL)

	_, err := d.Search(context.Background(), "bearer t", identity.SearchRequest{Filter: `id eq "a"`})

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
	assert.ErrorContains(t, err, "malformed")
}

func TestSearch_CancelledContextIsUnavailable(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	d := newTestDirectory(t, mock.URL())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Search(ctx, "bearer token-1", identity.SearchRequest{Filter: `id eq "a"`})

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindUnavailable))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetClient_Found(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	mock.Clients["app-client"] = testhelpers.MockClient{ID: "app-client", Name: "App Client", Scopes: []string{"openid"}}
	d := newTestDirectory(t, mock.URL())

	client, err := d.GetClient(context.Background(), "bearer token-1", "app-client")

	require.NoError(t, err)
	assert.Equal(t, identity.Principal{
		ID:         "app-client",
		Username:   "App Client",
		Active:     identity.Flag(true),
		Scopes:     []string{"openid"},
		GrantTypes: []string{"client_credentials"},
	}, client)
}

func TestGetClient_NotFound(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	d := newTestDirectory(t, mock.URL())

	_, err := d.GetClient(context.Background(), "bearer token-1", "missing")

	require.Error(t, err)
	assert.True(t, identity.IsKind(err, identity.KindNotFound))
}

func TestInfo(t *testing.T) {
	mock := testhelpers.SetupMockUAAServer(t)
	d := newTestDirectory(t, mock.URL())

	info, err := d.Info(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "77.0.0", info.App.Version)
	assert.Equal(t, "uaa", info.ZoneName)
	assert.Equal(t, 0, mock.DirectoryRequests())
}

func TestStatusError_Classification(t *testing.T) {
	cases := map[int]identity.Kind{
		http.StatusUnauthorized:        identity.KindInvalidToken,
		http.StatusNotFound:            identity.KindNotFound,
		http.StatusForbidden:           identity.KindRejected,
		http.StatusBadRequest:          identity.KindRejected,
		http.StatusInternalServerError: identity.KindUnavailable,
		http.StatusServiceUnavailable:  identity.KindUnavailable,
		http.StatusFound:               identity.KindUnavailable,
	}

	for status, kind := range cases {
		err := statusError("/Users", status, nil)
		assert.Equal(t, kind, identity.KindOf(err), http.StatusText(status))
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, ": invalid_token: expired", describe([]byte(`{"error":"invalid_token","error_description":"expired"}`)))
	assert.Equal(t, "", describe([]byte(`<html>`)))
	assert.Equal(t, "", describe([]byte(`{}`)))
}
