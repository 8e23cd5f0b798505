package identity

import (
	"context"
	"time"
)

// Principal is a user or client record owned by the identity provider. It is
// never modified here, only reshaped into lookup results.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Origin   string `json:"origin,omitempty"`

	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Emails     []string `json:"emails,omitempty"`

	// Active is nil when the provider did not report it, as for records from
	// the id-only user endpoint.
	Active *bool `json:"active,omitempty"`

	// Scopes and GrantTypes are only set for client records.
	Scopes     []string `json:"scopes,omitempty"`
	GrantTypes []string `json:"grant_types,omitempty"`
}

// Flag returns a pointer to v, for setting optional principal fields.
func Flag(v bool) *bool {
	return &v
}

// Credentials identify this service to the provider for a client credentials
// grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Grant is the result of a successful grant exchange. A zero TTL means the
// provider did not state a lifetime.
type Grant struct {
	AuthHeader string
	TTL        time.Duration
}

// SearchRequest selects principals from the directory.
type SearchRequest struct {
	// Filter is a SCIM filter expression, built with the filter helpers.
	Filter string

	// IDsOnly searches the lightweight user id endpoint rather than the full
	// user resource endpoint. Records returned this way carry only the id,
	// username and origin.
	IDsOnly bool

	// IncludeInactive includes deactivated users in the results.
	IncludeInactive bool
}

// TokenIssuer performs the client credentials grant. Every failure is
// treated as the provider being unavailable.
type TokenIssuer interface {
	Grant(ctx context.Context, credentials Credentials) (Grant, error)
}

// DirectoryQuery runs directory queries with a supplied auth header. Errors
// must be *Error values so the client can tell an invalid token apart from
// other failures; anything else is treated as KindUnavailable.
type DirectoryQuery interface {
	Search(ctx context.Context, authHeader string, req SearchRequest) ([]Principal, error)
	GetClient(ctx context.Context, authHeader string, clientID string) (Principal, error)
}
