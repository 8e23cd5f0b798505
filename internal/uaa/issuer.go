package uaa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chinmina/directory-bridge/internal/identity"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Issuer performs client credentials grants against the provider's token
// endpoint.
type Issuer struct {
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time
}

// NewIssuer creates an issuer for the given token endpoint. The HTTP client
// carries the TLS and timeout settings for the provider.
func NewIssuer(tokenURL string, httpClient *http.Client) *Issuer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Issuer{
		tokenURL:   tokenURL,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Grant exchanges the credentials for a bearer token. Every failure is
// reported as identity.KindUnavailable.
func (i *Issuer) Grant(ctx context.Context, credentials identity.Credentials) (identity.Grant, error) {
	cfg := clientcredentials.Config{
		ClientID:     credentials.ClientID,
		ClientSecret: credentials.ClientSecret,
		TokenURL:     i.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// the oauth2 package picks up the client to use from the context
	ctx = context.WithValue(ctx, oauth2.HTTPClient, i.httpClient)

	token, err := cfg.Token(ctx)
	if err != nil {
		return identity.Grant{}, identity.NewError(identity.KindUnavailable, grantFailure(err))
	}

	if token.AccessToken == "" {
		return identity.Grant{}, identity.NewError(identity.KindUnavailable, errors.New("token response contained no access token"))
	}

	return identity.Grant{
		AuthHeader: token.Type() + " " + token.AccessToken,
		TTL:        i.lifetime(token),
	}, nil
}

// lifetime is the remaining validity of the token: the provider's
// expires_in when given, otherwise the exp claim of a JWT access token. Zero
// means unknown, leaving the cache to apply its default.
func (i *Issuer) lifetime(token *oauth2.Token) time.Duration {
	now := i.now()

	if !token.Expiry.IsZero() {
		return max(token.Expiry.Sub(now), 0)
	}

	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return 0
	}

	return max(claims.ExpiresAt.Sub(now), 0)
}

func grantFailure(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("token endpoint responded %d %s: %w", status, retrieveErr.ErrorCode, err)
	}

	return fmt.Errorf("token request failed: %w", err)
}
