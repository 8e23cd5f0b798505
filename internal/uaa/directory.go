package uaa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/chinmina/directory-bridge/internal/identity"
)

const (
	// pageSize is the number of resources requested per search page.
	pageSize = 500

	// maxPages bounds a single search. A search with more pages fails rather
	// than returning a truncated result.
	maxPages = 20

	// maxResponseBytes limits the body read from any directory response.
	maxResponseBytes = 10 << 20 // 10 MB
)

// Directory queries the provider's SCIM user endpoints and client registry.
// Failures are returned as *identity.Error values classified by response.
type Directory struct {
	target     *url.URL
	httpClient *http.Client
}

// NewDirectory creates a directory client for the provider at target.
func NewDirectory(target string, httpClient *http.Client) (*Directory, error) {
	u, err := url.Parse(strings.TrimSuffix(target, "/"))
	if err != nil {
		return nil, fmt.Errorf("could not parse identity provider URL: %w", err)
	}

	if !u.IsAbs() {
		return nil, fmt.Errorf("identity provider URL must be absolute: %s", target)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Directory{
		target:     u,
		httpClient: httpClient,
	}, nil
}

type scimEmail struct {
	Value   string `json:"value"`
	Primary bool   `json:"primary"`
}

type scimUser struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
	Origin   string `json:"origin"`
	Active   *bool  `json:"active"`
	Name     struct {
		GivenName  string `json:"givenName"`
		FamilyName string `json:"familyName"`
	} `json:"name"`
	Emails []scimEmail `json:"emails"`
}

func (u scimUser) principal() identity.Principal {
	p := identity.Principal{
		ID:         u.ID,
		Username:   u.UserName,
		Origin:     u.Origin,
		GivenName:  u.Name.GivenName,
		FamilyName: u.Name.FamilyName,
		Active:     u.Active,
	}
	for _, e := range u.Emails {
		p.Emails = append(p.Emails, e.Value)
	}
	return p
}

type scimPage struct {
	Resources    []scimUser `json:"resources"`
	StartIndex   int        `json:"startIndex"`
	ItemsPerPage int        `json:"itemsPerPage"`
	TotalResults int        `json:"totalResults"`
}

type clientRegistration struct {
	ClientID   string   `json:"client_id"`
	Name       string   `json:"name"`
	Scope      []string `json:"scope"`
	GrantTypes []string `json:"authorized_grant_types"`
}

// Search runs a SCIM filter query, following pagination until every matching
// resource has been read.
func (d *Directory) Search(ctx context.Context, authHeader string, req identity.SearchRequest) ([]identity.Principal, error) {
	path := "/Users"
	if req.IDsOnly {
		path = "/ids/Users"
	}

	principals := []identity.Principal{}
	startIndex := 1

	for range maxPages {
		query := url.Values{}
		query.Set("filter", req.Filter)
		query.Set("startIndex", strconv.Itoa(startIndex))
		query.Set("count", strconv.Itoa(pageSize))
		if req.IncludeInactive {
			query.Set("includeInactive", "true")
		}

		var page scimPage
		if err := d.getJSON(ctx, authHeader, path, query, &page); err != nil {
			return nil, err
		}

		for _, u := range page.Resources {
			principals = append(principals, u.principal())
		}

		startIndex += len(page.Resources)
		if len(page.Resources) == 0 || startIndex > page.TotalResults {
			return principals, nil
		}
	}

	return nil, identity.NewError(identity.KindUnavailable,
		fmt.Errorf("search of %s exceeded %d pages (%d results read)", path, maxPages, len(principals)))
}

// GetClient fetches a single client registration.
func (d *Directory) GetClient(ctx context.Context, authHeader string, clientID string) (identity.Principal, error) {
	var reg clientRegistration
	err := d.getJSON(ctx, authHeader, "/oauth/clients/"+url.PathEscape(clientID), nil, &reg)
	if err != nil {
		return identity.Principal{}, err
	}

	return identity.Principal{
		ID:         reg.ClientID,
		Username:   reg.Name,
		Scopes:     reg.Scope,
		GrantTypes: reg.GrantTypes,
		Active:     identity.Flag(true),
	}, nil
}

// Info describes the provider, as reported by its unauthenticated info
// endpoint.
type Info struct {
	App struct {
		Version string `json:"version"`
	} `json:"app"`
	ZoneName string `json:"zone_name"`
	CommitID string `json:"commit_id"`
	EntityID string `json:"entityID"`
}

// Info reads the provider's info endpoint. It needs no token.
func (d *Directory) Info(ctx context.Context) (Info, error) {
	var info Info
	err := d.getJSON(ctx, "", "/info", nil, &info)
	return info, err
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Message     string `json:"message"`
}

func (d *Directory) getJSON(ctx context.Context, authHeader string, path string, query url.Values, target any) error {
	u := d.target.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return identity.NewError(identity.KindUnavailable, fmt.Errorf("could not create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return identity.NewError(identity.KindUnavailable, fmt.Errorf("request to %s failed: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return identity.NewError(identity.KindUnavailable, fmt.Errorf("reading response from %s failed: %w", path, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(path, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return identity.NewError(identity.KindUnavailable, fmt.Errorf("malformed response from %s: %w", path, err))
	}

	return nil
}

// statusError classifies a non-success response. 401 is always a token
// rejection, since the request carried nothing else the provider could
// refuse to authenticate.
func statusError(path string, status int, body []byte) error {
	detail := describe(body)
	cause := fmt.Errorf("%s responded %d%s", path, status, detail)

	switch {
	case status == http.StatusUnauthorized:
		return identity.NewError(identity.KindInvalidToken, cause)
	case status == http.StatusNotFound:
		return identity.NewError(identity.KindNotFound, cause)
	case status >= 400 && status < 500:
		return identity.NewError(identity.KindRejected, cause)
	default:
		return identity.NewError(identity.KindUnavailable, cause)
	}
}

func describe(body []byte) string {
	var e errorBody
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}

	parts := []string{}
	for _, s := range []string{e.Error, e.Description, e.Message} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	return ": " + strings.Join(parts, ": ")
}
