package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// MockUser is a user record served by MockUAAServer.
type MockUser struct {
	ID       string
	Username string
	Origin   string
	Active   bool
}

// MockClient is a client registration served by MockUAAServer.
type MockClient struct {
	ID     string
	Name   string
	Scopes []string
}

// MockUAAServer provides a configurable mock identity provider for testing.
// Tokens are issued as "token-1", "token-2", ... in grant order.
type MockUAAServer struct {
	Server *httptest.Server

	mu sync.Mutex

	ClientID     string
	ClientSecret string
	ExpiresIn    int // seconds; omitted from the response when zero

	Users   []MockUser
	Clients map[string]MockClient

	// TokenStatusCode overrides the grant response status when set.
	TokenStatusCode int
	// IDsStatusCode overrides the /ids/Users response status when set.
	IDsStatusCode int
	// RejectedTokens are answered with 401 invalid_token.
	RejectedTokens map[string]bool

	GrantCount     int
	DirectoryCount int
	LastAuthHeader string
	LastQuery      string
}

// SetupMockUAAServer creates a mock UAA server handling the token, user,
// user id, client and info endpoints. It is closed when the test completes.
func SetupMockUAAServer(t *testing.T) *MockUAAServer {
	t.Helper()

	mock := &MockUAAServer{
		ClientID:       "cloud_controller",
		ClientSecret:   "secret",
		ExpiresIn:      3600,
		Clients:        map[string]MockClient{},
		RejectedTokens: map[string]bool{},
	}

	router := http.NewServeMux()
	router.HandleFunc("POST /oauth/token", mock.handleToken)
	router.HandleFunc("GET /Users", mock.authorized(mock.handleUsers(false)))
	router.HandleFunc("GET /ids/Users", mock.authorized(mock.handleUsers(true)))
	router.HandleFunc("GET /oauth/clients/{id}", mock.authorized(mock.handleClient))
	router.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, map[string]any{
			"app":            map[string]string{"version": "77.0.0"},
			"zone_name":      "uaa",
			"commit_id":      "abc123",
			"entityID":       "uaa.example.com",
			"showLoginLinks": true,
		})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Close)

	return mock
}

// URL returns the base URL of the server.
func (m *MockUAAServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockUAAServer) Close() {
	m.Server.Close()
}

// Update applies fn to the mock while holding its lock.
func (m *MockUAAServer) Update(fn func(m *MockUAAServer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// Grants returns the number of token grants served.
func (m *MockUAAServer) Grants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GrantCount
}

// DirectoryRequests returns the number of authenticated directory requests.
func (m *MockUAAServer) DirectoryRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DirectoryCount
}

// LastRequest returns the Authorization header and raw query of the most
// recent directory request.
func (m *MockUAAServer) LastRequest() (authHeader string, rawQuery string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastAuthHeader, m.LastQuery
}

func (m *MockUAAServer) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TokenStatusCode != 0 {
		writeError(w, m.TokenStatusCode, "server_error", "token endpoint failure")
		return
	}

	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "expected client_credentials")
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if id != m.ClientID || secret != m.ClientSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Bad credentials")
		return
	}

	m.GrantCount++
	response := map[string]any{
		"access_token": fmt.Sprintf("token-%d", m.GrantCount),
		"token_type":   "bearer",
		"scope":        "scim.read clients.read",
		"jti":          fmt.Sprintf("jti-%d", m.GrantCount),
	}
	if m.ExpiresIn != 0 {
		response["expires_in"] = m.ExpiresIn
	}

	WriteJSON(w, response)
}

func (m *MockUAAServer) authorized(next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.DirectoryCount++
		header := r.Header.Get("Authorization")
		m.LastAuthHeader = header

		scheme, token, _ := strings.Cut(header, " ")
		if !strings.EqualFold(scheme, "bearer") || !strings.HasPrefix(token, "token-") || m.RejectedTokens[token] {
			writeError(w, http.StatusUnauthorized, "invalid_token", "The token expired, was revoked, or the token ID is incorrect.")
			return
		}

		next(w, r)
	}
}

func (m *MockUAAServer) handleUsers(idsOnly bool) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if idsOnly && m.IDsStatusCode != 0 {
			writeError(w, m.IDsStatusCode, "invalid_request", "Illegal Operation: Endpoint not enabled.")
			return
		}

		query := r.URL.Query()
		filter := query.Get("filter")
		m.LastQuery = r.URL.RawQuery
		includeInactive := query.Get("includeInactive") == "true"

		resources := []map[string]any{}
		for _, u := range m.Users {
			if !u.Active && !includeInactive {
				continue
			}
			if !matchFilter(filter, u) {
				continue
			}

			resource := map[string]any{
				"id":       u.ID,
				"userName": u.Username,
				"origin":   u.Origin,
			}
			if !idsOnly {
				resource["active"] = u.Active
				resource["emails"] = []map[string]any{{"value": u.Username + "@example.com", "primary": true}}
			}
			resources = append(resources, resource)
		}

		WriteJSON(w, map[string]any{
			"resources":    resources,
			"startIndex":   1,
			"itemsPerPage": len(resources),
			"totalResults": len(resources),
			"schemas":      []string{"urn:scim:schemas:core:1.0"},
		})
	}
}

func (m *MockUAAServer) handleClient(w http.ResponseWriter, r *http.Request) {
	client, ok := m.Clients[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "invalid_client", "No client with requested id")
		return
	}

	WriteJSON(w, map[string]any{
		"client_id":              client.ID,
		"name":                   client.Name,
		"scope":                  client.Scopes,
		"authorized_grant_types": []string{"client_credentials"},
	})
}

var filterTerm = regexp.MustCompile(`(\w+) eq "((?:[^"\\]|\\.)*)"`)

// matchFilter evaluates the subset of SCIM filters used by the client:
// disjunctions of id terms, and conjunctions of origin and username terms.
func matchFilter(filter string, u MockUser) bool {
	terms := filterTerm.FindAllStringSubmatch(filter, -1)
	if len(terms) == 0 {
		return filter == ""
	}

	disjunction := strings.Contains(filter, " or ")
	for _, term := range terms {
		value := strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(term[2])

		var actual string
		switch term[1] {
		case "id":
			actual = u.ID
		case "username":
			actual = u.Username
		case "origin":
			actual = u.Origin
		}

		matched := strings.EqualFold(actual, value)
		if disjunction && matched {
			return true
		}
		if !disjunction && !matched {
			return false
		}
	}

	return !disjunction
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
