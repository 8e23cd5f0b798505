package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/chinmina/directory-bridge/internal/audit"
	"github.com/chinmina/directory-bridge/internal/identity"
	"github.com/chinmina/directory-bridge/internal/uaa"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// IdentityLookup is the set of directory queries exposed over HTTP.
type IdentityLookup interface {
	ClientsByIDs(ctx context.Context, ids []string) ([]identity.Principal, error)
	UsersByIDs(ctx context.Context, ids []string) map[string]identity.Principal
	UsernamesByIDs(ctx context.Context, ids []string) map[string]string
	IDForUsername(ctx context.Context, username string, origin string) (string, bool, error)
	OriginsForUsername(ctx context.Context, username string) ([]string, error)
}

// ProviderInfo reports on the identity provider without authenticating.
type ProviderInfo interface {
	Info(ctx context.Context) (uaa.Info, error)
}

// maxQueryIDs bounds the number of ids a single batch request may ask for.
const maxQueryIDs = 200

func handleGetUsers(lookup IdentityLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		ids, ok := queryIDs(w, r)
		if !ok {
			return
		}

		writeJSON(w, lookup.UsersByIDs(r.Context(), ids))
	})
}

func handleGetUsernames(lookup IdentityLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		ids, ok := queryIDs(w, r)
		if !ok {
			return
		}

		writeJSON(w, lookup.UsernamesByIDs(r.Context(), ids))
	})
}

// UserIDResponse is the result of resolving a username.
type UserIDResponse struct {
	ID string `json:"id"`
}

func handleGetUserID(lookup IdentityLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		username := r.PathValue("username")
		if username == "" {
			writeJSONError(w, http.StatusBadRequest, "username is required")
			return
		}

		id, found, err := lookup.IDForUsername(r.Context(), username, r.URL.Query().Get("origin"))
		if err != nil {
			status, message := errorStatus(err)
			log.Info().Err(err).Msg("username lookup failed")
			writeJSONError(w, status, message)
			return
		}

		if !found {
			writeJSONError(w, http.StatusNotFound, "user not found")
			return
		}

		writeJSON(w, UserIDResponse{ID: id})
	})
}

// OriginsResponse lists the origins a username is registered with.
type OriginsResponse struct {
	Origins []string `json:"origins"`
}

func handleGetOrigins(lookup IdentityLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		username := r.PathValue("username")
		if username == "" {
			writeJSONError(w, http.StatusBadRequest, "username is required")
			return
		}

		origins, err := lookup.OriginsForUsername(r.Context(), username)
		if err != nil {
			status, message := errorStatus(err)
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, OriginsResponse{Origins: origins})
	})
}

func handleGetClients(lookup IdentityLookup) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		ids, ok := queryIDs(w, r)
		if !ok {
			return
		}

		clients, err := lookup.ClientsByIDs(r.Context(), ids)
		if err != nil {
			status, message := errorStatus(err)
			log.Info().Err(err).Msg("client lookup failed")
			writeJSONError(w, status, message)
			return
		}

		writeJSON(w, clients)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// ProviderHealthResponse reports the reachability of the identity provider.
type ProviderHealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Zone    string `json:"zone,omitempty"`
}

func handleProviderHealth(provider ProviderInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		info, err := provider.Info(r.Context())
		if err != nil {
			log.Warn().Err(err).Msg("identity provider health check failed")
			writeJSONStatus(w, http.StatusBadGateway, ProviderHealthResponse{Status: "unavailable"})
			return
		}

		writeJSON(w, ProviderHealthResponse{
			Status:  "ok",
			Version: info.App.Version,
			Zone:    info.ZoneName,
		})
	})
}

// apiTokenAuthorizer requires the shared API token as a bearer credential.
func apiTokenAuthorizer(token string) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := audit.Log(r.Context())

			scheme, presented, _ := strings.Cut(r.Header.Get("Authorization"), " ")
			if !strings.EqualFold(scheme, "bearer") ||
				subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				entry.Error = "API token authorization failure"
				drainRequestBody(r)
				w.Header().Set("WWW-Authenticate", `Bearer realm="directory-bridge"`)
				writeJSONError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
				return
			}

			entry.Authorized = true
			next.ServeHTTP(w, r)
		})
	}
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// queryIDs reads the repeated id query parameter, writing a 400 response
// when the request asks for too many.
func queryIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	ids := r.URL.Query()["id"]
	if len(ids) > maxQueryIDs {
		writeJSONError(w, http.StatusBadRequest, "too many ids requested")
		return nil, false
	}
	return ids, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	marshalled, err := json.Marshal(payload)
	if err != nil {
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(marshalled)
	if err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Msgf("failed to write response: %v", err)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONStatus(w, statusCode, ErrorResponse{Error: message})
}

// writeJSONStatus writes payload as JSON with a non-default status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody reads and discards the request body so HTTP/1 connections
// can be reused.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// after this we'll assume the client is broken or malicious and close
		// the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
