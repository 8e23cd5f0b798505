package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at. Entries are written
// regardless of the configured log level.
const Level = zerolog.NoLevel

// Entry is the audit record for a single request. Components along the
// request path fill in what they know; the middleware writes it once the
// response is complete.
type Entry struct {
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Authorized bool

	// Operation names the directory query served.
	Operation    string
	Username     string
	Origin       string
	RequestedIDs int
	// Results is the number of records returned, or -1 when unknown.
	Results int

	Error string
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Bool("audit", true)

	ev.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent),
	)

	ev.Dict("authorization", zerolog.Dict().
		Bool("authorized", e.Authorized),
	)

	lookup := NewOptionalEvent(nil).
		Str("operation", e.Operation).
		Str("username", e.Username).
		Str("origin", e.Origin).
		Int("requestedIDs", e.RequestedIDs)
	if e.Operation != "" && e.Results >= 0 {
		lookup.IntAlways("results", e.Results)
	}
	lookup.Set(ev, "lookup")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin records the request details.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		e.SourceIP = host
	}
}

// End returns a function that writes the entry to the context logger. A
// status of zero is reported as 200, matching net/http.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if e.Status == 0 {
			e.Status = http.StatusOK
		}
		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit_event")
	}
}

type contextKey struct{}

// Context returns the entry stored in ctx, adding a new one when none is
// present.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{Results: -1}
	return context.WithValue(ctx, contextKey{}, e), e
}

// Log returns the request's entry for modification. Outside of the audit
// middleware a detached entry is returned, so callers never need to check.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware writes an audit entry for every request, including those that
// panic. The panic is recorded and then propagated.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())
			entry.Begin(r)

			recorder := &statusRecorder{ResponseWriter: w, entry: entry}

			defer func() {
				if p := recover(); p != nil {
					if entry.Error != "" {
						entry.Error += "; "
					}
					entry.Error += fmt.Sprintf("panic: %v", p)
					if entry.Status == 0 {
						entry.Status = http.StatusInternalServerError
					}
					entry.End(ctx)()
					panic(p)
				}
				entry.End(ctx)()
			}()

			next.ServeHTTP(recorder, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.entry.Status == 0 {
		s.entry.Status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
