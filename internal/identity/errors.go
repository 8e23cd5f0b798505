package identity

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure reported by the identity provider or its
// collaborators. The retry wrapper and the query operations decide what to do
// based on the kind alone.
type Kind int

const (
	// KindUnavailable covers transport failures, malformed responses and
	// repeated token rejection.
	KindUnavailable Kind = iota + 1

	// KindInvalidToken means the provider rejected the bearer token as
	// invalid or expired. It never escapes Client.
	KindInvalidToken

	// KindNotFound is the absence of a single requested record.
	KindNotFound

	// KindRejected means the provider refused an otherwise well-formed
	// request, for example because the endpoint is not permitted.
	KindRejected

	// KindLookupDisabled means the deployment has disabled username lookup.
	KindLookupDisabled
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "provider unavailable"
	case KindInvalidToken:
		return "invalid token"
	case KindNotFound:
		return "not found"
	case KindRejected:
		return "request rejected"
	case KindLookupDisabled:
		return "lookup disabled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the single error type surfaced by this package and by directory
// transports. Callers match on the kind with IsKind or errors.As.
type Error struct {
	Kind Kind
	Err  error
}

// NewError creates an error of the given kind wrapping cause, which may be
// nil.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the error kind to the HTTP status the lookup routes respond
// with.
func (e *Error) Status() (int, string) {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound, "not found"
	case KindLookupDisabled:
		return http.StatusNotImplemented, "username lookup is disabled by the identity provider"
	default:
		return http.StatusBadGateway, "identity provider unavailable"
	}
}

// KindOf returns the kind of err, or zero if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// unavailable converts any failure into KindUnavailable, keeping the original
// as the cause.
func unavailable(err error) *Error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindUnavailable {
		return e
	}
	return NewError(KindUnavailable, err)
}
