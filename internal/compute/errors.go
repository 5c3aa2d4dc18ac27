package compute

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers connect failures and unexpected HTTP statuses.
	ErrTransport = errors.New("compute api transport error")
	// ErrAuth means the API rejected the supplied credentials.
	ErrAuth = errors.New("compute api rejected credentials")
	// ErrMalformedResponse means the response could not be parsed as an account.
	ErrMalformedResponse = errors.New("compute api returned a malformed response")
)

// Kind classifies a ResolveError.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindAuth
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindAuth:
		return ErrAuth
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// ResolveError is returned by every failed compute API call. It never
// carries request credentials.
type ResolveError struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("compute %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *ResolveError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf reports the kind of a compute error, or 0 if err is not one.
func KindOf(err error) Kind {
	var re *ResolveError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
