// Package errors defines typed errors with categories for user-friendly reporting.
// It provides a structured approach to error handling with machine-readable error kinds
// and human-friendly messages. Kinds drive the retry policy: an *E is always treated as
// an explicitly raised domain error and is never retried.
//
// The package supports wrapping underlying errors while maintaining error kind information,
// making it easier to handle different types of failures appropriately.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// AuthFailed indicates the login handshake was rejected.
	AuthFailed Kind = "auth_failed"
	// Transport indicates a request could not be completed after all retries.
	Transport Kind = "transport"
	// RemoteExecution indicates the remote service reported a failed statement.
	RemoteExecution Kind = "remote_execution"
	// ProxyOverloaded indicates the proxy in front of the service refused a result page.
	ProxyOverloaded Kind = "proxy_overloaded"
	// SessionExpired indicates the remote execution session is no longer valid.
	SessionExpired Kind = "session_expired"
	// ResultNotReady indicates rows were requested before the statement finished.
	ResultNotReady Kind = "result_not_ready"
	// Cancelled indicates a statement was cancelled by the caller.
	Cancelled Kind = "cancelled"
	// InvalidArgument indicates a caller supplied unusable input.
	InvalidArgument Kind = "invalid_argument"
	// PoolGrowFailed indicates the worker pool could not be extended.
	PoolGrowFailed Kind = "pool_grow_failed"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *E) Unwrap() error { return e.Err }

// Is matches another *E by kind, so errors.Is(err, errors.New(Kind, "")) works.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the first *E in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
