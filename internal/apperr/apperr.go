// Package apperr defines the error kinds shared by the cache, favorites, weather
// and auth layers. Handlers map kinds to HTTP status codes; everything else just
// wraps and propagates.
package apperr

import "errors"

// Error kinds. Match them with errors.Is.
var (
	ErrBadRequest          = errors.New("bad request")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInternal            = errors.New("internal error")
)

var kinds = []error{
	ErrBadRequest,
	ErrNotFound,
	ErrConflict,
	ErrUnauthorized,
	ErrForbidden,
	ErrUpstreamUnavailable,
	ErrInternal,
}

// Error is a classified error with a client-facing message and an optional cause.
type Error struct {
	kind  error
	msg   string
	cause error
}

// New returns an error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap returns an error of the given kind that keeps cause for diagnostics.
func Wrap(kind error, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

// BadRequest, NotFound and Conflict are shorthands for the most common kinds.
func BadRequest(msg string) *Error { return New(ErrBadRequest, msg) }
func NotFound(msg string) *Error   { return New(ErrNotFound, msg) }
func Conflict(msg string) *Error   { return New(ErrConflict, msg) }

func (e *Error) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

// Message returns the message without the cause chain.
func (e *Error) Message() string {
	return e.msg
}

// Kind returns the sentinel kind.
func (e *Error) Kind() error {
	return e.kind
}

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// KindOf returns the first known kind found in err's chain, or ErrInternal.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}

// Retryable reports whether a client may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
