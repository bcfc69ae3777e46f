package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	Validation Kind = iota // bad input, message safe to surface verbatim
	Authorization
	NotFound
	Conflict // insufficient stock/points, illegal state transition
	External // gateway unavailable, bad signature
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Msg: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: Authorization, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: Conflict, Msg: fmt.Sprintf(format, args...)}
}

func Externalf(format string, args ...any) *Error {
	return &Error{Kind: External, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err when it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps an error to a response status. Unclassified errors are
// treated as internal.
func HTTPStatus(err error) int {
	switch k, ok := KindOf(err); {
	case !ok:
		return http.StatusInternalServerError
	case k == Authorization:
		return http.StatusForbidden
	case k == NotFound:
		return http.StatusNotFound
	default:
		// Validation, Conflict and External all surface as 400: the caller sent
		// bad input, asked for something the current state cannot satisfy, or
		// picked a payment method we cannot serve right now.
		return http.StatusBadRequest
	}
}

// Message returns the user-facing message for err. Authorization errors get a
// generic message so ownership probing leaks nothing.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == Authorization {
		return "you are not allowed to perform this action"
	}
	return e.Msg
}
