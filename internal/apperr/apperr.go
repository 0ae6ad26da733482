// Package apperr classifies request failures so the HTTP boundary can map
// them to a status code without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the class of a request failure
type Kind int

const (
	// KindUnexpected covers upstream, parsing and internal failures
	KindUnexpected Kind = iota
	// KindValidation is malformed or missing request input
	KindValidation
	// KindAuthentication is an identity that may not perform the action
	KindAuthentication
	// KindAuthorization is a capability mismatch or expiry
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindAuthentication:
		return "Authentication"
	case KindAuthorization:
		return "Authorization"
	default:
		return "Unexpected"
	}
}

// Error is a classified failure. Msg is safe to show to clients, Err is
// only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindUnexpected && e.Err != nil && e.Msg == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 400-class error
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Authentication returns a 403-class error
func Authentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Msg: fmt.Sprintf(format, args...)}
}

// Authorization returns a 401-class error
func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// Unexpected wraps err under a top-level message shown to the client.
func Unexpected(msg string, err error) *Error {
	return &Error{Kind: KindUnexpected, Msg: msg, Err: err}
}

// As returns the classified error in err's chain. Unclassified errors are
// wrapped as unexpected.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindUnexpected, Msg: "internal error", Err: err}
}

// StatusCode maps err to the HTTP status returned to the client
func StatusCode(err error) int {
	switch As(err).Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusForbidden
	case KindAuthorization:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
