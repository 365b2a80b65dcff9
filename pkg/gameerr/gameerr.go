// Package gameerr holds the user-facing validation error type shared by the engines.
package gameerr

import "errors"

// Error is an expected, user-facing rejection. Message is safe to show to players.
type Error struct {
	Code    string
	Message string
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// IsValidation reports whether err (or anything it wraps) is an *Error.
func IsValidation(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// Message returns the user-facing text for err, or the generic fallback for
// anything that is not a validation error.
func Message(err error) string {
	var v *Error
	if errors.As(err, &v) {
		return v.Message
	}
	return "something went wrong"
}
