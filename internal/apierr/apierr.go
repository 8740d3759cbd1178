// Package apierr defines the status-coded error kinds returned by the
// service layer. Handlers match on *Error with errors.As and render the
// uniform API error envelope; callers never rely on panics or stack
// unwinding for control flow.
package apierr

import "net/http"

// Error is an API-facing failure with an HTTP status code.
type Error struct {
	Status  int
	Message string
	Errors  []string
}

func (e *Error) Error() string {
	return e.Message
}

func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, message)
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, message)
}
