// Package server provides the HTTP REST API for the book generation agent.
package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// statusCoder lets service errors carry their own HTTP status.
type statusCoder interface {
	statusCode() int
}

// ErrEmailAlreadyExists reports a registration attempt for a taken email.
type ErrEmailAlreadyExists struct {
	Email string
}

func (e *ErrEmailAlreadyExists) Error() string {
	return fmt.Sprintf("email already registered: %s", e.Email)
}

func (e *ErrEmailAlreadyExists) statusCode() int { return http.StatusConflict }

// ErrInvalidCredentials reports a failed login. It deliberately does not
// say whether the email or the password was wrong.
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid email or password"
}

func (e *ErrInvalidCredentials) statusCode() int { return http.StatusUnauthorized }

// ErrUserNotFound reports a lookup for an unknown user ID.
type ErrUserNotFound struct {
	UserID uuid.UUID
}

func (e *ErrUserNotFound) Error() string {
	return fmt.Sprintf("user not found: %s", e.UserID)
}

func (e *ErrUserNotFound) statusCode() int { return http.StatusNotFound }

// ErrPasswordMismatch reports a wrong current password on password change.
type ErrPasswordMismatch struct{}

func (e *ErrPasswordMismatch) Error() string {
	return "current password is incorrect"
}

func (e *ErrPasswordMismatch) statusCode() int { return http.StatusUnauthorized }

// ErrValidation reports a request field that failed validation.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

func (e *ErrValidation) statusCode() int { return http.StatusBadRequest }

// HTTPStatus maps service errors to response status codes.
func HTTPStatus(err error) int {
	if coder, ok := err.(statusCoder); ok {
		return coder.statusCode()
	}
	return http.StatusInternalServerError
}
