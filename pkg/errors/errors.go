package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the auth taxonomy. Callers should match with errors.Is.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrSessionExpired     = errors.New("session expired")
	ErrAuthFailure        = errors.New("auth failure")
)

// AuthError is a structured auth error with an HTTP status mapping. Status is
// the backend status that produced the error, or 0 for purely local failures
// (e.g. a missing refresh token).
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// InvalidCredentials creates the error for a rejected login (401).
func InvalidCredentials(message string) *AuthError {
	return &AuthError{
		Code:    "INVALID_CREDENTIALS",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidCredentials,
	}
}

// DuplicateAccount creates the error for a rejected registration (409).
func DuplicateAccount(message string) *AuthError {
	return &AuthError{
		Code:    "DUPLICATE_ACCOUNT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrDuplicateAccount,
	}
}

// InvalidInput creates the error for a malformed request (400).
func InvalidInput(message string) *AuthError {
	return &AuthError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// RateLimited creates the error for too many attempts (429).
func RateLimited(message string) *AuthError {
	return &AuthError{
		Code:    "RATE_LIMITED",
		Message: message,
		Status:  http.StatusTooManyRequests,
		Err:     ErrRateLimited,
	}
}

// SessionExpired creates the terminal error for an absent or rejected refresh
// token. The current session cannot be recovered past this point.
func SessionExpired(message string) *AuthError {
	return &AuthError{
		Code:    "SESSION_EXPIRED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrSessionExpired,
	}
}

// AuthFailure creates the catch-all error for any other non-2xx or network
// failure during an auth operation.
func AuthFailure(message string, err error) *AuthError {
	if err == nil {
		err = ErrAuthFailure
	}
	return &AuthError{
		Code:    "AUTH_FAILURE",
		Message: message,
		Status:  0,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status associated with the given error, or 500
// when the error carries no status.
func HTTPStatus(err error) int {
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Status != 0 {
		return authErr.Status
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDuplicateAccount):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
