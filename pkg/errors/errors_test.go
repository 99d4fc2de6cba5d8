package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"invalid credentials", InvalidCredentials("nope"), ErrInvalidCredentials, http.StatusUnauthorized},
		{"duplicate account", DuplicateAccount("taken"), ErrDuplicateAccount, http.StatusConflict},
		{"invalid input", InvalidInput("bad email"), ErrInvalidInput, http.StatusBadRequest},
		{"rate limited", RateLimited("slow down"), ErrRateLimited, http.StatusTooManyRequests},
		{"session expired", SessionExpired("gone"), ErrSessionExpired, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestAuthFailureWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := AuthFailure("sign in failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "AUTH_FAILURE")
	assert.Contains(t, err.Error(), "sign in failed")
}

func TestAuthFailureWithoutCauseMatchesSentinel(t *testing.T) {
	err := AuthFailure("something went wrong", nil)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestHTTPStatusMatchesWrappedSentinels(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrDuplicateAccount)
	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("opaque")))
}
