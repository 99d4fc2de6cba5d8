// Package credstore provides scoped key-value persistence for session
// credentials: the access token, refresh token, and cached user profile,
// durable across process restarts.
//
// Storage failures are deliberately non-fatal at the session layer; callers
// log and carry on with in-memory state. No encryption or expiry happens
// here, token TTL is enforced by the backend.
package credstore

import (
	"context"
	"errors"
)

// Logical storage keys. KeyMirroredToken is a duplicate of the access token
// kept in sync for non-auth subsystems that read it under their own key.
const (
	KeyAccessToken   = "auth.access_token"
	KeyRefreshToken  = "auth.refresh_token"
	KeyUser          = "auth.user"
	KeyMirroredToken = "api.access_token"
)

// SessionKeys lists every key a sign-out or failed refresh must clear.
var SessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyMirroredToken}

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("credstore: key not found")

// Store is the persistence contract for session credentials.
type Store interface {
	// Get retrieves the value for key, or ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores the value under key.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveAll deletes every given key, continuing past individual
	// failures. The returned error joins whatever failed.
	RemoveAll(ctx context.Context, keys ...string) error
}
