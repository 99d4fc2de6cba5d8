package session

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examforge/sessionkit/credstore"
)

func TestValidateWithoutTokenReturnsNoSession(t *testing.T) {
	manager, _ := newTestManager(t, http.NotFoundHandler())

	result := manager.ValidateSession(context.Background())

	assert.False(t, result.IsValid)
	assert.Equal(t, "no session", result.Message)
}

func TestValidate401MeansInvalid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	// The gateway's 401 policy tries a refresh first; reject that too.
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	manager, store := newTestManager(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "rejected"))
	require.NoError(t, store.Set(ctx, credstore.KeyRefreshToken, "rejected-too"))

	result := manager.ValidateSession(ctx)

	assert.False(t, result.IsValid)
	assert.Equal(t, "session expired", result.Message)
	assert.False(t, manager.State().IsSessionValid)
}

func TestValidateNetworkFailureAssumesValid(t *testing.T) {
	manager, store := newOfflineManager(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "tok"))

	result := manager.ValidateSession(ctx)

	assert.True(t, result.IsValid, "transport failures must not invalidate the session")
}

func TestValidateServerErrorAssumesValid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	manager, store := newTestManager(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "tok"))

	result := manager.ValidateSession(ctx)

	assert.True(t, result.IsValid, "a 5xx is not an authorization rejection")
}

func TestValidateSuccessUpdatesCachedUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{"userId": "u1", "email": "kim@example.com", "username": "kim"},
		})
	})

	manager, store := newTestManager(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "tok"))

	result := manager.ValidateSession(ctx)

	assert.True(t, result.IsValid)
	assert.Equal(t, "ok", result.Message)

	state := manager.State()
	require.NotNil(t, state.User)
	assert.Equal(t, "u1", state.User.ID)
	assert.True(t, state.IsSessionValid)

	cached, err := store.Get(ctx, credstore.KeyUser)
	require.NoError(t, err)
	assert.Contains(t, cached, `"userId":"u1"`)
}

func TestValidateRecoversViaRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{"userId": "u1", "email": "kim@example.com"},
		})
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"session": map[string]string{"access_token": "fresh"},
		})
	})

	manager, store := newTestManager(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "stale"))
	require.NoError(t, store.Set(ctx, credstore.KeyRefreshToken, "good"))

	result := manager.ValidateSession(ctx)

	assert.True(t, result.IsValid, "a 401 healed by refresh is a valid session")
	assert.True(t, manager.State().IsSessionValid)
}
