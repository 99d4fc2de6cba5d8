package session

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examforge/sessionkit/credstore"
	apperrors "github.com/examforge/sessionkit/pkg/errors"
)

func authBackend(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["email"] != "kim@example.com" || req["password"] != "correct-horse" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"code": "UNAUTHORIZED", "message": "invalid email or password"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{
				"userId":           "u1",
				"username":         "kim",
				"email":            "kim@example.com",
				"role":             "user",
				"subscriptionType": "premium",
				"totalDuels":       float64(12),
				"duelsWon":         float64(7),
			},
			"session": map[string]string{"access_token": "login-access", "refresh_token": "login-refresh"},
		})
	})
	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["email"] == "taken@example.com" {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]string{"code": "CONFLICT", "message": "email already registered"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":    map[string]any{"userId": "u2", "username": req["username"], "email": req["email"]},
			"session": map[string]string{"access_token": "reg-access", "refresh_token": "reg-refresh"},
		})
	})
	return mux
}

// --- Sign in ---

func TestSignInPersistsSession(t *testing.T) {
	manager, store := newTestManager(t, authBackend(t))
	ctx := context.Background()

	user, err := manager.SignIn(ctx, "kim@example.com", "correct-horse")
	require.NoError(t, err)

	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "premium", user.SubscriptionType)
	assert.Equal(t, 12, user.TotalDuels)

	for key, want := range map[string]string{
		credstore.KeyAccessToken:   "login-access",
		credstore.KeyMirroredToken: "login-access",
		credstore.KeyRefreshToken:  "login-refresh",
	} {
		got, getErr := store.Get(ctx, key)
		require.NoError(t, getErr, key)
		assert.Equal(t, want, got, key)
	}

	cached, err := store.Get(ctx, credstore.KeyUser)
	require.NoError(t, err)
	assert.Contains(t, cached, `"userId":"u1"`)

	state := manager.State()
	assert.Equal(t, StatusAuthenticated, state.Status)
	assert.True(t, state.IsSessionValid)
	assert.False(t, state.IsLoading)
}

func TestSignInWrongPassword(t *testing.T) {
	manager, store := newTestManager(t, authBackend(t))

	_, err := manager.SignIn(context.Background(), "kim@example.com", "wrong")

	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	assert.Equal(t, 0, store.Len(), "nothing persisted on a failed sign-in")
	assert.False(t, manager.State().IsLoading)
}

func TestSignInRejectsMalformedEmailLocally(t *testing.T) {
	manager, _ := newOfflineManager(t)

	_, err := manager.SignIn(context.Background(), "not-an-email", "password")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "validation failure must not reach the network")
}

func TestSignInRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]string{"code": "RATE_LIMITED", "message": "too many attempts"},
		})
	})

	manager, _ := newTestManager(t, mux)

	_, err := manager.SignIn(context.Background(), "kim@example.com", "correct-horse")
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestSignInNetworkFailure(t *testing.T) {
	manager, _ := newOfflineManager(t)

	_, err := manager.SignIn(context.Background(), "kim@example.com", "correct-horse")
	assert.ErrorIs(t, err, apperrors.ErrAuthFailure)
}

// --- Sign up ---

func TestSignUpSuccess(t *testing.T) {
	manager, store := newTestManager(t, authBackend(t))
	ctx := context.Background()

	user, err := manager.SignUp(ctx, "newbie", "new@example.com", "longpassword")
	require.NoError(t, err)
	assert.Equal(t, "u2", user.ID)
	assert.Equal(t, "newbie", user.Username)

	got, err := store.Get(ctx, credstore.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "reg-access", got)
}

func TestSignUpDuplicateAccount(t *testing.T) {
	manager, _ := newTestManager(t, authBackend(t))

	_, err := manager.SignUp(context.Background(), "someone", "taken@example.com", "longpassword")
	assert.ErrorIs(t, err, apperrors.ErrDuplicateAccount)
}

func TestSignUpShortPasswordRejectedLocally(t *testing.T) {
	manager, _ := newOfflineManager(t)

	_, err := manager.SignUp(context.Background(), "someone", "a@b.com", "short")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- Sign out ---

func TestSignOutClearsEverything(t *testing.T) {
	var notified bool
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		notified = true
		writeJSON(w, http.StatusOK, map[string]string{"message": "bye"})
	})

	manager, store := newTestManager(t, mux)
	ctx := context.Background()
	for _, key := range credstore.SessionKeys {
		require.NoError(t, store.Set(ctx, key, "value"))
	}

	manager.SignOut(ctx)

	assert.True(t, notified)
	assert.Equal(t, 0, store.Len())

	state := manager.State()
	assert.Equal(t, StatusUnauthenticated, state.Status)
	assert.Nil(t, state.User)
	assert.False(t, state.IsSessionValid)
	assert.False(t, state.IsLoading)
}

func TestSignOutClearsLocallyEvenWhenBackendUnreachable(t *testing.T) {
	manager, store := newOfflineManager(t)
	ctx := context.Background()
	for _, key := range credstore.SessionKeys {
		require.NoError(t, store.Set(ctx, key, "value"))
	}

	manager.SignOut(ctx)

	for _, key := range credstore.SessionKeys {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, credstore.ErrNotFound, "key %s must be cleared despite the network failure", key)
	}
	assert.Nil(t, manager.State().User)
	assert.Equal(t, StatusUnauthenticated, manager.State().Status)
}

// --- Init ---

func TestInitWithoutCredentials(t *testing.T) {
	manager, _ := newTestManager(t, http.NotFoundHandler())

	state := manager.Init(context.Background())

	assert.Equal(t, StatusUnauthenticated, state.Status)
	assert.Nil(t, state.User)
	assert.False(t, state.IsLoading)
}

func TestInitHydratesAndValidates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{"userId": "u1", "email": "kim@example.com", "username": "kim"},
		})
	})

	manager, store := newTestManager(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "tok"))
	require.NoError(t, store.Set(ctx, credstore.KeyUser, `{"userId":"u1","username":"kim"}`))

	state := manager.Init(ctx)

	assert.Equal(t, StatusAuthenticated, state.Status)
	require.NotNil(t, state.User)
	assert.Equal(t, "u1", state.User.ID)
	assert.True(t, state.IsSessionValid)
}

func TestInitExpiredSessionEndsUnauthenticated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	manager, store := newTestManager(t, mux)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, credstore.KeyAccessToken, "stale"))
	require.NoError(t, store.Set(ctx, credstore.KeyRefreshToken, "stale"))
	require.NoError(t, store.Set(ctx, credstore.KeyUser, `{"userId":"u1"}`))

	state := manager.Init(ctx)

	assert.Equal(t, StatusUnauthenticated, state.Status)
	assert.Nil(t, state.User)
	assert.Equal(t, 0, store.Len(), "expired credentials are wiped during init")
}

// --- Provider flow ---

func TestSignInWithProviderReturnsURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/oauth/google", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"url": "https://accounts.example.com/authorize?x=1"})
	})

	manager, _ := newTestManager(t, mux)

	var opened string
	manager.openBrowser = func(_ context.Context, url string) error {
		opened = url
		return nil
	}

	url, err := manager.SignInWithProvider(context.Background(), ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.example.com/authorize?x=1", url)
	assert.Equal(t, url, opened)

	// The flow is pending, not failed: state is untouched until a deep
	// link arrives.
	assert.Equal(t, StatusUnknown, manager.State().Status)
}

func TestSignInWithUnknownProvider(t *testing.T) {
	manager, _ := newOfflineManager(t)

	_, err := manager.SignInWithProvider(context.Background(), Provider("myspace"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- State subscription ---

func TestSubscribeObservesChanges(t *testing.T) {
	manager, _ := newTestManager(t, authBackend(t))

	var statuses []Status
	cancel := manager.Subscribe(func(s State) {
		statuses = append(statuses, s.Status)
	})
	defer cancel()

	_, err := manager.SignIn(context.Background(), "kim@example.com", "correct-horse")
	require.NoError(t, err)

	assert.Contains(t, statuses, StatusAuthenticated)

	cancel()
	before := len(statuses)
	manager.SignOut(context.Background())
	assert.Equal(t, before, len(statuses), "cancelled subscriber must not fire")
}
