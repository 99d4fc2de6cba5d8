// Package session implements the client-side session lifecycle for the
// exam-prep backend: sign-in, sign-up, OAuth completion, validation, token
// refresh with deduplication, and sign-out. The Manager is the single
// component-facing entry point; UI layers observe its state via Subscribe.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/examforge/sessionkit/credstore"
	"github.com/examforge/sessionkit/gateway"
	apperrors "github.com/examforge/sessionkit/pkg/errors"
	"github.com/examforge/sessionkit/pkg/validator"
)

// Provider identifies a supported OAuth provider.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderApple    Provider = "apple"
	ProviderFacebook Provider = "facebook"
)

// BrowserOpener launches the system browser for an OAuth authorization URL.
// The session is established later, when the redirect deep link is handed to
// HandleDeepLink; a user closing the browser simply never produces one.
type BrowserOpener func(ctx context.Context, url string) error

// Manager is the session facade. All operations update the observable state
// (user, loading flag, validity) as a side effect, and every path resets the
// loading flag before returning.
type Manager struct {
	gw          *gateway.Gateway
	store       credstore.Store
	logger      *slog.Logger
	coordinator *refreshCoordinator
	state       *stateStore
	openBrowser BrowserOpener
}

// Option configures a Manager.
type Option func(*Manager)

// WithBrowserOpener sets the callback used to open provider authorization
// URLs. Without one, SignInWithProvider only returns the URL.
func WithBrowserOpener(open BrowserOpener) Option {
	return func(m *Manager) { m.openBrowser = open }
}

// New creates a Manager and installs its refresh coordinator as the gateway's
// 401 hook.
func New(gw *gateway.Gateway, store credstore.Store, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		gw:     gw,
		store:  store,
		logger: log,
		state:  newStateStore(),
	}
	m.coordinator = &refreshCoordinator{
		gw:     gw,
		store:  store,
		state:  m.state,
		logger: log,
	}
	gw.SetRefresher(m.coordinator)

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current session state snapshot.
func (m *Manager) State() State {
	return m.state.snapshot()
}

// Subscribe registers fn to be called with every state change and returns a
// cancel func.
func (m *Manager) Subscribe(fn func(State)) func() {
	return m.state.subscribe(fn)
}

// Init hydrates state from persisted credentials and validates the session
// against the backend. Call once at process start. The cached user becomes
// visible before network confirmation; validation (including an automatic
// refresh on 401) settles the final status.
func (m *Manager) Init(ctx context.Context) State {
	m.state.update(func(s *State) {
		s.Status = StatusChecking
		s.IsLoading = true
	})
	defer m.state.update(func(s *State) { s.IsLoading = false })

	if raw, err := m.store.Get(ctx, credstore.KeyUser); err == nil {
		var user UserProfile
		if json.Unmarshal([]byte(raw), &user) == nil {
			m.state.update(func(s *State) { s.User = &user })
		}
	}

	token, err := m.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		m.logger.WarnContext(ctx, "credential store read failed during init",
			slog.String("error", err.Error()),
		)
	}
	if token == "" {
		m.state.update(func(s *State) {
			s.Status = StatusUnauthenticated
			s.User = nil
		})
		return m.state.snapshot()
	}

	result := m.ValidateSession(ctx)
	m.state.update(func(s *State) {
		if result.IsValid {
			s.Status = StatusAuthenticated
		} else {
			s.Status = StatusUnauthenticated
			s.User = nil
		}
	})
	return m.state.snapshot()
}

// --- Credential operations ---

type signInInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type signUpInput struct {
	Username string `validate:"required,min=3,max=30"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse is the backend's shape for login, registration, and OAuth code
// exchange. The user payload is loosely typed and normalized locally.
type authResponse struct {
	User    map[string]any `json:"user"`
	Session tokenPayload   `json:"session"`
}

// SignIn authenticates with email and password, persists the returned tokens
// and user, and marks the session valid.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*UserProfile, error) {
	defer m.endOp()
	m.beginOp()

	if err := validator.Validate(signInInput{Email: email, Password: password}); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	var resp authResponse
	err := m.gw.Request(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, translateAuthError(err, "sign in")
	}

	user := m.establishSession(ctx, resp)
	m.logger.InfoContext(ctx, "signed in", slog.String("user_id", user.ID))
	return user, nil
}

// SignUp registers a new account and establishes a session from the response.
func (m *Manager) SignUp(ctx context.Context, username, email, password string) (*UserProfile, error) {
	defer m.endOp()
	m.beginOp()

	if err := validator.Validate(signUpInput{Username: username, Email: email, Password: password}); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	req := registerRequest{Username: username, Email: email, Password: password}
	var resp authResponse
	err := m.gw.Request(ctx, http.MethodPost, "/auth/register", req, &resp)
	if err != nil {
		return nil, translateAuthError(err, "sign up")
	}

	user := m.establishSession(ctx, resp)
	m.logger.InfoContext(ctx, "account registered", slog.String("user_id", user.ID))
	return user, nil
}

// SignOut notifies the backend on a best-effort basis and unconditionally
// clears local credential state. The user's intent to log out always
// succeeds locally, whatever the network does.
func (m *Manager) SignOut(ctx context.Context) {
	defer m.endOp()
	m.beginOp()

	if err := m.gw.Request(ctx, http.MethodPost, "/auth/signout", nil, nil); err != nil {
		m.logger.DebugContext(ctx, "backend signout notification failed",
			slog.String("error", err.Error()),
		)
	}

	if err := m.store.RemoveAll(ctx, credstore.SessionKeys...); err != nil {
		m.logger.WarnContext(ctx, "credential store wipe failed during signout",
			slog.String("error", err.Error()),
		)
	}

	m.state.update(func(s *State) {
		s.Status = StatusUnauthenticated
		s.User = nil
		s.IsSessionValid = false
	})
	m.logger.InfoContext(ctx, "signed out")
}

// RefreshSession forces a token refresh through the coordinator. On a
// terminal failure the local session is already cleared; the SessionExpired
// error propagates to the caller.
func (m *Manager) RefreshSession(ctx context.Context) error {
	defer m.endOp()
	m.beginOp()

	if err := m.coordinator.Refresh(ctx); err != nil {
		if errors.Is(err, apperrors.ErrSessionExpired) {
			return err
		}
		return translateAuthError(err, "refresh session")
	}

	m.state.update(func(s *State) {
		s.Status = StatusAuthenticated
		s.IsSessionValid = true
	})
	return nil
}

// CurrentUser fetches the authoritative user record and re-caches it.
func (m *Manager) CurrentUser(ctx context.Context) (*UserProfile, error) {
	defer m.endOp()
	m.beginOp()

	var resp userEnvelope
	if err := m.gw.Request(ctx, http.MethodGet, "/auth/me", nil, &resp); err != nil {
		return nil, translateAuthError(err, "fetch current user")
	}
	if resp.User == nil {
		return nil, apperrors.AuthFailure("user payload missing from response", nil)
	}

	user := NormalizeUser(resp.User)
	m.cacheUser(ctx, &user)
	m.state.update(func(s *State) {
		s.User = &user
		s.IsSessionValid = true
	})
	return &user, nil
}

// --- OAuth entry points ---

type providerURLResponse struct {
	URL string `json:"url"`
}

// SignInWithProvider requests an authorization URL for the provider and, when
// a browser opener is configured, launches it. The call returns immediately:
// session establishment happens asynchronously via HandleDeepLink when (and
// if) the redirect arrives. An abandoned browser flow is a no-op, not an
// error.
func (m *Manager) SignInWithProvider(ctx context.Context, provider Provider) (string, error) {
	defer m.endOp()
	m.beginOp()

	switch provider {
	case ProviderGoogle, ProviderApple, ProviderFacebook:
	default:
		return "", apperrors.InvalidInput("unsupported oauth provider: " + string(provider))
	}

	var resp providerURLResponse
	err := m.gw.Request(ctx, http.MethodGet, "/auth/oauth/"+string(provider), nil, &resp)
	if err != nil {
		return "", translateAuthError(err, "request oauth url")
	}
	if resp.URL == "" {
		return "", apperrors.AuthFailure("backend returned empty authorization url", nil)
	}

	if m.openBrowser != nil {
		if err := m.openBrowser(ctx, resp.URL); err != nil {
			return "", apperrors.AuthFailure("open browser for oauth", err)
		}
	}

	m.logger.InfoContext(ctx, "oauth flow started", slog.String("provider", string(provider)))
	return resp.URL, nil
}

// --- Helpers ---

func (m *Manager) beginOp() {
	m.state.update(func(s *State) { s.IsLoading = true })
}

func (m *Manager) endOp() {
	m.state.update(func(s *State) { s.IsLoading = false })
}

// establishSession persists tokens and the normalized user from a successful
// auth response and flips state to authenticated.
func (m *Manager) establishSession(ctx context.Context, resp authResponse) *UserProfile {
	m.coordinator.persistTokens(ctx, resp.Session)

	user := NormalizeUser(resp.User)
	m.cacheUser(ctx, &user)

	m.state.update(func(s *State) {
		s.Status = StatusAuthenticated
		s.User = &user
		s.IsSessionValid = true
	})
	return &user
}

// cacheUser stores the user JSON for startup hydration. A write failure costs
// only the cache; the profile stays available in memory.
func (m *Manager) cacheUser(ctx context.Context, user *UserProfile) {
	data, err := json.Marshal(user)
	if err != nil {
		m.logger.WarnContext(ctx, "encode user for cache failed", slog.String("error", err.Error()))
		return
	}
	if err := m.store.Set(ctx, credstore.KeyUser, string(data)); err != nil {
		m.logger.WarnContext(ctx, "cache user failed", slog.String("error", err.Error()))
	}
}

// translateAuthError maps gateway errors into the auth taxonomy. Statuses the
// taxonomy does not name fall through to the generic AuthFailure.
func translateAuthError(err error, op string) error {
	if errors.Is(err, apperrors.ErrSessionExpired) {
		return err
	}

	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized:
			return apperrors.InvalidCredentials(apiErr.Message)
		case http.StatusConflict:
			return apperrors.DuplicateAccount(apiErr.Message)
		case http.StatusBadRequest:
			return apperrors.InvalidInput(apiErr.Message)
		case http.StatusTooManyRequests:
			return apperrors.RateLimited(apiErr.Message)
		}
	}

	return apperrors.AuthFailure(op+" failed", err)
}
