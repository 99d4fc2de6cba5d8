package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/examforge/sessionkit/credstore"
	"github.com/examforge/sessionkit/gateway"
	apperrors "github.com/examforge/sessionkit/pkg/errors"
)

// ValidationResult reports whether the backend currently accepts the stored
// session.
type ValidationResult struct {
	IsValid bool
	Message string
}

type userEnvelope struct {
	User map[string]any `json:"user"`
}

// ValidateSession probes the backend with the stored token. Only an explicit
// authorization rejection invalidates the session: a network failure or 5xx
// reports "assume valid" so transient backend trouble never logs anyone out.
func (m *Manager) ValidateSession(ctx context.Context) ValidationResult {
	token, err := m.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		m.logger.WarnContext(ctx, "credential store read failed during validation",
			slog.String("error", err.Error()),
		)
	}
	if token == "" {
		m.state.update(func(s *State) { s.IsSessionValid = false })
		return ValidationResult{IsValid: false, Message: "no session"}
	}

	var resp userEnvelope
	err = m.gw.Request(ctx, http.MethodGet, "/auth/me", nil, &resp)
	if err != nil {
		// The gateway already attempted a refresh on 401; reaching this
		// point with a session-expired or 401 error means the refresh
		// path is exhausted too.
		var apiErr *gateway.APIError
		if errors.Is(err, apperrors.ErrSessionExpired) ||
			(errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized) {
			m.state.update(func(s *State) { s.IsSessionValid = false })
			return ValidationResult{IsValid: false, Message: "session expired"}
		}

		m.logger.DebugContext(ctx, "session validation inconclusive",
			slog.String("error", err.Error()),
		)
		return ValidationResult{IsValid: true, Message: "validation inconclusive, assuming valid"}
	}

	if resp.User != nil {
		user := NormalizeUser(resp.User)
		m.cacheUser(ctx, &user)
		m.state.update(func(s *State) {
			s.User = &user
			s.IsSessionValid = true
		})
	} else {
		m.state.update(func(s *State) { s.IsSessionValid = true })
	}

	return ValidationResult{IsValid: true, Message: "ok"}
}
