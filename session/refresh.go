package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/examforge/sessionkit/credstore"
	"github.com/examforge/sessionkit/gateway"
	apperrors "github.com/examforge/sessionkit/pkg/errors"
)

// refreshCoordinator performs the refresh-token exchange, deduplicating
// concurrent attempts into a single in-flight call. It implements
// gateway.Refresher, so a 401 on any gateway request funnels through here.
type refreshCoordinator struct {
	gw     *gateway.Gateway
	store  credstore.Store
	state  *stateStore
	logger *slog.Logger
	group  singleflight.Group
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Session tokenPayload `json:"session"`
}

// tokenPayload is the session object the backend returns on login,
// registration, refresh, and code exchange. The refresh token may be absent
// when the backend chooses not to rotate it.
type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh deduplicates concurrent callers: while one exchange is in flight,
// every caller awaits the same outcome. singleflight makes the
// check-and-mark a single synchronous step, so no two exchanges can race.
// The shared call runs on a context detached from the first caller's
// cancellation, otherwise one impatient caller could fail the whole herd.
func (c *refreshCoordinator) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	return err
}

func (c *refreshCoordinator) refresh(ctx context.Context) error {
	c.state.update(func(s *State) {
		if s.Status == StatusAuthenticated {
			s.Status = StatusRefreshing
		}
	})

	token, err := c.store.Get(ctx, credstore.KeyRefreshToken)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		c.logger.WarnContext(ctx, "credential store read failed during refresh",
			slog.String("error", err.Error()),
		)
	}
	if token == "" {
		recordRefresh("expired")
		c.expireSession(ctx)
		return apperrors.SessionExpired("no refresh token stored")
	}

	var resp refreshResponse
	err = c.gw.Request(ctx, http.MethodPost, gateway.RefreshPath, refreshRequest{RefreshToken: token}, &resp)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			// A rejected refresh token is treated like an absent one:
			// the session terminates rather than retrying forever.
			recordRefresh("expired")
			c.expireSession(ctx)
			return apperrors.SessionExpired("refresh token rejected")
		}

		// Transient failures (network, 5xx) do not terminate the
		// session; the stored tokens stay and the caller may retry.
		recordRefresh("error")
		c.state.update(func(s *State) {
			if s.Status == StatusRefreshing {
				s.Status = StatusAuthenticated
			}
		})
		return apperrors.Wrap(err, "refresh token exchange")
	}

	if resp.Session.AccessToken == "" {
		recordRefresh("error")
		return apperrors.AuthFailure("refresh response missing access token", nil)
	}

	c.persistTokens(ctx, resp.Session)
	recordRefresh("success")
	c.state.update(func(s *State) {
		if s.Status == StatusRefreshing {
			s.Status = StatusAuthenticated
		}
	})

	c.logger.DebugContext(ctx, "access token refreshed",
		slog.Bool("refresh_token_rotated", resp.Session.RefreshToken != ""),
	)
	return nil
}

// persistTokens stores the new access token (and its mirror for non-auth
// subsystems) and the rotated refresh token when one was returned. Storage
// failures are logged; the tokens remain usable in memory for this process.
func (c *refreshCoordinator) persistTokens(ctx context.Context, tokens tokenPayload) {
	writes := map[string]string{
		credstore.KeyAccessToken:   tokens.AccessToken,
		credstore.KeyMirroredToken: tokens.AccessToken,
	}
	if tokens.RefreshToken != "" {
		writes[credstore.KeyRefreshToken] = tokens.RefreshToken
	}

	for key, value := range writes {
		if err := c.store.Set(ctx, key, value); err != nil {
			c.logger.WarnContext(ctx, "credential store write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// expireSession wipes all stored credentials and drops the in-memory user.
func (c *refreshCoordinator) expireSession(ctx context.Context) {
	if err := c.store.RemoveAll(ctx, credstore.SessionKeys...); err != nil {
		c.logger.WarnContext(ctx, "credential store wipe failed",
			slog.String("error", err.Error()),
		)
	}

	c.state.update(func(s *State) {
		s.Status = StatusUnauthenticated
		s.User = nil
		s.IsSessionValid = false
	})
}
