package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/examforge/sessionkit/pkg/errors"
)

// Tokens is a token pair extracted from an OAuth redirect deep link.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// ParseCallback extracts tokens from an OAuth redirect URL. Providers deliver
// them either in the fragment (myapp://cb#access_token=...) or in the query
// string (myapp://cb?access_token=...#ignored), depending on platform; the
// fragment form is tried first. Returns false when the URL is not an OAuth
// callback. Never panics on malformed input.
func ParseCallback(rawURL string) (Tokens, bool) {
	if rawURL == "" {
		return Tokens{}, false
	}

	// Fragment delivery.
	if _, fragment, found := strings.Cut(rawURL, "#"); found {
		if tokens, ok := tokensFromQuery(fragment); ok {
			return tokens, true
		}
	}

	// Query-string delivery, with any trailing fragment stripped.
	withoutFragment, _, _ := strings.Cut(rawURL, "#")
	if _, query, found := strings.Cut(withoutFragment, "?"); found {
		if tokens, ok := tokensFromQuery(query); ok {
			return tokens, true
		}
	}

	return Tokens{}, false
}

func tokensFromQuery(raw string) (Tokens, bool) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return Tokens{}, false
	}

	access := values.Get("access_token")
	if access == "" {
		return Tokens{}, false
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: values.Get("refresh_token"),
	}, true
}

// HandleDeepLink completes a browser-based OAuth flow from a redirect URL.
// It returns false when the URL carries no tokens (not an OAuth callback),
// which callers must treat as a no-op: the platform fires deep links for
// plenty of non-auth navigation.
func (m *Manager) HandleDeepLink(ctx context.Context, rawURL string) (bool, error) {
	tokens, ok := ParseCallback(rawURL)
	if !ok {
		return false, nil
	}

	defer m.endOp()
	m.beginOp()

	m.coordinator.persistTokens(ctx, tokenPayload{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})

	user := m.userFromAccessToken(ctx, tokens.AccessToken)
	m.cacheUser(ctx, &user)
	m.state.update(func(s *State) {
		s.Status = StatusAuthenticated
		s.User = &user
		s.IsSessionValid = true
	})

	m.logger.InfoContext(ctx, "oauth sign-in completed",
		slog.String("user_id", user.ID),
		slog.Bool("refresh_token_present", tokens.RefreshToken != ""),
	)
	return true, nil
}

// ExchangeCode is the alternate OAuth completion: some platforms deliver an
// authorization code instead of raw tokens, which the backend exchanges
// server-side.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*UserProfile, error) {
	defer m.endOp()
	m.beginOp()

	if code == "" {
		return nil, apperrors.InvalidInput("authorization code is required")
	}

	var resp authResponse
	err := m.gw.Request(ctx, http.MethodGet, "/auth/oauth/callback?code="+url.QueryEscape(code), nil, &resp)
	if err != nil {
		return nil, translateAuthError(err, "oauth code exchange")
	}

	user := m.establishSession(ctx, resp)
	user.IsOAuthUser = true
	m.state.update(func(s *State) { s.User = user })

	m.logger.InfoContext(ctx, "oauth code exchange completed", slog.String("user_id", user.ID))
	return user, nil
}

// userFromAccessToken materializes a user record from the access token's
// payload segment. Decode failures degrade to a minimal record built from
// whatever top-level claims survived; OAuth sign-in never fails on a claims
// parse.
func (m *Manager) userFromAccessToken(ctx context.Context, accessToken string) UserProfile {
	claims, err := decodeTokenClaims(accessToken)
	if err != nil {
		m.logger.WarnContext(ctx, "access token payload decode failed",
			slog.String("error", err.Error()),
		)
		claims = map[string]any{}
	}

	payload := map[string]any{}

	// The embedded user-metadata object carries the profile fields when
	// the provider supplied them.
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		for k, v := range meta {
			payload[k] = v
		}
	}

	// Top-level claims fill the required identity fields.
	if _, ok := payload["userId"]; !ok {
		if sub, ok := claims["sub"].(string); ok {
			payload["userId"] = sub
		}
	}
	if _, ok := payload["email"]; !ok {
		if email, ok := claims["email"].(string); ok {
			payload["email"] = email
		}
	}
	if meta, ok := claims["app_metadata"].(map[string]any); ok {
		if provider, ok := meta["provider"].(string); ok {
			payload["oauthProvider"] = provider
		}
	}

	user := NormalizeUser(payload)
	user.IsOAuthUser = true
	return user
}

// decodeTokenClaims decodes the token's payload segment without verifying the
// signature; the backend is the verifier, the client only reads claims. It
// tries a structured JWT parse first and falls back to raw base64url decoding
// of the middle segment.
func decodeTokenClaims(accessToken string) (map[string]any, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err == nil {
		return claims, nil
	}

	parts := strings.Split(accessToken, ".")
	if len(parts) < 2 {
		return nil, apperrors.Wrap(jwt.ErrTokenMalformed, "token has no payload segment")
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, apperrors.Wrap(err, "decode payload segment")
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrap(err, "parse payload json")
	}
	return out, nil
}
