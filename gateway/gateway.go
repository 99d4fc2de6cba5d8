// Package gateway issues authenticated HTTP calls against the exam-prep
// backend. It attaches the stored access token, parses the backend's response
// envelope, and surfaces non-2xx responses as structured APIErrors.
//
// The 401-refresh-retry policy lives here and only here: on a 401 outside the
// refresh endpoint itself, for a request that carried a stored access token,
// the configured Refresher is invoked and the original request retried
// exactly once. A second 401 is terminal. A 401 on an unauthenticated request
// (a rejected login) propagates untouched.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/examforge/sessionkit/credstore"
	"github.com/examforge/sessionkit/pkg/httpclient"
	"github.com/examforge/sessionkit/pkg/logger"
	"github.com/examforge/sessionkit/pkg/tracing"
)

// RefreshPath is the one endpoint exempt from the 401 retry policy; a 401
// there means the refresh token itself was rejected.
const RefreshPath = "/auth/refresh-token"

const maxErrorBody = 1 << 20 // 1 MB

// APIError is a structured error from a non-2xx backend response.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Refresher exchanges the stored refresh token for a new access token. The
// session layer's refresh coordinator implements it; the gateway only knows
// when to call it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Gateway issues authenticated requests. It does not own retry-on-transient
// (the underlying httpclient does) nor error translation into the auth
// taxonomy (the session facade does).
type Gateway struct {
	baseURL string
	client  *httpclient.Client
	store   credstore.Store
	logger  *slog.Logger

	mu        sync.RWMutex
	refresher Refresher
}

// New creates a Gateway. baseURL should carry the API prefix, e.g.
// "https://api.example.com/api". The trailing slash is trimmed.
func New(baseURL string, client *httpclient.Client, store credstore.Store, log *slog.Logger) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		store:   store,
		logger:  log,
	}
}

// SetRefresher installs the refresh hook. Until one is set, a 401 propagates
// without a refresh attempt.
func (g *Gateway) SetRefresher(r Refresher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refresher = r
}

func (g *Gateway) currentRefresher() Refresher {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.refresher
}

// hasStoredToken reports whether an access token is persisted. A 401 on a
// request that never carried a token (a rejected login, say) has no session
// to refresh.
func (g *Gateway) hasStoredToken(ctx context.Context) bool {
	token, err := g.store.Get(ctx, credstore.KeyAccessToken)
	return err == nil && token != ""
}

// Request issues method path with an optional JSON body and decodes the
// response payload into out (which may be nil). Non-2xx responses return an
// *APIError; transport failures return the underlying error.
func (g *Gateway) Request(ctx context.Context, method, path string, body, out any) error {
	ctx = logger.WithCorrelationID(ctx, uuid.NewString())

	tracer := tracing.Tracer("sessionkit/gateway")
	ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", method, path))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)

	err := g.do(ctx, method, path, body, out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && path != RefreshPath && g.hasStoredToken(ctx) {
		refresher := g.currentRefresher()
		if refresher == nil {
			recordRequest(method, path, apiErr.Status)
			span.SetStatus(codes.Error, apiErr.Message)
			return err
		}

		logger.WithContext(ctx, g.logger).DebugContext(ctx, "access token rejected, refreshing",
			slog.String("path", path),
		)
		if refreshErr := refresher.Refresh(ctx); refreshErr != nil {
			recordRequest(method, path, apiErr.Status)
			span.SetStatus(codes.Error, "refresh failed")
			return refreshErr
		}

		// Retry once with the freshly stored token. A second 401 is
		// returned to the caller as-is.
		err = g.do(ctx, method, path, body, out)
	}

	status := http.StatusOK
	if errors.As(err, &apiErr) {
		status = apiErr.Status
		span.SetStatus(codes.Error, apiErr.Message)
	} else if err != nil {
		status = 0
		span.SetStatus(codes.Error, err.Error())
	}
	recordRequest(method, path, status)

	return err
}

// envelope is the backend's standard response shape. Some endpoints return
// bare payloads, so Data may be absent on success.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
	Message string          `json:"message"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	// Attach the stored access token; an absent token just means an
	// unauthenticated request.
	token, err := g.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		logger.WithContext(ctx, g.logger).WarnContext(ctx, "credential store read failed",
			slog.String("error", err.Error()),
		)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if json.Unmarshal(data, &env) == nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// parseError builds an APIError from a non-2xx body, preferring the
// structured envelope and degrading to the raw body text.
func parseError(status int, body []byte) *APIError {
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		if env.Error != nil && env.Error.Message != "" {
			code := env.Error.Code
			if code == "" {
				code = codeForStatus(status)
			}
			return &APIError{Status: status, Code: code, Message: env.Error.Message}
		}
		if env.Message != "" {
			return &APIError{Status: status, Code: codeForStatus(status), Message: env.Message}
		}
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(status)
	}
	return &APIError{Status: status, Code: codeForStatus(status), Message: message}
}

func codeForStatus(status int) string {
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
