package session

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/examforge/sessionkit/credstore"
	"github.com/examforge/sessionkit/gateway"
	"github.com/examforge/sessionkit/pkg/httpclient"
)

// --- Test helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHTTPClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	})
}

// newTestManager builds a Manager against an httptest backend with an
// in-memory credential store.
func newTestManager(t *testing.T, handler http.Handler) (*Manager, *credstore.MemoryStore) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := credstore.NewMemoryStore()
	gw := gateway.New(server.URL, testHTTPClient(), store, testLogger())
	return New(gw, store, testLogger()), store
}

// newOfflineManager builds a Manager whose backend is unreachable.
func newOfflineManager(t *testing.T) (*Manager, *credstore.MemoryStore) {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	store := credstore.NewMemoryStore()
	gw := gateway.New(server.URL, testHTTPClient(), store, testLogger())
	return New(gw, store, testLogger()), store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// makeUnsignedToken fabricates a JWT-shaped token whose payload carries the
// given claims. The signature segment is junk; the client never verifies it.
func makeUnsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".junksignature"
}
