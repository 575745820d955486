package oauthcallback

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitflow-mcp/gitflow-mcp/internal/authservice"
	"github.com/gitflow-mcp/gitflow-mcp/internal/secretstore"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test ", log.LstdFlags)
}

type noopTokenStore struct{}

func (noopTokenStore) GetTokenColumn(_ context.Context, _ int64) (string, error) { return "", nil }
func (noopTokenStore) SetTokenColumn(_ context.Context, _ int64, _ string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	secrets, err := secretstore.New("gitflow-mcp-test", "", noopTokenStore{}, testLogger())
	require.NoError(t, err)

	auth, err := authservice.New(authservice.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"repo", "user", "read:org"},
		StateTTL:     time.Minute,
		JWTSecret:    "super-secret-test-key",
		JWTExpiresIn: "7d",
		JWTIssuer:    "gitflow-mcp-test",
	}, nil, secrets, testLogger())
	require.NoError(t, err)
	t.Cleanup(auth.Stop)

	return New(auth, testLogger())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestCallbackMissingParameters(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing parameters")
}

func TestCallbackProviderError(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?error=access_denied&error_description=user+declined", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cancelled")
}

func TestCallbackUnknownStateIsUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc123&state=never-issued", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign-in failed")
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
