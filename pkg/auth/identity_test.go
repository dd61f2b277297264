package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatloom/pkg/config"
	"chatloom/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

func identityEcho(t *testing.T, captured *Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); ok {
			*captured = id
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireSignedIdentityVerifies(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"sekrit": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	var got Identity
	h := RequireSignedIdentity(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/t1", nil)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Workspace-ID", "ws1")
	req.Header.Set("X-User-Signature", SignIdentity("sekrit", "u1", "ws1"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, Identity{UserID: "u1", WorkspaceID: "ws1"}, got)
}

func TestRequireSignedIdentityRejectsBadSignature(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"sekrit": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	var got Identity
	h := RequireSignedIdentity(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/v1/threads/t1", nil)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Workspace-ID", "ws1")
	req.Header.Set("X-User-Signature", SignIdentity("wrong-key", "u1", "ws1"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, got.UserID)
}

func TestRequireSignedIdentityRejectsMissingHeaders(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"sekrit": {}}})
	t.Cleanup(func() { config.SetRuntime(nil) })

	h := RequireSignedIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/v1/threads/t1", nil)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", "u1")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestBackendMayAssertIdentityUnsigned(t *testing.T) {
	var got Identity
	h := RequireSignedIdentity(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodPost, "/v1/workspaces/ws1/alerts", nil)
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-User-ID", "svc")
	req.Header.Set("X-Workspace-ID", "ws1")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "svc", got.UserID)
}

func TestGatewayRolesAndScope(t *testing.T) {
	cfg := SecConfig{
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
		AdminKeys:    map[string]struct{}{"ak": {}},
		RPS:          100, Burst: 100,
	}
	mw := AuthenticateRequestMiddleware(cfg)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Role", r.Header.Get("X-Role-Name"))
	}))

	// no key
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/threads/t1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// frontend key on an allowed route
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set("X-API-Key", "fk")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "frontend", rr.Header().Get("X-Seen-Role"))

	// frontend key on a backend-only route
	req = httptest.NewRequest(http.MethodPost, "/v1/workspaces/ws1/repos", nil)
	req.Header.Set("X-API-Key", "fk")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// bearer backend key anywhere
	req = httptest.NewRequest(http.MethodPost, "/v1/workspaces/ws1/repos", nil)
	req.Header.Set("Authorization", "Bearer bk")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "backend", rr.Header().Get("X-Seen-Role"))

	// health probe without key
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
