package authz

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel"
)

const model = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj) && r.act == p.act
`

func writeFiles(t *testing.T, policy string) (string, string) {
	dir := t.TempDir()
	modelFile := filepath.Join(dir, "model.conf")
	policyFile := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(modelFile, []byte(model), 0o644))
	require.NoError(t, os.WriteFile(policyFile, []byte(policy), 0o644))
	return modelFile, policyFile
}

func headerSubject(ctx *polyel.Context) (string, error) {
	return ctx.Request.Header.Get("X-User"), nil
}

func newServer(t *testing.T, b *MiddlewareBuilder) *polyel.HTTPServer {
	s := polyel.InitHTTPServer()
	require.NoError(t, s.Middleware().Register("Authz", b.Build()))
	s.Router().API(func(r *polyel.Router) {
		r.Get("/data/{id}", func(ctx *polyel.Context) (polyel.Response, error) {
			return polyel.Text(http.StatusOK, "data"), nil
		}).Middleware("Authz")
		r.Delete("/data/{id}", func(ctx *polyel.Context) (polyel.Response, error) {
			return polyel.Status(http.StatusNoContent), nil
		}).Middleware("Authz")
	})
	return s
}

func serve(s *polyel.HTTPServer, method, path, user string) int {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w.Code
}

func TestMiddleware(t *testing.T) {
	modelFile, policyFile := writeFiles(t, "p, alice, /data/*, GET\n")
	b, err := InitMiddlewareBuilder(modelFile, policyFile, headerSubject)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	s := newServer(t, b)

	testCases := []struct {
		name     string
		method   string
		user     string
		wantCode int
	}{
		{name: "allowed", method: http.MethodGet, user: "alice", wantCode: http.StatusOK},
		{name: "wrong action", method: http.MethodDelete, user: "alice", wantCode: http.StatusForbidden},
		{name: "unknown subject", method: http.MethodGet, user: "bob", wantCode: http.StatusForbidden},
		{name: "unauthenticated", method: http.MethodGet, wantCode: http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantCode, serve(s, tc.method, "/data/1", tc.user))
		})
	}
}

func TestMiddleware_PolicyReload(t *testing.T) {
	modelFile, policyFile := writeFiles(t, "p, alice, /data/*, GET\n")
	b, err := InitMiddlewareBuilder(modelFile, policyFile, headerSubject)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	s := newServer(t, b)

	assert.Equal(t, http.StatusForbidden, serve(s, http.MethodDelete, "/data/1", "alice"))
	require.NoError(t, os.WriteFile(policyFile,
		[]byte("p, alice, /data/*, GET\np, alice, /data/*, DELETE\n"), 0o644))

	assert.Eventually(t, func() bool {
		return serve(s, http.MethodDelete, "/data/1", "alice") == http.StatusNoContent
	}, 3*time.Second, 20*time.Millisecond)
}

func TestInitMiddlewareBuilder_MissingFiles(t *testing.T) {
	_, err := InitMiddlewareBuilder("missing.conf", "missing.csv", headerSubject)
	assert.Error(t, err)
}
