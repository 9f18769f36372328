package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dormoron/polyel"
)

func newServer(b *MiddlewareBuilder) *polyel.HTTPServer {
	s := polyel.InitHTTPServer()
	s.Wrap(b.Build())
	s.Router().API(func(r *polyel.Router) {
		r.Post("/api/users/login", func(ctx *polyel.Context) (polyel.Response, error) {
			return polyel.JSON(http.StatusOK, "hello"), nil
		})
	})
	return s
}

func TestMiddlewareBuilder_Preflight(t *testing.T) {
	s := newServer(InitMiddlewareBuilder().SetAllowOrigins("https://app.polyel.dev"))

	req := httptest.NewRequest(http.MethodOptions, "/api/users/login", nil)
	req.Header.Set("Origin", "https://app.polyel.dev")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.polyel.dev", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Equal(t, "43200", w.Header().Get("Access-Control-Max-Age"))

	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddlewareBuilder_Simple(t *testing.T) {
	s := newServer(InitMiddlewareBuilder().SetExposeHeaders("X-Request-Id"))

	req := httptest.NewRequest(http.MethodPost, "/api/users/login", nil)
	req.Header.Set("Origin", "https://any.polyel.dev")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://any.polyel.dev", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-Id", w.Header().Get("Access-Control-Expose-Headers"))

	// 非跨域请求不添加任何头
	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/users/login", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddlewareBuilder_Wildcard(t *testing.T) {
	b := InitMiddlewareBuilder().SetAllowOrigins("*")
	b.AllowCredentials = false
	s := newServer(b)
	req := httptest.NewRequest(http.MethodPost, "/api/users/login", nil)
	req.Header.Set("Origin", "https://any.polyel.dev")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
