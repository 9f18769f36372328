package csrf

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/session"
	"github.com/dormoron/polyel/session/cookie"
	"github.com/dormoron/polyel/session/memory"
)

func newServer(t *testing.T) (*polyel.HTTPServer, session.Config) {
	cfg := session.DefaultConfig()
	sessions := session.NewManager(memory.InitStore(time.Minute),
		cookie.InitPropagator(cookie.WithCookieName(cfg.CookieName)), cfg)
	s := polyel.InitHTTPServer(polyel.ServerWithSessions(sessions))
	container.Instance[*session.Manager](s.Services(), sessions)
	require.NoError(t, s.Middleware().RegisterFactory("VerifyCsrf", Factory("/hooks/{id}")))
	s.Use("VerifyCsrf")

	ok := func(ctx *polyel.Context) (polyel.Response, error) {
		return polyel.Text(http.StatusOK, "ok"), nil
	}
	s.Router().Get("/form", ok)
	s.Router().Post("/form", ok)
	s.Router().Delete("/form", ok)
	s.Router().Post("/hooks/{id}", ok)
	s.Router().API(func(r *polyel.Router) {
		r.Post("/api/form", ok)
	})
	return s, cfg
}

// bootstrap 取得会话 cookie 与 XSRF cookie
func bootstrap(t *testing.T, s *polyel.HTTPServer, cfg session.Config) (*http.Cookie, *http.Cookie) {
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/form", nil))
	var sess, xsrf *http.Cookie
	for _, ck := range w.Result().Cookies() {
		switch ck.Name {
		case cfg.CookieName:
			sess = ck
		case cfg.XSRFCookieName:
			xsrf = ck
		}
	}
	require.NotNil(t, sess)
	require.NotNil(t, xsrf)
	return sess, xsrf
}

func TestMiddleware(t *testing.T) {
	s, cfg := newServer(t)
	sess, xsrf := bootstrap(t, s, cfg)

	testCases := []struct {
		name     string
		req      func() *http.Request
		wantCode int
	}{
		{
			name: "form field",
			req: func() *http.Request {
				body := url.Values{FormField: {xsrf.Value}}.Encode()
				req := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(body))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			wantCode: http.StatusOK,
		},
		{
			name: "csrf header",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/form", nil)
				req.Header.Set(HeaderName, xsrf.Value)
				return req
			},
			wantCode: http.StatusOK,
		},
		{
			name: "xsrf header with spoofed delete",
			req: func() *http.Request {
				body := url.Values{polyel.MethodField: {"DELETE"}}.Encode()
				req := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(body))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				req.Header.Set(XSRFHeaderName, xsrf.Value)
				return req
			},
			wantCode: http.StatusOK,
		},
		{
			name: "missing token",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/form", nil)
			},
			wantCode: StatusTokenMismatch,
		},
		{
			name: "wrong token",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/form", nil)
				req.Header.Set(HeaderName, strings.Repeat("a", 64))
				return req
			},
			wantCode: StatusTokenMismatch,
		},
		{
			name: "excepted route",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/hooks/1", nil)
			},
			wantCode: http.StatusOK,
		},
		{
			name: "safe method",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/form", nil)
			},
			wantCode: http.StatusOK,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req()
			req.AddCookie(sess)
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)
			assert.Equal(t, tc.wantCode, w.Code)
		})
	}
}

func TestMiddleware_APIRoutesSkipped(t *testing.T) {
	s, _ := newServer(t)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/form", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_JSONMismatch(t *testing.T) {
	s, cfg := newServer(t)
	sess, _ := bootstrap(t, s, cfg)
	req := httptest.NewRequest(http.MethodPost, "/form", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(sess)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, StatusTokenMismatch, w.Code)
	assert.Contains(t, w.Body.String(), "CSRF token mismatch")
}

func TestField(t *testing.T) {
	assert.Equal(t, `<input type="hidden" name="csrf_token" value="a&lt;b">`, string(Field("a<b")))
}
