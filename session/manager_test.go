package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/session"
	"github.com/dormoron/polyel/session/cookie"
	"github.com/dormoron/polyel/session/memory"
)

func newManager(cfg session.Config) *session.Manager {
	return session.NewManager(
		memory.InitStore(time.Minute),
		cookie.InitPropagator(cookie.WithCookieName(cfg.CookieName)),
		cfg,
	)
}

func newServer(m *session.Manager) *polyel.HTTPServer {
	s := polyel.InitHTTPServer(polyel.ServerWithSessions(m))
	s.Router().Get("/", func(ctx *polyel.Context) (polyel.Response, error) {
		return polyel.Text(http.StatusOK, "home"), nil
	})
	s.Router().Post("/form", func(ctx *polyel.Context) (polyel.Response, error) {
		return polyel.Redirect("/", 0), nil
	})
	s.Router().API(func(r *polyel.Router) {
		r.Get("/api/ping", func(ctx *polyel.Context) (polyel.Response, error) {
			return polyel.JSON(http.StatusOK, map[string]string{"pong": "ok"}), nil
		})
	})
	return s
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, ck := range resp.Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func TestManager_StartIssuesSessionAndXSRFCookie(t *testing.T) {
	cfg := session.DefaultConfig()
	m := newManager(cfg)
	s := newServer(m)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	resp := w.Result()

	sessCk := findCookie(resp, cfg.CookieName)
	require.NotNil(t, sessCk)
	assert.True(t, sessCk.HttpOnly)

	xsrf := findCookie(resp, cfg.XSRFCookieName)
	require.NotNil(t, xsrf)
	assert.Len(t, xsrf.Value, 64)
	assert.False(t, xsrf.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, xsrf.SameSite)
	assert.Equal(t, cfg.Lifetime*60, xsrf.MaxAge)

	// 带着会话 cookie 的第二次请求不会重新签发令牌
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessCk)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Nil(t, findCookie(w.Result(), cfg.XSRFCookieName))
	assert.Nil(t, findCookie(w.Result(), cfg.CookieName))

	sess, err := m.Store.Get(req.Context(), sessCk.Value)
	require.NoError(t, err)
	token, err := sess.Get(req.Context(), session.KeyCSRFToken)
	require.NoError(t, err)
	assert.Equal(t, xsrf.Value, token)
	prev, err := sess.Get(req.Context(), session.KeyPreviousURL)
	require.NoError(t, err)
	assert.Equal(t, "/", prev)
}

func TestManager_OldInput(t *testing.T) {
	cfg := session.DefaultConfig()
	m := newManager(cfg)
	s := newServer(m)

	form := url.Values{"email": {"a@b.c"}, polyel.MethodField: {"POST"}, session.KeyCSRFToken: {"x"}}
	req := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)

	sessCk := findCookie(w.Result(), cfg.CookieName)
	require.NotNil(t, sessCk)

	ctx := polyel.NewContext(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	ctx.Request.AddCookie(sessCk)
	old, err := m.Old(ctx)
	require.NoError(t, err)
	assert.Equal(t, url.Values{"email": {"a@b.c"}}, old)
}

func TestManager_APIAndInactive(t *testing.T) {
	cfg := session.DefaultConfig()
	s := newServer(newManager(cfg))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Empty(t, w.Result().Cookies())

	cfg.Active = false
	s = newServer(newManager(cfg))
	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, w.Result().Cookies())
}

func TestManager_NotFoundStartsSession(t *testing.T) {
	cfg := session.DefaultConfig()
	m := newManager(cfg)
	s := newServer(m)

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	sessCk := findCookie(w.Result(), cfg.CookieName)
	require.NotNil(t, sessCk)

	sess, err := m.Store.Get(context.Background(), sessCk.Value)
	require.NoError(t, err)
	prev, err := sess.Get(context.Background(), session.KeyPreviousURL)
	require.NoError(t, err)
	assert.Empty(t, prev)
}

func TestManager_RegenerateAndRemove(t *testing.T) {
	cfg := session.DefaultConfig()
	m := newManager(cfg)

	ctx := polyel.NewContext(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, m.Start(ctx))
	first, err := m.GetSession(ctx)
	require.NoError(t, err)
	token, err := m.CSRFToken(ctx)
	require.NoError(t, err)

	second, err := m.Regenerate(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	got, err := second.Get(ctx, session.KeyCSRFToken)
	require.NoError(t, err)
	assert.Equal(t, token, got)
	_, err = m.Store.Get(ctx, first.ID())
	assert.Error(t, err)

	require.NoError(t, m.RemoveSession(ctx))
	_, err = m.Store.Get(ctx, second.ID())
	assert.Error(t, err)
	last := ctx.QueuedCookies()[len(ctx.QueuedCookies())-1]
	assert.Equal(t, cfg.CookieName, last.Name)
	assert.Equal(t, -1, last.MaxAge)
}
