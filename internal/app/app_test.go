package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel/auth"
	"github.com/dormoron/polyel/config"
)

var csrfFieldRegexp = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func testConfig(t *testing.T) config.App {
	hash, err := auth.BcryptHasher{Cost: 4}.Hash("secret")
	require.NoError(t, err)

	cfg := config.App{}
	cfg.Server.Addr = ":0"
	cfg.Session.Active = true
	cfg.Session.CookieName = "polyel_session"
	cfg.Session.XSRFCookieName = "XSRF-TOKEN"
	cfg.Session.CookiePath = "/"
	cfg.Session.Lifetime = 10
	cfg.Auth = config.DefaultAuth()
	cfg.Auth.TokenKey = "test-key"
	cfg.Auth.Users = []map[string]string{
		{"id": "42", "email": "tom@polyel.dev", "password": hash},
	}
	cfg.Web = config.DefaultWeb()
	cfg.Web.Metrics = true
	return cfg
}

type client struct {
	t   *testing.T
	srv *httptest.Server
	hc  *http.Client
}

func newClient(t *testing.T, a *App) *client {
	srv := httptest.NewServer(a.Server)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, srv: srv, hc: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (c *client) do(req *http.Request) (*http.Response, string) {
	resp, err := c.hc.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(body)
}

func (c *client) get(path string) (*http.Response, string) {
	req, err := http.NewRequest(http.MethodGet, c.srv.URL+path, nil)
	require.NoError(c.t, err)
	return c.do(req)
}

func (c *client) postForm(path string, form url.Values) (*http.Response, string) {
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func newApp(t *testing.T, cfg config.App) *App {
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestApp_WebLogin(t *testing.T) {
	c := newClient(t, newApp(t, testConfig(t)))

	resp, body := c.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Polyel", resp.Header.Get("Server"))
	assert.Contains(t, body, "version "+Version)

	resp, _ = c.get("/dashboard")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, body = c.get("/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := csrfFieldRegexp.FindStringSubmatch(body)
	require.Len(t, m, 2)
	token := m[1]

	// 缺少 CSRF 令牌
	resp, _ = c.postForm("/login", url.Values{"email": {"tom@polyel.dev"}, "password": {"secret"}})
	assert.Equal(t, 419, resp.StatusCode)

	resp, _ = c.postForm("/login", url.Values{
		"email": {"tom@polyel.dev"}, "password": {"wrong"}, "csrf_token": {token},
	})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	// 登录失败后表单回填上次输入的邮箱
	_, body = c.get("/login")
	assert.Contains(t, body, `value="tom@polyel.dev"`)

	resp, _ = c.postForm("/login", url.Values{
		"email": {"tom@polyel.dev"}, "password": {"secret"}, "csrf_token": {token},
	})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, body = c.get("/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Signed in as 42")

	resp, _ = c.get("/login")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	m = csrfFieldRegexp.FindStringSubmatch(body)
	require.Len(t, m, 2)
	resp, _ = c.postForm("/logout", url.Values{"csrf_token": {m[1]}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = c.get("/dashboard")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestApp_APIToken(t *testing.T) {
	c := newClient(t, newApp(t, testConfig(t)))

	issue := func(password string) *http.Response {
		payload, err := json.Marshal(map[string]string{"email": "tom@polyel.dev", "password": password})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, c.srv.URL+"/api/token", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, body := c.do(req)
		resp.Body = io.NopCloser(strings.NewReader(body))
		return resp
	}

	resp := issue("wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = issue("")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var verr struct {
		Type    string              `json:"type"`
		Details map[string][]string `json:"details"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verr))
	assert.Equal(t, "VALIDATION_ERROR", verr.Type)
	assert.Contains(t, verr.Details, "password")

	resp = issue("secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	assert.Equal(t, "Bearer", tok["token_type"])

	req, err := http.NewRequest(http.MethodGet, c.srv.URL+"/api/me", nil)
	require.NoError(t, err)
	resp, _ = c.do(req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, c.srv.URL+"/api/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok["access_token"])
	resp, body := c.do(req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var me map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &me))
	assert.Equal(t, "42", me["id"])
	// API 路由不启用会话
	assert.Empty(t, resp.Cookies())
}

func TestApp_Wrappers(t *testing.T) {
	c := newClient(t, newApp(t, testConfig(t)))

	resp, body := c.get("/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "404")

	resp, _ = c.get("/home")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, body = c.get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"UP"`)

	resp, body = c.get("/assets/css/app.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	assert.Contains(t, body, "font-family")

	resp, body = c.get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "polyel_http_request_duration")

	req, err := http.NewRequest(http.MethodPost, c.srv.URL+"/api/token", strings.NewReader(strings.Repeat("x", 64)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, _ = c.do(req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// counterRedis 只实现并发计数和健康检查用到的命令
type counterRedis struct {
	goredis.UniversalClient
	mu     sync.Mutex
	counts map[string]int64
}

func (c *counterRedis) add(ctx context.Context, key string, delta int64) *goredis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key] += delta
	return goredis.NewIntResult(c.counts[key], nil)
}

func (c *counterRedis) Incr(ctx context.Context, key string) *goredis.IntCmd {
	return c.add(ctx, key, 1)
}

func (c *counterRedis) Decr(ctx context.Context, key string) *goredis.IntCmd {
	return c.add(ctx, key, -1)
}

func (c *counterRedis) Ping(ctx context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (c *counterRedis) set(key string, val int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key] = val
}

func (c *counterRedis) get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func TestApp_SharedActiveLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Web.MaxActive = 1
	cfg.Web.LimitDriver = config.LimitRedis
	rdb := &counterRedis{counts: map[string]int64{}}
	a, err := New(cfg, WithRedis(rdb))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	c := newClient(t, a)

	// 另一个实例正占着唯一的名额
	rdb.set("polyel:active", 1)
	resp, _ := c.get("/login")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int64(1), rdb.get("polyel:active"))

	rdb.set("polyel:active", 0)
	resp, _ = c.get("/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), rdb.get("polyel:active"))
}

func TestApp_BodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Web.MaxBody = "1K"
	c := newClient(t, newApp(t, cfg))
	req, err := http.NewRequest(http.MethodPost, c.srv.URL+"/api/token", strings.NewReader(strings.Repeat("x", 4096)))
	require.NoError(t, err)
	resp, _ := c.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestNew_ConfigErrors(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(cfg *config.App)
	}{
		{
			name: "token guard without key",
			modify: func(cfg *config.App) {
				cfg.Auth.TokenKey = ""
				cfg.Auth.DefaultGuard = auth.GuardToken
			},
		},
		{
			name: "unknown session driver",
			modify: func(cfg *config.App) {
				cfg.Session.Driver = "file"
			},
		},
		{
			name: "unknown global middleware",
			modify: func(cfg *config.App) {
				cfg.Server.GlobalMiddleware = []string{"Nope"}
			},
		},
		{
			name: "bad body limit",
			modify: func(cfg *config.App) {
				cfg.Web.MaxBody = "lots"
			},
		},
		{
			name: "unknown limit driver",
			modify: func(cfg *config.App) {
				cfg.Web.MaxActive = 10
				cfg.Web.LimitDriver = "etcd"
			},
		},
		{
			name: "bad memory limit",
			modify: func(cfg *config.App) {
				cfg.Web.MemoryLimit = "much"
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.modify(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestNew_FromProvider(t *testing.T) {
	p, err := config.New()
	require.NoError(t, err)
	p.Set("web.metrics", true)
	p.Set("auth.token_key", "k")
	p.Set("auth.token_expire", "30m")
	cfg, err := config.LoadApp(p)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenExpire)

	a := newApp(t, cfg)
	routes := a.Server.Router().Routes()
	assert.NotEmpty(t, routes)
}

func TestApp_Lockout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.MaxAttempts = 2
	c := newClient(t, newApp(t, cfg))

	issue := func(password string) int {
		payload, err := json.Marshal(map[string]string{"email": "tom@polyel.dev", "password": password})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, c.srv.URL+"/api/token", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := c.do(req)
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusUnauthorized, issue("wrong"))
	assert.Equal(t, http.StatusUnauthorized, issue("wrong"))
	// 封禁后正确的密码也被拒绝
	assert.Equal(t, http.StatusTooManyRequests, issue("secret"))
}
