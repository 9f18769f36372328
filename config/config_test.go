package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConf = `
server:
  addr: ":9000"
  read_timeout: 5s
  global_middleware: [Trim, VerifyCsrf]
session:
  driver: redis
  lifetime: 30
  secure: true
database:
  driver: mysql
  dsn: "root@tcp(localhost:3306)/polyel"
`

const tomlConf = `
[server]
addr = ":9100"
match_cache_size = 256

[auth]
default_guard = "token"
token_expire = "2h"
`

const jsonConf = `{"session": {"active": false, "cookie_name": "sid"}}`

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadApp(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, app App)
	}{
		{
			name:    "yaml",
			file:    "polyel.yaml",
			content: yamlConf,
			check: func(t *testing.T, app App) {
				assert.Equal(t, ":9000", app.Server.Addr)
				assert.Equal(t, 5*time.Second, app.Server.ReadTimeout)
				// 未配置的字段保留默认值
				assert.Equal(t, 60*time.Second, app.Server.WriteTimeout)
				assert.Equal(t, []string{"Trim", "VerifyCsrf"}, app.Server.GlobalMiddleware)
				assert.Equal(t, "redis", app.Session.Driver)
				assert.Equal(t, 30, app.Session.Lifetime)
				assert.True(t, app.Session.Secure)
				assert.Equal(t, "polyel_session", app.Session.CookieName)
				assert.Equal(t, "mysql", app.Database.Driver)
				assert.Equal(t, 10, app.Database.MaxOpenConns)
			},
		},
		{
			name:    "toml",
			file:    "polyel.toml",
			content: tomlConf,
			check: func(t *testing.T, app App) {
				assert.Equal(t, ":9100", app.Server.Addr)
				assert.Equal(t, 256, app.Server.MatchCacheSize)
				assert.Equal(t, "token", app.Auth.DefaultGuard)
				assert.Equal(t, 2*time.Hour, app.Auth.TokenExpire)
				assert.True(t, app.Session.Active)
			},
		},
		{
			name:    "json",
			file:    "polyel.json",
			content: jsonConf,
			check: func(t *testing.T, app App) {
				assert.False(t, app.Session.Active)
				assert.Equal(t, "sid", app.Session.CookieName)
				assert.Equal(t, ":8080", app.Server.Addr)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(WithConfigFile(writeFile(t, tc.file, tc.content)))
			require.NoError(t, err)
			defer c.Close()
			app, err := LoadApp(c)
			require.NoError(t, err)
			tc.check(t, app)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("POLYELTEST_SERVER__ADDR", ":7000")
	t.Setenv("POLYELTEST_SERVER__WRITE_TIMEOUT", "3s")
	t.Setenv("POLYELTEST_SERVER__GLOBAL_MIDDLEWARE", "Trim, Cors")
	t.Setenv("POLYELTEST_SESSION__LIFETIME", "15")

	c, err := New(WithConfigFile(writeFile(t, "polyel.yaml", yamlConf)), WithEnvPrefix("POLYELTEST_"))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, ":7000", c.GetString("server.addr"))
	assert.Equal(t, 5*time.Second, c.GetDuration("server.read_timeout"))
	assert.Equal(t, 15, c.GetInt("session.lifetime"))

	app, err := LoadApp(c)
	require.NoError(t, err)
	assert.Equal(t, ":7000", app.Server.Addr)
	assert.Equal(t, 3*time.Second, app.Server.WriteTimeout)
	assert.Equal(t, []string{"Trim", "Cors"}, app.Server.GlobalMiddleware)
	assert.Equal(t, 15, app.Session.Lifetime)
	// 文件中同一段的其他键仍然保留
	assert.Equal(t, "redis", app.Session.Driver)
}

func TestConfiguration_Getters(t *testing.T) {
	c, err := New(WithConfigFile(writeFile(t, "polyel.yaml", yamlConf)))
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.Has("session.secure"))
	assert.False(t, c.Has("session.missing"))
	assert.False(t, c.Has("server.addr.deeper"))
	assert.True(t, c.GetBool("session.secure"))
	assert.Equal(t, []string{"Trim", "VerifyCsrf"}, c.GetStringSlice("server.global_middleware"))
	assert.Equal(t, "", c.GetString("nope"))
	assert.Equal(t, 0, c.GetInt("nope"))

	c.Set("auth.token_key", "k")
	assert.Equal(t, "k", c.GetString("auth.token_key"))
	assert.Contains(t, c.AllKeys(), "auth.token_key")
	assert.Contains(t, c.AllKeys(), "server.read_timeout")

	assert.Error(t, c.Unmarshal("nope", &Auth{}))
}

func TestConfiguration_MissingFile(t *testing.T) {
	c, err := New(WithConfigFile(filepath.Join(t.TempDir(), "polyel.yaml")))
	require.NoError(t, err)
	defer c.Close()
	app, err := LoadApp(c)
	require.NoError(t, err)
	assert.Equal(t, ":8080", app.Server.Addr)
}

func TestConfiguration_BadFile(t *testing.T) {
	_, err := New(WithConfigFile(writeFile(t, "polyel.yaml", "server: [")))
	assert.Error(t, err)
	_, err = New(WithConfigFile(writeFile(t, "polyel.ini", "a=b")))
	assert.Error(t, err)
}

func TestConfiguration_Reload(t *testing.T) {
	path := writeFile(t, "polyel.yaml", yamlConf)
	c, err := New(WithConfigFile(path))
	require.NoError(t, err)
	defer c.Close()

	changed := make(chan struct{}, 8)
	cancel := c.OnChange(func(string) { changed <- struct{}{} })
	defer cancel()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0o600))
	assert.Eventually(t, func() bool {
		return c.GetString("server.addr") == ":9999"
	}, 3*time.Second, 20*time.Millisecond)
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("没有收到变更通知")
	}
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "", FindFile(dir))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	want := filepath.Join(dir, "config", "polyel.toml")
	require.NoError(t, os.WriteFile(want, []byte(tomlConf), 0o600))
	assert.Equal(t, want, FindFile(dir))

	require.NoError(t, AutoInit(dir, "polyeltest"))
	assert.Equal(t, ":9100", Get().GetString("server.addr"))
}
