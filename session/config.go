package session

// Config 是会话系统的配置，通常由 config 包从 "session" 键解码得到
type Config struct {
	// Active 为 false 时 Start 与 Finish 什么也不做
	Active bool   `config:"active"`
	Driver string `config:"driver"`

	CookieName string `config:"cookie_name"`
	// Lifetime 以分钟计，同时决定 XSRF cookie 的有效期；0 表示浏览器会话
	Lifetime       int    `config:"lifetime"`
	XSRFCookieName string `config:"xsrf_cookie_name"`
	CookiePath     string `config:"cookie_path"`
	Domain         string `config:"domain"`
	Secure         bool   `config:"secure"`

	RedisAddr   string `config:"redis_addr"`
	RedisPrefix string `config:"redis_prefix"`
}

// DefaultConfig 返回默认会话配置
func DefaultConfig() Config {
	return Config{
		Active:         true,
		Driver:         "memory",
		CookieName:     "polyel_session",
		Lifetime:       120,
		XSRFCookieName: "XSRF-TOKEN",
		CookiePath:     "/",
		RedisPrefix:    "polyel_session",
	}
}
