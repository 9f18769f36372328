package polyel

import "time"

// Settings 是服务器的可配置项，通常由 config 包从 "server" 键解码得到
type Settings struct {
	Addr              string        `config:"addr"`
	ReadTimeout       time.Duration `config:"read_timeout"`
	WriteTimeout      time.Duration `config:"write_timeout"`
	IdleTimeout       time.Duration `config:"idle_timeout"`
	ReadHeaderTimeout time.Duration `config:"read_header_timeout"`
	MaxHeaderBytes    int           `config:"max_header_bytes"`

	// GlobalMiddleware 是对每条匹配到的路由生效的中间件标识符
	GlobalMiddleware []string `config:"global_middleware"`

	// MatchCacheSize 大于 0 时启用匹配结果缓存
	MatchCacheSize int `config:"match_cache_size"`
}

// DefaultSettings 返回默认配置
func DefaultSettings() Settings {
	return Settings{
		Addr:              ":8080",
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}
