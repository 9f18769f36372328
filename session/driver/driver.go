// Package driver 按配置组装会话管理器：选择存储驱动并配置会话 cookie
package driver

import (
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dormoron/polyel/session"
	"github.com/dormoron/polyel/session/cookie"
	"github.com/dormoron/polyel/session/memory"
	"github.com/dormoron/polyel/session/redis"
)

const (
	Memory = "memory"
	Redis  = "redis"
)

type options struct {
	client goredis.Cmdable
	log    *zap.Logger
}

type Option func(o *options)

// WithRedisClient 使用已有的 Redis 客户端，不设置时按 cfg.RedisAddr 创建
func WithRedisClient(client goredis.Cmdable) Option {
	return func(o *options) {
		o.client = client
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// New 根据 cfg.Driver 创建会话管理器
func New(cfg session.Config, opts ...Option) (*session.Manager, error) {
	o := &options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	lifetime := time.Duration(cfg.Lifetime) * time.Minute
	if lifetime <= 0 {
		lifetime = 2 * time.Hour
	}

	var store session.Store
	switch cfg.Driver {
	case "", Memory:
		store = memory.InitStore(lifetime)
	case Redis:
		client := o.client
		if client == nil {
			if cfg.RedisAddr == "" {
				return nil, fmt.Errorf("session: redis 驱动需要 redis_addr")
			}
			client = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		}
		store = redis.InitStore(client,
			redis.StoreWithExpiration(lifetime),
			redis.StoreWithPrefix(cfg.RedisPrefix))
	default:
		return nil, fmt.Errorf("session: 未知的驱动 %q", cfg.Driver)
	}

	propagator := cookie.InitPropagator(
		cookie.WithCookieName(cfg.CookieName),
		cookie.WithCookieOption(func(c *http.Cookie) {
			c.Path = cfg.CookiePath
			c.Domain = cfg.Domain
			c.Secure = cfg.Secure
			if cfg.Lifetime > 0 && c.MaxAge >= 0 {
				c.MaxAge = cfg.Lifetime * 60
			}
		}),
	)
	o.log.Info("session: 会话系统就绪", zap.String("driver", cfg.Driver), zap.Bool("active", cfg.Active))
	return session.NewManager(store, propagator, cfg, session.ManagerWithLogger(o.log)), nil
}
