package ratelimit

import (
	"context"
	_ "embed"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed slide_window.lua
var luaSlideWindow string

// Limiter 返回 true 表示 key 已被限流
type Limiter interface {
	Limit(ctx context.Context, key string) (bool, error)
}

// RedisSlidingWindowLimiter 基于 Redis 有序集合的滑动窗口限流，多实例共享计数
type RedisSlidingWindowLimiter struct {
	Cmd      redis.Cmdable
	Interval time.Duration
	// Rate 是窗口内允许的请求数
	Rate int
}

func InitRedisSlidingWindowLimiter(cmd redis.Cmdable, interval time.Duration, rate int) *RedisSlidingWindowLimiter {
	return &RedisSlidingWindowLimiter{
		Cmd:      cmd,
		Interval: interval,
		Rate:     rate,
	}
}

func (r *RedisSlidingWindowLimiter) Limit(ctx context.Context, key string) (bool, error) {
	return r.Cmd.Eval(ctx, luaSlideWindow, []string{key},
		r.Interval.Milliseconds(), r.Rate, time.Now().UnixMilli()).Bool()
}
