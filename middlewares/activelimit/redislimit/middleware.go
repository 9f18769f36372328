// Package redislimit 用 Redis 计数器限制整个集群同时处理的请求数
package redislimit

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dormoron/polyel"
)

type MiddlewareBuilder struct {
	maxActive *atomic.Int64
	key       string
	cmd       redis.Cmdable
	log       *zap.Logger
}

func InitMiddlewareBuilder(cmd redis.Cmdable, maxActive int64, key string) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		maxActive: atomic.NewInt64(maxActive),
		key:       key,
		cmd:       cmd,
		log:       polyel.DefaultLogger(),
	}
}

func (b *MiddlewareBuilder) SetLogger(log *zap.Logger) *MiddlewareBuilder {
	b.log = log
	return b
}

func (b *MiddlewareBuilder) Build() polyel.Wrapper {
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			currentCount, err := b.cmd.Incr(ctx.Request.Context(), b.key).Result()
			if err != nil {
				b.log.Error("redislimit: 计数失败", zap.String("key", b.key), zap.Error(err))
				ctx.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			defer func() {
				if err := b.cmd.Decr(ctx.Request.Context(), b.key).Err(); err != nil {
					b.log.Error("redislimit: 释放计数失败", zap.String("key", b.key), zap.Error(err))
				}
			}()

			if currentCount > b.maxActive.Load() {
				b.log.Warn("redislimit: 超出并发上限", zap.Int64("active", currentCount))
				ctx.AbortWithStatus(http.StatusTooManyRequests)
				return
			}
			next(ctx)
		}
	}
}
