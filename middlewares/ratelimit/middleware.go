// Package ratelimit 按客户端限流的 before 中间件
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
)

type MiddlewareBuilder struct {
	limiter       Limiter
	keyFn         func(ctx *polyel.Context) string
	log           *zap.Logger
	retryAfterSec int
}

// InitMiddlewareBuilder 默认按客户端 IP 与路由模式限流
func InitMiddlewareBuilder(limiter Limiter, retryAfterSec int) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		limiter:       limiter,
		retryAfterSec: retryAfterSec,
		keyFn: func(ctx *polyel.Context) string {
			var b strings.Builder
			b.WriteString("ip-limiter:")
			b.WriteString(ctx.ClientIP())
			b.WriteString(":")
			b.WriteString(ctx.MatchedRoute)
			return b.String()
		},
		log: polyel.DefaultLogger(),
	}
}

func (b *MiddlewareBuilder) SetKeyGenFunc(fn func(*polyel.Context) string) *MiddlewareBuilder {
	b.keyFn = fn
	return b
}

func (b *MiddlewareBuilder) SetLogger(log *zap.Logger) *MiddlewareBuilder {
	b.log = log
	return b
}

func (b *MiddlewareBuilder) Build() polyel.Middleware {
	return polyel.BeforeFunc(func(ctx *polyel.Context) (polyel.Response, error) {
		key := b.keyFn(ctx)
		if key == "" {
			b.log.Warn("ratelimit: 无法生成限流 key", zap.String("path", ctx.Request.URL.Path))
			return nil, nil
		}
		limited, err := b.limiter.Limit(ctx.Request.Context(), key)
		if err != nil {
			return nil, err
		}
		if !limited {
			return nil, nil
		}
		b.log.Warn("ratelimit: 请求被限流", zap.String("key", key))
		ctx.Header("Retry-After", strconv.Itoa(b.retryAfterSec))
		if ctx.WantsJSON() {
			return polyel.JSON(http.StatusTooManyRequests,
				errs.NewErrorFromStatus(http.StatusTooManyRequests, "too many requests")), nil
		}
		return polyel.Text(http.StatusTooManyRequests, "Too many requests, please try again later"), nil
	})
}
