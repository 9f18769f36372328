// Package accesslog 为每个请求输出一条结构化访问日志
package accesslog

import (
	"time"

	"go.uber.org/zap"

	"github.com/dormoron/polyel"
)

type MiddlewareBuilder struct {
	log *zap.Logger
}

func InitMiddlewareBuilder(log *zap.Logger) *MiddlewareBuilder {
	if log == nil {
		log = polyel.DefaultLogger()
	}
	return &MiddlewareBuilder{log: log}
}

func (b *MiddlewareBuilder) Build() polyel.Wrapper {
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			start := time.Now()
			defer func() {
				b.log.Info("access",
					zap.String("host", ctx.Request.Host),
					zap.String("route", ctx.MatchedRoute),
					zap.String("route_type", ctx.RouteType.String()),
					zap.String("http_method", ctx.Request.Method),
					zap.String("method", ctx.Method),
					zap.String("path", ctx.Request.URL.Path),
					zap.Int("status", ctx.RespStatusCode),
					zap.String("client_ip", ctx.ClientIP()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next(ctx)
		}
	}
}
