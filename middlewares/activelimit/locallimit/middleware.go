// Package locallimit 限制单个进程内同时处理的请求数
package locallimit

import (
	"net/http"

	"go.uber.org/atomic"

	"github.com/dormoron/polyel"
)

type MiddlewareBuilder struct {
	maxActive               *atomic.Int64
	countActive             *atomic.Int64
	overloadResponseHandler func(ctx *polyel.Context)
}

func InitMiddlewareBuilder(maxActive int64) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		maxActive:   atomic.NewInt64(maxActive),
		countActive: atomic.NewInt64(0),
	}
}

// SetOverloadResponseHandler 自定义超出上限时的响应，默认 429
func (m *MiddlewareBuilder) SetOverloadResponseHandler(fn func(ctx *polyel.Context)) *MiddlewareBuilder {
	m.overloadResponseHandler = fn
	return m
}

// Active 返回当前正在处理的请求数
func (m *MiddlewareBuilder) Active() int64 {
	return m.countActive.Load()
}

func (m *MiddlewareBuilder) Build() polyel.Wrapper {
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			current := m.countActive.Inc()
			defer m.countActive.Dec()

			if current > m.maxActive.Load() {
				if m.overloadResponseHandler != nil {
					m.overloadResponseHandler(ctx)
				} else {
					ctx.AbortWithStatus(http.StatusTooManyRequests)
				}
				return
			}
			next(ctx)
		}
	}
}
