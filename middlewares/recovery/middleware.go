// Package recovery 把请求处理中的 panic 转换为 500 响应
package recovery

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/dormoron/polyel"
)

type MiddlewareBuilder struct {
	StatusCode int
	ErrMsg     []byte
	Log        *zap.Logger
}

func InitMiddlewareBuilder(log *zap.Logger) MiddlewareBuilder {
	if log == nil {
		log = polyel.DefaultLogger()
	}
	return MiddlewareBuilder{
		StatusCode: http.StatusInternalServerError,
		ErrMsg:     []byte(http.StatusText(http.StatusInternalServerError)),
		Log:        log,
	}
}

func (m MiddlewareBuilder) Build() polyel.Wrapper {
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			defer func() {
				if err := recover(); err != nil {
					ctx.RespData = m.ErrMsg
					ctx.RespStatusCode = m.StatusCode
					ctx.Header("Content-Type", "text/plain; charset=utf-8")
					m.Log.Error("polyel: 请求处理 panic",
						zap.String("method", ctx.Request.Method),
						zap.String("path", ctx.Request.URL.Path),
						zap.String("route", ctx.MatchedRoute),
						zap.Any("panic", err),
						zap.Stack("stack"))
				}
			}()
			next(ctx)
		}
	}
}
