// Package opentelemetry 为每个请求创建一个 span，span 名称是匹配到的路由模式
package opentelemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dormoron/polyel"
)

const instrumentationName = "github.com/dormoron/polyel/middlewares/opentelemetry"

type MiddlewareBuilder struct {
	Tracer trace.Tracer
}

func (m *MiddlewareBuilder) Build() polyel.Wrapper {
	if m.Tracer == nil {
		m.Tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			reqCtx := otel.GetTextMapPropagator().Extract(ctx.Request.Context(),
				propagation.HeaderCarrier(ctx.Request.Header))
			reqCtx, span := m.Tracer.Start(reqCtx, "unknown")
			defer func() {
				if ctx.MatchedRoute != "" {
					span.SetName(ctx.MatchedRoute)
				}
				span.SetAttributes(
					attribute.Int("http.status", ctx.RespStatusCode),
					attribute.String("polyel.route_type", ctx.RouteType.String()),
				)
				span.End()
			}()

			span.SetAttributes(
				attribute.String("http.method", ctx.Request.Method),
				attribute.String("http.url", ctx.Request.URL.String()),
				attribute.String("http.scheme", ctx.Request.URL.Scheme),
				attribute.String("http.host", ctx.Request.Host),
			)
			ctx.Request = ctx.Request.WithContext(reqCtx)
			next(ctx)
		}
	}
}
