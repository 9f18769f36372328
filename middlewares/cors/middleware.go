// Package cors 处理跨域请求。预检请求在路由之前应答，因此以 Wrapper 接入。
package cors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dormoron/polyel"
)

type MiddlewareBuilder struct {
	// AllowOrigins 为空时回显请求的 Origin；"*" 允许任意来源
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

func InitMiddlewareBuilder() *MiddlewareBuilder {
	return &MiddlewareBuilder{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-CSRF-TOKEN", "X-XSRF-TOKEN"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func (m *MiddlewareBuilder) SetAllowOrigins(origins ...string) *MiddlewareBuilder {
	m.AllowOrigins = origins
	return m
}

func (m *MiddlewareBuilder) SetExposeHeaders(headers ...string) *MiddlewareBuilder {
	m.ExposeHeaders = headers
	return m
}

func (m *MiddlewareBuilder) allowed(origin string) (string, bool) {
	if len(m.AllowOrigins) == 0 {
		return origin, true
	}
	for _, o := range m.AllowOrigins {
		if o == "*" {
			if m.AllowCredentials {
				return origin, true
			}
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

func (m *MiddlewareBuilder) Build() polyel.Wrapper {
	methods := strings.Join(m.AllowMethods, ", ")
	headers := strings.Join(m.AllowHeaders, ", ")
	expose := strings.Join(m.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(m.MaxAge / time.Second))

	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			origin := ctx.Request.Header.Get("Origin")
			if origin == "" {
				next(ctx)
				return
			}
			allowOrigin, ok := m.allowed(origin)
			preflight := ctx.Request.Method == http.MethodOptions &&
				ctx.Request.Header.Get("Access-Control-Request-Method") != ""
			if !ok {
				if preflight {
					ctx.AbortWithStatus(http.StatusForbidden)
					return
				}
				next(ctx)
				return
			}

			ctx.Header("Access-Control-Allow-Origin", allowOrigin)
			ctx.Header("Vary", "Origin")
			if m.AllowCredentials {
				ctx.Header("Access-Control-Allow-Credentials", "true")
			}
			if preflight {
				ctx.Header("Access-Control-Allow-Methods", methods)
				ctx.Header("Access-Control-Allow-Headers", headers)
				if m.MaxAge > 0 {
					ctx.Header("Access-Control-Max-Age", maxAge)
				}
				ctx.AbortWithStatus(http.StatusNoContent)
				return
			}
			if expose != "" {
				ctx.Header("Access-Control-Expose-Headers", expose)
			}
			next(ctx)
		}
	}
}
