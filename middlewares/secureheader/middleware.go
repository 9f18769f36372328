// Package secureheader 为所有响应添加安全相关的响应头
package secureheader

import (
	"strconv"

	"github.com/dormoron/polyel"
)

// Options 中为空的字段不输出对应的头
type Options struct {
	XSSProtection             string
	ContentTypeNosniff        string
	XFrameOptions             string
	HSTSMaxAge                int
	HSTSExcludeSubdomains     bool
	ContentSecurityPolicy     string
	ReferrerPolicy            string
	PermissionsPolicy         string
	CrossOriginOpenerPolicy   string
	CrossOriginResourcePolicy string
}

func DefaultOptions() Options {
	return Options{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "SAMEORIGIN",
		HSTSMaxAge:                31536000,
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
	}
}

func (o Options) headers() [][2]string {
	res := [][2]string{
		{"X-XSS-Protection", o.XSSProtection},
		{"X-Content-Type-Options", o.ContentTypeNosniff},
		{"X-Frame-Options", o.XFrameOptions},
		{"Content-Security-Policy", o.ContentSecurityPolicy},
		{"Referrer-Policy", o.ReferrerPolicy},
		{"Permissions-Policy", o.PermissionsPolicy},
		{"Cross-Origin-Opener-Policy", o.CrossOriginOpenerPolicy},
		{"Cross-Origin-Resource-Policy", o.CrossOriginResourcePolicy},
	}
	out := res[:0]
	for _, h := range res {
		if h[1] != "" {
			out = append(out, h)
		}
	}
	return out
}

// NewMiddleware 返回 Wrapper，HSTS 只在 TLS 连接上输出
func NewMiddleware(options Options) polyel.Wrapper {
	headers := options.headers()
	hsts := ""
	if options.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(options.HSTSMaxAge)
		if !options.HSTSExcludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			for _, h := range headers {
				ctx.Header(h[0], h[1])
			}
			if hsts != "" && ctx.Request.TLS != nil {
				ctx.Header("Strict-Transport-Security", hsts)
			}
			next(ctx)
		}
	}
}

func WithSecureHeaders() polyel.Wrapper {
	return NewMiddleware(DefaultOptions())
}

func WithCustomSecureHeaders(configurator func(*Options)) polyel.Wrapper {
	options := DefaultOptions()
	configurator(&options)
	return NewMiddleware(options)
}
