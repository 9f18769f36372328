// Package csrf 校验网页路由提交的 CSRF 令牌
package csrf

import (
	"crypto/subtle"
	"html/template"
	"net/http"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/internal/errs"
	"github.com/dormoron/polyel/kit"
	"github.com/dormoron/polyel/session"
)

const (
	// FormField 是表单中的令牌字段
	FormField = session.KeyCSRFToken
	// HeaderName 由页面脚本设置
	HeaderName = "X-CSRF-TOKEN"
	// XSRFHeaderName 由读取 XSRF-TOKEN cookie 的前端库设置
	XSRFHeaderName = "X-XSRF-TOKEN"
)

// StatusTokenMismatch 令牌过期或不匹配
const StatusTokenMismatch = 419

type MiddlewareBuilder struct {
	sessions *session.Manager
	methods  *kit.MapSet[string]
	except   *kit.MapSet[string]
}

func InitMiddlewareBuilder(sessions *session.Manager) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		sessions: sessions,
		methods: kit.InitMapSet[string](4,
			http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete),
		except: kit.InitMapSet[string](0),
	}
}

// Except 跳过指定的路由模式，例如 "/webhooks/{id}"
func (b *MiddlewareBuilder) Except(patterns ...string) *MiddlewareBuilder {
	for _, p := range patterns {
		b.except.Add(p)
	}
	return b
}

// Build 对改变状态的请求比较会话令牌与提交的令牌。API 路由不使用会话，直接放行。
func (b *MiddlewareBuilder) Build() polyel.Middleware {
	return polyel.BeforeFunc(func(ctx *polyel.Context) (polyel.Response, error) {
		if ctx.RouteType == polyel.RouteTypeAPI || !b.sessions.Config().Active ||
			!b.methods.Exist(ctx.Method) || b.except.Exist(ctx.MatchedRoute) {
			return nil, nil
		}
		expected, err := b.sessions.CSRFToken(ctx)
		if err != nil {
			return nil, err
		}
		if expected != "" && tokensMatch(expected, submittedToken(ctx)) {
			return nil, nil
		}
		if ctx.WantsJSON() {
			return polyel.JSON(StatusTokenMismatch,
				errs.NewErrorFromStatus(StatusTokenMismatch, "CSRF token mismatch")), nil
		}
		return polyel.Text(StatusTokenMismatch, "Page Expired"), nil
	})
}

func submittedToken(ctx *polyel.Context) string {
	if tok := ctx.FormValue(FormField).StringOrDefault(""); tok != "" {
		return tok
	}
	if tok := ctx.Request.Header.Get(HeaderName); tok != "" {
		return tok
	}
	return ctx.Request.Header.Get(XSRFHeaderName)
}

func tokensMatch(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// Field 返回带令牌的隐藏表单字段，供模板使用
func Field(token string) template.HTML {
	return template.HTML(`<input type="hidden" name="` + FormField + `" value="` +
		template.HTMLEscapeString(token) + `">`)
}

// Factory 从容器解析 *session.Manager
func Factory(except ...string) polyel.MiddlewareFactory {
	return func(c *container.Container) (polyel.Middleware, error) {
		m, err := container.Resolve[*session.Manager](c)
		if err != nil {
			return nil, err
		}
		return InitMiddlewareBuilder(m).Except(except...).Build(), nil
	}
}
