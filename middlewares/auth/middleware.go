// Package auth 提供认证中间件：未登录的请求被拦截，已登录的访客被送离登录页
package auth

import (
	"net/http"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/auth"
	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/internal/errs"
)

// MiddlewareBuilder 构造 before 中间件
type MiddlewareBuilder struct {
	manager   *auth.Manager
	guard     string
	loginPath string
	homePath  string
}

func InitMiddlewareBuilder(manager *auth.Manager) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		manager:   manager,
		loginPath: "/login",
		homePath:  "/",
	}
}

// Guard 指定使用的 guard，默认使用 Manager 的默认 guard
func (b *MiddlewareBuilder) Guard(name string) *MiddlewareBuilder {
	b.guard = name
	return b
}

func (b *MiddlewareBuilder) LoginPath(path string) *MiddlewareBuilder {
	b.loginPath = path
	return b
}

func (b *MiddlewareBuilder) HomePath(path string) *MiddlewareBuilder {
	b.homePath = path
	return b
}

// Authenticate 要求请求已认证
func (b *MiddlewareBuilder) Authenticate() polyel.Middleware {
	return polyel.BeforeFunc(func(ctx *polyel.Context) (polyel.Response, error) {
		ok, err := b.check(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return b.Unauthenticated(ctx)
		}
		return b.Authenticated(ctx)
	})
}

// RedirectIfAuthenticated 已登录的用户访问登录、注册页时跳回首页
func (b *MiddlewareBuilder) RedirectIfAuthenticated() polyel.Middleware {
	return polyel.BeforeFunc(func(ctx *polyel.Context) (polyel.Response, error) {
		ok, err := b.check(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return polyel.Redirect(b.homePath, http.StatusFound), nil
		}
		return nil, nil
	})
}

func (b *MiddlewareBuilder) check(ctx *polyel.Context) (bool, error) {
	g, err := b.manager.Guard(b.guard)
	if err != nil {
		return false, err
	}
	return g.Check(ctx)
}

var _ auth.Outcomes = &MiddlewareBuilder{}

// Unauthenticated API 请求得到 401 JSON，网页请求跳转登录页
func (b *MiddlewareBuilder) Unauthenticated(ctx *polyel.Context) (polyel.Response, error) {
	if ctx.WantsJSON() {
		return polyel.JSON(http.StatusUnauthorized, errs.NewAuthError("unauthenticated")), nil
	}
	return polyel.Redirect(b.loginPath, http.StatusFound), nil
}

func (b *MiddlewareBuilder) Authenticated(*polyel.Context) (polyel.Response, error) {
	return nil, nil
}

func (b *MiddlewareBuilder) Unauthorized(ctx *polyel.Context) (polyel.Response, error) {
	if ctx.WantsJSON() {
		return polyel.JSON(http.StatusForbidden, errs.NewPermissionError("unauthorized")), nil
	}
	return polyel.Status(http.StatusForbidden), nil
}

func (b *MiddlewareBuilder) Authorized(*polyel.Context) (polyel.Response, error) {
	return nil, nil
}

// Factory 返回从容器解析 *auth.Manager 的中间件工厂，fn 选择要构造的中间件
func Factory(fn func(b *MiddlewareBuilder) polyel.Middleware) polyel.MiddlewareFactory {
	return func(c *container.Container) (polyel.Middleware, error) {
		m, err := container.Resolve[*auth.Manager](c)
		if err != nil {
			return nil, err
		}
		return fn(InitMiddlewareBuilder(m)), nil
	}
}
