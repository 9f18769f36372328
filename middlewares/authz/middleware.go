// Package authz 基于 casbin 的授权中间件，策略文件修改后自动重新加载
package authz

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/auth"
	"github.com/dormoron/polyel/internal/errs"
)

// SubResolver 从请求中解析主体，返回空字符串表示未认证
type SubResolver func(ctx *polyel.Context) (string, error)

// GuardSubject 用 guard 当前用户的 id 作为主体
func GuardSubject(m *auth.Manager, guard string) SubResolver {
	return func(ctx *polyel.Context) (string, error) {
		g, err := m.Guard(guard)
		if err != nil {
			return "", err
		}
		u, err := g.User(ctx)
		if err != nil {
			if errs.IsUserNotFound(err) || errs.IsVerificationFailed(err) {
				return "", nil
			}
			return "", err
		}
		return u.AuthID(), nil
	}
}

type MiddlewareBuilder struct {
	enforcer    *casbin.Enforcer
	subResolver SubResolver
	outcomes    auth.Outcomes
	mutex       sync.RWMutex
	watcher     *fsnotify.Watcher
	log         *zap.Logger
}

// InitMiddlewareBuilder 加载模型与策略文件，并监听策略文件的写入
func InitMiddlewareBuilder(modelFile, policyFile string, subResolver SubResolver) (*MiddlewareBuilder, error) {
	enforcer, err := casbin.NewEnforcer(modelFile, policyFile)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("authz: 创建文件监听失败: %w", err)
	}
	if err = watcher.Add(policyFile); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("authz: 监听策略文件失败: %w", err)
	}
	b := NewWithEnforcer(enforcer, subResolver)
	b.watcher = watcher
	go b.watchPolicyFile()
	return b, nil
}

// NewWithEnforcer 使用已有的 enforcer，不监听文件
func NewWithEnforcer(enforcer *casbin.Enforcer, subResolver SubResolver) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		enforcer:    enforcer,
		subResolver: subResolver,
		outcomes:    defaultOutcomes{},
		log:         polyel.DefaultLogger(),
	}
}

// Outcomes 替换未认证、未授权时的响应
func (b *MiddlewareBuilder) Outcomes(o auth.Outcomes) *MiddlewareBuilder {
	b.outcomes = o
	return b
}

func (b *MiddlewareBuilder) Logger(log *zap.Logger) *MiddlewareBuilder {
	b.log = log
	return b
}

func (b *MiddlewareBuilder) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.watcher == nil {
		return nil
	}
	return b.watcher.Close()
}

func (b *MiddlewareBuilder) watchPolicyFile() {
	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				if err := b.UpdatePolicy(); err != nil {
					b.log.Error("重新加载策略失败", zap.Error(err))
				}
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.log.Error("策略文件监听出错", zap.Error(err))
		}
	}
}

// UpdatePolicy 从策略文件重新加载
func (b *MiddlewareBuilder) UpdatePolicy() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.enforcer.LoadPolicy()
}

// Build 以 (主体, 路由路径, 方法) 调用 enforcer
func (b *MiddlewareBuilder) Build() polyel.Middleware {
	return polyel.BeforeFunc(func(ctx *polyel.Context) (polyel.Response, error) {
		sub, err := b.subResolver(ctx)
		if err != nil {
			return nil, err
		}
		if sub == "" {
			return b.outcomes.Unauthenticated(ctx)
		}

		obj := ctx.Request.URL.Path
		act := ctx.Method

		b.mutex.RLock()
		ok, err := b.enforcer.Enforce(sub, obj, act)
		b.mutex.RUnlock()
		if err != nil {
			return nil, fmt.Errorf("authz: 权限检查失败: %w", err)
		}
		if !ok {
			b.log.Debug("拒绝访问", zap.String("sub", sub), zap.String("obj", obj), zap.String("act", act))
			return b.outcomes.Unauthorized(ctx)
		}
		return b.outcomes.Authorized(ctx)
	})
}

type defaultOutcomes struct{}

func (defaultOutcomes) Unauthenticated(ctx *polyel.Context) (polyel.Response, error) {
	if ctx.WantsJSON() {
		return polyel.JSON(http.StatusUnauthorized, errs.NewAuthError("unauthenticated")), nil
	}
	return polyel.Status(http.StatusUnauthorized), nil
}

func (defaultOutcomes) Authenticated(*polyel.Context) (polyel.Response, error) {
	return nil, nil
}

func (defaultOutcomes) Unauthorized(ctx *polyel.Context) (polyel.Response, error) {
	if ctx.WantsJSON() {
		return polyel.JSON(http.StatusForbidden, errs.NewPermissionError("forbidden")), nil
	}
	return polyel.Status(http.StatusForbidden), nil
}

func (defaultOutcomes) Authorized(*polyel.Context) (polyel.Response, error) {
	return nil, nil
}
