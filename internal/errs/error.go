package errs

import (
	"errors"
	"fmt"
)

var (
	// session errors
	errKeyNotFound       = errors.New("session: 找不到 key")
	errSessionNotFound   = errors.New("session: 找不到 session")
	errIdSessionNotFound = errors.New("session: id 对应的 session 不存在")
	// context errors
	errInputNil = errors.New("web: 输入不能为 nil")
	errBodyNil  = errors.New("web: body 为 nil")
	errKeyNil   = errors.New("web: key 不存在")
	// router errors
	errRouteInvalid        = errors.New("router: 非法路由")
	errRouteDuplicate      = errors.New("router: 路由已存在")
	errRouteMethod         = errors.New("router: 不支持的 HTTP 方法")
	errParamClash          = errors.New("router: 路由冲突，同一层级已有不同名称的参数")
	errParamRepeated       = errors.New("router: 同一路由中参数名称重复")
	errRouterFrozen        = errors.New("router: 路由表已冻结，不能再注册路由")
	errRedirectInvalid     = errors.New("router: 非法重定向")
	errActionInvalid       = errors.New("router: 非法的路由动作")
	errGroupPrefix         = errors.New("router: 非法的分组前缀")
	errControllerNotFound  = errors.New("router: 控制器不存在")
	errActionNotFound      = errors.New("router: 控制器动作不存在")
	errMiddlewareNotFound  = errors.New("middleware: 未注册的中间件标识")
	errMiddlewareCycle     = errors.New("middleware: 中间件分组存在循环引用")
	errMiddlewareDuplicate = errors.New("middleware: 中间件标识重复注册")
	errMiddlewareType      = errors.New("middleware: 非法的中间件类型")
	// container errors
	errDependencyNotFound = errors.New("container: 未注册的依赖")
	errDependencyType     = errors.New("container: 依赖类型不匹配")
	// auth errors
	errUserNotFound       = errors.New("auth: 用户不存在")
	errInvalidCredentials = errors.New("auth: 凭据无效")
	errGuardNotFound      = errors.New("auth: 未注册的 guard")
	errVerificationFailed = errors.New("auth: token 校验失败")
	errInvalidHash        = errors.New("auth: 非法的密码哈希")
	errPasswordMismatch   = errors.New("auth: 密码与哈希不匹配")
)

func ErrKeyNotFound(key string) error {
	return fmt.Errorf("%w, key %s", errKeyNotFound, key)
}

func ErrSessionNotFound() error {
	return fmt.Errorf("%w", errSessionNotFound)
}

func ErrIdSessionNotFound() error {
	return fmt.Errorf("%w", errIdSessionNotFound)
}

func ErrInputNil() error {
	return fmt.Errorf("%w", errInputNil)
}

func ErrBodyNil() error {
	return fmt.Errorf("%w", errBodyNil)
}

func ErrKeyNil() error {
	return fmt.Errorf("%w", errKeyNil)
}

func ErrRouteInvalid(path string) error {
	return fmt.Errorf("%w [%s]", errRouteInvalid, path)
}

func ErrRouteDuplicate(method, path string) error {
	return fmt.Errorf("%w [%s %s]", errRouteDuplicate, method, path)
}

func ErrRouteMethod(method string) error {
	return fmt.Errorf("%w [%s]", errRouteMethod, method)
}

func ErrParamClash(existing, path string) error {
	return fmt.Errorf("%w，已有 {%s}，新注册 %s", errParamClash, existing, path)
}

func ErrParamRepeated(name, path string) error {
	return fmt.Errorf("%w {%s} [%s]", errParamRepeated, name, path)
}

func ErrRouterFrozen(method, path string) error {
	return fmt.Errorf("%w [%s %s]", errRouterFrozen, method, path)
}

func ErrRedirectInvalid(src string, code int) error {
	return fmt.Errorf("%w [%s %d]", errRedirectInvalid, src, code)
}

func ErrActionInvalid(path string, action any) error {
	return fmt.Errorf("%w [%s] %T", errActionInvalid, path, action)
}

func ErrGroupPrefix(prefix string) error {
	return fmt.Errorf("%w [%s]", errGroupPrefix, prefix)
}

func ErrControllerNotFound(name string) error {
	return fmt.Errorf("%w [%s]", errControllerNotFound, name)
}

func ErrActionNotFound(controller, action string) error {
	return fmt.Errorf("%w [%s@%s]", errActionNotFound, controller, action)
}

func ErrMiddlewareNotFound(key string) error {
	return fmt.Errorf("%w [%s]", errMiddlewareNotFound, key)
}

func ErrMiddlewareCycle(key string) error {
	return fmt.Errorf("%w [%s]", errMiddlewareCycle, key)
}

func ErrMiddlewareDuplicate(key string) error {
	return fmt.Errorf("%w [%s]", errMiddlewareDuplicate, key)
}

func ErrMiddlewareType(key string) error {
	return fmt.Errorf("%w [%s]", errMiddlewareType, key)
}

func ErrDependencyNotFound(typ string) error {
	return fmt.Errorf("%w [%s]", errDependencyNotFound, typ)
}

func ErrDependencyType(typ string, got any) error {
	return fmt.Errorf("%w [%s] 实际为 %T", errDependencyType, typ, got)
}

func ErrUserNotFound() error {
	return fmt.Errorf("%w", errUserNotFound)
}

func ErrInvalidCredentials() error {
	return fmt.Errorf("%w", errInvalidCredentials)
}

func ErrGuardNotFound(name string) error {
	return fmt.Errorf("%w [%s]", errGuardNotFound, name)
}

func ErrVerificationFailed(err error) error {
	return fmt.Errorf("%w, %w", errVerificationFailed, err)
}

func ErrInvalidHash() error {
	return fmt.Errorf("%w", errInvalidHash)
}

func ErrPasswordMismatch() error {
	return fmt.Errorf("%w", errPasswordMismatch)
}

// Is* helpers let callers outside this package test against the sentinels.

func IsRouteDuplicate(err error) bool { return errors.Is(err, errRouteDuplicate) }

func IsRouteInvalid(err error) bool { return errors.Is(err, errRouteInvalid) }

func IsParamClash(err error) bool { return errors.Is(err, errParamClash) }

func IsRouterFrozen(err error) bool { return errors.Is(err, errRouterFrozen) }

func IsMiddlewareNotFound(err error) bool { return errors.Is(err, errMiddlewareNotFound) }

func IsMiddlewareCycle(err error) bool { return errors.Is(err, errMiddlewareCycle) }

func IsDependencyNotFound(err error) bool { return errors.Is(err, errDependencyNotFound) }

func IsControllerNotFound(err error) bool { return errors.Is(err, errControllerNotFound) }

func IsActionNotFound(err error) bool { return errors.Is(err, errActionNotFound) }

func IsSessionNotFound(err error) bool {
	return errors.Is(err, errIdSessionNotFound) || errors.Is(err, errSessionNotFound)
}

func IsUserNotFound(err error) bool { return errors.Is(err, errUserNotFound) }

func IsInvalidCredentials(err error) bool { return errors.Is(err, errInvalidCredentials) }

func IsGuardNotFound(err error) bool { return errors.Is(err, errGuardNotFound) }

func IsVerificationFailed(err error) bool { return errors.Is(err, errVerificationFailed) }

func IsPasswordMismatch(err error) bool { return errors.Is(err, errPasswordMismatch) }
