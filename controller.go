package polyel

import (
	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/internal/errs"
)

// Controller 以显式的动作表暴露自己的方法，路由中的 "Controller@action"
// 在 Boot 时一次性解析成对应的 HandleFunc，请求期间不做任何反射
type Controller interface {
	Actions() map[string]HandleFunc
}

// ControllerFactory 从服务容器构造控制器，构造函数依赖通过容器解析
type ControllerFactory func(c *container.Container) (Controller, error)

// ControllerRegistry 按名字登记控制器
type ControllerRegistry struct {
	factories map[string]ControllerFactory
	instances map[string]Controller
}

func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{
		factories: make(map[string]ControllerFactory),
		instances: make(map[string]Controller),
	}
}

// Register 登记名为 name 的控制器工厂，重复登记时后者覆盖前者
func (cr *ControllerRegistry) Register(name string, factory ControllerFactory) {
	cr.factories[name] = factory
	delete(cr.instances, name)
}

// Controller 返回已经构造好的控制器实例
func (cr *ControllerRegistry) Controller(name string) (Controller, bool) {
	ctrl, ok := cr.instances[name]
	return ctrl, ok
}

func (cr *ControllerRegistry) build(c *container.Container, name string) (Controller, error) {
	if ctrl, ok := cr.instances[name]; ok {
		return ctrl, nil
	}
	factory, ok := cr.factories[name]
	if !ok {
		return nil, errs.ErrControllerNotFound(name)
	}
	ctrl, err := factory(c)
	if err != nil {
		return nil, err
	}
	if ctrl == nil {
		return nil, errs.ErrControllerNotFound(name)
	}
	cr.instances[name] = ctrl
	return ctrl, nil
}

// resolve 把动作描述解析成可执行的 HandleFunc
func (cr *ControllerRegistry) resolve(c *container.Container, a Action) (HandleFunc, error) {
	if a.IsClosure() {
		return a.Handler, nil
	}
	ctrl, err := cr.build(c, a.Controller)
	if err != nil {
		return nil, err
	}
	fn, ok := ctrl.Actions()[a.Method]
	if !ok || fn == nil {
		return nil, errs.ErrActionNotFound(a.Controller, a.Method)
	}
	return fn, nil
}

// Inject 把依赖一个服务的动作适配成 HandleFunc，服务按类型从请求作用域解析。
// 解析失败时返回错误，当前请求得到 500 响应。
//
// 示例:
//
//	"show": polyel.Inject(func(ctx *polyel.Context, users UserRepository) (polyel.Response, error) {
//	  ...
//	}),
func Inject[T any](fn func(ctx *Context, dep T) (Response, error)) HandleFunc {
	return func(ctx *Context) (Response, error) {
		dep, err := container.Resolve[T](ctx.Services)
		if err != nil {
			return nil, err
		}
		return fn(ctx, dep)
	}
}

// Inject2 与 Inject 相同，但解析两个服务
func Inject2[A, B any](fn func(ctx *Context, a A, b B) (Response, error)) HandleFunc {
	return func(ctx *Context) (Response, error) {
		a, err := container.Resolve[A](ctx.Services)
		if err != nil {
			return nil, err
		}
		b, err := container.Resolve[B](ctx.Services)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}

// WithParams 按声明顺序把路由参数作为位置参数传给动作
func WithParams(fn func(ctx *Context, params ...string) (Response, error)) HandleFunc {
	return func(ctx *Context) (Response, error) {
		return fn(ctx, ctx.Params.Values()...)
	}
}

// InjectWithParams 先传入解析出的服务，再按声明顺序传入路由参数
func InjectWithParams[T any](fn func(ctx *Context, dep T, params ...string) (Response, error)) HandleFunc {
	return func(ctx *Context) (Response, error) {
		dep, err := container.Resolve[T](ctx.Services)
		if err != nil {
			return nil, err
		}
		return fn(ctx, dep, ctx.Params.Values()...)
	}
}
