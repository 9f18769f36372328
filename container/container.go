// Package container 提供按类型注册与解析依赖的服务容器。
//
// 依赖以 Go 类型为键注册工厂函数，在启动阶段构建，请求阶段通过 Scope 派生出
// 请求级容器。解析过程不依赖对构造函数签名的运行时反射，类型只用作查找键。
package container

import (
	"reflect"
	"sync"

	"github.com/dormoron/polyel/internal/errs"
)

// Lifetime 描述一个依赖实例的生命周期
type Lifetime uint8

const (
	// LifetimeSingleton 在注册它的容器中只构建一次
	LifetimeSingleton Lifetime = iota + 1
	// LifetimeScoped 在每个作用域（通常是一次请求）中构建一次
	LifetimeScoped
	// LifetimeTransient 每次解析都重新构建
	LifetimeTransient
)

func (l Lifetime) String() string {
	switch l {
	case LifetimeSingleton:
		return "singleton"
	case LifetimeScoped:
		return "scoped"
	case LifetimeTransient:
		return "transient"
	}
	return "unknown"
}

type provider struct {
	lifetime Lifetime
	build    func(c *Container) (any, error)
	owner    *Container

	once     sync.Once
	instance any
	err      error
}

// Container 持有类型到工厂的注册表。
// 根容器在启动时填充，之后只读；Scope 派生的子容器只缓存作用域实例。
type Container struct {
	parent    *Container
	mu        sync.RWMutex
	providers map[reflect.Type]*provider
	scoped    map[reflect.Type]any
}

// New 创建一个空的根容器
func New() *Container {
	return &Container{
		providers: make(map[reflect.Type]*provider),
		scoped:    make(map[reflect.Type]any),
	}
}

// Scope 派生一个子容器。子容器可以覆盖注册，查找失败时回退到父容器。
func (c *Container) Scope() *Container {
	child := New()
	child.parent = c
	return child
}

// Parent 返回父容器，根容器返回 nil
func (c *Container) Parent() *Container {
	return c.parent
}

func (c *Container) register(t reflect.Type, p *provider) {
	p.owner = c
	c.mu.Lock()
	c.providers[t] = p
	delete(c.scoped, t)
	c.mu.Unlock()
}

func (c *Container) lookup(t reflect.Type) (*provider, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		p, ok := cur.providers[t]
		cur.mu.RUnlock()
		if ok {
			return p, true
		}
	}
	return nil, false
}

// Has 报告类型 t 是否可以被解析
func (c *Container) Has(t reflect.Type) bool {
	_, ok := c.lookup(t)
	return ok
}

// Types 返回当前容器（不含父容器）注册的全部类型名
func (c *Container) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]string, 0, len(c.providers))
	for t := range c.providers {
		res = append(res, t.String())
	}
	return res
}

// resolve 按类型解析实例。调用工厂时不持有锁，工厂可以递归解析其它依赖。
func (c *Container) resolve(t reflect.Type) (any, error) {
	p, ok := c.lookup(t)
	if !ok {
		return nil, errs.ErrDependencyNotFound(t.String())
	}
	switch p.lifetime {
	case LifetimeSingleton:
		// 单例在注册它的容器上构建，保证作用域覆盖不会泄漏到根容器
		p.once.Do(func() {
			p.instance, p.err = p.build(p.owner)
		})
		return p.instance, p.err
	case LifetimeScoped:
		c.mu.RLock()
		v, ok := c.scoped[t]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := p.build(c)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if existing, ok := c.scoped[t]; ok {
			v = existing
		} else {
			c.scoped[t] = v
		}
		c.mu.Unlock()
		return v, nil
	default:
		return p.build(c)
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func wrap[T any](fn func(c *Container) (T, error)) func(c *Container) (any, error) {
	return func(c *Container) (any, error) {
		return fn(c)
	}
}

// Singleton 注册一个单例工厂
func Singleton[T any](c *Container, fn func(c *Container) (T, error)) {
	c.register(typeOf[T](), &provider{lifetime: LifetimeSingleton, build: wrap(fn)})
}

// Scoped 注册一个作用域工厂，每个 Scope 构建一次
func Scoped[T any](c *Container, fn func(c *Container) (T, error)) {
	c.register(typeOf[T](), &provider{lifetime: LifetimeScoped, build: wrap(fn)})
}

// Transient 注册一个瞬态工厂，每次解析都会调用
func Transient[T any](c *Container, fn func(c *Container) (T, error)) {
	c.register(typeOf[T](), &provider{lifetime: LifetimeTransient, build: wrap(fn)})
}

// Instance 直接注册一个已经构建好的值
func Instance[T any](c *Container, v T) {
	p := &provider{lifetime: LifetimeSingleton}
	p.build = func(*Container) (any, error) { return v, nil }
	c.register(typeOf[T](), p)
}

// Resolve 按声明类型 T 解析依赖
func Resolve[T any](c *Container) (T, error) {
	var zero T
	t := typeOf[T]()
	v, err := c.resolve(t)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	res, ok := v.(T)
	if !ok {
		return zero, errs.ErrDependencyType(t.String(), v)
	}
	return res, nil
}

// MustResolve 与 Resolve 相同，但解析失败时 panic，只应在启动阶段使用
func MustResolve[T any](c *Container) T {
	v, err := Resolve[T](c)
	if err != nil {
		panic(err)
	}
	return v
}

// Has 报告类型 T 是否已注册
func Has[T any](c *Container) bool {
	return c.Has(typeOf[T]())
}
