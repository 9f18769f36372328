package polyel

import (
	"sync"

	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/internal/errs"
)

// MiddlewareType tells the dispatcher at which stage a middleware runs.
type MiddlewareType uint8

const (
	// MiddlewareBefore runs before the action and may short-circuit it.
	MiddlewareBefore MiddlewareType = iota + 1
	// MiddlewareAfter runs after the action and may replace its response.
	MiddlewareAfter
)

func (t MiddlewareType) String() string {
	switch t {
	case MiddlewareBefore:
		return "before"
	case MiddlewareAfter:
		return "after"
	}
	return "unknown"
}

// Middleware is a unit of before or after request processing.
//
// Process receives the mutable request/response context. Returning a nil Response
// lets the pipeline continue; returning a non-nil Response ends it:
//   - from a before middleware the action and the after stack are skipped,
//   - from an after middleware it replaces whatever the action produced.
//
// A returned error aborts the request and is reported as a 500 response.
type Middleware interface {
	Type() MiddlewareType
	Process(ctx *Context) (Response, error)
}

// BeforeFunc adapts a plain function into a before middleware.
type BeforeFunc func(ctx *Context) (Response, error)

func (f BeforeFunc) Type() MiddlewareType { return MiddlewareBefore }

func (f BeforeFunc) Process(ctx *Context) (Response, error) { return f(ctx) }

// AfterFunc adapts a plain function into an after middleware.
type AfterFunc func(ctx *Context) (Response, error)

func (f AfterFunc) Type() MiddlewareType { return MiddlewareAfter }

func (f AfterFunc) Process(ctx *Context) (Response, error) { return f(ctx) }

// MiddlewareFactory builds a middleware from the service container at boot.
type MiddlewareFactory func(c *container.Container) (Middleware, error)

// Implicit groups every route belongs to, depending on its type.
const (
	GroupWeb = "web"
	GroupAPI = "api"
)

// MiddlewareRegistry 维护中间件标识符到中间件实例的映射，
// 以及 (方法, 路由模式) 到有序标识符集合的映射。
//
// 注册只发生在启动阶段；Boot 之后注册表只读，请求处理期间无需加锁之外的同步。
type MiddlewareRegistry struct {
	mu sync.RWMutex

	factories map[string]MiddlewareFactory
	groups    map[string][]string
	global    []string
	routes    map[routeKey][]string

	instances map[string]Middleware
	booted    bool
}

// NewMiddlewareRegistry 创建空的注册表，web 与 api 是隐式存在的空分组
func NewMiddlewareRegistry() *MiddlewareRegistry {
	return &MiddlewareRegistry{
		factories: make(map[string]MiddlewareFactory),
		groups:    map[string][]string{GroupWeb: nil, GroupAPI: nil},
		routes:    make(map[routeKey][]string),
		instances: make(map[string]Middleware),
	}
}

// Register binds key to a ready-made middleware instance.
func (m *MiddlewareRegistry) Register(key string, mdl Middleware) error {
	if mdl == nil {
		return &ConfigError{Op: "register middleware", Err: errs.ErrMiddlewareType(key)}
	}
	return m.RegisterFactory(key, func(*container.Container) (Middleware, error) {
		return mdl, nil
	})
}

// RegisterFactory binds key to a factory invoked once at Boot.
func (m *MiddlewareRegistry) RegisterFactory(key string, factory MiddlewareFactory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.booted {
		return &ConfigError{Op: "register middleware", Err: errs.ErrRouterFrozen("", key)}
	}
	if _, ok := m.factories[key]; ok {
		return &ConfigError{Op: "register middleware", Err: errs.ErrMiddlewareDuplicate(key)}
	}
	if members, ok := m.groups[key]; ok && len(members) > 0 {
		return &ConfigError{Op: "register middleware", Err: errs.ErrMiddlewareDuplicate(key)}
	}
	m.factories[key] = factory
	return nil
}

// Group defines key as an alias for members, expanded in order. Redefining web
// or api replaces the implicit empty group.
func (m *MiddlewareRegistry) Group(key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.booted {
		return &ConfigError{Op: "middleware group", Err: errs.ErrRouterFrozen("", key)}
	}
	if _, ok := m.factories[key]; ok {
		return &ConfigError{Op: "middleware group", Err: errs.ErrMiddlewareDuplicate(key)}
	}
	m.groups[key] = append([]string(nil), members...)
	return nil
}

// Global appends keys to the stack applied to every matched route.
func (m *MiddlewareRegistry) Global(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = appendUnique(m.global, keys...)
}

// Assign 为 (method, pattern) 追加中间件标识符，保持有序且去重
func (m *MiddlewareRegistry) Assign(method, pattern string, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := routeKey{method: method, pattern: pattern}
	m.routes[k] = appendUnique(m.routes[k], keys...)
}

// Keys returns the identifiers assigned to (method, pattern).
func (m *MiddlewareRegistry) Keys(method, pattern string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.routes[routeKey{method: method, pattern: pattern}]...)
}

// GlobalKeys returns the global identifiers in configured order.
func (m *MiddlewareRegistry) GlobalKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.global...)
}

// Boot 实例化所有中间件，并校验全局栈与每条路由引用的标识符。
// 未知标识符与分组环都会让启动失败，而不是等到请求时才暴露。
func (m *MiddlewareRegistry) Boot(c *container.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.booted {
		return nil
	}
	for key, factory := range m.factories {
		mdl, err := factory(c)
		if err != nil {
			return &ConfigError{Op: "build middleware " + key, Err: err}
		}
		if mdl == nil || (mdl.Type() != MiddlewareBefore && mdl.Type() != MiddlewareAfter) {
			return &ConfigError{Op: "build middleware", Err: errs.ErrMiddlewareType(key)}
		}
		m.instances[key] = mdl
	}
	if _, err := m.expandLocked(m.global); err != nil {
		return err
	}
	for _, keys := range m.routes {
		if _, err := m.expandLocked(keys); err != nil {
			return err
		}
	}
	m.booted = true
	return nil
}

// Expand resolves identifiers into middleware instances, flattening groups.
// It is only meaningful after Boot.
func (m *MiddlewareRegistry) Expand(keys []string) ([]Middleware, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expandLocked(keys)
}

func (m *MiddlewareRegistry) expandLocked(keys []string) ([]Middleware, error) {
	res := make([]Middleware, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		var err error
		res, err = m.expandKey(key, res, seen, map[string]bool{})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// expandKey 深度优先展开分组；visiting 记录当前展开路径，用于发现环
func (m *MiddlewareRegistry) expandKey(key string, res []Middleware,
	seen map[string]struct{}, visiting map[string]bool) ([]Middleware, error) {
	if mdl, ok := m.instances[key]; ok {
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			res = append(res, mdl)
		}
		return res, nil
	}
	members, ok := m.groups[key]
	if !ok {
		return nil, &ConfigError{Op: "resolve middleware", Err: errs.ErrMiddlewareNotFound(key)}
	}
	if visiting[key] {
		return nil, &ConfigError{Op: "resolve middleware", Err: errs.ErrMiddlewareCycle(key)}
	}
	visiting[key] = true
	defer delete(visiting, key)
	var err error
	for _, member := range members {
		res, err = m.expandKey(member, res, seen, visiting)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func appendUnique(dst []string, keys ...string) []string {
	for _, k := range keys {
		dup := false
		for _, existing := range dst {
			if existing == k {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, k)
		}
	}
	return dst
}
