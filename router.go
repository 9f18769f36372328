package polyel

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/dormoron/polyel/internal/errs"
)

// routePattern 是路由模式的语法：由 "/字面量" 或 "/{参数}" 组成的序列，或者单独的 "/"
var routePattern = regexp.MustCompile(`^(/([A-Za-z0-9\-_.~]+|\{[A-Za-z0-9_-]+\}))+$`)

// routeMethods 是路由 DSL 允许注册的方法；HEAD 在匹配时按 GET 处理
var routeMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// spoofMethods 是 POST 表单可以通过 http_method 字段伪装成的方法
var spoofMethods = map[string]struct{}{
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// MethodField 是表单中用来伪装请求方法的字段名
const MethodField = "http_method"

// routeKey 定位一条路由：方法加规范路由模式
type routeKey struct {
	method  string
	pattern string
}

// ConfigError 是启动阶段的配置错误（重复路由、非法路由模式、未知中间件等）。
// 出现配置错误时进程不应该继续提供服务。
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("polyel: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Route 是一条已注册的路由
type Route struct {
	Method  string
	Pattern string
	Action  Action
	Type    RouteType

	router *Router

	// 以下字段在 Boot 时解析，之后只读
	handler HandleFunc
	before  []Middleware
	after   []Middleware
}

// Middleware 为路由追加中间件标识符。标识符在 Boot 时解析，未知标识符会导致启动失败。
func (r *Route) Middleware(keys ...string) *Route {
	if r.router.frozen {
		panic(&ConfigError{Op: "route middleware", Err: errs.ErrRouterFrozen(r.Method, r.Pattern)})
	}
	r.router.middleware.Assign(r.Method, r.Pattern, keys...)
	return r
}

// MiddlewareKeys 返回这条路由的中间件标识符：web/api 分组在前，然后是外层到内层的
// 分组中间件，最后是路由自己的中间件
func (r *Route) MiddlewareKeys() []string {
	return r.router.middleware.Keys(r.Method, r.Pattern)
}

// GroupAttributes 是路由分组贡献给组内路由的属性
type GroupAttributes struct {
	Prefix     string
	Middleware []string
}

type redirectTarget struct {
	dst  string
	code int
}

// Router 保存每个方法一棵的路由树、重定向表以及路由分组栈。
//
// Router 在启动阶段由路由文件填充，Boot 之后冻结；冻结后并发匹配不需要加锁。
type Router struct {
	trees     map[string]*node
	routes    []*Route
	redirects map[string]redirectTarget

	groupStack []GroupAttributes
	routeType  RouteType

	middleware *MiddlewareRegistry
	cache      *matchCache
	frozen     bool
}

// NewRouter 创建路由器；mr 为 nil 时使用新的中间件注册表
func NewRouter(mr *MiddlewareRegistry) *Router {
	if mr == nil {
		mr = NewMiddlewareRegistry()
	}
	return &Router{
		trees:      make(map[string]*node),
		redirects:  make(map[string]redirectTarget),
		middleware: mr,
	}
}

// Middlewares 返回路由器使用的中间件注册表
func (r *Router) Middlewares() *MiddlewareRegistry {
	return r.middleware
}

// AddRoute 注册一条路由。action 可以是 "Controller@method" 字符串、HandleFunc 或 Action。
//
// 以下情况返回 *ConfigError：路由模式不符合语法、同一方法下重复注册、
// 同一层出现不同名字的参数、同一模式中参数名重复、方法不受支持、路由器已冻结。
func (r *Router) AddRoute(method, pattern string, action any) (*Route, error) {
	method = strings.ToUpper(method)
	if r.frozen {
		return nil, &ConfigError{Op: "add route", Err: errs.ErrRouterFrozen(method, pattern)}
	}
	if _, ok := routeMethods[method]; !ok {
		return nil, &ConfigError{Op: "add route", Err: errs.ErrRouteMethod(method)}
	}

	prefix, groupMiddleware := r.groupAttributes()
	full := joinPattern(prefix, pattern)
	if full != "/" && !routePattern.MatchString(full) {
		return nil, &ConfigError{Op: "add route", Err: errs.ErrRouteInvalid(full)}
	}
	act, ok := parseAction(action)
	if !ok {
		return nil, &ConfigError{Op: "add route", Err: errs.ErrActionInvalid(full, action)}
	}

	segs := patternSegments(full)
	if err := r.checkSegments(method, full, segs); err != nil {
		return nil, err
	}

	root, ok := r.trees[method]
	if !ok {
		root = newNode("/")
		r.trees[method] = root
	}
	cur := root
	for _, seg := range segs {
		cur, _ = cur.childOrCreate(seg)
	}

	route := &Route{
		Method:  method,
		Pattern: full,
		Action:  act,
		Type:    r.routeType,
		router:  r,
	}
	cur.route = route
	r.routes = append(r.routes, route)
	if r.cache != nil {
		r.cache.purge()
	}

	keys := make([]string, 0, len(groupMiddleware)+1)
	keys = append(keys, r.routeType.String())
	keys = append(keys, groupMiddleware...)
	r.middleware.Assign(method, full, keys...)
	return route, nil
}

// checkSegments 在修改路由树之前做完所有校验，失败时路由树保持不变
func (r *Router) checkSegments(method, full string, segs []string) error {
	names := make(map[string]struct{}, len(segs))
	for _, seg := range segs {
		if !isParamSegment(seg) {
			continue
		}
		name := seg[1 : len(seg)-1]
		if _, dup := names[name]; dup {
			return &ConfigError{Op: "add route", Err: errs.ErrParamRepeated(name, full)}
		}
		names[name] = struct{}{}
	}

	cur := r.trees[method]
	for _, seg := range segs {
		if cur == nil {
			return nil
		}
		if isParamSegment(seg) {
			if cur.paramChild != nil && cur.paramChild.segment != seg {
				return &ConfigError{Op: "add route", Err: errs.ErrParamClash(cur.paramChild.segment, full)}
			}
			cur = cur.paramChild
			continue
		}
		cur = cur.children[seg]
	}
	if cur != nil && cur.route != nil {
		return &ConfigError{Op: "add route", Err: errs.ErrRouteDuplicate(method, full)}
	}
	return nil
}

func (r *Router) mustAdd(method, pattern string, action any) *Route {
	route, err := r.AddRoute(method, pattern, action)
	if err != nil {
		panic(err)
	}
	return route
}

// Get 注册 GET 路由，配置错误时 panic，由 Load 转换为错误
func (r *Router) Get(pattern string, action any) *Route {
	return r.mustAdd(http.MethodGet, pattern, action)
}

// Post 注册 POST 路由
func (r *Router) Post(pattern string, action any) *Route {
	return r.mustAdd(http.MethodPost, pattern, action)
}

// Put 注册 PUT 路由
func (r *Router) Put(pattern string, action any) *Route {
	return r.mustAdd(http.MethodPut, pattern, action)
}

// Patch 注册 PATCH 路由
func (r *Router) Patch(pattern string, action any) *Route {
	return r.mustAdd(http.MethodPatch, pattern, action)
}

// Delete 注册 DELETE 路由
func (r *Router) Delete(pattern string, action any) *Route {
	return r.mustAdd(http.MethodDelete, pattern, action)
}

// Group 在 fn 执行期间压入分组属性。嵌套分组的前缀按外层到内层拼接，
// 中间件列表同样按外层到内层拼接；fn 返回后属性出栈。
//
// 示例:
//
//	r.Group(polyel.GroupAttributes{Prefix: "/admin", Middleware: []string{"Auth"}}, func(r *polyel.Router) {
//	  r.Get("/dashboard", "AdminController@index")
//	})
func (r *Router) Group(attrs GroupAttributes, fn func(r *Router)) {
	prefix := attrs.Prefix
	if prefix == "/" {
		prefix = ""
	}
	if prefix != "" && (prefix[0] != '/' || prefix[len(prefix)-1] == '/') {
		panic(&ConfigError{Op: "route group", Err: errs.ErrGroupPrefix(attrs.Prefix)})
	}
	r.groupStack = append(r.groupStack, GroupAttributes{
		Prefix:     prefix,
		Middleware: append([]string(nil), attrs.Middleware...),
	})
	defer func() {
		r.groupStack = r.groupStack[:len(r.groupStack)-1]
	}()
	fn(r)
}

// API 在 fn 执行期间注册的路由都是 API 路由：使用 api 中间件分组，不启用会话
func (r *Router) API(fn func(r *Router)) {
	prev := r.routeType
	r.routeType = RouteTypeAPI
	defer func() {
		r.routeType = prev
	}()
	fn(r)
}

func (r *Router) groupAttributes() (string, []string) {
	var sb strings.Builder
	var middleware []string
	for _, g := range r.groupStack {
		sb.WriteString(g.Prefix)
		middleware = append(middleware, g.Middleware...)
	}
	return sb.String(), middleware
}

// Redirect 注册重定向：请求 src 时直接返回指向 dst 的重定向响应，不进入路由匹配。
// code 缺省为 302，必须是 3xx。
func (r *Router) Redirect(src, dst string, code ...int) error {
	status := http.StatusFound
	if len(code) > 0 {
		status = code[0]
	}
	if r.frozen {
		return &ConfigError{Op: "redirect", Err: errs.ErrRouterFrozen("", src)}
	}
	if src == "" || src[0] != '/' || dst == "" || status < 300 || status > 399 {
		return &ConfigError{Op: "redirect", Err: errs.ErrRedirectInvalid(src, status)}
	}
	r.redirects[trimTrailingSlash(src)] = redirectTarget{dst: dst, code: status}
	return nil
}

// Redirection 查询 path 是否注册了重定向
func (r *Router) Redirection(path string) (string, int, bool) {
	t, ok := r.redirects[trimTrailingSlash(path)]
	return t.dst, t.code, ok
}

// Match 在 method 对应的路由树上匹配 path。path 是转义形式的请求路径，
// 末尾的 / 会被去掉，每一段在匹配前做 URL 解码。未命中返回 false，不是错误。
func (r *Router) Match(method, path string) (*MatchResult, bool) {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if r.cache != nil {
		if mi, ok := r.cache.get(method, path); ok {
			return mi, true
		}
	}
	root, ok := r.trees[method]
	if !ok {
		return nil, false
	}
	segs, ok := requestSegments(path)
	if !ok {
		return nil, false
	}
	mi := &MatchResult{}
	n, ok := root.match(segs, mi)
	if !ok {
		return nil, false
	}
	mi.Route = n.route
	mi.URL = n.route.Pattern
	if r.cache != nil {
		r.cache.add(method, path, mi)
	}
	return mi, true
}

// EffectiveMethod 返回用于路由的方法：HEAD 视为 GET，
// POST 表单可以通过 http_method 字段伪装成 PUT、PATCH 或 DELETE
func EffectiveMethod(req *http.Request) string {
	switch req.Method {
	case http.MethodHead:
		return http.MethodGet
	case http.MethodPost:
		spoof := strings.ToUpper(req.PostFormValue(MethodField))
		if _, ok := spoofMethods[spoof]; ok {
			return spoof
		}
	}
	return req.Method
}

// RouteInfo 是路由列表中的一项
type RouteInfo struct {
	Method     string
	Pattern    string
	Action     string
	Type       RouteType
	Middleware []string
}

// Routes 按路由模式、再按方法排序返回所有路由
func (r *Router) Routes() []RouteInfo {
	res := make([]RouteInfo, 0, len(r.routes))
	for _, route := range r.routes {
		res = append(res, RouteInfo{
			Method:     route.Method,
			Pattern:    route.Pattern,
			Action:     route.Action.String(),
			Type:       route.Type,
			Middleware: route.MiddlewareKeys(),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Pattern != res[j].Pattern {
			return res[i].Pattern < res[j].Pattern
		}
		return res[i].Method < res[j].Method
	})
	return res
}

// Load 依次执行路由文件。DSL 方法遇到配置错误时会 panic，Load 把它转换成错误返回，
// 路由文件因此可以写成一串直接调用。
func (r *Router) Load(files ...func(r *Router)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			ce, ok := p.(*ConfigError)
			if !ok {
				panic(p)
			}
			r.groupStack = r.groupStack[:0]
			r.routeType = RouteTypeWeb
			err = ce
		}
	}()
	for _, f := range files {
		f(r)
	}
	return nil
}

// Frozen 报告路由器是否已经冻结
func (r *Router) Frozen() bool {
	return r.frozen
}

// EnableCache 为匹配结果启用容量为 size 的 LRU 缓存，必须在 Boot 之前调用
func (r *Router) EnableCache(size int) error {
	c, err := newMatchCache(size)
	if err != nil {
		return err
	}
	r.cache = c
	return nil
}

// CacheStats 返回缓存命中、未命中次数以及当前条目数
func (r *Router) CacheStats() (hits, misses uint64, size int) {
	if r.cache == nil {
		return 0, 0, 0
	}
	return r.cache.stats()
}

func joinPattern(prefix, pattern string) string {
	if prefix == "" {
		return pattern
	}
	if pattern == "/" || pattern == "" {
		return prefix
	}
	return prefix + pattern
}

// patternSegments 拆分已经通过语法校验的路由模式
func patternSegments(pattern string) []string {
	if pattern == "/" {
		return nil
	}
	return strings.Split(pattern[1:], "/")
}

func trimTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

// requestSegments 拆分请求路径：去掉末尾的 /，丢掉开头的空段，逐段 URL 解码。
// 解码失败的路径不可能命中任何路由。
func requestSegments(path string) ([]string, bool) {
	path = trimTrailingSlash(path)
	if path == "" || path == "/" {
		return nil, true
	}
	path = strings.TrimPrefix(path, "/")
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, false
		}
		segs[i] = decoded
	}
	return segs, true
}
