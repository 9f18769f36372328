package polyel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/internal/errs"
)

// 确保 HTTPServer 实现了 Server 接口
var _ Server = &HTTPServer{}

// Server 是可以处理请求并在指定地址启动的 HTTP 服务器
type Server interface {
	http.Handler
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// ServeFunc 处理一次完整的请求，路由、会话与中间件管道都在其中完成
type ServeFunc func(ctx *Context)

// Wrapper 包裹整个请求处理，位于路由之外。恢复、访问日志、指标与追踪都以 Wrapper 的形式接入，
// 响应在所有 Wrapper 返回之后才写回客户端，因此 Wrapper 可以读取并修改最终状态码。
type Wrapper func(next ServeFunc) ServeFunc

// HTTPServerOption 配置 HTTPServer 的函数选项
type HTTPServerOption func(server *HTTPServer)

// HTTPServer 把路由器、中间件注册表、控制器注册表、服务容器与会话协作方组织在一起。
//
// 所有注册都发生在 Boot 之前；Boot 解析中间件与控制器动作并冻结路由器，
// 之后请求处理期间共享状态只读。
type HTTPServer struct {
	router      *Router
	controllers *ControllerRegistry
	services    *container.Container

	sessions       SessionHandler
	templateEngine TemplateEngine
	log            *zap.Logger
	settings       Settings

	wrappers []Wrapper
	pipeline pipeline

	bootOnce sync.Once
	bootErr  error

	inFlight   *atomic.Int64
	httpServer *http.Server
	h3Server   *HTTP3Server
}

// InitHTTPServer 创建服务器并依次应用选项
func InitHTTPServer(opts ...HTTPServerOption) *HTTPServer {
	res := &HTTPServer{
		router:      NewRouter(nil),
		controllers: NewControllerRegistry(),
		services:    container.New(),
		log:         DefaultLogger(),
		settings:    DefaultSettings(),
		inFlight:    atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// ServerWithLogger 设置服务器日志
func ServerWithLogger(log *zap.Logger) HTTPServerOption {
	return func(server *HTTPServer) {
		if log != nil {
			server.log = log
		}
	}
}

// ServerWithTemplateEngine 设置渲染视图与错误页面使用的模板引擎
func ServerWithTemplateEngine(templateEngine TemplateEngine) HTTPServerOption {
	return func(server *HTTPServer) {
		server.templateEngine = templateEngine
	}
}

// ServerWithSessions 设置 web 路由使用的会话协作方
func ServerWithSessions(sessions SessionHandler) HTTPServerOption {
	return func(server *HTTPServer) {
		server.sessions = sessions
	}
}

// ServerWithContainer 使用已经填充好的服务容器
func ServerWithContainer(c *container.Container) HTTPServerOption {
	return func(server *HTTPServer) {
		if c != nil {
			server.services = c
		}
	}
}

// ServerWithSettings 应用服务器配置；全局中间件标识符追加到注册表的全局栈
func ServerWithSettings(settings Settings) HTTPServerOption {
	return func(server *HTTPServer) {
		server.settings = settings
		if len(settings.GlobalMiddleware) > 0 {
			server.router.middleware.Global(settings.GlobalMiddleware...)
		}
	}
}

// Router 返回服务器的路由器
func (s *HTTPServer) Router() *Router {
	return s.router
}

// Middleware 返回中间件注册表
func (s *HTTPServer) Middleware() *MiddlewareRegistry {
	return s.router.middleware
}

// Controllers 返回控制器注册表
func (s *HTTPServer) Controllers() *ControllerRegistry {
	return s.controllers
}

// Services 返回全局服务容器
func (s *HTTPServer) Services() *container.Container {
	return s.services
}

// Routes 执行路由文件，配置错误以 *ConfigError 返回
func (s *HTTPServer) Routes(files ...func(r *Router)) error {
	return s.router.Load(files...)
}

// Use 追加全局中间件标识符
func (s *HTTPServer) Use(keys ...string) {
	s.router.middleware.Global(keys...)
}

// Wrap 追加包裹整个请求的 Wrapper，先追加的在外层
func (s *HTTPServer) Wrap(ws ...Wrapper) {
	s.wrappers = append(s.wrappers, ws...)
}

// InFlight 返回正在处理的请求数
func (s *HTTPServer) InFlight() int64 {
	return s.inFlight.Load()
}

// Boot 解析所有中间件与控制器动作并冻结路由器，只执行一次。
// 未知中间件、分组环、未知控制器或动作都会让 Boot 失败。
func (s *HTTPServer) Boot() error {
	s.bootOnce.Do(func() {
		s.bootErr = s.boot()
		if s.bootErr != nil {
			s.log.Error("polyel: 启动失败", zap.Error(s.bootErr))
		}
	})
	return s.bootErr
}

func (s *HTTPServer) boot() error {
	if s.settings.MatchCacheSize > 0 && s.router.cache == nil {
		if err := s.router.EnableCache(s.settings.MatchCacheSize); err != nil {
			return err
		}
	}
	mr := s.router.middleware
	if err := mr.Boot(s.services); err != nil {
		return err
	}
	globalKeys := mr.GlobalKeys()
	global, err := mr.Expand(globalKeys)
	if err != nil {
		return err
	}
	s.pipeline.globalBefore, s.pipeline.globalAfter = splitByType(global)

	for _, route := range s.router.routes {
		handler, err := s.controllers.resolve(s.services, route.Action)
		if err != nil {
			return &ConfigError{Op: "resolve action " + route.Method + " " + route.Pattern, Err: err}
		}
		mdls, err := mr.Expand(route.MiddlewareKeys())
		if err != nil {
			return err
		}
		route.handler = handler
		route.before, route.after = splitByType(mdls)
	}
	s.router.frozen = true
	s.log.Info("polyel: 路由已加载",
		zap.Int("routes", len(s.router.routes)),
		zap.Strings("global_middleware", globalKeys))
	return nil
}

// ServeHTTP 处理一次请求：Wrapper 链、重定向表、路由匹配、会话、中间件管道，最后写回响应
func (s *HTTPServer) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if err := s.Boot(); err != nil {
		http.Error(writer, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.inFlight.Inc()
	defer s.inFlight.Dec()

	ctx := newContext(writer, request)
	ctx.templateEngine = s.templateEngine
	ctx.Services = s.services.Scope()

	root := s.serve
	for i := len(s.wrappers) - 1; i >= 0; i-- {
		root = s.wrappers[i](root)
	}
	root(ctx)
	s.flushResp(ctx)
}

func (s *HTTPServer) serve(ctx *Context) {
	ctx.Header("Server", "Polyel")
	ctx.Header("Content-Type", "text/html; charset=utf-8")

	path := ctx.Request.URL.EscapedPath()
	if dst, code, ok := s.router.Redirection(path); ok {
		_ = Redirect(dst, code).Apply(ctx)
		return
	}

	ctx.Method = EffectiveMethod(ctx.Request)
	mi, ok := s.router.Match(ctx.Method, path)
	if !ok {
		s.notFound(ctx)
		return
	}
	ctx.Params = mi.Params
	ctx.MatchedRoute = mi.URL
	ctx.RouteType = mi.Route.Type
	ctx.RespStatusCode = http.StatusOK

	withSession := s.sessions != nil && ctx.RouteType == RouteTypeWeb
	if withSession {
		if err := s.sessions.Start(ctx); err != nil {
			s.internalError(ctx, err)
			return
		}
	}

	if err := s.pipeline.run(ctx, mi.Route); err != nil {
		s.internalError(ctx, err)
	}

	if withSession {
		if err := s.sessions.Finish(ctx); err != nil {
			s.log.Error("polyel: 保存会话失败", zap.String("route", ctx.MatchedRoute), zap.Error(err))
		}
	}
}

// notFound 走 404 路径：不执行任何中间件，但 web 请求仍然启动会话
func (s *HTTPServer) notFound(ctx *Context) {
	if s.sessions != nil && !ctx.WantsJSON() {
		if err := s.sessions.Start(ctx); err != nil {
			s.log.Warn("polyel: 启动会话失败", zap.String("path", ctx.Request.URL.Path), zap.Error(err))
		} else {
			defer func() {
				if err := s.sessions.Finish(ctx); err != nil {
					s.log.Warn("polyel: 保存会话失败", zap.Error(err))
				}
			}()
		}
	}
	s.renderError(ctx, http.StatusNotFound, "route not found")
}

func (s *HTTPServer) internalError(ctx *Context, err error) {
	s.log.Error("polyel: 请求处理失败",
		zap.String("method", ctx.Method),
		zap.String("path", ctx.Request.URL.Path),
		zap.String("route", ctx.MatchedRoute),
		zap.Error(err))
	ctx.state = StateAborted
	var apiErr *errs.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		s.renderError(ctx, apiErr.Code, apiErr.Message)
		return
	}
	s.renderError(ctx, http.StatusInternalServerError, "internal server error")
}

// renderError 构造错误响应：API 路由或请求 JSON 时返回结构化错误，
// 否则渲染 "<状态码>:error" 视图，视图不可用时回退到纯文本
func (s *HTTPServer) renderError(ctx *Context, code int, msg string) {
	ctx.RespData = nil
	ctx.Header("Location", "")
	ctx.redirect = ""
	if ctx.WantsJSON() {
		if err := ctx.RespJSON(code, errs.NewErrorFromStatus(code, msg)); err == nil {
			return
		}
	}
	view := strconv.Itoa(code) + ":error"
	if s.templateEngine != nil {
		exists := true
		if vc, ok := s.templateEngine.(ViewChecker); ok {
			exists = vc.Exists(view)
		}
		if exists {
			if err := View(code, view, map[string]any{"code": code, "message": msg}).Apply(ctx); err == nil {
				return
			}
			s.log.Warn("polyel: 渲染错误页面失败", zap.String("view", view))
		}
	}
	_ = Text(code, http.StatusText(code)).Apply(ctx)
}

// flushResp 把排队的响应头、cookie 与响应体写回客户端
func (s *HTTPServer) flushResp(ctx *Context) {
	header := ctx.ResponseWriter.Header()
	for k, vs := range ctx.respHeader {
		header[k] = vs
	}
	for _, ck := range ctx.cookies {
		http.SetCookie(ctx.ResponseWriter, ck)
	}
	if ctx.RespStatusCode == 0 {
		ctx.RespStatusCode = http.StatusOK
	}
	header.Set("Content-Length", strconv.Itoa(len(ctx.RespData)))
	ctx.ResponseWriter.WriteHeader(ctx.RespStatusCode)
	if ctx.Request.Method == http.MethodHead || len(ctx.RespData) == 0 {
		return
	}
	if _, err := ctx.ResponseWriter.Write(ctx.RespData); err != nil {
		s.log.Error("polyel: 写入响应失败", zap.Error(err))
	}
}

func (s *HTTPServer) initHTTPServer(addr string) {
	if s.httpServer == nil {
		s.httpServer = &http.Server{
			ReadTimeout:       s.settings.ReadTimeout,
			WriteTimeout:      s.settings.WriteTimeout,
			IdleTimeout:       s.settings.IdleTimeout,
			ReadHeaderTimeout: s.settings.ReadHeaderTimeout,
			MaxHeaderBytes:    s.settings.MaxHeaderBytes,
		}
	}
	s.httpServer.Handler = s
	s.httpServer.Addr = addr
}

// Start 在 addr 上启动 HTTP 服务，阻塞直到出错或被关闭。启动前先 Boot，配置错误时不监听端口。
func (s *HTTPServer) Start(addr string) error {
	if err := s.Boot(); err != nil {
		return err
	}
	s.initHTTPServer(addr)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("polyel: HTTP 服务启动", zap.String("addr", addr))
	return s.httpServer.Serve(l)
}

// StartTLS 启动 HTTPS 服务
func (s *HTTPServer) StartTLS(addr, certFile, keyFile string) error {
	if err := s.Boot(); err != nil {
		return err
	}
	s.initHTTPServer(addr)
	s.httpServer.TLSConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2", "http/1.1"},
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("polyel: HTTPS 服务启动", zap.String("addr", addr))
	return s.httpServer.ServeTLS(listener, certFile, keyFile)
}

// StartHTTP3 同时启动 HTTP/3 与作为回退的 HTTPS 服务
func (s *HTTPServer) StartHTTP3(addr, certFile, keyFile string) error {
	if err := s.Boot(); err != nil {
		return err
	}
	s.initHTTPServer(addr)
	cfg := DefaultHTTP3Config()
	cfg.AltSvcHeader = fmt.Sprintf(`h3="%s"; ma=2592000`, addr)
	s.h3Server = NewHTTP3Server(s, cfg, s.log)
	s.httpServer.Handler = s.h3Server.altSvcHandler(s)

	go func() {
		tlsSrv := s.httpServer
		tlsSrv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, NextProtos: []string{"h2", "http/1.1"}}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.log.Error("polyel: 启动 TLS 服务失败", zap.Error(err))
			return
		}
		if err := tlsSrv.ServeTLS(ln, certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("polyel: TLS 服务退出", zap.Error(err))
		}
	}()
	return s.h3Server.ListenAndServeTLS(addr, certFile, keyFile)
}

// Shutdown 优雅关闭服务器，等待正在处理的请求完成
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	var err error
	if s.h3Server != nil {
		err = s.h3Server.Shutdown(ctx)
	}
	if s.httpServer != nil {
		if e := s.httpServer.Shutdown(ctx); e != nil {
			err = e
		}
	}
	return err
}
