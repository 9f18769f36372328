// Package app 按配置装配一个完整的应用：会话、认证、中间件、包装器与路由
package app

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	// database/sql 驱动，由 database.driver 选择
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/auth"
	"github.com/dormoron/polyel/config"
	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/middlewares/accesslog"
	"github.com/dormoron/polyel/middlewares/activelimit/locallimit"
	"github.com/dormoron/polyel/middlewares/activelimit/redislimit"
	authmdl "github.com/dormoron/polyel/middlewares/auth"
	"github.com/dormoron/polyel/middlewares/authz"
	"github.com/dormoron/polyel/middlewares/blocklist"
	"github.com/dormoron/polyel/middlewares/bodylimit"
	"github.com/dormoron/polyel/middlewares/cors"
	"github.com/dormoron/polyel/middlewares/csrf"
	"github.com/dormoron/polyel/middlewares/healthcheck"
	"github.com/dormoron/polyel/middlewares/opentelemetry"
	prommdl "github.com/dormoron/polyel/middlewares/prometheus"
	"github.com/dormoron/polyel/middlewares/ratelimit"
	"github.com/dormoron/polyel/middlewares/recovery"
	"github.com/dormoron/polyel/middlewares/secureheader"
	"github.com/dormoron/polyel/session"
	"github.com/dormoron/polyel/session/driver"
)

// Version 在构建时通过 -ldflags 覆盖
var Version = "dev"

// 应用注册的中间件标识符
const (
	MiddlewareAuth       = "Auth"
	MiddlewareAuthToken  = "AuthToken"
	MiddlewareGuest      = "Guest"
	MiddlewareVerifyCsrf = "VerifyCsrf"
	MiddlewareThrottle   = "Throttle"
	MiddlewareAuthorize  = "Authorize"
	MiddlewareLockout    = "Lockout"
)

//go:embed resources
var resources embed.FS

// App 持有服务器以及需要在退出时释放的资源
type App struct {
	Server   *polyel.HTTPServer
	Config   config.App
	Sessions *session.Manager
	Auth     *auth.Manager
	Users    auth.UserProvider
	Lockout  *blocklist.Manager
	Metrics  *prometheus.Registry

	log     *zap.Logger
	db      *sql.DB
	redis   goredis.UniversalClient
	closers []func() error
}

type Option func(a *App)

func WithLogger(log *zap.Logger) Option {
	return func(a *App) {
		a.log = log
	}
}

// WithUserProvider 替换由配置决定的用户来源
func WithUserProvider(p auth.UserProvider) Option {
	return func(a *App) {
		a.Users = p
	}
}

// WithRedis 使用已有的 Redis 客户端
func WithRedis(client goredis.UniversalClient) Option {
	return func(a *App) {
		a.redis = client
	}
}

// WithDB 使用已经打开的数据库连接
func WithDB(db *sql.DB) Option {
	return func(a *App) {
		a.db = db
	}
}

// New 装配应用并完成 Boot，任何配置错误都在这里返回
func New(cfg config.App, opts ...Option) (*App, error) {
	a := &App{Config: cfg, log: zap.NewNop(), Metrics: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(a)
	}
	steps := []func() error{
		a.initStorage,
		a.initSessions,
		a.initAuth,
		a.initServer,
		a.registerMiddleware,
		a.registerControllers,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	if err := a.Server.Routes(Routes); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.Server.Boot(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initStorage() error {
	dbCfg := a.Config.Database
	if a.db == nil && dbCfg.Driver != "" {
		db, err := sql.Open(dbCfg.Driver, dbCfg.DSN)
		if err != nil {
			return fmt.Errorf("app: 打开数据库失败: %w", err)
		}
		db.SetMaxOpenConns(dbCfg.MaxOpenConns)
		db.SetMaxIdleConns(dbCfg.MaxIdleConns)
		db.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)
		a.db = db
		a.closers = append(a.closers, db.Close)
	}
	if a.redis == nil && a.needRedis() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}
	return nil
}

func (a *App) needRedis() bool {
	web := a.Config.Web
	return a.Config.Session.Driver == driver.Redis || web.Throttle > 0 ||
		(web.MaxActive > 0 && web.LimitDriver == config.LimitRedis)
}

func (a *App) initSessions() error {
	opts := []driver.Option{driver.WithLogger(a.log)}
	if a.redis != nil {
		opts = append(opts, driver.WithRedisClient(a.redis))
	}
	m, err := driver.New(a.Config.Session, opts...)
	if err != nil {
		return err
	}
	a.Sessions = m
	return nil
}

func (a *App) initAuth() error {
	cfg := a.Config.Auth
	if a.Users == nil {
		switch {
		case a.db != nil && cfg.UsersTable != "":
			p, err := auth.NewSQLProvider(a.db, cfg.UsersTable, auth.PlaceholderFor(a.Config.Database.Driver))
			if err != nil {
				return err
			}
			a.Users = p
		default:
			a.log.Warn("app: 未配置用户表，使用内存用户", zap.Int("users", len(cfg.Users)))
			users := make([]auth.GenericUser, 0, len(cfg.Users))
			for _, u := range cfg.Users {
				users = append(users, auth.GenericUser(u))
			}
			a.Users = auth.NewMemoryProvider(users...)
		}
	}
	a.Lockout = blocklist.NewManager(
		blocklist.WithMaxFailedAttempts(cfg.MaxAttempts),
		blocklist.WithBlockDuration(cfg.LockoutDuration),
		blocklist.WithLogger(a.log),
	)
	a.Auth = auth.NewManager(cfg.DefaultGuard)
	a.Auth.Extend(auth.GuardSession, auth.NewSessionGuard(a.Sessions, a.Users, nil))
	if cfg.TokenKey != "" {
		a.Auth.Extend(auth.GuardToken, auth.NewTokenGuard(a.Users,
			auth.InitTokenOptions(cfg.TokenExpire, cfg.TokenKey, auth.WithIssuer(cfg.TokenIssuer))))
	} else if cfg.DefaultGuard == auth.GuardToken {
		return errors.New("app: token guard 需要 auth.token_key")
	}
	return nil
}

func (a *App) initServer() error {
	services := container.New()
	container.Instance[*zap.Logger](services, a.log)
	container.Instance[*session.Manager](services, a.Sessions)
	container.Instance[*auth.Manager](services, a.Auth)
	container.Instance[auth.UserProvider](services, a.Users)
	container.Instance[*blocklist.Manager](services, a.Lockout)

	views, err := a.views()
	if err != nil {
		return err
	}
	a.Server = polyel.InitHTTPServer(
		polyel.ServerWithLogger(a.log),
		polyel.ServerWithSettings(a.Config.Server),
		polyel.ServerWithSessions(a.Sessions),
		polyel.ServerWithContainer(services),
		polyel.ServerWithTemplateEngine(views),
	)
	wrappers, err := a.wrappers()
	if err != nil {
		return err
	}
	a.Server.Wrap(wrappers...)
	return nil
}

// embedded 在 dir 为空时返回内嵌的 sub 目录
func (a *App) embedded(dir, sub string) (fs.FS, error) {
	if dir != "" {
		return os.DirFS(dir), nil
	}
	return fs.Sub(resources, sub)
}

func (a *App) views() (*polyel.GoTemplateEngine, error) {
	fsys, err := a.embedded(a.Config.Web.Views, "resources")
	if err != nil {
		return nil, err
	}
	engine := &polyel.GoTemplateEngine{}
	if err := engine.LoadFromFS(fsys, "**/*.html"); err != nil {
		return nil, fmt.Errorf("app: 加载模板失败: %w", err)
	}
	return engine, nil
}

// wrappers 从外到内：恢复、日志、指标、追踪、健康检查、静态文件、限流、安全头、跨域、请求体大小
func (a *App) wrappers() ([]polyel.Wrapper, error) {
	web := a.Config.Web
	res := []polyel.Wrapper{
		recovery.InitMiddlewareBuilder(a.log).Build(),
		accesslog.InitMiddlewareBuilder(a.log).Build(),
	}
	if web.Metrics {
		b := prommdl.InitMiddlewareBuilder("polyel", "http", "request_duration", "HTTP request duration in microseconds")
		b.Registerer = a.Metrics
		res = append(res, prommdl.Exporter(web.MetricsPath, a.Metrics), b.Build())
	}
	if web.Tracing {
		res = append(res, (&opentelemetry.MiddlewareBuilder{}).Build())
	}
	if web.HealthPath != "" {
		hc := healthcheck.InitMiddleware(web.HealthPath).SetVersion(Version)
		if a.db != nil {
			hc.RegisterComponent("database", healthcheck.DBCheck(a.db))
		}
		if a.redis != nil {
			hc.RegisterComponent("redis", healthcheck.RedisCheck(a.redis))
		}
		if web.MemoryLimit != "" {
			limit, err := bodylimit.ParseSize(web.MemoryLimit)
			if err != nil {
				return nil, err
			}
			hc.RegisterComponent("memory", healthcheck.MemoryCheck(uint64(limit), 0))
		}
		res = append(res, hc.Build())
	}
	if web.PublicPrefix != "" {
		public, err := a.embedded(web.Public, "resources/public")
		if err != nil {
			return nil, err
		}
		res = append(res, polyel.Static(web.PublicPrefix, public, polyel.StaticWithMaxAge(3600)))
	}
	if web.MaxActive > 0 {
		switch web.LimitDriver {
		case config.LimitRedis:
			res = append(res, redislimit.InitMiddlewareBuilder(a.redis, web.MaxActive, "polyel:active").
				SetLogger(a.log).Build())
		case config.LimitLocal, "":
			res = append(res, locallimit.InitMiddlewareBuilder(web.MaxActive).Build())
		default:
			return nil, fmt.Errorf("app: 未知的并发限制方式 %q", web.LimitDriver)
		}
	}
	if web.SecureHeader {
		res = append(res, secureheader.WithSecureHeaders())
	}
	if len(web.CorsOrigins) > 0 {
		res = append(res, cors.InitMiddlewareBuilder().SetAllowOrigins(web.CorsOrigins...).Build())
	}
	if web.MaxBody != "" {
		bl, err := bodylimit.BodyLimit(web.MaxBody)
		if err != nil {
			return nil, err
		}
		res = append(res, bl)
	}
	return res, nil
}

func (a *App) registerMiddleware() error {
	mr := a.Server.Middleware()
	factories := map[string]polyel.MiddlewareFactory{
		MiddlewareAuth: authmdl.Factory(func(b *authmdl.MiddlewareBuilder) polyel.Middleware {
			return b.Authenticate()
		}),
		MiddlewareGuest: authmdl.Factory(func(b *authmdl.MiddlewareBuilder) polyel.Middleware {
			return b.RedirectIfAuthenticated()
		}),
		MiddlewareAuthToken: authmdl.Factory(func(b *authmdl.MiddlewareBuilder) polyel.Middleware {
			return b.Guard(auth.GuardToken).Authenticate()
		}),
		MiddlewareVerifyCsrf: csrf.Factory(),
	}
	for key, f := range factories {
		if err := mr.RegisterFactory(key, f); err != nil {
			return err
		}
	}
	if err := mr.Register(MiddlewareLockout, a.Lockout.Build()); err != nil {
		return err
	}

	web := a.Config.Web
	if web.Throttle > 0 {
		limiter := ratelimit.InitRedisSlidingWindowLimiter(a.redis, web.ThrottleWindow, web.Throttle)
		mdl := ratelimit.InitMiddlewareBuilder(limiter, int(web.ThrottleWindow.Seconds())).
			SetLogger(a.log).Build()
		if err := mr.Register(MiddlewareThrottle, mdl); err != nil {
			return err
		}
	}
	if a.Config.Auth.Model != "" && a.Config.Auth.Policy != "" {
		b, err := authz.InitMiddlewareBuilder(a.Config.Auth.Model, a.Config.Auth.Policy,
			authz.GuardSubject(a.Auth, ""))
		if err != nil {
			return err
		}
		b.Logger(a.log)
		a.closers = append(a.closers, b.Close)
		if err = mr.Register(MiddlewareAuthorize, b.Build()); err != nil {
			return err
		}
	}
	// 网页路由都校验 CSRF
	return mr.Group("web", MiddlewareVerifyCsrf)
}

func (a *App) registerControllers() error {
	cr := a.Server.Controllers()
	cr.Register("HomeController", func(c *container.Container) (polyel.Controller, error) {
		return &HomeController{}, nil
	})
	cr.Register("AuthController", func(c *container.Container) (polyel.Controller, error) {
		m, err := container.Resolve[*auth.Manager](c)
		if err != nil {
			return nil, err
		}
		lockout, err := container.Resolve[*blocklist.Manager](c)
		if err != nil {
			return nil, err
		}
		return NewAuthController(m, lockout), nil
	})
	return nil
}

// Close 释放数据库、Redis 与文件监听
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// Shutdown 先停止接收请求，再释放资源
func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.Server.Shutdown(ctx), a.Close())
}
