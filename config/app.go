package config

import (
	"time"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/session"
)

// 顶层配置段
const (
	SectionServer   = "server"
	SectionSession  = "session"
	SectionAuth     = "auth"
	SectionDatabase = "database"
	SectionRedis    = "redis"
	SectionWeb      = "web"
)

type Auth struct {
	// DefaultGuard 是 "session" 或 "token"
	DefaultGuard string        `config:"default_guard"`
	TokenKey     string        `config:"token_key"`
	TokenExpire  time.Duration `config:"token_expire"`
	TokenIssuer  string        `config:"token_issuer"`
	// UsersTable 为空时使用内存中的用户，Users 是这些用户的初始数据，password 为哈希值
	UsersTable string              `config:"users_table"`
	Users      []map[string]string `config:"users"`
	// 同一 IP 连续失败 MaxAttempts 次后封禁 LockoutDuration，0 表示不封禁
	MaxAttempts     int           `config:"max_attempts"`
	LockoutDuration time.Duration `config:"lockout_duration"`
	// Policy 与 Model 都不为空时启用 casbin 授权
	Model  string `config:"casbin_model"`
	Policy string `config:"casbin_policy"`
}

type Database struct {
	// Driver 是 database/sql 的驱动名：mysql、postgres
	Driver          string        `config:"driver"`
	DSN             string        `config:"dsn"`
	MaxOpenConns    int           `config:"max_open_conns"`
	MaxIdleConns    int           `config:"max_idle_conns"`
	ConnMaxLifetime time.Duration `config:"conn_max_lifetime"`
}

type Redis struct {
	Addr     string `config:"addr"`
	Password string `config:"password"`
	DB       int    `config:"db"`
}

// 并发上限的计数方式
const (
	LimitLocal = "local"
	LimitRedis = "redis"
)

// Web 控制服务器外层的包装器
type Web struct {
	// Views 是模板根目录，为空时使用内嵌的模板
	Views string `config:"views"`
	// Public 是静态文件目录，以 PublicPrefix 为前缀提供，为空时使用内嵌的文件
	Public       string `config:"public"`
	PublicPrefix string `config:"public_prefix"`
	MaxBody      string `config:"max_body"`
	MaxActive    int64  `config:"max_active"`
	// LimitDriver 是 "local"（单进程计数）或 "redis"（多实例共享计数）
	LimitDriver string   `config:"limit_driver"`
	CorsOrigins []string `config:"cors_origins"`
	Metrics     bool     `config:"metrics"`
	MetricsPath string   `config:"metrics_path"`
	Tracing     bool     `config:"tracing"`
	HealthPath  string   `config:"health_path"`
	// MemoryLimit 例如 "512M"，堆内存超过时健康检查报告 DOWN
	MemoryLimit  string `config:"memory_limit"`
	SecureHeader bool   `config:"secure_header"`
	// Throttle 限制每个 IP 在 ThrottleWindow 内对同一路由的请求数，需要 redis
	Throttle       int           `config:"throttle"`
	ThrottleWindow time.Duration `config:"throttle_window"`
}

func DefaultWeb() Web {
	return Web{
		MaxBody:        "8M",
		LimitDriver:    LimitLocal,
		MetricsPath:    "/metrics",
		PublicPrefix:   "/assets",
		HealthPath:     "/health",
		SecureHeader:   true,
		ThrottleWindow: time.Minute,
	}
}

// App 汇总一个应用需要的全部配置
type App struct {
	Server   polyel.Settings
	Session  session.Config
	Auth     Auth
	Database Database
	Redis    Redis
	Web      Web
}

func DefaultAuth() Auth {
	return Auth{
		DefaultGuard:    "session",
		TokenExpire:     time.Hour,
		TokenIssuer:     "polyel",
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
	}
}

func DefaultDatabase() Database {
	return Database{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Section 在默认值之上解码 key 下的配置，配置段不存在时原样返回默认值
func Section[T any](p Provider, key string, def T) (T, error) {
	if !p.Has(key) {
		return def, nil
	}
	res := def
	if err := p.Unmarshal(key, &res); err != nil {
		return def, err
	}
	return res, nil
}

// LoadApp 读取所有配置段
func LoadApp(p Provider) (App, error) {
	var (
		res App
		err error
	)
	if res.Server, err = Section(p, SectionServer, polyel.DefaultSettings()); err != nil {
		return res, err
	}
	if res.Session, err = Section(p, SectionSession, session.DefaultConfig()); err != nil {
		return res, err
	}
	if res.Auth, err = Section(p, SectionAuth, DefaultAuth()); err != nil {
		return res, err
	}
	if res.Database, err = Section(p, SectionDatabase, DefaultDatabase()); err != nil {
		return res, err
	}
	if res.Redis, err = Section(p, SectionRedis, Redis{Addr: "localhost:6379"}); err != nil {
		return res, err
	}
	if res.Web, err = Section(p, SectionWeb, DefaultWeb()); err != nil {
		return res, err
	}
	return res, nil
}
