// Package healthcheck 在路由之前应答健康检查请求
package healthcheck

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dormoron/polyel"
)

type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "UNKNOWN"
)

// ComponentCheck 返回 nil 表示组件可用
type ComponentCheck func(ctx context.Context) error

type HealthResponse struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
}

type ComponentStatus struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Middleware 在 path 上汇报全部组件，在 path+"/liveness" 上只汇报进程存活。
// 组件检查结果缓存 cacheTimeout。
type Middleware struct {
	mu           sync.Mutex
	path         string
	version      string
	components   map[string]ComponentCheck
	cacheTimeout time.Duration
	checkTimeout time.Duration
	lastCheck    time.Time
	cached       HealthResponse
}

func InitMiddleware(path string) *Middleware {
	if path == "" {
		path = "/health"
	}
	return &Middleware{
		path:         path,
		components:   make(map[string]ComponentCheck),
		cacheTimeout: 5 * time.Second,
		checkTimeout: 2 * time.Second,
	}
}

func (m *Middleware) RegisterComponent(name string, check ComponentCheck) *Middleware {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
	m.lastCheck = time.Time{}
	return m
}

func (m *Middleware) SetVersion(version string) *Middleware {
	m.version = version
	return m
}

func (m *Middleware) SetCacheTimeout(timeout time.Duration) *Middleware {
	m.cacheTimeout = timeout
	return m
}

// RedisCheck 以 PING 检查 Redis
func RedisCheck(cmd redis.Cmdable) ComponentCheck {
	return func(ctx context.Context) error {
		return cmd.Ping(ctx).Err()
	}
}

// DBCheck 以 PingContext 检查数据库
func DBCheck(db *sql.DB) ComponentCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// MemoryCheck 在堆内存超过 maxAlloc 字节或协程数超过 maxGoroutines 时报告 DOWN，
// 0 表示不检查对应项
func MemoryCheck(maxAlloc uint64, maxGoroutines int) ComponentCheck {
	return func(ctx context.Context) error {
		if maxGoroutines > 0 {
			if n := runtime.NumGoroutine(); n > maxGoroutines {
				return fmt.Errorf("goroutines %d > %d", n, maxGoroutines)
			}
		}
		if maxAlloc == 0 {
			return nil
		}
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		if stats.Alloc > maxAlloc {
			return fmt.Errorf("heap alloc %d > %d", stats.Alloc, maxAlloc)
		}
		return nil
	}
}

func (m *Middleware) check(ctx context.Context) HealthResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.cacheTimeout {
		return m.cached
	}
	res := HealthResponse{
		Status:     StatusUp,
		Components: make(map[string]ComponentStatus, len(m.components)),
		Timestamp:  time.Now(),
		Version:    m.version,
	}
	for name, check := range m.components {
		cctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			res.Status = StatusDown
			res.Components[name] = ComponentStatus{Status: StatusDown, Error: err.Error()}
			continue
		}
		res.Components[name] = ComponentStatus{Status: StatusUp}
	}
	m.cached = res
	m.lastCheck = time.Now()
	return res
}

func (m *Middleware) Build() polyel.Wrapper {
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			if ctx.Request.Method != http.MethodGet && ctx.Request.Method != http.MethodHead {
				next(ctx)
				return
			}
			var resp HealthResponse
			switch ctx.Request.URL.Path {
			case m.path:
				resp = m.check(ctx.Request.Context())
			case m.path + "/liveness":
				resp = HealthResponse{Status: StatusUp, Timestamp: time.Now(), Version: m.version}
			default:
				next(ctx)
				return
			}
			code := http.StatusOK
			if resp.Status != StatusUp {
				code = http.StatusServiceUnavailable
			}
			if err := ctx.RespJSON(code, resp); err != nil {
				ctx.AbortWithStatus(http.StatusInternalServerError)
			}
		}
	}
}
