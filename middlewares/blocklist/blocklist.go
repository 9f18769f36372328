// Package blocklist 在连续认证失败后暂时封禁客户端 IP
package blocklist

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
)

type record struct {
	failures     int
	blockedUntil time.Time
}

// Manager 记录每个 IP 的失败次数，记录在 recordExpiry 内没有新的失败时过期
type Manager struct {
	mu           sync.Mutex
	records      *cache.Cache
	maxAttempts  int
	blockFor     time.Duration
	recordExpiry time.Duration
	whitelist    map[string]struct{}
	log          *zap.Logger
}

type Option func(m *Manager)

// WithMaxFailedAttempts 0 表示不封禁
func WithMaxFailedAttempts(n int) Option {
	return func(m *Manager) {
		m.maxAttempts = n
	}
}

func WithBlockDuration(d time.Duration) Option {
	return func(m *Manager) {
		m.blockFor = d
	}
}

func WithRecordExpiry(d time.Duration) Option {
	return func(m *Manager) {
		m.recordExpiry = d
	}
}

func WithWhitelistIPs(ips ...string) Option {
	return func(m *Manager) {
		for _, ip := range ips {
			m.whitelist[ip] = struct{}{}
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager 默认 5 次失败后封禁 15 分钟
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		maxAttempts:  5,
		blockFor:     15 * time.Minute,
		recordExpiry: time.Hour,
		whitelist:    make(map[string]struct{}),
		log:          polyel.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.records = cache.New(m.recordExpiry, 5*time.Minute)
	return m
}

func (m *Manager) skip(ip string) bool {
	if m.maxAttempts <= 0 || ip == "" {
		return true
	}
	_, ok := m.whitelist[ip]
	return ok
}

func (m *Manager) get(ip string) *record {
	if val, ok := m.records.Get(ip); ok {
		return val.(*record)
	}
	return &record{}
}

// RecordFailure 记录一次失败，返回 IP 是否因此被封禁
func (m *Manager) RecordFailure(ip string) bool {
	if m.skip(ip) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	rec := m.get(ip)
	if rec.blockedUntil.After(now) {
		return true
	}
	rec.failures++
	expiry := m.recordExpiry
	if rec.failures >= m.maxAttempts {
		rec.blockedUntil = now.Add(m.blockFor)
		rec.failures = 0
		if m.blockFor > expiry {
			expiry = m.blockFor
		}
		m.log.Warn("blocklist: 封禁 IP", zap.String("ip", ip), zap.Duration("duration", m.blockFor))
	}
	m.records.Set(ip, rec, expiry)
	return rec.blockedUntil.After(now)
}

// RecordSuccess 清除失败记录，不会解除已经生效的封禁
func (m *Manager) RecordSuccess(ip string) {
	if m.skip(ip) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.get(ip)
	if rec.blockedUntil.After(time.Now()) {
		return
	}
	m.records.Delete(ip)
}

// Blocked 返回 IP 是否被封禁以及剩余时间
func (m *Manager) Blocked(ip string) (bool, time.Duration) {
	if m.skip(ip) {
		return false, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	left := time.Until(m.get(ip).blockedUntil)
	if left <= 0 {
		return false, 0
	}
	return true, left
}

// BlockIP 手动封禁
func (m *Manager) BlockIP(ip string, d time.Duration) {
	if _, ok := m.whitelist[ip]; ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records.Set(ip, &record{blockedUntil: time.Now().Add(d)}, max(d, m.recordExpiry))
}

func (m *Manager) UnblockIP(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records.Delete(ip)
}

// Build 返回拒绝被封禁 IP 的 before 中间件，响应 429 与 Retry-After
func (m *Manager) Build() polyel.Middleware {
	return polyel.BeforeFunc(func(ctx *polyel.Context) (polyel.Response, error) {
		blocked, left := m.Blocked(ctx.ClientIP())
		if !blocked {
			return nil, nil
		}
		ctx.Header("Retry-After", strconv.Itoa(int(left.Seconds())+1))
		if ctx.WantsJSON() {
			return polyel.JSON(http.StatusTooManyRequests,
				errs.NewErrorFromStatus(http.StatusTooManyRequests, "too many failed attempts")), nil
		}
		return polyel.Text(http.StatusTooManyRequests, "Too many failed attempts, please try again later"), nil
	})
}
