package auth

import (
	"sync"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
)

// Guard 的常用名称
const (
	GuardSession = "session"
	GuardToken   = "token"
)

// Manager 按名称管理 Guard。注册到容器后由认证中间件解析使用。
type Manager struct {
	mu     sync.RWMutex
	guards map[string]Guard
	def    string
}

// NewManager 创建 Manager，def 是默认 Guard 的名称
func NewManager(def string) *Manager {
	return &Manager{guards: make(map[string]Guard, 2), def: def}
}

func (m *Manager) Extend(name string, g Guard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guards[name] = g
}

// Guard 返回指定名称的 Guard，name 为空时返回默认 Guard
func (m *Manager) Guard(name string) (Guard, error) {
	if name == "" {
		name = m.def
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guards[name]
	if !ok {
		return nil, errs.ErrGuardNotFound(name)
	}
	return g, nil
}

// Check 使用默认 Guard
func (m *Manager) Check(ctx *polyel.Context) (bool, error) {
	g, err := m.Guard("")
	if err != nil {
		return false, err
	}
	return g.Check(ctx)
}

// User 使用默认 Guard
func (m *Manager) User(ctx *polyel.Context) (User, error) {
	g, err := m.Guard("")
	if err != nil {
		return nil, err
	}
	return g.User(ctx)
}
