package session

import (
	"context"
	"net/http"

	"github.com/dormoron/polyel"
)

// Store 管理会话的生命周期：创建、续期、删除与查找
type Store interface {
	// Generate 以 id 创建新的会话
	Generate(ctx context.Context, id string) (Session, error)
	// Refresh 续期会话，会话不存在时返回错误
	Refresh(ctx context.Context, id string) error
	// Remove 删除会话，会话不存在时不报错
	Remove(ctx context.Context, id string) error
	// Get 查找会话
	Get(ctx context.Context, id string) (Session, error)
}

// Session 是一次会话的数据。值以字符串保存，结构化数据由调用方编码。
type Session interface {
	// Get 读取 key，不存在时返回空字符串与 nil
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	ID() string
}

// Propagator 负责在请求与响应之间传递会话 id
type Propagator interface {
	// Inject 把会话 id 排队写入响应
	Inject(id string, ctx *polyel.Context) error
	// Extract 从请求中读取会话 id
	Extract(req *http.Request) (string, error)
	// Remove 让客户端丢弃会话 id
	Remove(ctx *polyel.Context) error
}
