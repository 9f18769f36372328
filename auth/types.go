package auth

import (
	"context"

	"github.com/dormoron/polyel"
)

// 常用的用户字段
const (
	FieldID       = "id"
	FieldPassword = "password"
)

// User 是被认证的主体
type User interface {
	AuthID() string
	// AuthPassword 返回保存的密码哈希
	AuthPassword() string
}

// Credentials 是登录时提交的凭据，password 之外的字段都作为查找条件
type Credentials map[string]string

// UserProvider 负责按 id 或凭据查找用户。找不到时返回 errs.ErrUserNotFound。
type UserProvider interface {
	RetrieveByID(ctx context.Context, id string) (User, error)
	RetrieveByCredentials(ctx context.Context, creds Credentials) (User, error)
}

// Guard 判定一次请求是否已认证
type Guard interface {
	// Check 已认证返回 true。用户不存在或凭据无效不算错误。
	Check(ctx *polyel.Context) (bool, error)
	// User 返回当前用户，未认证时返回 errs.ErrUserNotFound
	User(ctx *polyel.Context) (User, error)
}

// Outcomes 是认证与授权中间件的四种结局，返回 nil 表示继续执行
type Outcomes interface {
	Unauthenticated(ctx *polyel.Context) (polyel.Response, error)
	Authenticated(ctx *polyel.Context) (polyel.Response, error)
	Unauthorized(ctx *polyel.Context) (polyel.Response, error)
	Authorized(ctx *polyel.Context) (polyel.Response, error)
}

// GenericUser 以字段表保存用户，数据库查询得到的行直接映射为 GenericUser
type GenericUser map[string]string

func (u GenericUser) AuthID() string {
	return u[FieldID]
}

func (u GenericUser) AuthPassword() string {
	return u[FieldPassword]
}

func (u GenericUser) Get(field string) string {
	return u[field]
}
