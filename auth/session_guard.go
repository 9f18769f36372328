package auth

import (
	"errors"
	"net/http"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
	"github.com/dormoron/polyel/session"
)

const (
	// KeyAuthID 是会话中保存已登录用户 id 的键
	KeyAuthID = "auth_id"
	// ctxUserKey 是当前用户在 Context.Keys 中的缓存键
	ctxUserKey = "_polyel_auth_user"
)

var _ Guard = &SessionGuard{}

// SessionGuard 通过会话保持登录状态，用于 web 路由
type SessionGuard struct {
	sessions *session.Manager
	provider UserProvider
	hasher   Hasher
}

func NewSessionGuard(sessions *session.Manager, provider UserProvider, hasher Hasher) *SessionGuard {
	if hasher == nil {
		hasher = MultiHasher{}
	}
	return &SessionGuard{sessions: sessions, provider: provider, hasher: hasher}
}

func (g *SessionGuard) Check(ctx *polyel.Context) (bool, error) {
	_, err := g.User(ctx)
	if err == nil {
		return true, nil
	}
	if errs.IsUserNotFound(err) {
		return false, nil
	}
	return false, err
}

func (g *SessionGuard) User(ctx *polyel.Context) (User, error) {
	if u, ok := ctx.Get(ctxUserKey); ok {
		return u.(User), nil
	}
	sess, err := g.sessions.GetSession(ctx)
	switch {
	case err == nil:
	case errors.Is(err, http.ErrNoCookie) || errs.IsSessionNotFound(err):
		// 没有会话视为未登录
		return nil, errs.ErrUserNotFound()
	default:
		return nil, err
	}
	id, err := sess.Get(ctx.Request.Context(), KeyAuthID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errs.ErrUserNotFound()
	}
	u, err := g.provider.RetrieveByID(ctx.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	ctx.Set(ctxUserKey, u)
	return u, nil
}

// Validate 校验凭据但不登录
func (g *SessionGuard) Validate(ctx *polyel.Context, creds Credentials) (User, error) {
	u, err := g.provider.RetrieveByCredentials(ctx.Request.Context(), creds)
	if err != nil {
		if errs.IsUserNotFound(err) {
			return nil, errs.ErrInvalidCredentials()
		}
		return nil, err
	}
	if err = g.hasher.Check(creds[FieldPassword], u.AuthPassword()); err != nil {
		if errs.IsPasswordMismatch(err) {
			return nil, errs.ErrInvalidCredentials()
		}
		return nil, err
	}
	return u, nil
}

// Attempt 校验凭据，成功则登录。凭据无效时返回 false 与 nil。
func (g *SessionGuard) Attempt(ctx *polyel.Context, creds Credentials) (bool, error) {
	u, err := g.Validate(ctx, creds)
	if err != nil {
		if errs.IsInvalidCredentials(err) {
			return false, nil
		}
		return false, err
	}
	return true, g.Login(ctx, u)
}

// Login 更换会话 id 并记录用户
func (g *SessionGuard) Login(ctx *polyel.Context, u User) error {
	sess, err := g.sessions.Regenerate(ctx)
	if err != nil {
		return err
	}
	if err = sess.Set(ctx.Request.Context(), KeyAuthID, u.AuthID()); err != nil {
		return err
	}
	ctx.Set(ctxUserKey, u)
	return nil
}

// Logout 清除登录状态并更换会话 id
func (g *SessionGuard) Logout(ctx *polyel.Context) error {
	ctx.Delete(ctxUserKey)
	sess, err := g.sessions.GetSession(ctx)
	if err != nil {
		return nil
	}
	if err = sess.Delete(ctx.Request.Context(), KeyAuthID); err != nil {
		return err
	}
	_, err = g.sessions.Regenerate(ctx)
	return err
}
