package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
)

// 会话中由框架维护的键
const (
	KeyOld         = "old"
	KeyCSRFToken   = "csrf_token"
	KeyPreviousURL = "previousUrl"
)

var _ polyel.SessionHandler = &Manager{}

// Manager 组合 Store 与 Propagator，实现路由层的会话协作方
type Manager struct {
	Store
	Propagator
	// CtxSessionKey 是会话在 Context.UserValues 中的键
	CtxSessionKey string

	config Config
	log    *zap.Logger
}

type ManagerOption func(m *Manager)

// ManagerWithLogger 设置日志
func ManagerWithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

func NewManager(store Store, propagator Propagator, config Config, opts ...ManagerOption) *Manager {
	res := &Manager{
		Store:         store,
		Propagator:    propagator,
		CtxSessionKey: polyel.CtxSessionKey,
		config:        config,
		log:           polyel.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Config 返回会话配置
func (m *Manager) Config() Config {
	return m.config
}

// GetSession 返回当前请求的会话，先查上下文缓存，再按请求中的 id 查 Store
func (m *Manager) GetSession(ctx *polyel.Context) (Session, error) {
	if ctx.UserValues == nil {
		ctx.UserValues = make(map[string]any, 1)
	}
	if val, ok := ctx.UserValues[m.CtxSessionKey]; ok {
		return val.(Session), nil
	}

	sessID, err := m.Propagator.Extract(ctx.Request)
	if err != nil {
		return nil, err
	}
	sess, err := m.Store.Get(ctx.Request.Context(), sessID)
	if err != nil {
		return nil, err
	}
	ctx.UserValues[m.CtxSessionKey] = sess
	return sess, nil
}

// InitSession 创建新会话并把 id 排队写入响应
func (m *Manager) InitSession(ctx *polyel.Context) (Session, error) {
	id := uuid.New().String()
	sess, err := m.Generate(ctx.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if ctx.UserValues == nil {
		ctx.UserValues = make(map[string]any, 1)
	}
	ctx.UserValues[m.CtxSessionKey] = sess
	return sess, m.Inject(id, ctx)
}

// RefreshSession 续期当前会话
func (m *Manager) RefreshSession(ctx *polyel.Context) error {
	sess, err := m.GetSession(ctx)
	if err != nil {
		return err
	}
	return m.Refresh(ctx.Request.Context(), sess.ID())
}

// RemoveSession 删除当前会话并让客户端丢弃 id
func (m *Manager) RemoveSession(ctx *polyel.Context) error {
	sess, err := m.GetSession(ctx)
	if err != nil {
		return err
	}
	if err = m.Store.Remove(ctx.Request.Context(), sess.ID()); err != nil {
		return err
	}
	delete(ctx.UserValues, m.CtxSessionKey)
	return m.Propagator.Remove(ctx)
}

// Regenerate 用新的 id 替换当前会话并复制框架维护的键，登录后调用以防止会话固定
func (m *Manager) Regenerate(ctx *polyel.Context) (Session, error) {
	old, err := m.GetSession(ctx)
	if err != nil {
		return m.InitSession(ctx)
	}
	reqCtx := ctx.Request.Context()
	delete(ctx.UserValues, m.CtxSessionKey)
	sess, err := m.InitSession(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{KeyCSRFToken, KeyPreviousURL} {
		val, err := old.Get(reqCtx, key)
		if err != nil {
			return nil, err
		}
		if val != "" {
			if err = sess.Set(reqCtx, key, val); err != nil {
				return nil, err
			}
		}
	}
	return sess, m.Store.Remove(reqCtx, old.ID())
}

// Start 恢复或创建会话，闪存本次提交的数据，并在缺少 CSRF 令牌时签发令牌
func (m *Manager) Start(ctx *polyel.Context) error {
	if !m.config.Active {
		return nil
	}
	sess, err := m.GetSession(ctx)
	switch {
	case err == nil:
		if err = m.Refresh(ctx.Request.Context(), sess.ID()); err != nil {
			return err
		}
	case errors.Is(err, http.ErrNoCookie) || errs.IsSessionNotFound(err):
		if sess, err = m.InitSession(ctx); err != nil {
			return err
		}
	default:
		return err
	}

	if old := requestData(ctx.Request); len(old) > 0 {
		data, err := json.Marshal(old)
		if err != nil {
			return err
		}
		if err = sess.Set(ctx.Request.Context(), KeyOld, string(data)); err != nil {
			return err
		}
	}

	token, created, err := m.createCSRFToken(ctx, sess)
	if err != nil {
		return err
	}
	if created {
		ctx.SetCookie(m.xsrfCookie(token))
	}
	return nil
}

// Finish 记录本次访问的地址，404 不会覆盖上一次的地址
func (m *Manager) Finish(ctx *polyel.Context) error {
	if !m.config.Active || ctx.MatchedRoute == "" {
		return nil
	}
	sess, err := m.GetSession(ctx)
	if err != nil {
		return err
	}
	return sess.Set(ctx.Request.Context(), KeyPreviousURL, ctx.Request.URL.RequestURI())
}

// CSRFToken 返回当前会话中的 CSRF 令牌
func (m *Manager) CSRFToken(ctx *polyel.Context) (string, error) {
	sess, err := m.GetSession(ctx)
	if err != nil {
		return "", err
	}
	return sess.Get(ctx.Request.Context(), KeyCSRFToken)
}

// Old 返回上一次请求闪存的表单数据
func (m *Manager) Old(ctx *polyel.Context) (url.Values, error) {
	sess, err := m.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := sess.Get(ctx.Request.Context(), KeyOld)
	if err != nil || raw == "" {
		return nil, err
	}
	var res url.Values
	err = json.Unmarshal([]byte(raw), &res)
	return res, err
}

// createCSRFToken 会话中已有令牌时返回 created=false，cookie 只在新建令牌时排队
func (m *Manager) createCSRFToken(ctx *polyel.Context, sess Session) (string, bool, error) {
	token, err := sess.Get(ctx.Request.Context(), KeyCSRFToken)
	if err != nil {
		return "", false, err
	}
	if token != "" {
		return token, false, nil
	}
	token, err = newToken()
	if err != nil {
		return "", false, err
	}
	if err = sess.Set(ctx.Request.Context(), KeyCSRFToken, token); err != nil {
		return "", false, err
	}
	m.log.Debug("session: 签发 CSRF 令牌", zap.String("session", sess.ID()))
	return token, true, nil
}

// xsrfCookie 与会话同寿命，JS 需要读取它来设置 X-XSRF-TOKEN 头
func (m *Manager) xsrfCookie(token string) *http.Cookie {
	ck := &http.Cookie{
		Name:     m.config.XSRFCookieName,
		Value:    token,
		Path:     m.config.CookiePath,
		Domain:   m.config.Domain,
		Secure:   m.config.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	}
	if m.config.Lifetime > 0 {
		ck.MaxAge = m.config.Lifetime * 60
	}
	return ck
}

func newToken() (string, error) {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// requestData 返回请求提交的表单数据，不包含查询参数与方法伪装字段
func requestData(req *http.Request) url.Values {
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return nil
	}
	if err := req.ParseForm(); err != nil {
		return nil
	}
	res := make(url.Values, len(req.PostForm))
	for k, v := range req.PostForm {
		if k == polyel.MethodField || k == KeyCSRFToken {
			continue
		}
		res[k] = v
	}
	return res
}
