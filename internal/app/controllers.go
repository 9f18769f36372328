package app

import (
	"html/template"
	"net/http"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/auth"
	"github.com/dormoron/polyel/internal/errs"
	"github.com/dormoron/polyel/middlewares/blocklist"
	"github.com/dormoron/polyel/middlewares/csrf"
	"github.com/dormoron/polyel/session"
	"github.com/dormoron/polyel/validation"
)

type HomeController struct{}

func (h *HomeController) Actions() map[string]polyel.HandleFunc {
	return map[string]polyel.HandleFunc{
		"index":     h.index,
		"dashboard": polyel.Inject2(h.dashboard),
		"me":        polyel.Inject(h.me),
	}
}

func (h *HomeController) index(ctx *polyel.Context) (polyel.Response, error) {
	return polyel.View(http.StatusOK, "home:view", map[string]any{"Version": Version}), nil
}

func (h *HomeController) dashboard(ctx *polyel.Context, m *auth.Manager, sessions *session.Manager) (polyel.Response, error) {
	g, err := m.Guard(auth.GuardSession)
	if err != nil {
		return nil, err
	}
	u, err := g.User(ctx)
	if err != nil {
		return nil, err
	}
	field, err := csrfField(ctx, sessions)
	if err != nil {
		return nil, err
	}
	return polyel.View(http.StatusOK, "dashboard:view", map[string]any{
		"User":      u.AuthID(),
		"CSRFField": field,
	}), nil
}

func (h *HomeController) me(ctx *polyel.Context, m *auth.Manager) (polyel.Response, error) {
	g, err := m.Guard(auth.GuardToken)
	if err != nil {
		return nil, err
	}
	u, err := g.User(ctx)
	if err != nil {
		return nil, err
	}
	res := map[string]any{"id": u.AuthID()}
	if clm, ok := auth.ClaimsFrom(ctx); ok && clm.ExpiresAt != nil {
		res["expires_at"] = clm.ExpiresAt.Time
	}
	return polyel.JSON(http.StatusOK, res), nil
}

// AuthController 处理网页登录与 API 令牌签发
type AuthController struct {
	manager *auth.Manager
	lockout *blocklist.Manager
}

func NewAuthController(m *auth.Manager, lockout *blocklist.Manager) *AuthController {
	return &AuthController{manager: m, lockout: lockout}
}

// attempted 记录一次认证的结果，失败次数过多的 IP 会被 Lockout 中间件拒绝
func (a *AuthController) attempted(ctx *polyel.Context, ok bool) {
	if ok {
		a.lockout.RecordSuccess(ctx.ClientIP())
		return
	}
	a.lockout.RecordFailure(ctx.ClientIP())
}

func (a *AuthController) Actions() map[string]polyel.HandleFunc {
	return map[string]polyel.HandleFunc{
		"showLogin": polyel.Inject(a.showLogin),
		"login":     a.login,
		"logout":    a.logout,
		"token":     a.token,
	}
}

func (a *AuthController) sessionGuard() (*auth.SessionGuard, error) {
	g, err := a.manager.Guard(auth.GuardSession)
	if err != nil {
		return nil, err
	}
	sg, ok := g.(*auth.SessionGuard)
	if !ok {
		return nil, errs.ErrGuardNotFound(auth.GuardSession)
	}
	return sg, nil
}

func (a *AuthController) showLogin(ctx *polyel.Context, sessions *session.Manager) (polyel.Response, error) {
	field, err := csrfField(ctx, sessions)
	if err != nil {
		return nil, err
	}
	old, err := sessions.Old(ctx)
	if err != nil {
		return nil, err
	}
	return polyel.View(http.StatusOK, "login:view", map[string]any{
		"CSRFField": field,
		"Email":     old.Get("email"),
	}), nil
}

var loginRules = map[string]string{
	"email":    "required|email",
	"password": "required",
}

func (a *AuthController) login(ctx *polyel.Context) (polyel.Response, error) {
	g, err := a.sessionGuard()
	if err != nil {
		return nil, err
	}
	if err = ctx.Request.ParseForm(); err != nil {
		return nil, err
	}
	if verrs := validation.ValidateValues(ctx.Request.PostForm, loginRules); verrs != nil {
		return polyel.Redirect("/login", http.StatusSeeOther), nil
	}
	ok, err := g.Attempt(ctx, auth.Credentials{
		"email":            ctx.FormValue("email").StringOrDefault(""),
		auth.FieldPassword: ctx.FormValue("password").StringOrDefault(""),
	})
	if err != nil {
		return nil, err
	}
	a.attempted(ctx, ok)
	if !ok {
		return polyel.Redirect("/login", http.StatusSeeOther), nil
	}
	return polyel.Redirect("/dashboard", http.StatusSeeOther), nil
}

func (a *AuthController) logout(ctx *polyel.Context) (polyel.Response, error) {
	g, err := a.sessionGuard()
	if err != nil {
		return nil, err
	}
	if err = g.Logout(ctx); err != nil {
		return nil, err
	}
	return polyel.Redirect("/", http.StatusSeeOther), nil
}

type tokenRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (a *AuthController) token(ctx *polyel.Context) (polyel.Response, error) {
	g, err := a.manager.Guard(auth.GuardToken)
	if err != nil {
		return nil, err
	}
	tg, ok := g.(*auth.TokenGuard)
	if !ok {
		return nil, errs.ErrGuardNotFound(auth.GuardToken)
	}
	var req tokenRequest
	if err = ctx.BindJSON(&req); err != nil {
		return polyel.JSON(http.StatusBadRequest, errs.NewErrorFromStatus(http.StatusBadRequest, "invalid request body")), nil
	}
	if verrs := validation.ValidateStruct(req); verrs != nil {
		return polyel.JSON(http.StatusUnprocessableEntity, errs.NewValidationError(verrs)), nil
	}
	token, err := tg.IssueForCredentials(ctx, auth.Credentials{
		"email":            req.Email,
		auth.FieldPassword: req.Password,
	})
	if errs.IsInvalidCredentials(err) {
		a.attempted(ctx, false)
		return polyel.JSON(http.StatusUnauthorized, errs.NewAuthError("invalid credentials")), nil
	}
	if err != nil {
		return nil, err
	}
	a.attempted(ctx, true)
	return polyel.JSON(http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "Bearer",
	}), nil
}

func csrfField(ctx *polyel.Context, sessions *session.Manager) (template.HTML, error) {
	token, err := sessions.CSRFToken(ctx)
	if err != nil {
		return "", err
	}
	return csrf.Field(token), nil
}
