package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
	"github.com/dormoron/polyel/kit"
)

const bearerPrefix = "Bearer"

// ctxClaimsKey 是校验通过的 claims 在 Context.Keys 中的键
const ctxClaimsKey = "_polyel_auth_claims"

var _ Guard = &TokenGuard{}

// TokenOptions 是 JWT 签发参数
type TokenOptions struct {
	Expire        time.Duration
	EncryptionKey string
	// DecryptKey 默认与 EncryptionKey 相同
	DecryptKey string
	Method     jwt.SigningMethod
	Issuer     string
	genIDFn    func() string
}

func InitTokenOptions(expire time.Duration, encryptionKey string, opts ...kit.Option[TokenOptions]) TokenOptions {
	res := TokenOptions{
		Expire:        expire,
		EncryptionKey: encryptionKey,
		DecryptKey:    encryptionKey,
		Method:        jwt.SigningMethodHS256,
		genIDFn:       func() string { return uuid.NewString() },
	}
	kit.Apply(&res, opts...)
	return res
}

func WithDecryptKey(key string) kit.Option[TokenOptions] {
	return func(o *TokenOptions) {
		o.DecryptKey = key
	}
}

func WithMethod(method jwt.SigningMethod) kit.Option[TokenOptions] {
	return func(o *TokenOptions) {
		o.Method = method
	}
}

func WithIssuer(issuer string) kit.Option[TokenOptions] {
	return func(o *TokenOptions) {
		o.Issuer = issuer
	}
}

func WithGenIDFunc(fn func() string) kit.Option[TokenOptions] {
	return func(o *TokenOptions) {
		o.genIDFn = fn
	}
}

// Claims 用户 id 保存在 sub
type Claims struct {
	jwt.RegisteredClaims
}

// TokenGuard 以 Authorization: Bearer <jwt> 认证 API 请求
type TokenGuard struct {
	provider    UserProvider
	hasher      Hasher
	options     TokenOptions
	tokenHeader string
	nowFunc     func() time.Time
}

func WithTokenHeader(header string) kit.Option[TokenGuard] {
	return func(g *TokenGuard) {
		g.tokenHeader = header
	}
}

func WithNowFunc(fn func() time.Time) kit.Option[TokenGuard] {
	return func(g *TokenGuard) {
		g.nowFunc = fn
	}
}

func WithTokenHasher(h Hasher) kit.Option[TokenGuard] {
	return func(g *TokenGuard) {
		g.hasher = h
	}
}

func NewTokenGuard(provider UserProvider, options TokenOptions, opts ...kit.Option[TokenGuard]) *TokenGuard {
	res := &TokenGuard{
		provider:    provider,
		hasher:      MultiHasher{},
		options:     options,
		tokenHeader: "Authorization",
		nowFunc:     time.Now,
	}
	kit.Apply(res, opts...)
	return res
}

// Issue 为用户签发 access token
func (g *TokenGuard) Issue(u User) (string, error) {
	now := g.nowFunc()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.AuthID(),
			Issuer:    g.options.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.options.Expire)),
			ID:        g.options.genIDFn(),
		},
	}
	token := jwt.NewWithClaims(g.options.Method, claims)
	return token.SignedString([]byte(g.options.EncryptionKey))
}

// IssueForCredentials 校验凭据并签发 token，凭据无效返回 errs.ErrInvalidCredentials
func (g *TokenGuard) IssueForCredentials(ctx *polyel.Context, creds Credentials) (string, error) {
	u, err := g.provider.RetrieveByCredentials(ctx.Request.Context(), creds)
	if err != nil {
		if errs.IsUserNotFound(err) {
			return "", errs.ErrInvalidCredentials()
		}
		return "", err
	}
	if err = g.hasher.Check(creds[FieldPassword], u.AuthPassword()); err != nil {
		if errs.IsPasswordMismatch(err) {
			return "", errs.ErrInvalidCredentials()
		}
		return "", err
	}
	return g.Issue(u)
}

// Verify 校验 token 并返回 claims
func (g *TokenGuard) Verify(token string) (Claims, error) {
	t, err := jwt.ParseWithClaims(token, &Claims{},
		func(*jwt.Token) (interface{}, error) {
			return []byte(g.options.DecryptKey), nil
		},
		jwt.WithTimeFunc(g.nowFunc),
		jwt.WithValidMethods([]string{g.options.Method.Alg()}),
	)
	if err != nil || !t.Valid {
		return Claims{}, errs.ErrVerificationFailed(err)
	}
	clm, _ := t.Claims.(*Claims)
	return *clm, nil
}

func (g *TokenGuard) Check(ctx *polyel.Context) (bool, error) {
	_, err := g.User(ctx)
	if err == nil {
		return true, nil
	}
	if errs.IsUserNotFound(err) || errs.IsVerificationFailed(err) {
		return false, nil
	}
	return false, err
}

func (g *TokenGuard) User(ctx *polyel.Context) (User, error) {
	if u, ok := ctx.Get(ctxUserKey); ok {
		return u.(User), nil
	}
	tokenStr := g.extractTokenString(ctx)
	if tokenStr == "" {
		return nil, errs.ErrUserNotFound()
	}
	clm, err := g.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	u, err := g.provider.RetrieveByID(ctx.Request.Context(), clm.Subject)
	if err != nil {
		return nil, err
	}
	ctx.Set(ctxClaimsKey, clm)
	ctx.Set(ctxUserKey, u)
	return u, nil
}

// ClaimsFrom 返回本次请求已校验的 claims
func ClaimsFrom(ctx *polyel.Context) (Claims, bool) {
	val, ok := ctx.Get(ctxClaimsKey)
	if !ok {
		return Claims{}, false
	}
	clm, ok := val.(Claims)
	return clm, ok
}

func (g *TokenGuard) extractTokenString(ctx *polyel.Context) string {
	authCode := ctx.Request.Header.Get(g.tokenHeader)
	if authCode == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(bearerPrefix)
	b.WriteString(" ")
	prefix := b.String()
	if strings.HasPrefix(authCode, prefix) {
		return authCode[len(prefix):]
	}
	return ""
}
