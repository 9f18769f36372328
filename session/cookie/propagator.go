package cookie

import (
	"net/http"

	"github.com/dormoron/polyel"
)

type PropagatorOptions func(p *Propagator)

// Propagator 通过 cookie 传递会话 id
type Propagator struct {
	cookieName   string
	cookieOption func(cookie *http.Cookie)
}

func InitPropagator(opts ...PropagatorOptions) *Propagator {
	res := &Propagator{
		cookieName:   "sessionId",
		cookieOption: func(cookie *http.Cookie) {},
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

func WithCookieName(name string) PropagatorOptions {
	return func(p *Propagator) {
		p.cookieName = name
	}
}

// WithCookieOption 在 cookie 写出前调整 Path、Domain、MaxAge 等属性
func WithCookieOption(opt func(c *http.Cookie)) PropagatorOptions {
	return func(p *Propagator) {
		p.cookieOption = opt
	}
}

func (p *Propagator) Inject(id string, ctx *polyel.Context) error {
	ck := &http.Cookie{
		Name:     p.cookieName,
		Value:    id,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	p.cookieOption(ck)
	ctx.SetCookie(ck)
	return nil
}

func (p *Propagator) Extract(req *http.Request) (string, error) {
	ck, err := req.Cookie(p.cookieName)
	if err != nil {
		return "", err
	}
	return ck.Value, nil
}

func (p *Propagator) Remove(ctx *polyel.Context) error {
	ck := &http.Cookie{
		Name:   p.cookieName,
		MaxAge: -1,
	}
	p.cookieOption(ck)
	ck.MaxAge = -1
	ctx.SetCookie(ck)
	return nil
}
