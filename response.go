package polyel

import (
	"encoding/json"
	"net/http"

	"github.com/dormoron/polyel/internal/errs"
)

// Response 是动作或中间件产生的响应，负责把自身写入上下文的输出状态。
// 真正写回客户端发生在整个管道结束之后。
type Response interface {
	Apply(ctx *Context) error
}

// ResponseFunc 把普通函数适配成 Response
type ResponseFunc func(ctx *Context) error

func (f ResponseFunc) Apply(ctx *Context) error {
	return f(ctx)
}

// Text 以纯文本响应
func Text(status int, body string) Response {
	return ResponseFunc(func(ctx *Context) error {
		ctx.Header("Content-Type", "text/plain; charset=utf-8")
		ctx.RespStatusCode = status
		ctx.RespData = []byte(body)
		return nil
	})
}

// HTML 以 HTML 片段响应
func HTML(status int, body string) Response {
	return ResponseFunc(func(ctx *Context) error {
		ctx.Header("Content-Type", "text/html; charset=utf-8")
		ctx.RespStatusCode = status
		ctx.RespData = []byte(body)
		return nil
	})
}

// JSON 把 val 序列化为 JSON 响应
func JSON(status int, val any) Response {
	return ResponseFunc(func(ctx *Context) error {
		return ctx.RespJSON(status, val)
	})
}

// View 使用模板引擎渲染 name 视图
func View(status int, name string, data any) Response {
	return ResponseFunc(func(ctx *Context) error {
		if err := ctx.Render(name, data); err != nil {
			return err
		}
		ctx.RespStatusCode = status
		return nil
	})
}

// Redirect 产生一个重定向响应，status 为 0 时使用 302
func Redirect(url string, status int) Response {
	if status == 0 {
		status = http.StatusFound
	}
	return ResponseFunc(func(ctx *Context) error {
		ctx.Header("Location", url)
		ctx.RespStatusCode = status
		ctx.RespData = nil
		ctx.redirect = url
		return nil
	})
}

// Status 只设置状态码，不改变响应体
func Status(code int) Response {
	return ResponseFunc(func(ctx *Context) error {
		ctx.RespStatusCode = code
		return nil
	})
}

// RespJSON 序列化 val 并写入上下文的输出状态
func (c *Context) RespJSON(status int, val any) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.Header("Content-Type", "application/json")
	c.RespData = data
	c.RespStatusCode = status
	return nil
}

// RespJSONOK 以 200 状态码响应 JSON
func (c *Context) RespJSONOK(val any) error {
	return c.RespJSON(http.StatusOK, val)
}

// HTTPError 返回一个带状态码的错误。动作或中间件返回它时，请求以该状态码结束，
// 错误页面或 JSON 错误体按路由类型生成。
func HTTPError(code int, msg string) error {
	return errs.NewErrorFromStatus(code, msg)
}
