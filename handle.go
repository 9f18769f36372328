package polyel

import (
	"strings"
)

// HandleFunc 是路由动作（控制器方法或闭包）的函数签名。
//
// 返回的 Response 成为本次请求的暂定响应，after 中间件可以覆盖它；
// 返回的 error 表示运行时失败（例如依赖无法解析），会终止当前请求并得到 500 响应，
// 不影响其它并发请求。
//
// 示例:
//
//	func Show(ctx *polyel.Context) (polyel.Response, error) {
//	  id := ctx.Param("id").String()
//	  return polyel.Text(http.StatusOK, "user "+id), nil
//	}
type HandleFunc func(ctx *Context) (Response, error)

// RouteType 区分普通网页路由与 API 路由
type RouteType uint8

const (
	RouteTypeWeb RouteType = iota
	RouteTypeAPI
)

func (t RouteType) String() string {
	if t == RouteTypeAPI {
		return "api"
	}
	return "web"
}

// Action 描述路由绑定的动作：控制器名加动作名，或者一个闭包
type Action struct {
	Controller string
	Method     string
	Handler    HandleFunc
}

// IsClosure 报告动作是否是闭包
func (a Action) IsClosure() bool {
	return a.Handler != nil
}

func (a Action) String() string {
	if a.IsClosure() {
		return "Closure"
	}
	return a.Controller + "@" + a.Method
}

// parseAction 接受 "Controller@method" 字符串、HandleFunc 或 Action
func parseAction(v any) (Action, bool) {
	switch a := v.(type) {
	case string:
		ctrl, method, ok := strings.Cut(a, "@")
		if !ok || ctrl == "" || method == "" || strings.Contains(method, "@") {
			return Action{}, false
		}
		return Action{Controller: ctrl, Method: method}, true
	case HandleFunc:
		if a == nil {
			return Action{}, false
		}
		return Action{Handler: a}, true
	case func(ctx *Context) (Response, error):
		if a == nil {
			return Action{}, false
		}
		return Action{Handler: a}, true
	case Action:
		if a.Handler == nil && (a.Controller == "" || a.Method == "") {
			return Action{}, false
		}
		return a, true
	}
	return Action{}, false
}
