package polyel

// SessionHandler 是路由层依赖的会话协作方。
//
// Start 在 web 路由匹配成功后、中间件执行之前调用（404 时同样调用）：
// 恢复或创建会话、闪存提交的表单输入、签发 CSRF 令牌并排队 XSRF cookie。
// Finish 在管道结束后调用，负责记录 previousUrl 并持久化会话。
// API 路由不会调用二者。
type SessionHandler interface {
	Start(ctx *Context) error
	Finish(ctx *Context) error
}

// CtxSessionKey 是会话在 Context.UserValues 中的键
const CtxSessionKey = "_polyel_session"
