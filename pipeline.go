package polyel

// PipelineState 是一次请求在调度管道中所处的阶段
type PipelineState uint8

const (
	StateNotStarted PipelineState = iota
	StateRunningBefore
	StateRunningAction
	StateRunningAfter
	StateComplete
	StateAborted
)

func (s PipelineState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunningBefore:
		return "running_before"
	case StateRunningAction:
		return "running_action"
	case StateRunningAfter:
		return "running_after"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// pipeline 保存 Boot 时解析好的全局中间件，按类型拆成 before 与 after 两个栈
type pipeline struct {
	globalBefore []Middleware
	globalAfter  []Middleware
}

func splitByType(mdls []Middleware) (before, after []Middleware) {
	for _, m := range mdls {
		switch m.Type() {
		case MiddlewareBefore:
			before = append(before, m)
		case MiddlewareAfter:
			after = append(after, m)
		}
	}
	return
}

// run 执行一次调度：全局 before、路由 before、动作、全局 after、路由 after。
//
// before 中间件返回响应时直接进入 Aborted，动作和 after 栈都不会执行；
// 动作的响应先写入上下文，after 中间件可以读取它，
// 第一个返回响应的 after 中间件覆盖动作的响应，其余 after 中间件不再执行。
// 任何阶段返回的错误都会终止管道并交给服务器转换成 500。
func (p *pipeline) run(ctx *Context, route *Route) error {
	ctx.state = StateRunningBefore
	for _, stack := range [2][]Middleware{p.globalBefore, route.before} {
		for _, m := range stack {
			// 类型不符的中间件跳过，正常情况下 Boot 的拆分保证不会发生
			if m.Type() != MiddlewareBefore {
				continue
			}
			resp, err := m.Process(ctx)
			if err != nil {
				ctx.state = StateAborted
				return err
			}
			if resp != nil {
				ctx.state = StateAborted
				return resp.Apply(ctx)
			}
			if ctx.state == StateAborted {
				return nil
			}
		}
	}

	ctx.state = StateRunningAction
	resp, err := route.handler(ctx)
	if err != nil {
		ctx.state = StateAborted
		return err
	}
	if resp != nil {
		if err = resp.Apply(ctx); err != nil {
			ctx.state = StateAborted
			return err
		}
	}
	if ctx.state == StateAborted {
		return nil
	}

	ctx.state = StateRunningAfter
	for _, stack := range [2][]Middleware{p.globalAfter, route.after} {
		for _, m := range stack {
			if m.Type() != MiddlewareAfter {
				continue
			}
			resp, err = m.Process(ctx)
			if err != nil {
				ctx.state = StateAborted
				return err
			}
			if resp != nil {
				ctx.state = StateComplete
				return resp.Apply(ctx)
			}
		}
	}
	ctx.state = StateComplete
	return nil
}
