package polyel

// Param 是一次匹配中捕获的单个路由参数
type Param struct {
	Key   string
	Value string
}

// Params 按路由模式中的声明顺序保存捕获的参数
type Params []Param

// Get 返回名为 key 的参数值
func (ps Params) Get(key string) (string, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Values 按声明顺序返回参数值，用于按位置传递给动作
func (ps Params) Values() []string {
	res := make([]string, len(ps))
	for i, p := range ps {
		res[i] = p.Value
	}
	return res
}

// Map 把参数转换成 map，丢失顺序信息
func (ps Params) Map() map[string]string {
	res := make(map[string]string, len(ps))
	for _, p := range ps {
		res[p.Key] = p.Value
	}
	return res
}

// MatchResult 是一次路由匹配的结果，在请求结束后丢弃。
//
// URL 是重新生成的规范路由模式（例如 "/users/{id}"），用来定位该路由登记的中间件；
// Params 按声明顺序保存捕获到的参数值。
type MatchResult struct {
	Route  *Route
	URL    string
	Params Params
}

// Action 返回匹配到的动作描述
func (m *MatchResult) Action() Action {
	return m.Route.Action
}

// addValue 追加一个捕获到的参数
func (m *MatchResult) addValue(key string, value string) {
	m.Params = append(m.Params, Param{Key: key, Value: value})
}
