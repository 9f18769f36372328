package polyel

// node 是路由树的一层。
//
// 字面量子节点保存在 children 中，参数子节点单独保存在 paramChild 中，
// 因此匹配时总是先尝试字面量再回退到参数：静态路由优先于参数路由。
// 每一层最多只有一个参数分支。
type node struct {
	// segment 是模式中的原始段，参数段保留花括号
	segment string

	children   map[string]*node
	paramChild *node
	paramName  string

	// route 只在叶子（注册过动作的节点）上非空
	route *Route
}

func newNode(segment string) *node {
	return &node{segment: segment}
}

// isParamSegment 判断路由模式中的一段是否是 {name} 形式的参数
func isParamSegment(seg string) bool {
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}

// childOrCreate 把一段合并进当前层，已有的兄弟分支保持不变
func (n *node) childOrCreate(seg string) (*node, *node) {
	if isParamSegment(seg) {
		name := seg[1 : len(seg)-1]
		if n.paramChild != nil {
			if n.paramChild.paramName != name {
				// 返回冲突的节点，由调用方构造错误
				return nil, n.paramChild
			}
			return n.paramChild, nil
		}
		n.paramChild = &node{segment: seg, paramName: name}
		return n.paramChild, nil
	}

	if n.children == nil {
		n.children = make(map[string]*node)
	}
	child, ok := n.children[seg]
	if !ok {
		child = newNode(seg)
		n.children[seg] = child
	}
	return child, nil
}

// match 在当前层匹配 segs[0]：存在字面量分支时只走字面量分支，
// 没有字面量分支时才回退到参数分支，不跨层回溯
func (n *node) match(segs []string, mi *MatchResult) (*node, bool) {
	if len(segs) == 0 {
		if n.route != nil {
			return n, true
		}
		return nil, false
	}

	seg := segs[0]
	if child, ok := n.children[seg]; ok {
		return child.match(segs[1:], mi)
	}

	// 空段永远不会绑定到参数，"//admin" 这类路径不会被纠正成合法路由
	if n.paramChild != nil && seg != "" {
		mi.addValue(n.paramChild.paramName, seg)
		return n.paramChild.match(segs[1:], mi)
	}
	return nil, false
}
