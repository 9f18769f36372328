package kit

// Set 是不含重复元素的集合
type Set[T comparable] interface {
	Add(key T)
	Delete(key T)
	Exist(key T) bool
	Keys() []T
}

// MapSet 基于 map 的 Set 实现，非并发安全
type MapSet[T comparable] struct {
	m map[T]struct{}
}

func InitMapSet[T comparable](size int, vals ...T) *MapSet[T] {
	s := &MapSet[T]{m: make(map[T]struct{}, size)}
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

func (s *MapSet[T]) Add(val T) {
	s.m[val] = struct{}{}
}

func (s *MapSet[T]) Delete(key T) {
	delete(s.m, key)
}

func (s *MapSet[T]) Exist(key T) bool {
	_, ok := s.m[key]
	return ok
}

// Keys 返回全部元素，顺序不固定
func (s *MapSet[T]) Keys() []T {
	ans := make([]T, 0, len(s.m))
	for key := range s.m {
		ans = append(ans, key)
	}
	return ans
}
