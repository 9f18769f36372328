package polyel

import (
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"
)

// matchCache 缓存 (方法, 请求路径) 到匹配结果的映射，只缓存命中的结果，
// 未命中的路径不占用容量
type matchCache struct {
	entries *lru.Cache
	hits    *atomic.Uint64
	misses  *atomic.Uint64
}

func newMatchCache(size int) (*matchCache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &matchCache{
		entries: entries,
		hits:    atomic.NewUint64(0),
		misses:  atomic.NewUint64(0),
	}, nil
}

func cacheKey(method, path string) string {
	return method + " " + path
}

// get 返回缓存结果的副本，调用方可以随意修改参数
func (c *matchCache) get(method, path string) (*MatchResult, bool) {
	val, ok := c.entries.Get(cacheKey(method, path))
	if !ok {
		c.misses.Inc()
		return nil, false
	}
	c.hits.Inc()
	mi := val.(*MatchResult)
	return &MatchResult{
		Route:  mi.Route,
		URL:    mi.URL,
		Params: append(Params(nil), mi.Params...),
	}, true
}

func (c *matchCache) add(method, path string, mi *MatchResult) {
	c.entries.Add(cacheKey(method, path), &MatchResult{
		Route:  mi.Route,
		URL:    mi.URL,
		Params: append(Params(nil), mi.Params...),
	})
}

func (c *matchCache) purge() {
	c.entries.Purge()
}

func (c *matchCache) stats() (hits, misses uint64, size int) {
	return c.hits.Load(), c.misses.Load(), c.entries.Len()
}
