package polyel

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// StaticOption 配置 Static
type StaticOption func(s *staticFiles)

type staticFiles struct {
	prefix  string
	fsys    fs.FS
	cache   *lru.Cache
	maxSize int
	maxAge  int
}

// StaticWithMaxFileSize 超过 maxSize 字节的文件不进入缓存
func StaticWithMaxFileSize(maxSize int) StaticOption {
	return func(s *staticFiles) {
		s.maxSize = maxSize
	}
}

// StaticWithCacheSize 设置缓存的文件个数，0 表示不缓存
func StaticWithCacheSize(size int) StaticOption {
	return func(s *staticFiles) {
		if size <= 0 {
			s.cache = nil
			return
		}
		s.cache, _ = lru.New(size)
	}
}

// StaticWithMaxAge 设置 Cache-Control 的 max-age，单位秒
func StaticWithMaxAge(seconds int) StaticOption {
	return func(s *staticFiles) {
		s.maxAge = seconds
	}
}

// Static 在路由之前以 prefix 为前缀提供 fsys 中的文件，只处理 GET 与 HEAD。
// 文件不存在时交给后续处理，因此静态文件与路由可以共用同一个前缀。
func Static(prefix string, fsys fs.FS, opts ...StaticOption) Wrapper {
	s := &staticFiles{
		prefix:  "/" + strings.Trim(prefix, "/"),
		fsys:    fsys,
		maxSize: 1 << 20,
	}
	s.cache, _ = lru.New(1000)
	for _, opt := range opts {
		opt(s)
	}
	return s.wrap
}

func (s *staticFiles) wrap(next ServeFunc) ServeFunc {
	return func(ctx *Context) {
		method := ctx.Request.Method
		if method != http.MethodGet && method != http.MethodHead {
			next(ctx)
			return
		}
		name, ok := s.fileName(ctx.Request.URL.Path)
		if !ok {
			next(ctx)
			return
		}
		data, err := s.read(name)
		if err != nil {
			next(ctx)
			return
		}
		header := ctx.ResponseWriter.Header()
		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			header.Set("Content-Type", ct)
		} else {
			header.Set("Content-Type", http.DetectContentType(data))
		}
		header.Set("Content-Length", strconv.Itoa(len(data)))
		if s.maxAge > 0 {
			header.Set("Cache-Control", "public, max-age="+strconv.Itoa(s.maxAge))
		}
		ctx.RespStatusCode = http.StatusOK
		if method == http.MethodGet {
			ctx.RespData = data
		}
	}
}

// fileName 把请求路径转成 fsys 中的文件名，path.Clean 去掉了 ..
func (s *staticFiles) fileName(reqPath string) (string, bool) {
	p := path.Clean("/" + reqPath)
	if s.prefix != "/" {
		if p != s.prefix && !strings.HasPrefix(p, s.prefix+"/") {
			return "", false
		}
		p = strings.TrimPrefix(p, s.prefix)
	}
	name := strings.TrimPrefix(p, "/")
	if name == "" || !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}

func (s *staticFiles) read(name string) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(name); ok {
			return data.([]byte), nil
		}
	}
	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errStaticDir
	}
	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && len(data) <= s.maxSize {
		s.cache.Add(name, data)
	}
	return data, nil
}

var errStaticDir = errors.New("polyel: 目录不能作为静态文件")
