// Package bodylimit 限制请求体大小
package bodylimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/internal/errs"
)

type BodyLimitConfig struct {
	MaxSize int64
	// WhitelistPaths 以这些前缀开头的路径不受限制
	WhitelistPaths []string
}

// BodyLimit 接受 "512K"、"2MB"、"1G" 形式的大小
func BodyLimit(maxSize string) (polyel.Wrapper, error) {
	size, err := ParseSize(maxSize)
	if err != nil {
		return nil, err
	}
	return BodyLimitWithConfig(BodyLimitConfig{MaxSize: size}), nil
}

// BodyLimitWithConfig Content-Length 超限时直接返回 413，
// 未声明长度的请求体在读取超过上限时报错，由动作返回 413
func BodyLimitWithConfig(config BodyLimitConfig) polyel.Wrapper {
	if config.MaxSize <= 0 {
		config.MaxSize = 1 << 20
	}
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			if skip(ctx, config) {
				next(ctx)
				return
			}
			if ctx.Request.ContentLength > config.MaxSize {
				ctx.AbortWithStatus(http.StatusRequestEntityTooLarge)
				msg := fmt.Sprintf("request body exceeds %d bytes", config.MaxSize)
				if ctx.WantsJSON() {
					_ = ctx.RespJSON(http.StatusRequestEntityTooLarge,
						errs.NewErrorFromStatus(http.StatusRequestEntityTooLarge, msg))
					return
				}
				ctx.RespData = []byte(msg)
				return
			}
			ctx.Request.Body = http.MaxBytesReader(ctx.ResponseWriter, ctx.Request.Body, config.MaxSize)
			next(ctx)
		}
	}
}

func skip(ctx *polyel.Context, config BodyLimitConfig) bool {
	if ctx.Request.Method == http.MethodHead || ctx.Request.Method == http.MethodGet || ctx.Request.Body == nil {
		return true
	}
	for _, prefix := range config.WhitelistPaths {
		if strings.HasPrefix(ctx.Request.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// ParseSize 解析 "8M"、"512KB" 这样的大小，不带单位时按字节计
func ParseSize(size string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(size))
	s = strings.TrimSuffix(s, "B")
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier, s = 1<<10, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier, s = 1<<20, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier, s = 1<<30, strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bodylimit: 非法的大小 %q", size)
	}
	return n * multiplier, nil
}
