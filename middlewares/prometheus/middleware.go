// Package prometheus 按路由模式、方法与状态码统计请求耗时
package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dormoron/polyel"
)

type MiddlewareBuilder struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	// Registerer 默认使用 prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

func InitMiddlewareBuilder(namespace string, subsystem string, name string, help string) *MiddlewareBuilder {
	return &MiddlewareBuilder{
		Namespace:  namespace,
		Subsystem:  subsystem,
		Name:       name,
		Help:       help,
		Registerer: prometheus.DefaultRegisterer,
	}
}

// Build 注册 SummaryVec，耗时单位为微秒。未匹配的请求 pattern 记为 unknown。
func (m *MiddlewareBuilder) Build() polyel.Wrapper {
	vector := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: m.Namespace,
		Subsystem: m.Subsystem,
		Name:      m.Name,
		Help:      m.Help,
		Objectives: map[float64]float64{
			0.5:   0.01,
			0.75:  0.01,
			0.90:  0.01,
			0.99:  0.001,
			0.999: 0.0001,
		},
	}, []string{"pattern", "method", "status"})
	m.Registerer.MustRegister(vector)

	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			startTime := time.Now()
			defer func() {
				duration := time.Since(startTime).Microseconds()
				pattern := ctx.MatchedRoute
				if pattern == "" {
					pattern = "unknown"
				}
				method := ctx.Method
				if method == "" {
					method = ctx.Request.Method
				}
				vector.WithLabelValues(pattern, method, strconv.Itoa(ctx.RespStatusCode)).Observe(float64(duration))
			}()
			next(ctx)
		}
	}
}

// Exporter 在 path 上以文本格式输出 gatherer 中的指标，其余请求交给下一层
func Exporter(path string, gatherer prometheus.Gatherer) polyel.Wrapper {
	h := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return func(next polyel.ServeFunc) polyel.ServeFunc {
		return func(ctx *polyel.Context) {
			if ctx.Request.Method != http.MethodGet || ctx.Request.URL.Path != path {
				next(ctx)
				return
			}
			h.ServeHTTP(&bufferedWriter{ctx: ctx}, ctx.Request)
		}
	}
}

// bufferedWriter 把 handler 的输出写进 Context，由服务器统一刷出
type bufferedWriter struct {
	ctx *polyel.Context
}

func (w *bufferedWriter) Header() http.Header {
	return w.ctx.ResponseWriter.Header()
}

func (w *bufferedWriter) Write(bs []byte) (int, error) {
	w.ctx.RespData = append(w.ctx.RespData, bs...)
	return len(bs), nil
}

func (w *bufferedWriter) WriteHeader(code int) {
	w.ctx.RespStatusCode = code
}
