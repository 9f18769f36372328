package locallimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dormoron/polyel"
)

func TestMiddlewareBuilder(t *testing.T) {
	b := InitMiddlewareBuilder(1)
	entered := make(chan struct{})
	release := make(chan struct{})

	s := polyel.InitHTTPServer()
	s.Wrap(b.Build())
	s.Router().Get("/slow", func(ctx *polyel.Context) (polyel.Response, error) {
		close(entered)
		<-release
		return polyel.Text(http.StatusOK, "slow"), nil
	})
	s.Router().Get("/fast", func(ctx *polyel.Context) (polyel.Response, error) {
		return polyel.Text(http.StatusOK, "fast"), nil
	})

	done := make(chan int)
	go func() {
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
		done <- w.Code
	}()
	<-entered
	assert.Equal(t, int64(1), b.Active())

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	close(release)
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(time.Second):
		t.Fatal("slow request did not finish")
	}

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(0), b.Active())
}

func TestMiddlewareBuilder_OverloadHandler(t *testing.T) {
	s := polyel.InitHTTPServer()
	s.Wrap(InitMiddlewareBuilder(0).SetOverloadResponseHandler(func(ctx *polyel.Context) {
		ctx.RespStatusCode = http.StatusServiceUnavailable
		ctx.RespData = []byte("busy")
	}).Build())
	s.Router().Get("/", func(ctx *polyel.Context) (polyel.Response, error) {
		return polyel.Text(http.StatusOK, "ok"), nil
	})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "busy", w.Body.String())
}
