package bodylimit

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dormoron/polyel"
)

func TestParseSize(t *testing.T) {
	testCases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "100", want: 100},
		{in: "512K", want: 512 << 10},
		{in: "2MB", want: 2 << 20},
		{in: "1g", want: 1 << 30},
		{in: "", wantErr: true},
		{in: "-1K", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tc := range testCases {
		got, err := ParseSize(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestBodyLimit(t *testing.T) {
	w8, err := BodyLimit("8")
	require.NoError(t, err)
	s := polyel.InitHTTPServer()
	s.Wrap(w8)
	s.Router().Post("/upload", func(ctx *polyel.Context) (polyel.Response, error) {
		data, err := io.ReadAll(ctx.Request.Body)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return polyel.Status(http.StatusRequestEntityTooLarge), nil
		}
		if err != nil {
			return nil, err
		}
		return polyel.Text(http.StatusOK, string(data)), nil
	})

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "small", w.Body.String())

	w = httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("far too large")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// 未声明长度
	req := httptest.NewRequest(http.MethodPost, "/upload", io.NopCloser(strings.NewReader("far too large")))
	req.ContentLength = -1
	w = httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
