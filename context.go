package polyel

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dormoron/polyel/container"
	"github.com/dormoron/polyel/internal/errs"
)

// Context carries the inbound request and the mutable outbound response state
// (status, queued headers, queued cookies, body) through the dispatch pipeline.
// A Context is owned by the goroutine serving the request and is discarded when
// the request completes.
type Context struct {
	// Request is the original http.Request received by the server.
	Request *http.Request

	// ResponseWriter is the writer the finalized response is flushed to. Handlers
	// should not write to it directly; they return a Response instead.
	ResponseWriter http.ResponseWriter

	// Method is the effective HTTP method used for routing. HEAD is aliased to GET
	// and a POST form may spoof PUT, PATCH or DELETE through the http_method field.
	Method string

	// Params holds the captured route parameters in declaration order.
	Params Params

	// MatchedRoute is the canonical pattern of the matched route, e.g. "/users/{id}".
	MatchedRoute string

	// RouteType tells web routes from API routes. The response layer uses it to
	// pick an error view or a structured JSON error.
	RouteType RouteType

	// Services is the request scope of the service container.
	Services *container.Container

	// RespData is the response body accumulated before it is flushed.
	RespData []byte

	// RespStatusCode is the status code that will be sent with the response.
	RespStatusCode int

	// UserValues is free storage for collaborators such as the session manager.
	UserValues map[string]any

	// Keys is storage shared by middleware and actions, guarded by mutex.
	Keys  map[string]any
	mutex sync.RWMutex

	queryValues    url.Values
	respHeader     http.Header
	cookies        []*http.Cookie
	templateEngine TemplateEngine
	redirect       string
	state          PipelineState
}

// newContext prepares a Context for one request.
func newContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		Request:        r,
		ResponseWriter: w,
		Method:         r.Method,
		UserValues:     make(map[string]any, 2),
		respHeader:     make(http.Header),
	}
}

// NewContext builds a Context outside of the server, mostly useful in tests of
// middleware and actions.
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	ctx := newContext(w, r)
	ctx.Services = container.New()
	return ctx
}

// Deadline delegates to the request context.
func (c *Context) Deadline() (deadline time.Time, ok bool) {
	return c.Request.Context().Deadline()
}

// Done delegates to the request context.
func (c *Context) Done() <-chan struct{} {
	return c.Request.Context().Done()
}

// Err delegates to the request context.
func (c *Context) Err() error {
	return c.Request.Context().Err()
}

// Value looks up string keys in Keys first and falls back to the request context.
func (c *Context) Value(key any) any {
	if keyAsString, ok := key.(string); ok {
		if val, exists := c.Get(keyAsString); exists {
			return val
		}
	}
	return c.Request.Context().Value(key)
}

// State returns the pipeline stage the request is in.
func (c *Context) State() PipelineState {
	return c.state
}

// Abort stops the pipeline after the current action or middleware returns.
// The remaining stages are skipped and the current response state is sent.
func (c *Context) Abort() {
	c.state = StateAborted
}

// AbortWithStatus sets the status code and aborts the pipeline.
func (c *Context) AbortWithStatus(code int) {
	c.RespStatusCode = code
	c.Abort()
}

// IsAborted reports whether the pipeline was aborted.
func (c *Context) IsAborted() bool {
	return c.state == StateAborted
}

// Param returns the route parameter named key.
func (c *Context) Param(key string) StringValue {
	val, ok := c.Params.Get(key)
	if !ok {
		return StringValue{err: errs.ErrKeyNil()}
	}
	return StringValue{val: val}
}

// QueryValue returns the first query value for key.
func (c *Context) QueryValue(key string) StringValue {
	if c.queryValues == nil {
		c.queryValues = c.Request.URL.Query()
	}
	vals, ok := c.queryValues[key]
	if !ok {
		return StringValue{err: errs.ErrKeyNil()}
	}
	return StringValue{val: vals[0]}
}

// FormValue returns the first form value for key, parsing the body once.
func (c *Context) FormValue(key string) StringValue {
	if err := c.Request.ParseForm(); err != nil {
		return StringValue{err: err}
	}
	return StringValue{val: c.Request.FormValue(key)}
}

// BindJSON decodes the JSON request body into val.
func (c *Context) BindJSON(val any) error {
	if val == nil {
		return errs.ErrInputNil()
	}
	if c.Request.Body == nil {
		return errs.ErrBodyNil()
	}
	return json.NewDecoder(c.Request.Body).Decode(val)
}

// Header queues a response header; an empty value removes it. Queued headers
// are written just before the response is sent.
func (c *Context) Header(key, value string) {
	if value == "" {
		c.respHeader.Del(key)
		return
	}
	c.respHeader.Set(key, value)
}

// RespHeader exposes the queued response headers.
func (c *Context) RespHeader() http.Header {
	return c.respHeader
}

// SetCookie queues a cookie for the response.
func (c *Context) SetCookie(ck *http.Cookie) {
	c.cookies = append(c.cookies, ck)
}

// QueuedCookies returns the cookies queued so far.
func (c *Context) QueuedCookies() []*http.Cookie {
	return c.cookies
}

// RedirectURL returns the redirect target if the response is a redirect.
func (c *Context) RedirectURL() string {
	return c.redirect
}

// Render renders templateName into RespData with the server's template engine.
func (c *Context) Render(templateName string, data any) error {
	if c.templateEngine == nil {
		return errNoTemplateEngine
	}
	var err error
	c.RespData, err = c.templateEngine.Render(c.Request.Context(), templateName, data)
	if err != nil {
		c.RespStatusCode = http.StatusInternalServerError
		return err
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.RespStatusCode = http.StatusOK
	return nil
}

// WantsJSON reports whether the caller should get structured errors: API routes,
// or requests that accept JSON or come from XMLHttpRequest.
func (c *Context) WantsJSON() bool {
	if c.RouteType == RouteTypeAPI {
		return true
	}
	if c.Request.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(c.Request.Header.Get("Accept"), "application/json")
}

// Set stores a value in Keys.
func (c *Context) Set(key string, value any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.Keys == nil {
		c.Keys = make(map[string]any)
	}
	c.Keys[key] = value
}

// Get reads a value from Keys.
func (c *Context) Get(key string) (value any, exists bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	value, exists = c.Keys[key]
	return
}

// Delete removes a value from Keys.
func (c *Context) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.Keys, key)
}

// MustGet reads a value from Keys and panics if it is missing.
func (c *Context) MustGet(key string) any {
	if value, exists := c.Get(key); exists {
		return value
	}
	panic("Key \"" + key + "\" does not exist")
}

// GetString reads a string from Keys.
func (c *Context) GetString(key string) (s string) {
	if val, ok := c.Get(key); ok && val != nil {
		s, _ = val.(string)
	}
	return
}

// RemoteIP extracts the IP part of RemoteAddr.
func (c *Context) RemoteIP() string {
	ip, _, err := net.SplitHostPort(strings.TrimSpace(c.Request.RemoteAddr))
	if err != nil {
		return ""
	}
	return ip
}

// ClientIP prefers X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func (c *Context) ClientIP() string {
	if xff := c.Request.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xrip := c.Request.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return c.RemoteIP()
}

// StringValue is a string read from the request together with the error, if
// any, encountered while reading it.
type StringValue struct {
	val string
	err error
}

// String returns the raw value and the read error.
func (s StringValue) String() (string, error) {
	return s.val, s.err
}

// StringOrDefault returns def when the value is missing or empty.
func (s StringValue) StringOrDefault(def string) string {
	if s.err != nil || s.val == "" {
		return def
	}
	return s.val
}

// AsInt64 parses the value as a base-10 int64.
func (s StringValue) AsInt64() (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return strconv.ParseInt(s.val, 10, 64)
}

// AsUint64 parses the value as a base-10 uint64.
func (s StringValue) AsUint64() (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return strconv.ParseUint(s.val, 10, 64)
}

// AsFloat64 parses the value as a float64.
func (s StringValue) AsFloat64() (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return strconv.ParseFloat(s.val, 64)
}
