package web

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInterceptor struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (ri *recordingInterceptor) add(e string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.events = append(ri.events, e)
}

func (ri *recordingInterceptor) Prepare(x *Exchange) { ri.add("prepare:" + x.Handler) }

func (ri *recordingInterceptor) OnError(x *Exchange, err error) {
	ri.add("error:" + x.Handler)
	ri.mu.Lock()
	ri.errs = append(ri.errs, err)
	ri.mu.Unlock()
}

func (ri *recordingInterceptor) OnFinish(x *Exchange) { ri.add("finish:" + x.Handler) }

type panicInterceptor struct{}

func (panicInterceptor) Prepare(x *Exchange)            { panic("prepare") }
func (panicInterceptor) OnError(x *Exchange, err error) { panic("error") }
func (panicInterceptor) OnFinish(x *Exchange)           { panic("finish") }

type ctxKey struct{}

func testRoutes() []Route {
	return []Route{
		Literal{Path: "/", Target: HandlerRef{Name: "MainHandler", Sync: func(x *Exchange) error {
			x.SetStatus(http.StatusCreated)
			x.Printf("%s %v", x.Method(), x.Context().Value(ctxKey{}))
			return nil
		}}},
		Pattern{Expr: "/items/{id:[0-9]+}", Target: HandlerRef{Name: "ItemHandler", Async: func(x *Exchange) *Future {
			return Go(x.Context(), func(ctx context.Context) (interface{}, error) {
				x.Printf("item %s", x.Vars()["id"])
				return nil, nil
			})
		}}},
		Literal{Path: "/forbidden", Target: HandlerRef{Name: "ForbiddenHandler", Sync: func(x *Exchange) error {
			return &HTTPError{Status: http.StatusForbidden, Reason: "Go Away"}
		}}},
		Literal{Path: "/panic", Target: HandlerRef{Name: "PanicHandler", Sync: func(x *Exchange) error {
			panic("exploded")
		}}},
	}
}

func get(t *testing.T, server *httptest.Server, method, path string) (int, string) {

	req, err := http.NewRequest(method, server.URL+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, _ := ioutil.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestApplicationDispatch(t *testing.T) {

	app, err := NewApplication(testRoutes(), nil)
	require.NoError(t, err)

	ri := &recordingInterceptor{}
	app.Use(ri)

	setter := &contextInterceptor{}
	app.Use(setter)

	server := httptest.NewServer(app)
	defer server.Close()

	code, body := get(t, server, "PUT", "/")
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "PUT prepared", body)

	code, body = get(t, server, "GET", "/items/42")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "item 42", body)

	assert.Equal(t, []string{
		"prepare:MainHandler", "finish:MainHandler",
		"prepare:ItemHandler", "finish:ItemHandler",
	}, ri.events)
}

type contextInterceptor struct{}

func (contextInterceptor) Prepare(x *Exchange) {
	x.SetContext(context.WithValue(x.Context(), ctxKey{}, "prepared"))
}
func (contextInterceptor) OnError(x *Exchange, err error) {}
func (contextInterceptor) OnFinish(x *Exchange)           {}

func TestApplicationErrors(t *testing.T) {

	app, err := NewApplication(testRoutes(), nil)
	require.NoError(t, err)

	ri := &recordingInterceptor{}
	app.Use(panicInterceptor{})
	app.Use(ri)

	server := httptest.NewServer(app)
	defer server.Close()

	code, body := get(t, server, "GET", "/forbidden")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "403: Go Away", body)

	code, _ = get(t, server, "GET", "/panic")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, _ = get(t, server, "GET", "/nowhere")
	assert.Equal(t, http.StatusNotFound, code)

	assert.Equal(t, []string{
		"prepare:ForbiddenHandler", "error:ForbiddenHandler", "finish:ForbiddenHandler",
		"prepare:PanicHandler", "error:PanicHandler", "finish:PanicHandler",
		"error:ErrorHandler", "finish:ErrorHandler",
	}, ri.events)

	require.Len(t, ri.errs, 3)
	assert.Contains(t, ri.errs[1].Error(), "exploded")

	var he *HTTPError
	require.True(t, errors.As(ri.errs[2], &he))
	assert.Equal(t, http.StatusNotFound, he.StatusCode())
}

type statusInterceptor struct {
	mu       sync.Mutex
	statuses []int
}

func (si *statusInterceptor) Prepare(x *Exchange)            {}
func (si *statusInterceptor) OnError(x *Exchange, err error) {}

func (si *statusInterceptor) OnFinish(x *Exchange) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.statuses = append(si.statuses, x.Status())
}

func TestApplicationCancelledAsyncHandler(t *testing.T) {

	done := make(chan struct{})
	var lateErr error

	app, err := NewApplication([]Route{
		Literal{Path: "/stream", Target: HandlerRef{Name: "StreamHandler", Async: func(x *Exchange) *Future {
			return Go(x.Context(), func(ctx context.Context) (interface{}, error) {
				defer close(done)
				// ignores ctx and keeps writing well past the cancellation
				for i := 0; i < 100; i++ {
					x.SetStatus(http.StatusAccepted)
					x.Header().Set("X-Chunk", strconv.Itoa(i))
					x.Printf("chunk %d\n", i)
					time.Sleep(time.Millisecond)
				}
				_, lateErr = x.Write([]byte("late"))
				return nil, nil
			})
		}}},
	}, nil)
	require.NoError(t, err)

	ri := &recordingInterceptor{}
	si := &statusInterceptor{}
	app.Use(ri)
	app.Use(si)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest("GET", "/stream", nil).WithContext(ctx))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "500: Internal Server Error", w.Body.String())
	assert.Empty(t, w.Header().Get("X-Chunk"))

	<-done
	assert.ErrorIs(t, lateErr, ErrExchangeSealed)

	si.mu.Lock()
	assert.Equal(t, []int{http.StatusInternalServerError}, si.statuses)
	si.mu.Unlock()

	ri.mu.Lock()
	require.Len(t, ri.errs, 1)
	assert.ErrorIs(t, ri.errs[0], context.DeadlineExceeded)
	ri.mu.Unlock()
}

func TestApplicationInterceptors(t *testing.T) {

	app, err := NewApplication(nil, nil)
	require.NoError(t, err)

	ri := &recordingInterceptor{}
	app.Use(ri)
	app.Use(nil)
	assert.Len(t, app.Interceptors(), 1)

	assert.True(t, app.Remove(ri))
	assert.False(t, app.Remove(ri))
	assert.Empty(t, app.Interceptors())
}

func TestApplicationAddHandlers(t *testing.T) {

	app, err := NewApplication(nil, nil)
	require.NoError(t, err)

	server := httptest.NewServer(app)
	defer server.Close()

	code, _ := get(t, server, "GET", "/dynamic")
	assert.Equal(t, http.StatusNotFound, code)

	err = app.AddHandlers(Literal{Path: "/dynamic", Target: HandlerRef{Name: "DynamicHandler", Sync: func(x *Exchange) error {
		x.Printf("dynamic")
		return nil
	}}})
	require.NoError(t, err)
	assert.Len(t, app.Routes(), 1)

	code, body := get(t, server, "GET", "/dynamic")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "dynamic", body)

	assert.Error(t, app.AddHandlers(HandlerRef{Name: "NoPath", Sync: noop}))
}

func TestExchangeRequestFields(t *testing.T) {

	r := httptest.NewRequest("GET", "http://example.com/a/b?c=d", nil)
	r.RemoteAddr = "10.0.0.1:5555"

	x := NewExchange(r, "MainHandler", nil)
	assert.NotEmpty(t, x.ID)
	assert.Equal(t, "/a/b?c=d", x.URI())
	assert.Equal(t, "/a/b", x.Path())
	assert.Equal(t, "example.com", x.Host())
	assert.Equal(t, "http", x.Scheme())
	assert.Equal(t, "10.0.0.1", x.RemoteIP())
	assert.Equal(t, 200, x.Status())
	assert.Equal(t, "OK", x.Reason())

	r.Header.Set("X-Forwarded-Proto", "HTTPS")
	assert.Equal(t, "https", x.Scheme())

	x.SetStatus(404)
	assert.Equal(t, "Not Found", x.Reason())
	x.SetStatus(418, "Teapot")
	assert.Equal(t, "Teapot", x.Reason())
}
