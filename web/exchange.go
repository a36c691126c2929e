package web

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/devopsext/webtrace/common"
	"github.com/pkg/errors"
)

var ErrExchangeSealed = errors.New("exchange is sealed")

// HTTPError is returned by handlers to respond with a specific status.
type HTTPError struct {
	Status  int
	Reason  string
	Message string
}

func (e *HTTPError) Error() string {

	reason := e.Reason
	if common.IsEmpty(reason) {
		reason = http.StatusText(e.Status)
	}
	if common.IsEmpty(e.Message) {
		return fmt.Sprintf("HTTP %d: %s", e.Status, reason)
	}
	return fmt.Sprintf("HTTP %d: %s (%s)", e.Status, reason, e.Message)
}

func (e *HTTPError) StatusCode() int {
	return e.Status
}

func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// Exchange is one request/response pair handled by an Application.
type Exchange struct {
	ID      string
	Handler string
	Request *http.Request

	ctx    context.Context
	mu     sync.Mutex
	sealed bool
	status int
	reason string
	header http.Header
	body   bytes.Buffer
	vars   map[string]string
	start  time.Time
}

func (x *Exchange) Context() context.Context {

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ctx
}

func (x *Exchange) SetContext(ctx context.Context) {

	if ctx == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ctx = ctx
}

// SetStatus is ignored once the exchange is sealed.
func (x *Exchange) SetStatus(status int, reason ...string) {

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.sealed {
		return
	}
	x.setStatus(status, reason...)
}

func (x *Exchange) setStatus(status int, reason ...string) {

	x.status = status
	x.reason = http.StatusText(status)
	if len(reason) > 0 {
		x.reason = reason[0]
	}
}

func (x *Exchange) Status() int {

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

func (x *Exchange) Reason() string {

	x.mu.Lock()
	defer x.mu.Unlock()
	return x.reason
}

// Header returns a detached map once the exchange is sealed.
func (x *Exchange) Header() http.Header {

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.sealed {
		return http.Header{}
	}
	return x.header
}

// Write fails with ErrExchangeSealed after the handler's turn is over.
func (x *Exchange) Write(p []byte) (int, error) {

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.sealed {
		return 0, ErrExchangeSealed
	}
	return x.body.Write(p)
}

func (x *Exchange) Printf(format string, args ...interface{}) {
	fmt.Fprintf(x, format, args...)
}

func (x *Exchange) Body() []byte {

	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]byte(nil), x.body.Bytes()...)
}

func (x *Exchange) Vars() map[string]string {
	return x.vars
}

func (x *Exchange) Method() string {
	return x.Request.Method
}

func (x *Exchange) URI() string {
	return x.Request.URL.RequestURI()
}

func (x *Exchange) Path() string {
	return x.Request.URL.Path
}

func (x *Exchange) Host() string {
	return x.Request.Host
}

func (x *Exchange) Scheme() string {

	if proto := x.Request.Header.Get("X-Forwarded-Proto"); !common.IsEmpty(proto) {
		return strings.ToLower(proto)
	}
	if x.Request.TLS != nil {
		return "https"
	}
	return "http"
}

func (x *Exchange) RemoteIP() string {

	if common.IsEmpty(x.Request.RemoteAddr) {
		return ""
	}
	host, _, err := net.SplitHostPort(x.Request.RemoteAddr)
	if err != nil {
		return x.Request.RemoteAddr
	}
	return host
}

func (x *Exchange) StartTime() time.Time {
	return x.start
}

// seal ends the handler's turn: later writes from goroutines it left behind are dropped.
// With detach the response headers are replaced by a map the handler never saw.
func (x *Exchange) seal(detach bool) {

	x.mu.Lock()
	defer x.mu.Unlock()

	x.sealed = true
	if detach {
		x.header = http.Header{}
	}
}

// respond replaces the response with a status line body, sealed or not.
func (x *Exchange) respond(status int, reason string) {

	x.mu.Lock()
	defer x.mu.Unlock()

	x.body.Reset()
	x.setStatus(status, reason)
	fmt.Fprintf(&x.body, "%d: %s", status, reason)
}

func (x *Exchange) flush(w http.ResponseWriter) {

	x.mu.Lock()
	defer x.mu.Unlock()

	for k, v := range x.header {
		w.Header()[k] = v
	}
	w.WriteHeader(x.status)
	w.Write(x.body.Bytes())
}

func NewExchange(r *http.Request, handler string, vars map[string]string) *Exchange {

	return &Exchange{
		ID:      common.GetGuid(),
		Handler: handler,
		Request: r,
		ctx:     r.Context(),
		status:  http.StatusOK,
		reason:  http.StatusText(http.StatusOK),
		header:  http.Header{},
		vars:    vars,
		start:   time.Now(),
	}
}
