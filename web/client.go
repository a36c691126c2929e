package web

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/devopsext/webtrace/common"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

const DefaultMaxRedirects = 5

type ClientOptions struct {
	Timeout      int
	RetryMax     int
	MaxRedirects int
}

// OutboundRequest is fetched by AsyncClient. OriginalRequest is set on redirect steps.
type OutboundRequest struct {
	Method          string
	URL             string
	Header          http.Header
	Body            []byte
	FollowRedirects bool
	MaxRedirects    int
	OriginalRequest *OutboundRequest
}

func (r *OutboundRequest) original() *OutboundRequest {
	if r.OriginalRequest != nil {
		return r.OriginalRequest
	}
	return r
}

type Response struct {
	Code         int
	Reason       string
	Header       http.Header
	Body         []byte
	Request      *OutboundRequest
	EffectiveURL string
}

// HTTPClientError rejects fetches which ended with a non-2xx response.
type HTTPClientError struct {
	Code     int
	Message  string
	Response *Response
}

func (e *HTTPClientError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

func (e *HTTPClientError) StatusCode() int {
	return e.Code
}

type FetchFunc func(ctx context.Context, req *OutboundRequest) *Future

// ClientInterceptor wraps every fetch, redirect steps included.
type ClientInterceptor interface {
	Fetch(ctx context.Context, req *OutboundRequest, next FetchFunc) *Future
}

type leveledLogger struct {
	logger common.Logger
}

func (l leveledLogger) format(msg string, keysAndValues []interface{}) string {

	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		sb.WriteString(fmt.Sprintf(" %v=%v", keysAndValues[i], keysAndValues[i+1]))
	}
	return sb.String()
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(l.format(msg, keysAndValues))
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(l.format(msg, keysAndValues))
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(l.format(msg, keysAndValues))
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(l.format(msg, keysAndValues))
}

type AsyncClient struct {
	mu           sync.RWMutex
	client       *retryablehttp.Client
	options      ClientOptions
	interceptors []ClientInterceptor
	logger       common.Logger
}

func (c *AsyncClient) Use(i ClientInterceptor) {

	if i == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, i)
}

func (c *AsyncClient) Remove(i ClientInterceptor) bool {

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.interceptors {
		if v == i {
			c.interceptors = append(c.interceptors[:k], c.interceptors[k+1:]...)
			return true
		}
	}
	return false
}

func (c *AsyncClient) Interceptors() []ClientInterceptor {

	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ClientInterceptor(nil), c.interceptors...)
}

// Fetch issues req through the interceptor chain and settles the future with *Response.
func (c *AsyncClient) Fetch(ctx context.Context, req *OutboundRequest) *Future {

	if req == nil {
		return Rejected(errors.New("nil request"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if common.IsEmpty(req.Method) {
		req.Method = http.MethodGet
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}

	next := FetchFunc(c.fetch)
	interceptors := c.Interceptors()
	for k := len(interceptors) - 1; k >= 0; k-- {
		i, inner := interceptors[k], next
		next = func(ctx context.Context, req *OutboundRequest) *Future {
			return i.Fetch(ctx, req, inner)
		}
	}
	return next(ctx, req)
}

func (c *AsyncClient) fetch(ctx context.Context, req *OutboundRequest) *Future {
	return Go(ctx, func(ctx context.Context) (interface{}, error) {
		return c.roundTrip(ctx, req)
	})
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (c *AsyncClient) redirect(req *OutboundRequest, resp *http.Response) (*OutboundRequest, error) {

	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid request url")
	}
	location, err := base.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid redirect location")
	}

	next := &OutboundRequest{
		Method:          req.Method,
		URL:             location.String(),
		Header:          req.Header.Clone(),
		Body:            req.Body,
		FollowRedirects: true,
		MaxRedirects:    req.MaxRedirects - 1,
		OriginalRequest: req.original(),
	}
	if resp.StatusCode == http.StatusSeeOther ||
		((resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) && req.Method == http.MethodPost) {
		next.Method = http.MethodGet
		next.Body = nil
	}
	return next, nil
}

func (c *AsyncClient) roundTrip(ctx context.Context, req *OutboundRequest) (*Response, error) {

	var body interface{}
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	r, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL)
	}
	for k, v := range req.Header {
		r.Header[k] = v
	}

	resp, err := c.client.Do(r)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", req.URL)
	}

	if isRedirect(resp.StatusCode) && req.FollowRedirects && req.MaxRedirects > 0 {

		next, err := c.redirect(req, resp)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("%s redirected to %s", req.URL, next.URL)

		result, err := c.Fetch(ctx, next).Wait(ctx)
		if err != nil {
			return nil, err
		}
		return result.(*Response), nil
	}

	response := &Response{
		Code:         resp.StatusCode,
		Reason:       strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode))),
		Header:       resp.Header,
		Body:         b,
		Request:      req,
		EffectiveURL: req.URL,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := response.Reason
		if common.IsEmpty(message) {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &HTTPClientError{Code: resp.StatusCode, Message: message, Response: response}
	}
	return response, nil
}

func NewAsyncClient(options ClientOptions, logger common.Logger) *AsyncClient {

	if logger == nil {
		logger = common.NewLogs()
	}
	if options.Timeout <= 0 {
		options.Timeout = 30
	}

	httpClient := common.MakeHttpClient(options.Timeout)
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.RetryMax = options.RetryMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{logger: logger}

	return &AsyncClient{
		client:  client,
		options: options,
		logger:  logger,
	}
}

// NewOutboundRequest follows redirects up to ClientOptions.MaxRedirects.
func (c *AsyncClient) NewOutboundRequest(method, rawURL string) *OutboundRequest {

	redirects := c.options.MaxRedirects
	if redirects <= 0 {
		redirects = DefaultMaxRedirects
	}
	return &OutboundRequest{
		Method:          method,
		URL:             rawURL,
		Header:          http.Header{},
		FollowRedirects: true,
		MaxRedirects:    redirects,
	}
}
