package instrumentation

import (
	"context"
	"net/http"
	"time"

	"github.com/devopsext/webtrace/client"
	"github.com/devopsext/webtrace/correlation"
	"github.com/devopsext/webtrace/server"
	"github.com/devopsext/webtrace/web"
)

type serverInterceptor struct {
	manager *server.Manager
}

func serverRequest(x *web.Exchange) server.Request {

	header := x.Request.Header
	if header == nil {
		header = http.Header{}
	}

	return server.Request{
		Context:   x.Context(),
		Handler:   x.Handler,
		Method:    x.Method(),
		URI:       x.URI(),
		Path:      x.Path(),
		Scheme:    x.Scheme(),
		Host:      x.Host(),
		RemoteIP:  x.RemoteIP(),
		Header:    header,
		StartTime: x.StartTime(),
	}
}

func (si *serverInterceptor) Prepare(x *web.Exchange) {

	if entry := si.manager.OnRequestStart(x, serverRequest(x)); entry != nil {
		x.SetContext(entry.Context)
	}
}

func (si *serverInterceptor) finish(x *web.Exchange, err error) {

	si.manager.OnRequestFinish(x, serverRequest(x), x.Status(), x.Reason(), err)

	// the entry set in Prepare travels with the exchange context
	if entry := correlation.EntryFromContext(x.Context()); entry != nil {
		x.SetContext(entry.Token.Previous())
	}
}

func (si *serverInterceptor) OnError(x *web.Exchange, err error) {
	si.finish(x, err)
}

func (si *serverInterceptor) OnFinish(x *web.Exchange) {
	si.finish(x, nil)
}

type clientInterceptor struct {
	manager *client.Manager
}

func (ci *clientInterceptor) Fetch(ctx context.Context, req *web.OutboundRequest, next web.FetchFunc) *web.Future {

	if req.Header == nil {
		req.Header = http.Header{}
	}

	call := client.Call{
		Method:    req.Method,
		URL:       req.URL,
		Header:    req.Header,
		StartTime: time.Now(),
		Redirect:  req.OriginalRequest != nil,
	}

	var f *web.Future
	ci.manager.Dispatch(ctx, call, func(ctx context.Context, settle client.Settle) {

		f = next(ctx, req)
		f.AddDoneCallback(func(f *web.Future) {

			result, err := f.Result()
			outcome := client.Outcome{Err: err}
			if resp, ok := result.(*web.Response); ok && resp != nil {
				outcome.StatusCode = resp.Code
			}
			settle(outcome)
		})
	})
	return f
}
