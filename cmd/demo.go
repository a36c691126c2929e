package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/devopsext/webtrace/web"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

// demoRoutes serves a handler for every kind of traced request: plain, async with sub-tasks,
// failing, proxying through the client and parametrized.
func demoRoutes(client *web.AsyncClient, self string) []web.Route {

	subTask := func(ctx context.Context, name string, d time.Duration) *web.Future {
		return web.Go(ctx, func(ctx context.Context) (interface{}, error) {
			_, span := otel.Tracer("demo").Start(ctx, name)
			defer span.End()
			time.Sleep(d)
			return name, nil
		})
	}

	return []web.Route{
		web.Literal{Path: "/", Target: web.HandlerRef{Name: "MainHandler", Sync: func(x *web.Exchange) error {
			x.Printf("Hello, world\n")
			return nil
		}}},
		web.Literal{Path: "/async", Target: web.HandlerRef{Name: "AsyncHandler", Async: func(x *web.Exchange) *web.Future {
			return web.Go(x.Context(), func(ctx context.Context) (interface{}, error) {
				results, err := web.Gather(ctx,
					subTask(ctx, "sub-task-1", 10*time.Millisecond),
					subTask(ctx, "sub-task-2", 20*time.Millisecond),
				).Wait(ctx)
				if err != nil {
					return nil, err
				}
				x.SetStatus(http.StatusCreated)
				x.Printf("%v\n", results)
				return results, nil
			})
		}}},
		web.Literal{Path: "/error", Target: web.HandlerRef{Name: "BadHandler", Sync: func(x *web.Exchange) error {
			return errors.New("something went wrong")
		}}},
		web.Literal{Path: "/proxy", Target: web.HandlerRef{Name: "ProxyHandler", Async: func(x *web.Exchange) *web.Future {
			f := client.Fetch(x.Context(), client.NewOutboundRequest(http.MethodGet, self+"/"))
			f.AddDoneCallback(func(f *web.Future) {
				if r, err := f.Result(); err == nil {
					x.Write(r.(*web.Response).Body)
				}
			})
			return f
		}}},
		web.SubRouter{Prefix: "/items", Routes: []web.Route{
			web.Pattern{Expr: "/{id:[0-9]+}", Target: web.HandlerRef{Name: "ItemHandler", Sync: func(x *web.Exchange) error {
				if x.Vars()["id"] == "0" {
					return web.NewHTTPError(http.StatusNotFound, "no item 0")
				}
				x.Printf("item %s\n", x.Vars()["id"])
				return nil
			}}},
		}},
	}
}
