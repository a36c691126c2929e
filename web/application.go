package web

import (
	"net/http"
	"sync"

	"github.com/devopsext/webtrace/common"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const ErrorHandlerName = "ErrorHandler"

// Interceptor observes the handler lifecycle of every Exchange.
type Interceptor interface {
	Prepare(x *Exchange)
	OnError(x *Exchange, err error)
	OnFinish(x *Exchange)
}

// ErrorHandler answers every request that matched no route.
var ErrorHandler = HandlerRef{
	Name: ErrorHandlerName,
	Sync: func(x *Exchange) error {
		return NewHTTPError(http.StatusNotFound, x.Path())
	},
}

type routeHandler struct {
	ref HandlerRef
}

func (rh routeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "route must be served by its application", http.StatusInternalServerError)
}

type Application struct {
	mu           sync.RWMutex
	router       *mux.Router
	routes       []Route
	interceptors []Interceptor
	logger       common.Logger
}

func (a *Application) register(routes []Route) error {

	return Walk(routes, func(template string, ref HandlerRef) error {

		if common.IsEmpty(template) {
			return errors.Errorf("handler %s has no path", ref.Name)
		}
		route := a.router.Handle(template, routeHandler{ref: ref})
		if err := route.GetError(); err != nil {
			return errors.Wrapf(err, "handler %s", ref.Name)
		}
		a.logger.Debug("handler %s registered on %s", ref.Name, template)
		return nil
	})
}

// AddHandlers registers routes on a running application.
func (a *Application) AddHandlers(routes ...Route) error {

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.register(routes); err != nil {
		return err
	}
	a.routes = append(a.routes, routes...)
	return nil
}

func (a *Application) Routes() []Route {

	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Route(nil), a.routes...)
}

func (a *Application) Use(i Interceptor) {

	if i == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interceptors = append(a.interceptors, i)
}

func (a *Application) Remove(i Interceptor) bool {

	a.mu.Lock()
	defer a.mu.Unlock()

	for k, v := range a.interceptors {
		if v == i {
			a.interceptors = append(a.interceptors[:k], a.interceptors[k+1:]...)
			return true
		}
	}
	return false
}

func (a *Application) Interceptors() []Interceptor {

	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Interceptor(nil), a.interceptors...)
}

func (a *Application) hook(name string, x *Exchange, fn func()) {

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("%s hook for %s recovered: %v", name, x.Handler, r)
		}
	}()
	fn()
}

func (a *Application) invoke(x *Exchange, ref HandlerRef) (err error) {

	// x belongs to the handler until invoke returns, a cancelled wait may leave it still running
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.WithStack(e)
			} else {
				err = errors.Errorf("panic: %v", r)
			}
		}
		x.seal(err != nil && x.Context().Err() != nil)
	}()

	if ref.IsAsync() {
		f := ref.Async(x)
		if f == nil {
			return errors.Errorf("handler %s returned no future", ref.Name)
		}
		_, err = f.Wait(x.Context())
		return err
	}
	return ref.Sync(x)
}

func (a *Application) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	a.mu.RLock()
	var match mux.RouteMatch
	matched := a.router.Match(r, &match)
	interceptors := append([]Interceptor(nil), a.interceptors...)
	a.mu.RUnlock()

	ref := ErrorHandler
	var vars map[string]string
	if rh, ok := match.Handler.(routeHandler); matched && ok {
		ref = rh.ref
		vars = match.Vars
	}

	x := NewExchange(r, ref.Name, vars)

	// ErrorHandler is reached without Prepare
	if ref.Name != ErrorHandlerName {
		for _, i := range interceptors {
			a.hook("prepare", x, func() { i.Prepare(x) })
		}
	}

	if err := a.invoke(x, ref); err != nil {

		status := http.StatusInternalServerError
		reason := ""
		if code, ok := common.StatusCodeFromError(err); ok {
			status = code
		}
		var he *HTTPError
		if errors.As(err, &he) {
			reason = he.Reason
		}
		if common.IsEmpty(reason) {
			reason = http.StatusText(status)
		}

		x.respond(status, reason)

		for _, i := range interceptors {
			a.hook("error", x, func() { i.OnError(x, err) })
		}
		a.logger.Debug("%s %s failed: %v", x.Method(), x.URI(), err)
	}

	x.flush(w)

	for _, i := range interceptors {
		a.hook("finish", x, func() { i.OnFinish(x) })
	}
}

func NewApplication(routes []Route, logger common.Logger) (*Application, error) {

	if logger == nil {
		logger = common.NewLogs()
	}

	a := &Application{
		router: mux.NewRouter(),
		logger: logger,
	}
	if err := a.AddHandlers(routes...); err != nil {
		return nil, err
	}
	return a, nil
}
