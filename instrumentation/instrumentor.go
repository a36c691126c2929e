package instrumentation

import (
	"sync"

	"github.com/devopsext/webtrace/client"
	"github.com/devopsext/webtrace/common"
	"github.com/devopsext/webtrace/correlation"
	"github.com/devopsext/webtrace/propagation"
	"github.com/devopsext/webtrace/server"
	"github.com/devopsext/webtrace/web"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

const InstrumentationName = "github.com/devopsext/webtrace"

var Version = "0.1.0"

type Options struct {
	Component string
	Excluded  *common.ExcludeList
	Legacy    bool
}

// Instrumentor installs tracing interceptors into applications and clients and can remove them again.
type Instrumentor struct {
	mu           sync.Mutex
	options      Options
	instrumented bool
	store        *correlation.Store
	propagator   *propagation.Propagator
	serverHook   *serverInterceptor
	clientHook   *clientInterceptor
	apps         []*web.Application
	clients      []*web.AsyncClient
	logger       common.Logger
}

func (i *Instrumentor) InstrumentApplication(app *web.Application) {

	if app == nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, a := range i.apps {
		if a == app {
			return
		}
	}
	app.Use(i.serverHook)
	i.apps = append(i.apps, app)
	i.instrumented = true
	i.logger.Debug("application instrumented")
}

func (i *Instrumentor) InstrumentClient(c *web.AsyncClient) {

	if c == nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, v := range i.clients {
		if v == c {
			return
		}
	}
	c.Use(i.clientHook)
	i.clients = append(i.clients, c)
	i.instrumented = true
	i.logger.Debug("client instrumented")
}

// Uninstrument removes every interceptor installed by i.
func (i *Instrumentor) Uninstrument() {

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.instrumented {
		return
	}

	for _, a := range i.apps {
		a.Remove(i.serverHook)
	}
	for _, c := range i.clients {
		c.Remove(i.clientHook)
	}
	i.apps = nil
	i.clients = nil
	i.instrumented = false
	i.logger.Debug("uninstrumented")
}

func (i *Instrumentor) IsInstrumented() bool {

	i.mu.Lock()
	defer i.mu.Unlock()
	return i.instrumented
}

// Handlers lists the handler names traced in instrumented applications.
func (i *Instrumentor) Handlers() []string {

	i.mu.Lock()
	apps := append([]*web.Application(nil), i.apps...)
	i.mu.Unlock()

	if len(apps) == 0 {
		return nil
	}

	seen := map[string]bool{web.ErrorHandlerName: true}
	names := []string{web.ErrorHandlerName}

	for _, app := range apps {
		err := web.Walk(app.Routes(), func(template string, ref web.HandlerRef) error {
			if !seen[ref.Name] {
				seen[ref.Name] = true
				names = append(names, ref.Name)
			}
			return nil
		})
		if err != nil {
			i.logger.Warn(err)
		}
	}
	return names
}

// InFlight is the number of requests with an open SERVER span.
func (i *Instrumentor) InFlight() int {
	return i.store.Len()
}

func (i *Instrumentor) Propagator() *propagation.Propagator {
	return i.propagator
}

func NewInstrumentor(options Options, provider trace.TracerProvider, logger common.Logger) (*Instrumentor, error) {

	if provider == nil {
		return nil, errors.New("instrumentor requires a tracer provider")
	}
	if logger == nil {
		logger = common.NewLogs()
	}

	tracer := provider.Tracer(InstrumentationName, trace.WithInstrumentationVersion(Version))
	propagator := propagation.NewPropagator(propagation.Options{Legacy: options.Legacy}, logger)
	store := correlation.NewStore()

	sm, err := server.NewManager(server.Options{
		Component: options.Component,
		Excluded:  options.Excluded,
	}, tracer, propagator, store, logger)
	if err != nil {
		return nil, err
	}

	cm, err := client.NewManager(client.Options{
		Component: options.Component,
	}, tracer, propagator, logger)
	if err != nil {
		return nil, err
	}

	return &Instrumentor{
		options:    options,
		store:      store,
		propagator: propagator,
		serverHook: &serverInterceptor{manager: sm},
		clientHook: &clientInterceptor{manager: cm},
		logger:     logger,
	}, nil
}
