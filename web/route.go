package web

import (
	"strings"

	"github.com/devopsext/webtrace/common"
	"github.com/pkg/errors"
)

const MaxRouteDepth = 32

type HandlerFunc func(x *Exchange) error

type AsyncHandlerFunc func(x *Exchange) *Future

// Route is one of Literal, Pattern, SubRouter or HandlerRef.
type Route interface {
	route()
}

// Literal matches Path exactly.
type Literal struct {
	Path   string
	Target Route
}

// Pattern matches a mux template such as /items/{id:[0-9]+}.
type Pattern struct {
	Expr   string
	Target Route
}

type SubRouter struct {
	Prefix string
	Routes []Route
}

// HandlerRef names a handler. Exactly one of Sync and Async is set.
type HandlerRef struct {
	Name  string
	Sync  HandlerFunc
	Async AsyncHandlerFunc
}

func (Literal) route()    {}
func (Pattern) route()    {}
func (SubRouter) route()  {}
func (HandlerRef) route() {}

func (h HandlerRef) IsAsync() bool {
	return h.Async != nil
}

func (h HandlerRef) Validate() error {

	if common.IsEmpty(h.Name) {
		return errors.New("handler has no name")
	}
	if (h.Sync == nil) == (h.Async == nil) {
		return errors.Errorf("handler %s must be either sync or async", h.Name)
	}
	return nil
}

// Visitor is called with the full path template of every handler in the tree.
type Visitor func(template string, ref HandlerRef) error

func walk(prefix string, r Route, depth int, visit Visitor) error {

	if depth > MaxRouteDepth {
		return errors.Errorf("route tree under %q is deeper than %d", prefix, MaxRouteDepth)
	}

	switch v := r.(type) {
	case HandlerRef:
		if err := v.Validate(); err != nil {
			return err
		}
		return visit(prefix, v)
	case Literal:
		if strings.ContainsAny(v.Path, "{}") {
			return errors.Errorf("literal path %q contains a pattern", v.Path)
		}
		return walk(prefix+v.Path, v.Target, depth+1, visit)
	case Pattern:
		return walk(prefix+v.Expr, v.Target, depth+1, visit)
	case SubRouter:
		for _, child := range v.Routes {
			if err := walk(prefix+v.Prefix, child, depth+1, visit); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return errors.Errorf("empty route under %q", prefix)
	default:
		return errors.Errorf("unknown route %T", r)
	}
}

// Walk visits every handler reachable from routes.
func Walk(routes []Route, visit Visitor) error {

	for _, r := range routes {
		if err := walk("", r, 0, visit); err != nil {
			return err
		}
	}
	return nil
}
