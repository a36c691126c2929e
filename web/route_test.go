package web

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(x *Exchange) error { return nil }

func TestRouteWalk(t *testing.T) {

	routes := []Route{
		Literal{Path: "/", Target: HandlerRef{Name: "MainHandler", Sync: noop}},
		Pattern{Expr: "/items/{id:[0-9]+}", Target: HandlerRef{Name: "ItemHandler", Async: func(x *Exchange) *Future { return Resolved(nil) }}},
		SubRouter{Prefix: "/api", Routes: []Route{
			Literal{Path: "/ping", Target: HandlerRef{Name: "PingHandler", Sync: noop}},
			SubRouter{Prefix: "/v1", Routes: []Route{
				Literal{Path: "/users", Target: HandlerRef{Name: "UsersHandler", Sync: noop}},
			}},
		}},
	}

	visited := map[string]string{}
	err := Walk(routes, func(template string, ref HandlerRef) error {
		visited[ref.Name] = template
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"MainHandler":  "/",
		"ItemHandler":  "/items/{id:[0-9]+}",
		"PingHandler":  "/api/ping",
		"UsersHandler": "/api/v1/users",
	}, visited)
}

func TestRouteWalkInvalid(t *testing.T) {

	visit := func(string, HandlerRef) error { return nil }

	assert.Error(t, Walk([]Route{Literal{Path: "/", Target: HandlerRef{Name: "Both", Sync: noop, Async: func(*Exchange) *Future { return nil }}}}, visit))
	assert.Error(t, Walk([]Route{Literal{Path: "/", Target: HandlerRef{Sync: noop}}}, visit))
	assert.Error(t, Walk([]Route{Literal{Path: "/{id}", Target: HandlerRef{Name: "H", Sync: noop}}}, visit))
	assert.Error(t, Walk([]Route{Literal{Path: "/"}}, visit))
}

func TestRouteWalkDepth(t *testing.T) {

	var r Route = HandlerRef{Name: "Deep", Sync: noop}
	for i := 0; i <= MaxRouteDepth; i++ {
		r = SubRouter{Prefix: "/x", Routes: []Route{r}}
	}

	err := Walk([]Route{r}, func(string, HandlerRef) error { return nil })
	assert.Error(t, err)
}
