package correlation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

func TestTokenAttachDetach(t *testing.T) {

	root := context.WithValue(context.Background(), ctxKey("level"), "root")
	next := context.WithValue(root, ctxKey("level"), "next")

	active, token := Attach(root, next)
	assert.Equal(t, "next", active.Value(ctxKey("level")))
	assert.False(t, token.Detached())

	restored, err := Detach(token)
	require.NoError(t, err)
	assert.Equal(t, "root", restored.Value(ctxKey("level")))
	assert.True(t, token.Detached())

	_, err = Detach(token)
	assert.True(t, errors.Is(err, ErrTokenDetached))

	_, err = Detach(nil)
	assert.Error(t, err)
}

func TestTokenLIFO(t *testing.T) {

	root := context.Background()
	first := context.WithValue(root, ctxKey("k"), 1)
	second := context.WithValue(first, ctxKey("k"), 2)

	_, t1 := Attach(root, first)
	_, t2 := Attach(first, second)

	ctx, err := Detach(t2)
	require.NoError(t, err)
	assert.Equal(t, 1, ctx.Value(ctxKey("k")))

	ctx, err = Detach(t1)
	require.NoError(t, err)
	assert.Nil(t, ctx.Value(ctxKey("k")))
}

func TestActivationExitOnce(t *testing.T) {

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	a := Activate(context.Background(), span, true)
	assert.Equal(t, span, trace.SpanFromContext(a.Context()))

	assert.True(t, a.Exit(errors.New("boom")))
	assert.False(t, a.Exit(nil))
	assert.True(t, a.Exited())

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)

	event := ended[0].Events()[0]
	assert.Equal(t, "exception", event.Name)

	found := false
	for _, kv := range event.Attributes {
		if kv.Key == "exception.stacktrace" {
			found = true
			assert.Contains(t, kv.Value.AsString(), "TestActivationExitOnce")
		}
	}
	assert.True(t, found)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
}

func TestActivationKeepsSpanOpen(t *testing.T) {

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	a := Activate(nil, span, false)
	a.Exit(nil)
	assert.Empty(t, recorder.Ended())

	span.End()
	assert.Len(t, recorder.Ended(), 1)
}

func TestStore(t *testing.T) {

	s := NewStore()
	e := &Entry{}

	require.NoError(t, s.Put("a", e))
	assert.True(t, errors.Is(s.Put("a", &Entry{}), ErrEntryExists))

	got, ok := s.Get("a")
	assert.True(t, ok)
	assert.Same(t, e, got)

	got, ok = s.Take("a")
	assert.True(t, ok)
	assert.Same(t, e, got)

	_, ok = s.Take("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	s.Put("b", e)
	s.Delete("b")
	assert.Equal(t, 0, s.Len())
}

func TestStoreConcurrent(t *testing.T) {

	s := NewStore()
	wg := &sync.WaitGroup{}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("request-%d", i)
			e := &Entry{Context: context.WithValue(context.Background(), ctxKey("i"), i)}
			if err := s.Put(key, e); err != nil {
				t.Error(err)
				return
			}

			got, ok := s.Take(key)
			if !ok || got.Context.Value(ctxKey("i")) != i {
				t.Errorf("Invalid entry for %s", key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, s.Len())
}

func TestEntryFromContext(t *testing.T) {

	assert.Nil(t, EntryFromContext(context.Background()))

	e := &Entry{}
	ctx := WithEntry(context.Background(), e)
	assert.Same(t, e, EntryFromContext(ctx))
}
