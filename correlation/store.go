package correlation

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

var ErrEntryExists = errors.New("correlation entry already exists")

// Entry links an in-flight request to its open span.
type Entry struct {
	Activation *Activation
	Span       trace.Span
	Token      *Token
	Context    context.Context
}

type Store struct {
	mu      sync.RWMutex
	entries map[interface{}]*Entry
}

func (s *Store) Put(key interface{}, e *Entry) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return errors.WithStack(ErrEntryExists)
	}
	s.entries[key] = e
	return nil
}

func (s *Store) Get(key interface{}) (*Entry, bool) {

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return e, ok
}

// Take looks up and removes the entry in one step.
func (s *Store) Take(key interface{}) (*Entry, bool) {

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	return e, ok
}

func (s *Store) Delete(key interface{}) {

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *Store) Len() int {

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func NewStore() *Store {
	return &Store{entries: make(map[interface{}]*Entry)}
}

type entryKey struct{}

func WithEntry(ctx context.Context, e *Entry) context.Context {
	return context.WithValue(ctx, entryKey{}, e)
}

func EntryFromContext(ctx context.Context) *Entry {

	if ctx == nil {
		return nil
	}
	e, _ := ctx.Value(entryKey{}).(*Entry)
	return e
}
