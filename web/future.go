package web

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Future is settled once with either a result or an error.
// Done callbacks run before waiters are released.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	result    interface{}
	err       error
	callbacks []func(*Future)
}

func (f *Future) settle(result interface{}, err error) bool {

	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}

	f.settled = true
	f.result = result
	f.err = err

	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	defer close(f.done)
	for _, cb := range callbacks {
		cb(f)
	}
	return true
}

func (f *Future) Resolve(result interface{}) bool {
	return f.settle(result, nil)
}

func (f *Future) Reject(err error) bool {

	if err == nil {
		err = errors.New("future rejected without error")
	}
	return f.settle(nil, err)
}

// AddDoneCallback runs cb once f is settled, immediately if it already is.
func (f *Future) AddDoneCallback(cb func(*Future)) {

	if cb == nil {
		return
	}

	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		cb(f)
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result does not block. Before f is settled it returns an error.
func (f *Future) Result() (interface{}, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.settled {
		return nil, errors.New("future is not settled")
	}
	return f.result, f.err
}

func (f *Future) Wait(ctx context.Context) (interface{}, error) {

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func Resolved(result interface{}) *Future {
	f := NewFuture()
	f.Resolve(result)
	return f
}

func Rejected(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Go runs fn in a goroutine. The future is rejected when ctx is done first.
func Go(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) *Future {

	if ctx == nil {
		ctx = context.Background()
	}
	f := NewFuture()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.Reject(errors.Errorf("panic: %v", r))
			}
		}()
		result, err := fn(ctx)
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(result)
	}()

	go func() {
		select {
		case <-f.done:
		case <-ctx.Done():
			f.Reject(errors.WithStack(ctx.Err()))
		}
	}()
	return f
}

// Gather resolves with all results in order, or rejects with the first error.
func Gather(ctx context.Context, futures ...*Future) *Future {

	return Go(ctx, func(ctx context.Context) (interface{}, error) {

		results := make([]interface{}, len(futures))
		for i, f := range futures {
			r, err := f.Wait(ctx)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	})
}
