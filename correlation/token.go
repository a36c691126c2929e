package correlation

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

var ErrTokenDetached = errors.New("token already detached")

// Token restores the context that was active before Attach.
type Token struct {
	previous context.Context
	detached int32
}

func (t *Token) Previous() context.Context {
	if t == nil {
		return nil
	}
	return t.previous
}

func (t *Token) Detached() bool {
	return t != nil && atomic.LoadInt32(&t.detached) == 1
}

// Attach makes next the active context and returns a token to restore previous.
func Attach(previous, next context.Context) (context.Context, *Token) {

	if previous == nil {
		previous = context.Background()
	}
	return next, &Token{previous: previous}
}

// Detach pops back to the context saved in token. A token can be detached once.
func Detach(token *Token) (context.Context, error) {

	if token == nil {
		return nil, errors.New("nil token")
	}
	if !atomic.CompareAndSwapInt32(&token.detached, 0, 1) {
		return token.previous, errors.WithStack(ErrTokenDetached)
	}
	return token.previous, nil
}
