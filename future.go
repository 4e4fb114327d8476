package querycache

import (
	"context"
	"sync"
)

// future is a settle-once container for an in-flight fetch outcome. Every
// caller deduplicated onto the same fetch waits on the same future.
type future struct {
	done chan struct{}
	once sync.Once
	data any
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// settle records the outcome. First call wins; later calls are ignored.
func (f *future) settle(data any, err error) {
	f.once.Do(func() {
		f.data = data
		f.err = err
		close(f.done)
	})
}

// wait blocks until the fetch settles or ctx is done. A ctx expiry abandons
// the wait only; the fetch itself keeps running for other waiters.
func (f *future) wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
