package dispatch

import (
	"context"
	"sync"
)

// Future resolves once the action it belongs to has been run (or refused) by
// the queue.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// ID identifies the queued action, useful for correlating logs.
func (f *Future) ID() string {
	if f == nil {
		return ""
	}
	return f.id
}

// Done is closed once the action has run.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsResolved reports whether the action has run.
func (f *Future) IsResolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the error the action finished with. It is nil while the action
// is still pending.
func (f *Future) Err() error {
	if !f.IsResolved() {
		return nil
	}
	return f.err
}

// Await blocks until the action has run or ctx is done.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
