// Package dispatch marshals work from background goroutines onto the single
// goroutine that owns engine-facing state.
//
// Any goroutine may call [Queue.Enqueue] or [Queue.EnqueueAfter]. Exactly one
// goroutine, the controlling one, calls [Queue.Drain] once per tick; every
// queued action runs there, in order, exactly once.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNilAction      = errors.New("dispatch: action is nil")
	ErrQueueClosed    = errors.New("dispatch: queue closed")
	ErrActionPanicked = errors.New("dispatch: action panicked")
)

// Action is a unit of work run on the controlling goroutine. A returned error
// (or a panic) is attached to the action's [Future].
type Action func() error

type task struct {
	id     string
	action Action
	future *Future

	seq      uint64
	queuedAt time.Time
	// dueAt is the earliest time the task may run, equal to queuedAt for
	// tasks queued without a delay.
	dueAt time.Time
}

type Queue struct {
	mu      sync.Mutex
	pending []*task
	delayed []*task
	seq     uint64
	closed  bool

	draining  atomic.Bool
	closeOnce sync.Once

	now func() time.Time
}

type QueueOption func(*Queue)

// WithClock replaces the clock used to timestamp and release delayed actions.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules action for the next Drain.
func (q *Queue) Enqueue(action Action) *Future {
	return q.enqueue(action, 0)
}

// EnqueueAfter schedules action for the first Drain that happens at least
// delay after now.
func (q *Queue) EnqueueAfter(delay time.Duration, action Action) *Future {
	return q.enqueue(action, delay)
}

// Execute enqueues action and waits for it to run. It must not be called from
// the controlling goroutine, which would wait on itself.
func (q *Queue) Execute(ctx context.Context, action Action) error {
	return q.Enqueue(action).Await(ctx)
}

func (q *Queue) enqueue(action Action, delay time.Duration) *Future {
	future := newFuture(uuid.NewString())
	if action == nil {
		future.resolve(ErrNilAction)
		return future
	}
	if q == nil {
		future.resolve(ErrQueueClosed)
		return future
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		future.resolve(ErrQueueClosed)
		return future
	}

	q.seq++
	now := q.now()
	t := &task{
		id:       future.id,
		action:   action,
		future:   future,
		seq:      q.seq,
		queuedAt: now,
		dueAt:    now,
	}
	if delay > 0 {
		t.dueAt = now.Add(delay)
		q.delayed = append(q.delayed, t)
	} else {
		q.pending = append(q.pending, t)
	}
	return future
}

// Drain runs every action that is due, in the order it became due, and
// returns how many ran. Actions queued while draining wait for the next call.
//
// Drain must only be called from the controlling goroutine; an overlapping
// call returns immediately without running anything.
func (q *Queue) Drain() int {
	if q == nil {
		return 0
	}
	if !q.draining.CompareAndSwap(false, true) {
		logger.Warn("drain already in progress, skipping")
		return 0
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	now := q.now()
	waiting := q.delayed[:0:0]
	for _, t := range q.delayed {
		if t.dueAt.After(now) {
			waiting = append(waiting, t)
			continue
		}
		batch = append(batch, t)
	}
	q.delayed = waiting
	q.mu.Unlock()

	slices.SortStableFunc(batch, func(a, b *task) int {
		if c := a.dueAt.Compare(b.dueAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	for _, t := range batch {
		q.run(t, now)
	}
	return len(batch)
}

func (q *Queue) run(t *task, now time.Time) {
	err := func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%w: %v", ErrActionPanicked, recovered)
			}
		}()
		return t.action()
	}()

	if err != nil {
		logger.Error("dispatched action failed",
			"task_id", t.id,
			"queued_for", now.Sub(t.queuedAt).String(),
			"error", err)
	}
	t.future.resolve(err)
}

// Len reports how many actions are waiting, including delayed ones.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.delayed)
}

// Run drains the queue every interval until ctx is done. It is meant for hosts
// that have no frame loop of their own; the calling goroutine becomes the
// controlling one.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if q == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Drain()
		}
	}
}

// Close refuses further actions and fails every action still waiting with
// ErrQueueClosed.
func (q *Queue) Close() {
	if q == nil {
		return
	}

	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		abandoned := append(q.pending, q.delayed...)
		q.pending = nil
		q.delayed = nil
		q.mu.Unlock()

		for _, t := range abandoned {
			t.future.resolve(ErrQueueClosed)
		}
	})
}
