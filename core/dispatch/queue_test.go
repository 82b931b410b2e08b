package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestDrainRunsActionsInEnqueueOrder(t *testing.T) {
	q := NewQueue()

	var order []int
	for i := range 5 {
		q.Enqueue(func() error {
			order = append(order, i)
			return nil
		})
	}

	if ran := q.Drain(); ran != 5 {
		t.Fatalf("expected 5 actions to run, got %d", ran)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("expected action %d at position %d, got %d", i, i, got)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestConcurrentEnqueueRunsEachActionExactlyOnce(t *testing.T) {
	q := NewQueue()

	const producers = 8
	const perProducer = 50

	counts := make([]int, producers*perProducer)
	futures := make([]*Future, producers*perProducer)
	lastSeen := make([]int, producers)
	for i := range lastSeen {
		lastSeen[i] = -1
	}
	outOfOrder := false

	wg := sync.WaitGroup{}
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				idx := p*perProducer + i
				futures[idx] = q.Enqueue(func() error {
					counts[idx]++
					if i <= lastSeen[p] {
						outOfOrder = true
					}
					lastSeen[p] = i
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if ran := q.Drain(); ran != producers*perProducer {
		t.Fatalf("expected %d actions to run, got %d", producers*perProducer, ran)
	}
	if ran := q.Drain(); ran != 0 {
		t.Fatalf("expected second drain to run nothing, got %d", ran)
	}

	for idx, count := range counts {
		if count != 1 {
			t.Fatalf("expected action %d to run once, ran %d times", idx, count)
		}
		if !futures[idx].IsResolved() {
			t.Fatalf("expected future %d to be resolved", idx)
		}
	}
	if outOfOrder {
		t.Fatalf("expected actions from one producer to run in enqueue order")
	}
}

func TestFailingActionDoesNotStopDrain(t *testing.T) {
	q := NewQueue()
	errBoom := errors.New("boom")

	ranAfter := false
	failing := q.Enqueue(func() error { return errBoom })
	panicking := q.Enqueue(func() error { panic("kaboom") })
	after := q.Enqueue(func() error {
		ranAfter = true
		return nil
	})

	q.Drain()

	if !errors.Is(failing.Err(), errBoom) {
		t.Fatalf("expected failing future to carry %v, got %v", errBoom, failing.Err())
	}
	if !errors.Is(panicking.Err(), ErrActionPanicked) {
		t.Fatalf("expected panicking future to carry ErrActionPanicked, got %v", panicking.Err())
	}
	if !ranAfter {
		t.Fatalf("expected action after failures to run")
	}
	if err := after.Err(); err != nil {
		t.Fatalf("expected successful future, got %v", err)
	}
}

func TestEnqueueNilActionFailsImmediately(t *testing.T) {
	q := NewQueue()

	future := q.Enqueue(nil)
	if !future.IsResolved() {
		t.Fatalf("expected nil action future to be resolved immediately")
	}
	if !errors.Is(future.Err(), ErrNilAction) {
		t.Fatalf("expected ErrNilAction, got %v", future.Err())
	}
	if q.Len() != 0 {
		t.Fatalf("expected nil action not to be queued")
	}
}

func TestActionsQueuedWhileDrainingRunNextTick(t *testing.T) {
	q := NewQueue()

	nestedRan := false
	q.Enqueue(func() error {
		q.Enqueue(func() error {
			nestedRan = true
			return nil
		})
		return nil
	})

	if ran := q.Drain(); ran != 1 {
		t.Fatalf("expected only the outer action to run, got %d", ran)
	}
	if nestedRan {
		t.Fatalf("expected nested action to wait for the next drain")
	}
	if ran := q.Drain(); ran != 1 || !nestedRan {
		t.Fatalf("expected nested action to run on the next drain, ran %d", ran)
	}
}

func TestEnqueueAfterWaitsForDueTime(t *testing.T) {
	clock := newManualClock()
	q := NewQueue(WithClock(clock.Now))

	var order []string
	q.EnqueueAfter(5*time.Second, func() error {
		order = append(order, "late")
		return nil
	})
	q.EnqueueAfter(time.Second, func() error {
		order = append(order, "early")
		return nil
	})
	q.Enqueue(func() error {
		order = append(order, "now")
		return nil
	})

	q.Drain()
	if len(order) != 1 || order[0] != "now" {
		t.Fatalf("expected only the immediate action to run, got %v", order)
	}

	clock.Advance(4999 * time.Millisecond)
	q.Drain()
	if len(order) != 2 || order[1] != "early" {
		t.Fatalf("expected the early action to run after 1s, got %v", order)
	}

	clock.Advance(time.Millisecond)
	q.Drain()
	if len(order) != 3 || order[2] != "late" {
		t.Fatalf("expected the late action to run exactly at 5s, got %v", order)
	}
}

func TestExecuteWaitsForDrain(t *testing.T) {
	q := NewQueue()
	errBoom := errors.New("boom")

	result := make(chan error, 1)
	go func() {
		result <- q.Execute(context.Background(), func() error { return errBoom })
	}()

	deadline := time.After(2 * time.Second)
	for q.Len() == 0 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for action to be queued")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	q.Drain()

	select {
	case err := <-result:
		if !errors.Is(err, errBoom) {
			t.Fatalf("expected %v, got %v", errBoom, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Execute to return")
	}
}

func TestCloseFailsPendingAndRefusesNewActions(t *testing.T) {
	q := NewQueue()

	pending := q.Enqueue(func() error { return nil })
	delayed := q.EnqueueAfter(time.Hour, func() error { return nil })
	q.Close()

	if !errors.Is(pending.Err(), ErrQueueClosed) || !errors.Is(delayed.Err(), ErrQueueClosed) {
		t.Fatalf("expected pending futures to fail with ErrQueueClosed, got %v and %v", pending.Err(), delayed.Err())
	}
	if future := q.Enqueue(func() error { return nil }); !errors.Is(future.Err(), ErrQueueClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", future.Err())
	}
	if ran := q.Drain(); ran != 0 {
		t.Fatalf("expected closed queue to run nothing, got %d", ran)
	}
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, time.Millisecond)
	}()

	if err := q.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("expected action to run on the loop, got %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to stop")
	}
}
