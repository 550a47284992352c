// Package coordinator provides the single execution context that owns all
// mutable session and batch state.
//
// Background goroutines never mutate coordinator-owned state directly. They
// compute a result from an immutable snapshot and Post a closure that applies
// it on the loop.
package coordinator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Do after the loop has been closed.
var ErrClosed = errors.New("coordinator closed")

// Loop runs posted functions one at a time, in submission order, on a single
// goroutine. The queue is unbounded so posting never blocks the producer.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	notify  chan struct{}
	stopped chan struct{}
}

// New starts a loop.
func New() *Loop {
	l := &Loop{
		notify:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post schedules fn to run on the loop and returns immediately. It reports
// false when the loop is closed and fn was discarded.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return.
//
// Do must not be called from a function already running on the loop; that
// deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// The loop drains its queue before stopping.
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until everything posted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	return l.Do(ctx, func() {})
}

// Close stops accepting work, runs what is already queued and waits for the
// loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
	l.mu.Unlock()
	<-l.stopped
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.notify
	}
}
