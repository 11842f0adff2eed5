// In-process reader/writer lock with explicit FIFO fairness.
//
// sync.RWMutex gives no cancellation and no documented ordering, so each
// collection uses this small queue-based lock instead. State is
// {readers, writer, queue}; writer is never set while readers > 0.
//
// Policy, strict FIFO with cohort grants:
//   - a reader enters at once only if no writer is active and the queue
//     is empty; a writer enters at once only if the lock is idle.
//   - otherwise the caller joins the tail of the queue.
//   - whenever the lock changes state the head of the queue is drained:
//     a writer at the head is granted alone once the lock is idle; a
//     reader at the head is granted together with every reader directly
//     behind it, stopping at the first writer.
//
// A writer therefore waits at most for the readers ahead of it, and a
// reader at most for the writers ahead of it. Neither side starves.
package jsondb

import (
	"context"
	"sync"
)

type waiter struct {
	write   bool
	ready   chan struct{}
	granted bool
}

type rwLock struct {
	mu      sync.Mutex
	readers int
	writer  bool
	queue   []*waiter
}

func (l *rwLock) withRead(ctx context.Context, fn func() error) error {
	if err := l.acquire(ctx, false); err != nil {
		return err
	}
	defer l.release(false)
	return fn()
}

func (l *rwLock) withWrite(ctx context.Context, fn func() error) error {
	if err := l.acquire(ctx, true); err != nil {
		return err
	}
	defer l.release(true)
	return fn()
}

func (l *rwLock) acquire(ctx context.Context, write bool) error {
	l.mu.Lock()
	if l.admits(write) {
		l.enter(write)
		l.mu.Unlock()
		return nil
	}
	w := &waiter{write: write, ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w.granted {
		// Granted while we were giving up; hand it back.
		l.leave(write)
		l.drain()
		return ctx.Err()
	}
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
	// Leaving may expose readers queued behind us.
	l.drain()
	return ctx.Err()
}

func (l *rwLock) release(write bool) {
	l.mu.Lock()
	l.leave(write)
	l.drain()
	l.mu.Unlock()
}

// admits reports whether a new arrival may skip the queue. Must hold mu.
func (l *rwLock) admits(write bool) bool {
	if write {
		return !l.writer && l.readers == 0
	}
	return !l.writer && len(l.queue) == 0
}

func (l *rwLock) enter(write bool) {
	if write {
		l.writer = true
	} else {
		l.readers++
	}
}

func (l *rwLock) leave(write bool) {
	if write {
		l.writer = false
	} else {
		l.readers--
	}
}

// drain grants the head of the queue per the cohort policy. Must hold mu.
func (l *rwLock) drain() {
	if l.writer || len(l.queue) == 0 {
		return
	}
	if l.queue[0].write {
		if l.readers > 0 {
			return
		}
		l.grant(l.queue[0])
		l.queue = l.queue[1:]
		return
	}
	n := 0
	for n < len(l.queue) && !l.queue[n].write {
		l.grant(l.queue[n])
		n++
	}
	l.queue = l.queue[n:]
}

func (l *rwLock) grant(w *waiter) {
	l.enter(w.write)
	w.granted = true
	close(w.ready)
}

// state reports the current counters, for tests.
func (l *rwLock) state() (readers int, writer bool, waiting int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers, l.writer, len(l.queue)
}
