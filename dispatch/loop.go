// Package dispatch provides the single-goroutine context that owns the scene. Other goroutines
// hand it work with Post and never touch scene state themselves.
package dispatch

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/fmfi-uk/rsscan/logging"
)

// ErrClosed is returned when work is handed to a loop that was closed.
var ErrClosed = errors.New("dispatch loop is closed")

// A Poster queues a function to run on the UI context. Functions posted from one goroutine run
// in the order they were posted. Post returns false when the function will never run.
type Poster interface {
	Post(fn func()) bool
}

// Loop is a FIFO work queue drained by one goroutine. Post never blocks, so producers such as
// the acquisition loop are never stalled by a slow UI.
type Loop struct {
	logger logging.Logger

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	running bool
}

// NewLoop returns an idle loop. Call Run on the goroutine that owns the scene, or Drain to run
// queued work inline.
func NewLoop(logger logging.Logger) *Loop {
	return &Loop{
		logger: logger.Sublogger("dispatch"),
		wake:   make(chan struct{}, 1),
	}
}

// Post implements Poster.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("dropping work posted after close")
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits until it ran on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (l *Loop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("posted work panicked", "panic", r)
		}
	}()
	fn()
}

// Drain runs every queued function on the calling goroutine, including functions queued while
// draining, and returns how many ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		batch := l.take()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			l.runOne(fn)
			n++
		}
	}
}

// Run drains the queue on the calling goroutine until ctx is done or the loop is closed.
// Work still queued at close is run before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("dispatch loop is already running")
	}
	l.running = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		l.Drain()
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			l.Drain()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting work and wakes Run so it can finish.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
