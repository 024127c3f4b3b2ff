// Package actor provides the single owner execution context that serialises
// all scene, index and persisted-state mutation, plus a detached job group
// for fire-and-forget requests whose failures are only logged.
package actor

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/planeplopper/internal/monitoring"
)

// ErrLoopStopped is returned by Do when the loop is no longer running.
var ErrLoopStopped = errors.New("owner loop stopped")

// defaultQueueSize bounds the number of pending functions before Post blocks.
const defaultQueueSize = 256

// Loop runs submitted functions one at a time on a single goroutine.
type Loop struct {
	queue chan func()
	done  chan struct{}

	mu      sync.Mutex
	running bool
	stopped bool
}

// NewLoop creates a loop. Call Run to start draining it.
func NewLoop() *Loop {
	return &Loop{
		queue: make(chan func(), defaultQueueSize),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled. Functions still queued at
// cancellation are dropped. Run returns nil on clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.stopped = true
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[owner] recovered panic in owner loop: %v", r)
		}
	}()
	fn()
}

// Post enqueues fn without waiting for it to run. It returns false when
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have run just before shutdown.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }
