package actor

import (
	"context"
	"sync"

	"github.com/banshee-data/planeplopper/internal/monitoring"
)

// Executor accepts work for the owner context.
type Executor interface {
	Post(fn func()) bool
}

// Jobs runs detached, fire-and-forget requests. A failed job is logged and
// never reported to whoever started it.
type Jobs struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight int
	failed   int
}

// NewJobs creates a job group whose jobs observe ctx.
func NewJobs(ctx context.Context) *Jobs {
	ctx, cancel := context.WithCancel(ctx)
	return &Jobs{ctx: ctx, cancel: cancel}
}

// Go starts fn on its own goroutine.
func (j *Jobs) Go(name string, fn func(ctx context.Context) error) {
	j.mu.Lock()
	j.inFlight++
	j.mu.Unlock()
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		err := fn(j.ctx)
		j.mu.Lock()
		j.inFlight--
		if err != nil {
			j.failed++
		}
		j.mu.Unlock()
		if err != nil {
			monitoring.Logf("[jobs] %s failed: %v", name, err)
		}
	}()
}

// Wait blocks until every started job has returned.
func (j *Jobs) Wait() { j.wg.Wait() }

// Close cancels outstanding jobs and waits for them.
func (j *Jobs) Close() {
	j.cancel()
	j.wg.Wait()
}

// Stats returns the number of running and failed jobs.
func (j *Jobs) Stats() (inFlight, failed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inFlight, j.failed
}

// Spawner starts detached jobs. Jobs implements it.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

var _ Spawner = (*Jobs)(nil)
