// Package poller drives a task at a fixed target frequency.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/planeplopper/internal/timeutil"
)

// ErrInvalidFrequency is returned for non-positive frequencies.
var ErrInvalidFrequency = errors.New("poll frequency must be positive")

// Interval returns the sleep between ticks for a frequency in Hz.
func Interval(hz int) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Second / time.Duration(hz)
}

// Run sleeps 1/hz and then calls fn, repeatedly, until ctx is cancelled.
// Cancellation is checked before every sleep, and a sleep interrupted by
// cancellation ends the loop without calling fn again. The rate is best
// effort: time spent in fn is not subtracted from the next sleep.
func Run(ctx context.Context, clock timeutil.Clock, hz int, fn func(context.Context)) error {
	if hz <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFrequency, hz)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := Interval(hz)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !sleep(ctx, clock, interval) {
			return nil
		}
		fn(ctx)
	}
}

// sleep reports false when the sleep was cut short.
func sleep(ctx context.Context, clock timeutil.Clock, d time.Duration) bool {
	timer := clock.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C():
		return true
	}
}
