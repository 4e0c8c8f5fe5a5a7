package station

import (
	"context"
	"time"

	"github.com/juju/clock"
)

// Sleeper suspends the station between cycles.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper sleeps using a clock.
type ClockSleeper struct {
	Clock clock.Clock
}

// Sleep waits for the duration or until the context is done.
func (s ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-s.Clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
