package watchdog

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
)

func expired(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func TestWatchdog(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))

	ch := make(chan struct{}, 2)
	w := New(clk, time.Second, func() {
		ch <- struct{}{}
	})

	clk.Advance(500 * time.Millisecond)
	w.Feed()

	clk.Advance(700 * time.Millisecond)
	assert.False(t, expired(ch))

	clk.Advance(400 * time.Millisecond)
	assert.True(t, expired(ch))

	// expires once
	w.Feed()
	clk.Advance(2 * time.Second)
	assert.False(t, expired(ch))
}

func TestWatchdogStop(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))

	ch := make(chan struct{}, 1)
	w := New(clk, time.Second, func() {
		ch <- struct{}{}
	})

	w.Stop()
	clk.Advance(2 * time.Second)
	assert.False(t, expired(ch))
}
