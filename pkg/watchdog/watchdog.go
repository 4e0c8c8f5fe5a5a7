// Package watchdog implements a software task watchdog.
package watchdog

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Watchdog calls the expire function if it has not been fed within the
// timeout. It expires at most once.
type Watchdog struct {
	clock   clock.Clock
	timeout time.Duration
	expire  func()

	mutex   sync.Mutex
	timer   clock.Timer
	fed     time.Time
	stopped bool
}

// New creates and starts a new watchdog.
func New(clk clock.Clock, timeout time.Duration, expire func()) *Watchdog {
	// prepare watchdog
	w := &Watchdog{
		clock:   clk,
		timeout: timeout,
		expire:  expire,
		fed:     clk.Now(),
	}

	// start timer
	w.mutex.Lock()
	w.timer = clk.AfterFunc(timeout, w.fire)
	w.mutex.Unlock()

	return w
}

// Feed resets the watchdog.
func (w *Watchdog) Feed() {
	// acquire mutex
	w.mutex.Lock()
	defer w.mutex.Unlock()

	// check state
	if w.stopped {
		return
	}

	// reset timer
	w.fed = w.clock.Now()
	w.timer.Reset(w.timeout)
}

// Stop stops the watchdog.
func (w *Watchdog) Stop() {
	// acquire mutex
	w.mutex.Lock()
	defer w.mutex.Unlock()

	// stop timer
	w.stopped = true
	w.timer.Stop()
}

func (w *Watchdog) fire() {
	// acquire mutex
	w.mutex.Lock()

	// ignore stale timers
	if w.stopped || w.clock.Now().Sub(w.fed) < w.timeout {
		w.mutex.Unlock()
		return
	}

	// set flag
	w.stopped = true
	w.mutex.Unlock()

	w.expire()
}
