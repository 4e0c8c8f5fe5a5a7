package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultDebounce is the minimum interval between two counted pulses.
const DefaultDebounce = 5 * time.Millisecond

// pollInterval bounds how long a pulse watcher waits for an edge before
// checking its context.
const pollInterval = 100 * time.Millisecond

// OpenPin initializes the host drivers and looks up the named GPIO pin.
func OpenPin(name string) (gpio.PinIO, error) {
	// initialize host
	_, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	// lookup pin
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("unknown pin %q", name)
	}

	return pin, nil
}

// WatchPulses configures the pin as a pulled up input and calls count for
// every rising edge. Edges that follow a counted edge within the debounce
// interval are ignored. It returns when the context is cancelled.
func WatchPulses(ctx context.Context, pin gpio.PinIn, clk clock.Clock, debounce time.Duration, count func()) error {
	// configure pin
	err := pin.In(gpio.PullUp, gpio.RisingEdge)
	if err != nil {
		return fmt.Errorf("configure pin %s: %w", pin, err)
	}

	var last time.Time
	for {
		// check context
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// await edge
		if !pin.WaitForEdge(pollInterval) {
			continue
		}

		// debounce
		now := clk.Now()
		if !last.IsZero() && now.Sub(last) < debounce {
			continue
		}
		last = now

		count()
	}
}
