package station

import "sync/atomic"

// Counters accumulates pulses from the rain gauge and the anemometer. It may
// be incremented from any goroutine.
type Counters struct {
	rain      atomic.Uint64
	rotations atomic.Uint64
}

// AddRain counts a rain bucket tip.
func (c *Counters) AddRain() {
	c.rain.Add(1)
}

// AddRotation counts an anemometer rotation.
func (c *Counters) AddRotation() {
	c.rotations.Add(1)
}

// Drain returns and resets the counts.
func (c *Counters) Drain() (rain, rotations uint64) {
	return c.rain.Swap(0), c.rotations.Swap(0)
}
