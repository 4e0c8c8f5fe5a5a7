package station

import (
	"math"

	"github.com/samber/lo"
)

// DefaultRainPerTip is the rain amount in millimeters per bucket tip.
const DefaultRainPerTip = 0.2794

// the anemometer circumference in meters
const anemometerCircumference = 1.05

// the battery voltage range
const (
	batteryEmpty = 3.6
	batteryFull  = 4.1
)

var compass = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Compass returns the compass label of a wind vane angle in degrees. Angles
// outside of [0, 360) have no label.
func Compass(angle float64) (string, bool) {
	if math.IsNaN(angle) || angle < 0 || angle >= 360 {
		return "", false
	}
	return compass[int(angle/45)], true
}

// WindSpeed returns the wind speed in km/h for the number of anemometer
// rotations counted during the window.
func WindSpeed(rotations uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(rotations) * anemometerCircumference / seconds * 3.6
}

// BatteryPercentage returns the charge of a battery at the specified voltage.
func BatteryPercentage(volts float64) float64 {
	return lo.Clamp((volts-batteryEmpty)/(batteryFull-batteryEmpty)*100, 0, 100)
}
