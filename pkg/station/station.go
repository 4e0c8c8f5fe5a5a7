// Package station implements the measurement and update cycle of a weather
// station.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/juju/clock"

	"github.com/256dpi/wxstation/pkg/ota"
)

// Climate is a climate measurement.
type Climate struct {
	// The temperature in degrees Celsius.
	Temperature float64

	// The relative humidity in percent.
	Humidity float64
}

// ClimateSensor measures temperature and humidity.
type ClimateSensor interface {
	ReadClimate() (Climate, error)
}

// WindVane measures the wind direction in degrees.
type WindVane interface {
	ReadAngle() (float64, error)
}

// BatteryMonitor measures the battery voltage in volts.
type BatteryMonitor interface {
	ReadVoltage() (float64, error)
}

// Publisher publishes readings.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Updater checks for and applies firmware updates.
type Updater interface {
	Run(ctx context.Context) (*ota.Session, error)
}

// Config configures a station. Sensors, counters and the updater are
// optional.
type Config struct {
	// The base topic.
	Base string

	// The rain amount per bucket tip in millimeters.
	RainPerTip float64

	// Run the updater every n cycles, zero disables updates.
	UpdateEvery int

	// The time to collect pulses before reporting.
	Window time.Duration

	// The time to sleep between cycles.
	SleepInterval time.Duration

	Climate   ClimateSensor
	Vane      WindVane
	Battery   BatteryMonitor
	Counters  *Counters
	Publisher Publisher
	Updater   Updater
	Sleeper   Sleeper
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Station runs the measurement cycle.
type Station struct {
	config Config
	logger *slog.Logger
	cycles int
	last   time.Time
}

// New creates a new station.
func New(config Config) (*Station, error) {
	// check publisher
	if config.Publisher == nil {
		return nil, errors.New("missing publisher")
	}

	// set defaults
	if config.RainPerTip <= 0 {
		config.RainPerTip = DefaultRainPerTip
	}
	if config.Counters == nil {
		config.Counters = &Counters{}
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Sleeper == nil {
		config.Sleeper = ClockSleeper{Clock: config.Clock}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Station{
		config: config,
		logger: config.Logger,
		last:   config.Clock.Now(),
	}, nil
}

// Counters returns the pulse counters of the station.
func (s *Station) Counters() *Counters {
	return s.config.Counters
}

type reading struct {
	topic string
	value string
}

// Report reads all sensors and publishes the readings. Failing sensors are
// logged and skipped. Publish errors are collected and returned.
func (s *Station) Report() error {
	var readings []reading

	// read climate
	if s.config.Climate != nil {
		climate, err := s.config.Climate.ReadClimate()
		if err != nil {
			s.logger.Error("failed to read climate", "error", err)
		} else {
			readings = append(readings,
				reading{"temperature", format(climate.Temperature, 2)},
				reading{"humidity", format(climate.Humidity, 2)},
			)
		}
	}

	// read wind direction
	if s.config.Vane != nil {
		angle, err := s.config.Vane.ReadAngle()
		if err != nil {
			s.logger.Error("failed to read wind direction", "error", err)
		} else if label, ok := Compass(angle); ok {
			readings = append(readings, reading{"anemo/wind_direction", label})
		} else {
			s.logger.Warn("invalid wind direction", "angle", angle)
		}
	}

	// drain counters
	now := s.config.Clock.Now()
	window := now.Sub(s.last)
	s.last = now
	rain, rotations := s.config.Counters.Drain()
	readings = append(readings,
		reading{"anemo/wind_speed", format(WindSpeed(rotations, window.Seconds()), 2)},
		reading{"rain", format(float64(rain)*s.config.RainPerTip, 4)},
	)

	// read battery
	if s.config.Battery != nil {
		volts, err := s.config.Battery.ReadVoltage()
		if err != nil {
			s.logger.Error("failed to read battery", "error", err)
		} else {
			readings = append(readings,
				reading{"battery/voltage", format(volts*1000, 0)},
				reading{"battery/percentage", format(BatteryPercentage(volts), 1)},
			)
		}
	}

	// publish readings
	var errs []error
	for _, r := range readings {
		topic := s.config.Base + "/" + r.topic
		err := s.config.Publisher.Publish(topic, []byte(r.value))
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
			continue
		}
		s.logger.Debug("published reading", "topic", topic, "value", r.value)
	}

	return errors.Join(errs...)
}

// Cycle collects pulses for the window, reports the readings, runs the updater
// if due and sleeps.
func (s *Station) Cycle(ctx context.Context) error {
	// measure
	if s.config.Window > 0 {
		err := s.config.Sleeper.Sleep(ctx, s.config.Window)
		if err != nil {
			return err
		}
	}

	// report
	err := s.Report()
	if err != nil {
		s.logger.Error("failed to report", "error", err)
	}

	// update
	s.cycles++
	if s.config.Updater != nil && s.config.UpdateEvery > 0 && s.cycles%s.config.UpdateEvery == 0 {
		_, err = s.config.Updater.Run(ctx)
		if errors.Is(err, ota.ErrNoUpdate) {
			s.logger.Info("no update available")
		} else if err != nil {
			s.logger.Warn("update failed", "error", err)
		}
	}

	// check context
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// sleep
	s.logger.Info("sleeping", "duration", s.config.SleepInterval)
	return s.config.Sleeper.Sleep(ctx, s.config.SleepInterval)
}

// Run runs cycles until the context is done.
func (s *Station) Run(ctx context.Context) error {
	for {
		err := s.Cycle(ctx)
		if err != nil {
			return err
		}
	}
}

func format(value float64, precision int) string {
	return strconv.FormatFloat(value, 'f', precision, 64)
}
