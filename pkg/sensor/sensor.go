// Package sensor provides the I2C sensors of the weather station.
package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/devices/v3/ina219"
	"periph.io/x/host/v3"

	"github.com/256dpi/wxstation/pkg/station"
)

// The default sensor addresses.
const (
	DefaultClimateAddress uint16 = 0x76
	DefaultBatteryAddress uint16 = 0x40
	DefaultWindAddress    uint16 = 0x36
)

// OpenBus initializes the host drivers and opens the named I2C bus. An empty
// name opens the default bus.
func OpenBus(name string) (i2c.BusCloser, error) {
	// initialize host
	_, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	// open bus
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	return bus, nil
}

// Climate reads temperature and humidity from a BME280.
type Climate struct {
	dev *bmxx80.Dev
}

// NewClimate connects to a BME280 at the specified address.
func NewClimate(bus i2c.Bus, addr uint16) (*Climate, error) {
	// open device
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, err
	}

	return &Climate{dev: dev}, nil
}

// ReadClimate implements the station.ClimateSensor interface.
func (c *Climate) ReadClimate() (station.Climate, error) {
	// sense
	var env physic.Env
	err := c.dev.Sense(&env)
	if err != nil {
		return station.Climate{}, err
	}

	return station.Climate{
		Temperature: env.Temperature.Celsius(),
		Humidity:    float64(env.Humidity) / float64(physic.PercentRH),
	}, nil
}

// Close halts the device.
func (c *Climate) Close() error {
	return c.dev.Halt()
}

// Battery reads the battery voltage from an INA219.
type Battery struct {
	dev *ina219.Dev
}

// NewBattery connects to an INA219 at the specified address.
func NewBattery(bus i2c.Bus, addr uint16) (*Battery, error) {
	// prepare options
	opts := ina219.DefaultOpts
	opts.Address = int(addr)

	// open device
	dev, err := ina219.New(bus, &opts)
	if err != nil {
		return nil, err
	}

	return &Battery{dev: dev}, nil
}

// ReadVoltage implements the station.BatteryMonitor interface.
func (b *Battery) ReadVoltage() (float64, error) {
	// sense
	pm, err := b.dev.Sense()
	if err != nil {
		return 0, err
	}

	return volts(pm.Voltage), nil
}

func volts(v physic.ElectricPotential) float64 {
	return float64(v) / float64(physic.Volt)
}
