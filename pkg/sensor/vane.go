package sensor

import (
	"periph.io/x/conn/v3/i2c"
)

// the filtered angle register of the AS5600
const angleRegister = 0x0E

// Vane reads the wind direction from an AS5600 magnetic encoder.
type Vane struct {
	dev *i2c.Dev
}

// NewVane creates a vane using the AS5600 at the specified address.
func NewVane(bus i2c.Bus, addr uint16) *Vane {
	return &Vane{
		dev: &i2c.Dev{Bus: bus, Addr: addr},
	}
}

// ReadAngle implements the station.WindVane interface.
func (v *Vane) ReadAngle() (float64, error) {
	// read register
	buf := make([]byte, 2)
	err := v.dev.Tx([]byte{angleRegister}, buf)
	if err != nil {
		return 0, err
	}

	return angle(uint16(buf[0]&0x0F)<<8 | uint16(buf[1])), nil
}

func angle(raw uint16) float64 {
	return float64(raw&0x0FFF) * 360 / 4096
}
