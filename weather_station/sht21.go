package weather_station

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

const (
	// SHT21Address is the fixed I2C address of the SHT21.
	SHT21Address = 0x40
	// SettleDelay is how long the sensor needs after a soft reset.
	SettleDelay = 50 * time.Millisecond

	cmdTempHold  = 0xE3
	cmdHumidHold = 0xE5
	cmdSoftReset = 0xFE

	// status bits in the two LSBs of every measurement word
	statusMask = 0xFFFC
	fullScale  = 65536
)

// Calibration converts a raw word with value = A + B*raw/65536.
type Calibration struct {
	A, B float64
}

// Apply masks the status bits and returns the value rounded to 0.1.
func (c Calibration) Apply(raw uint16) float64 {
	return Round1(c.A + c.B*float64(raw&statusMask)/fullScale)
}

type quantitySpec struct {
	command     byte
	calibration Calibration
}

var sht21Quantities = [...]quantitySpec{
	Temperature: {command: cmdTempHold, calibration: Calibration{A: -46.85, B: 175.72}},
	Humidity:    {command: cmdHumidHold, calibration: Calibration{A: -6, B: 125}},
}

// SHT21Calibration returns the datasheet conversion for q.
func SHT21Calibration(q Quantity) Calibration {
	return sht21Quantities[q].calibration
}

// SHT21 talks to a Sensirion SHT21 in hold-master mode.
type SHT21 struct {
	dev *i2c.Dev
}

// NewSHT21 binds the sensor at addr on bus.
func NewSHT21(bus i2c.Bus, addr uint16) *SHT21 {
	return &SHT21{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

func (s *SHT21) Reset() error {
	if err := s.dev.Tx([]byte{cmdSoftReset}, nil); err != nil {
		return fmt.Errorf("%w: soft reset: %v", ErrBus, err)
	}
	return nil
}

func (s *SHT21) Read(q Quantity) (uint16, error) {
	if q < 0 || int(q) >= len(sht21Quantities) {
		return 0, fmt.Errorf("sht21: unsupported %s", q)
	}
	buf := make([]byte, 3)
	if err := s.dev.Tx([]byte{sht21Quantities[q].command}, buf); err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrBus, q, err)
	}
	if sum := crc8(buf[:2]); sum != buf[2] {
		return 0, fmt.Errorf("%w: read %s: checksum 0x%02x, want 0x%02x", ErrBus, q, buf[2], sum)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// crc8 is the SHT2x checksum, polynomial x^8+x^5+x^4+1.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// RegisterSensor applies the SHT21 calibration to a register-level Device.
type RegisterSensor struct {
	Device Device
}

func (r *RegisterSensor) Sense(_ context.Context) (Measurement, error) {
	var m Measurement
	raw, err := r.Device.Read(Temperature)
	if err != nil {
		return m, err
	}
	m.Temperature = SHT21Calibration(Temperature).Apply(raw)
	raw, err = r.Device.Read(Humidity)
	if err != nil {
		return m, err
	}
	m.Humidity = SHT21Calibration(Humidity).Apply(raw)
	return m, nil
}

func (r *RegisterSensor) Halt() error {
	return nil
}
