//go:build linux

package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// RPi is the hardware backend for the Raspberry Pi GPIO header.
type RPi struct{}

// OpenRPi maps the GPIO memory range and returns the hardware backend.
func OpenRPi() (*RPi, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: open rpio: %w", err)
	}
	return &RPi{}, nil
}

func (r *RPi) SetupOutput(pin int) error {
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return nil
}

func (r *RPi) SetupInput(pin int, pullUp bool) error {
	p := rpio.Pin(pin)
	p.Input()
	if pullUp {
		p.PullUp()
	} else {
		p.PullOff()
	}
	return nil
}

func (r *RPi) Write(pin, level int) error {
	p := rpio.Pin(pin)
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPi) Read(pin int) (int, error) {
	if rpio.Pin(pin).Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// ServoPulseWidth drives the hardware PWM at 50 Hz with a 20000-slot cycle,
// so one duty slot equals one microsecond of pulse width.
func (r *RPi) ServoPulseWidth(pin, widthUS int) error {
	p := rpio.Pin(pin)
	if widthUS <= 0 {
		p.DutyCycle(0, 20000)
		return nil
	}
	p.Mode(rpio.Pwm)
	p.Freq(50 * 20000)
	p.DutyCycle(uint32(widthUS), 20000)
	return nil
}

func (r *RPi) Close() error {
	return rpio.Close()
}
