// Package servo drives the two latch servos and the two relay shutters.
package servo

import (
	"fmt"
	"sync"
	"time"

	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
)

// Lock names the two latches.
type Lock string

const (
	Lock1 Lock = "lock1" // front row
	Lock2 Lock = "lock2" // back row
)

// Shutter names the two window shutters.
type Shutter string

const (
	Outer Shutter = "outer"
	Inner Shutter = "inner"
)

// LockForRow selects the latch that grabs shelves in a row.
func LockForRow(row string) Lock {
	if row == config.RowBack {
		return Lock2
	}
	return Lock1
}

// State of a latch or shutter.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Config tunes the actuation dwell times.
type Config struct {
	// HoldTime is how long the servo pulse is held before release; the
	// release to zero suppresses servo hunting.
	HoldTime time.Duration

	// ReleaseAfterHold releases the servo line after HoldTime.
	ReleaseAfterHold bool

	// ShutterSettle covers relay settling after a shutter line change.
	ShutterSettle time.Duration
}

// DefaultConfig returns the production dwell times.
func DefaultConfig() Config {
	return Config{
		HoldTime:         300 * time.Millisecond,
		ReleaseAfterHold: true,
		ShutterSettle:    500 * time.Millisecond,
	}
}

// Driver owns the latches and shutters. States are cached in memory and
// reported on query.
type Driver struct {
	mu   sync.Mutex
	gpio *gpio.Manager
	pins config.Pins
	cfg  Config

	angles calibration.ServoAngles

	locks    map[Lock]State
	shutters map[Shutter]State
}

// New configures the shutter relay pins and returns a driver.
func New(g *gpio.Manager, pins config.Pins, cfg Config, cal calibration.Data) (*Driver, error) {
	for _, pin := range []int{pins.ShutterOuter, pins.ShutterInner} {
		if err := g.SetupOutput(pin); err != nil {
			return nil, fmt.Errorf("servo: %w", err)
		}
	}
	d := &Driver{
		gpio: g,
		pins: pins,
		cfg:  cfg,
		locks: map[Lock]State{
			Lock1: StateClosed,
			Lock2: StateClosed,
		},
		shutters: map[Shutter]State{
			Outer: StateClosed,
			Inner: StateClosed,
		},
	}
	d.Reload(cal)
	return d, nil
}

// Reload applies new latch angles from calibration.
func (d *Driver) Reload(cal calibration.Data) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.angles = cal.Servos
}

// PulseWidthForAngle converts a latch angle to the servo pulse width in
// microseconds.
func PulseWidthForAngle(angle int) int {
	return 500 + angle*2000/180
}

// SetAngle drives a latch to an angle, holds, then releases the line.
func (d *Driver) SetAngle(lock Lock, angle int) error {
	pin := d.pins.ServoLock1
	if lock == Lock2 {
		pin = d.pins.ServoLock2
	}
	if err := d.gpio.ServoPulseWidth(pin, PulseWidthForAngle(angle)); err != nil {
		return err
	}
	time.Sleep(d.cfg.HoldTime)
	if d.cfg.ReleaseAfterHold {
		return d.gpio.ServoPulseWidth(pin, 0)
	}
	return nil
}

// OpenLock opens a latch using its calibrated open angle.
func (d *Driver) OpenLock(lock Lock) error {
	d.mu.Lock()
	angle := d.angles.Lock1Open
	if lock == Lock2 {
		angle = d.angles.Lock2Open
	}
	d.mu.Unlock()

	if err := d.SetAngle(lock, angle); err != nil {
		return err
	}
	d.mu.Lock()
	d.locks[lock] = StateOpen
	d.mu.Unlock()
	return nil
}

// CloseLock closes a latch using its calibrated close angle.
func (d *Driver) CloseLock(lock Lock) error {
	d.mu.Lock()
	angle := d.angles.Lock1Close
	if lock == Lock2 {
		angle = d.angles.Lock2Close
	}
	d.mu.Unlock()

	if err := d.SetAngle(lock, angle); err != nil {
		return err
	}
	d.mu.Lock()
	d.locks[lock] = StateClosed
	d.mu.Unlock()
	return nil
}

// OpenShutter raises a shutter relay line and waits for settling.
func (d *Driver) OpenShutter(s Shutter) error {
	return d.setShutter(s, gpio.High, StateOpen)
}

// CloseShutter drops a shutter relay line and waits for settling.
func (d *Driver) CloseShutter(s Shutter) error {
	return d.setShutter(s, gpio.Low, StateClosed)
}

func (d *Driver) setShutter(s Shutter, level int, state State) error {
	pin := d.pins.ShutterOuter
	if s == Inner {
		pin = d.pins.ShutterInner
	}
	if err := d.gpio.Write(pin, level); err != nil {
		return err
	}
	time.Sleep(d.cfg.ShutterSettle)
	d.mu.Lock()
	d.shutters[s] = state
	d.mu.Unlock()
	return nil
}

// LockStates returns the cached latch states.
func (d *Driver) LockStates() map[Lock]State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Lock]State, len(d.locks))
	for k, v := range d.locks {
		out[k] = v
	}
	return out
}

// ShutterStates returns the cached shutter states.
func (d *Driver) ShutterStates() map[Shutter]State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Shutter]State, len(d.shutters))
	for k, v := range d.shutters {
		out[k] = v
	}
	return out
}
