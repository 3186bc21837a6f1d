// Package motor generates step pulses for the two CoreXY gantry motors and
// the tray motor. One motion may be in flight at a time; position is
// committed only when a whole move completes.
package motor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
	"bookcabinet/pkg/kinematics"
)

var (
	// ErrBusy is returned when a move is requested while one is in flight.
	ErrBusy = errors.New("motor: move already in flight")

	// ErrStopped is returned when a stop request interrupts a move.
	ErrStopped = errors.New("motor: stopped")

	// ErrTrayLimit is returned when full tray travel never reaches the
	// end limit switch within the step budget.
	ErrTrayLimit = errors.New("motor: tray limit not reached")
)

// Full-travel bounds.
const (
	maxTraySteps   = 4000
	trayBatchSteps = 25
)

// TrayLimits is the filtered limit-switch view the tray needs.
type TrayLimits interface {
	IsTrayRetracted() bool
	IsTrayExtended() bool
}

// Driver drives the three stepper axes.
type Driver struct {
	mu     sync.Mutex
	gpio   *gpio.Manager
	pins   config.Pins
	limits TrayLimits

	moving  atomic.Bool
	stopReq atomic.Bool

	posX, posY   int
	trayExtended bool

	signs  kinematics.Signs
	speeds calibration.Speeds
}

// New configures the motor pins and returns a driver with the given
// calibration snapshot applied.
func New(g *gpio.Manager, pins config.Pins, limits TrayLimits, cal calibration.Data) (*Driver, error) {
	for _, pin := range []int{
		pins.MotorAStep, pins.MotorADir,
		pins.MotorBStep, pins.MotorBDir,
		pins.TrayStep, pins.TrayDir,
	} {
		if err := g.SetupOutput(pin); err != nil {
			return nil, fmt.Errorf("motor: %w", err)
		}
	}
	d := &Driver{gpio: g, pins: pins, limits: limits}
	d.Reload(cal)
	return d, nil
}

// Reload applies a new calibration snapshot.
func (d *Driver) Reload(cal calibration.Data) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signs = cal.Kinematics
	d.speeds = cal.Speeds
}

// Position returns the current carriage position and tray state.
func (d *Driver) Position() (x, y int, trayExtended bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.posX, d.posY, d.trayExtended
}

// SetPosition latches the position after homing.
func (d *Driver) SetPosition(x, y int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.posX, d.posY = x, y
}

// Stop requests immediate suspension of any in-flight move. The flag stays
// set until ClearStop, so every following move fails fast.
func (d *Driver) Stop() {
	d.stopReq.Store(true)
}

// ClearStop resets the stop request; called by homing.
func (d *Driver) ClearStop() {
	d.stopReq.Store(false)
}

// Stopped reports whether a stop request is pending.
func (d *Driver) Stopped() bool {
	return d.stopReq.Load()
}

func (d *Driver) acquire() error {
	if !d.moving.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if d.stopReq.Load() {
		d.moving.Store(false)
		return ErrStopped
	}
	return nil
}

// MoveXY moves the carriage to an absolute step position.
func (d *Driver) MoveXY(targetX, targetY int) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.moving.Store(false)

	d.mu.Lock()
	dx := targetX - d.posX
	dy := targetY - d.posY
	signs := d.signs
	delay := d.halfPeriod(d.speeds.XY)
	d.mu.Unlock()

	if err := d.pulseXY(signs, dx, dy, delay); err != nil {
		return err
	}

	d.mu.Lock()
	d.posX, d.posY = targetX, targetY
	d.mu.Unlock()
	return nil
}

// JogXY moves the carriage by a relative step delta, tracking position.
// Used by homing and the calibration wizard.
func (d *Driver) JogXY(dx, dy int) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.moving.Store(false)

	d.mu.Lock()
	signs := d.signs
	delay := d.halfPeriod(d.speeds.XY)
	d.mu.Unlock()

	if err := d.pulseXY(signs, dx, dy, delay); err != nil {
		return err
	}

	d.mu.Lock()
	d.posX += dx
	d.posY += dy
	d.mu.Unlock()
	return nil
}

// pulseXY sets the direction lines and emits synchronized pulse pairs.
func (d *Driver) pulseXY(signs kinematics.Signs, dx, dy int, delay time.Duration) error {
	stepsA, stepsB := signs.ABSteps(dx, dy)

	if err := d.setDir(d.pins.MotorADir, stepsA); err != nil {
		return err
	}
	if err := d.setDir(d.pins.MotorBDir, stepsB); err != nil {
		return err
	}

	absA, absB := abs(stepsA), abs(stepsB)
	maxSteps := absA
	if absB > maxSteps {
		maxSteps = absB
	}

	for i := 0; i < maxSteps; i++ {
		if d.stopReq.Load() {
			return ErrStopped
		}
		if i < absA {
			if err := d.gpio.Write(d.pins.MotorAStep, gpio.High); err != nil {
				return err
			}
		}
		if i < absB {
			if err := d.gpio.Write(d.pins.MotorBStep, gpio.High); err != nil {
				return err
			}
		}
		time.Sleep(delay)
		if err := d.gpio.Write(d.pins.MotorAStep, gpio.Low); err != nil {
			return err
		}
		if err := d.gpio.Write(d.pins.MotorBStep, gpio.Low); err != nil {
			return err
		}
		time.Sleep(delay)
	}
	return nil
}

// StepMotor steps a single gantry motor in isolation, bypassing the CoreXY
// translation. The kinematics wizard uses this; tracked position is not
// touched.
func (d *Driver) StepMotor(motor string, steps int) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.moving.Store(false)

	var stepPin, dirPin int
	switch motor {
	case "a":
		stepPin, dirPin = d.pins.MotorAStep, d.pins.MotorADir
	case "b":
		stepPin, dirPin = d.pins.MotorBStep, d.pins.MotorBDir
	default:
		return fmt.Errorf("motor: unknown motor %q", motor)
	}

	if err := d.setDir(dirPin, steps); err != nil {
		return err
	}
	d.mu.Lock()
	delay := d.halfPeriod(d.speeds.XY)
	d.mu.Unlock()

	for i := 0; i < abs(steps); i++ {
		if d.stopReq.Load() {
			return ErrStopped
		}
		if err := d.gpio.Write(stepPin, gpio.High); err != nil {
			return err
		}
		time.Sleep(delay)
		if err := d.gpio.Write(stepPin, gpio.Low); err != nil {
			return err
		}
		time.Sleep(delay)
	}
	return nil
}

// ExtendTray extends the tray. steps <= 0 means full travel bounded by the
// tray-end limit switch.
func (d *Driver) ExtendTray(steps int) error {
	return d.moveTray(true, steps)
}

// RetractTray retracts the tray. steps <= 0 means full travel bounded by
// the tray-begin limit switch.
func (d *Driver) RetractTray(steps int) error {
	return d.moveTray(false, steps)
}

// MoveTray moves the tray by a signed exact step count; positive extends.
// The grab wizard uses this.
func (d *Driver) MoveTray(steps int) error {
	if steps >= 0 {
		return d.moveTray(true, steps)
	}
	return d.moveTray(false, -steps)
}

func (d *Driver) moveTray(extend bool, steps int) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.moving.Store(false)

	dir := gpio.Low
	if extend {
		dir = gpio.High
	}
	if err := d.gpio.Write(d.pins.TrayDir, dir); err != nil {
		return err
	}

	d.mu.Lock()
	delay := d.halfPeriod(d.speeds.Tray)
	d.mu.Unlock()

	if steps > 0 {
		if err := d.pulseTray(steps, delay); err != nil {
			return err
		}
	} else {
		if err := d.trayFullTravel(extend, delay); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.trayExtended = extend
	d.mu.Unlock()
	return nil
}

// trayFullTravel pulses in small batches, re-reading the limit switch
// between batches, and fails if the budget runs out before it trips.
func (d *Driver) trayFullTravel(extend bool, delay time.Duration) error {
	atLimit := d.limits.IsTrayExtended
	if !extend {
		atLimit = d.limits.IsTrayRetracted
	}
	for travelled := 0; travelled < maxTraySteps; travelled += trayBatchSteps {
		if atLimit() {
			return nil
		}
		if err := d.pulseTray(trayBatchSteps, delay); err != nil {
			return err
		}
	}
	if atLimit() {
		return nil
	}
	return ErrTrayLimit
}

func (d *Driver) pulseTray(steps int, delay time.Duration) error {
	for i := 0; i < steps; i++ {
		if d.stopReq.Load() {
			return ErrStopped
		}
		if err := d.gpio.Write(d.pins.TrayStep, gpio.High); err != nil {
			return err
		}
		time.Sleep(delay)
		if err := d.gpio.Write(d.pins.TrayStep, gpio.Low); err != nil {
			return err
		}
		time.Sleep(delay)
	}
	return nil
}

func (d *Driver) setDir(pin, steps int) error {
	level := gpio.Low
	if steps > 0 {
		level = gpio.High
	}
	return d.gpio.Write(pin, level)
}

// halfPeriod converts a step rate to the delay between level changes.
func (d *Driver) halfPeriod(stepsPerSec int) time.Duration {
	if stepsPerSec <= 0 {
		stepsPerSec = 1000
	}
	return time.Second / time.Duration(2*stepsPerSec)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
