// Package motion implements the three cabinet algorithms - INIT, TAKE and
// GIVE - on top of the motor, servo and sensor drivers. Every carriage move
// runs under the safe-move supervisor; every algorithm emits an ordered
// progress stream over the event bus.
package motion

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/motor"
	"bookcabinet/pkg/sensor"
	"bookcabinet/pkg/servo"
)

// State of the motion subsystem.
type State string

const (
	StateIdle        State = "idle"
	StateHoming      State = "homing"
	StateBusy        State = "busy"
	StateWaitingUser State = "waiting_user"
	StateStopped     State = "stopped"
	StateError       State = "error"
)

// Homing parameters: the axis is driven toward its begin switch in bounded
// increments; running out of budget is a fatal homing failure.
const (
	homeIncrement  = 100
	homeBudget     = 16000
	homeIterations = homeBudget / homeIncrement
)

// Controller owns the cabinet mechanics. Exactly one algorithm may run at
// a time; the mutex models the cabinet as a single exclusive resource.
type Controller struct {
	mu sync.Mutex // held for the duration of one algorithm

	motors  *motor.Driver
	servos  *servo.Driver
	sensors *sensor.Reader
	cal     *calibration.Store
	bus     *bus.Bus
	log     *zap.Logger

	userWait time.Duration

	stopReq atomic.Bool // sticky until the next InitHome

	stateMu   sync.Mutex
	state     State
	currentOp string

	userAck chan struct{}
}

// New wires the controller. The calibration store is read at the start of
// every algorithm, so wizard updates apply to the next run.
func New(motors *motor.Driver, servos *servo.Driver, sensors *sensor.Reader,
	cal *calibration.Store, b *bus.Bus, log *zap.Logger, timeouts config.Timeouts) *Controller {
	c := &Controller{
		motors:   motors,
		servos:   servos,
		sensors:  sensors,
		cal:      cal,
		bus:      b,
		log:      log,
		userWait: timeouts.UserWait,
		state:    StateIdle,
		userAck:  make(chan struct{}, 1),
	}
	cal.OnReload(func(d calibration.Data) {
		motors.Reload(d)
		servos.Reload(d)
	})
	return c
}

// State returns the current algorithm state.
func (c *Controller) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Operation returns the name of the running or last operation.
func (c *Controller) Operation() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.currentOp
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Controller) begin(op string, s State) {
	c.stateMu.Lock()
	c.currentOp = op
	c.state = s
	c.stateMu.Unlock()
}

// Stop requests a cooperative stop: the flag is checked at every safe-move
// waypoint and before every tray phase, and the motor driver aborts any
// in-flight pulse burst. The flag is sticky until the next InitHome.
func (c *Controller) Stop() {
	c.stopReq.Store(true)
	c.motors.Stop()
	c.setState(StateStopped)
	c.log.Warn("operator stop requested")
}

// Stopped reports whether the sticky stop flag is set.
func (c *Controller) Stopped() bool {
	return c.stopReq.Load()
}

func (c *Controller) progress(op string, step, total int, message string) {
	c.bus.Publish(bus.Progress{Step: step, Total: total, Message: message, Operation: op})
}

func (c *Controller) fail(op string, err error) error {
	me, ok := err.(*Error)
	if !ok {
		me = &Error{Code: CodeDriveFault, Operation: op, Message: err.Error()}
	}
	me.Operation = op
	c.bus.Publish(bus.Error{Code: me.Code, Message: me.Message, Operation: op})
	if me.Code == CodeOperatorStop {
		c.setState(StateStopped)
	} else {
		c.setState(StateError)
	}
	c.log.Warn("motion failed", zap.String("operation", op), zap.Int("code", me.Code), zap.String("message", me.Message))
	return me
}

// publishPosition broadcasts the carriage position after a move segment.
func (c *Controller) publishPosition() {
	x, y, tray := c.motors.Position()
	c.bus.Publish(bus.Position{X: x, Y: y, Tray: tray})
}

// InitHome homes the gantry: retract the tray, drive X negative in bounded
// increments until x_begin asserts, latch zero, then the same for Y. It
// also clears a sticky operator stop.
func (c *Controller) InitHome() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "INIT"
	const total = 5
	c.begin(op, StateHoming)

	c.stopReq.Store(false)
	c.motors.ClearStop()

	c.progress(op, 1, total, "checking tray")
	if !c.switchTriggered(sensor.TrayBegin) {
		if err := c.trayRetract(op, 0); err != nil {
			return c.fail(op, err)
		}
	}

	c.progress(op, 2, total, "homing X axis")
	if err := c.homeAxis(sensor.XBegin, -homeIncrement, 0); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 3, total, "latching X zero")
	_, y, _ := c.motors.Position()
	c.motors.SetPosition(0, y)

	c.progress(op, 4, total, "homing Y axis")
	if err := c.homeAxis(sensor.YBegin, 0, -homeIncrement); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 5, total, "latching Y zero")
	c.motors.SetPosition(0, 0)

	c.publishPosition()
	c.setState(StateIdle)
	c.log.Info("homing complete")
	return nil
}

func (c *Controller) homeAxis(sw sensor.Name, dx, dy int) error {
	for i := 0; i < homeIterations; i++ {
		if c.switchTriggered(sw) {
			return nil
		}
		if err := c.motors.JogXY(dx, dy); err != nil {
			if err == motor.ErrStopped {
				return &Error{Code: CodeOperatorStop, Message: "stop during homing"}
			}
			return &Error{Code: CodeInitFailed, Message: "drive fault during homing: " + err.Error()}
		}
	}
	if c.switchTriggered(sw) {
		return nil
	}
	return &Error{Code: CodeInitFailed, Message: string(sw) + " never asserted within homing budget"}
}

// switchTriggered polls a switch through the full debounce depth so a
// stable physical level commits within one call.
func (c *Controller) switchTriggered(sw sensor.Name) bool {
	var r sensor.Reading
	for i := 0; i < sensor.DebounceReads; i++ {
		r, _ = c.sensors.Read(sw)
	}
	return r.Triggered
}

// TakeShelf extracts the shelf at (row, x, y) and presents it at the
// window. On success the controller is left in the waiting_user state.
func (c *Controller) TakeShelf(row string, x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "TAKE"
	const total = 13
	c.begin(op, StateBusy)

	cal := c.cal.Get()
	grab := cal.Grab(row)
	lock := servo.LockForRow(row)

	mapper, err := newMapper(cal)
	if err != nil {
		return c.fail(op, err)
	}
	cellX, cellY, err := mapper.CellToSteps(row, x, y)
	if err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 1, total, "checking tray")
	if !c.switchTriggered(sensor.TrayBegin) {
		if err := c.trayRetract(op, 0); err != nil {
			return c.fail(op, err)
		}
	}

	c.progress(op, 2, total, "moving to cell")
	if err := c.safeMoveTo(op, cellX, cellY); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 3, total, "extending tray, first stage")
	if err := c.trayExtend(op, grab.Extend1); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 4, total, "closing latch")
	if err := c.servos.CloseLock(lock); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 5, total, "retracting tray")
	if err := c.trayRetract(op, grab.Retract); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 6, total, "opening latch")
	if err := c.servos.OpenLock(lock); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 7, total, "extending tray, second stage")
	if err := c.trayExtend(op, grab.Extend2); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 8, total, "closing latch")
	if err := c.servos.CloseLock(lock); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 9, total, "retracting tray fully")
	if err := c.trayRetract(op, 0); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 10, total, "moving to window")
	wx, wy := mapper.WindowSteps()
	if err := c.safeMoveTo(op, wx, wy); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 11, total, "opening inner shutter")
	if err := c.servos.OpenShutter(servo.Inner); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 12, total, "extending tray into window")
	if err := c.trayExtend(op, 0); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 13, total, "opening outer shutter")
	if err := c.servos.OpenShutter(servo.Outer); err != nil {
		return c.fail(op, err)
	}

	c.setState(StateWaitingUser)
	return nil
}

// GiveShelf returns the shelf presented at the window to (row, x, y).
func (c *Controller) GiveShelf(row string, x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "GIVE"
	const total = 12
	c.begin(op, StateBusy)

	cal := c.cal.Get()
	grab := cal.Grab(row)
	lock := servo.LockForRow(row)

	mapper, err := newMapper(cal)
	if err != nil {
		return c.fail(op, err)
	}
	cellX, cellY, err := mapper.CellToSteps(row, x, y)
	if err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 1, total, "closing outer shutter")
	if err := c.servos.CloseShutter(servo.Outer); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 2, total, "retracting tray")
	if err := c.trayRetract(op, 0); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 3, total, "closing inner shutter")
	if err := c.servos.CloseShutter(servo.Inner); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 4, total, "moving to cell")
	if err := c.safeMoveTo(op, cellX, cellY); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 5, total, "extending tray")
	if err := c.trayExtend(op, grab.Extend2); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 6, total, "opening latch")
	if err := c.servos.OpenLock(lock); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 7, total, "retracting tray")
	if err := c.trayRetract(op, grab.Retract); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 8, total, "closing latch")
	if err := c.servos.CloseLock(lock); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 9, total, "extending tray, seating shelf")
	if err := c.trayExtend(op, grab.Extend1); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 10, total, "opening latch")
	if err := c.servos.OpenLock(lock); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 11, total, "retracting tray fully")
	if err := c.trayRetract(op, 0); err != nil {
		return c.fail(op, err)
	}

	c.progress(op, 12, total, "settling")
	c.publishPosition()
	c.setState(StateIdle)
	return nil
}

// WaitForUser blocks until the patron acknowledges, the configured wait
// expires, or a stop arrives. It reports whether an explicit ack came in.
// The controller itself does not refuse other algorithms during the wait;
// the transaction services hold their cabinet lock across TAKE, wait and GIVE.
func (c *Controller) WaitForUser(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.userWait
	}
	if c.State() != StateWaitingUser {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.userAck:
			return true
		case <-timer.C:
			return false
		case <-ticker.C:
			if c.stopReq.Load() {
				return false
			}
		}
	}
}

// UserAck signals that the patron has taken or placed the book.
func (c *Controller) UserAck() {
	select {
	case c.userAck <- struct{}{}:
	default:
	}
}

// MoveTo runs a supervised carriage move to an absolute step position;
// used by the maintenance API.
func (c *Controller) MoveTo(x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "MOVE"
	c.begin(op, StateBusy)
	if err := c.safeMoveTo(op, x, y); err != nil {
		return c.fail(op, err)
	}
	c.setState(StateIdle)
	return nil
}

// Snapshot is the externally visible mechanics state.
type Snapshot struct {
	State     State                          `json:"state"`
	Operation string                         `json:"operation"`
	X         int                            `json:"x"`
	Y         int                            `json:"y"`
	Tray      bool                           `json:"tray_extended"`
	Sensors   map[sensor.Name]sensor.Reading `json:"sensors"`
	Locks     map[servo.Lock]servo.State     `json:"locks"`
	Shutters  map[servo.Shutter]servo.State  `json:"shutters"`
}

// GetSnapshot reads the full mechanics state for the status API.
func (c *Controller) GetSnapshot() Snapshot {
	x, y, tray := c.motors.Position()
	readings := make(map[sensor.Name]sensor.Reading)
	for _, name := range sensor.All() {
		if r, err := c.sensors.Read(name); err == nil {
			readings[name] = r
		}
	}
	return Snapshot{
		State:     c.State(),
		Operation: c.Operation(),
		X:         x,
		Y:         y,
		Tray:      tray,
		Sensors:   readings,
		Locks:     c.servos.LockStates(),
		Shutters:  c.servos.ShutterStates(),
	}
}

// --- wizard surface (calibration.Jogger) ---

// JogXY moves the carriage by a relative delta; wizard use only.
func (c *Controller) JogXY(dx, dy int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.motors.JogXY(dx, dy)
}

// StepMotor steps one gantry motor in isolation; wizard use only.
func (c *Controller) StepMotor(m string, steps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.motors.StepMotor(m, steps)
}

// MoveTray moves the tray by a signed step count; wizard use only.
func (c *Controller) MoveTray(steps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.motors.MoveTray(steps)
}

// Position returns the tracked carriage position.
func (c *Controller) Position() (int, int) {
	x, y, _ := c.motors.Position()
	return x, y
}
