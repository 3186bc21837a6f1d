package motion

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
	"bookcabinet/pkg/motor"
	"bookcabinet/pkg/sensor"
	"bookcabinet/pkg/servo"
)

// rig assembles a full controller over the mock GPIO backend.
type rig struct {
	ctrl    *Controller
	mock    *gpio.Mock
	motors  *motor.Driver
	sensors *sensor.Reader
	bus     *bus.Bus
	pins    config.Pins
}

func newRig(t *testing.T) *rig {
	t.Helper()

	mock := gpio.NewMock()
	manager := gpio.NewManager(mock)
	if err := manager.Init(); err != nil {
		t.Fatal(err)
	}
	pins := config.DefaultPins()

	calStore, err := calibration.Load(filepath.Join(t.TempDir(), "calibration.json"))
	if err != nil {
		t.Fatal(err)
	}
	// Short grabs and fast pulses keep the choreography quick under test.
	err = calStore.Update(func(d *calibration.Data) {
		d.Speeds.XY = 10000
		d.Speeds.Tray = 10000
		d.GrabFront = calibration.Grab{Extend1: 20, Retract: 20, Extend2: 40}
		d.GrabBack = calibration.Grab{Extend1: 20, Retract: 20, Extend2: 40}
	})
	if err != nil {
		t.Fatal(err)
	}

	sensors, err := sensor.New(manager, pins)
	if err != nil {
		t.Fatal(err)
	}
	motors, err := motor.New(manager, pins, sensors, calStore.Get())
	if err != nil {
		t.Fatal(err)
	}
	servoCfg := servo.DefaultConfig()
	servoCfg.HoldTime = 0
	servoCfg.ShutterSettle = 0
	servos, err := servo.New(manager, pins, servoCfg, calStore.Get())
	if err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	timeouts := config.DefaultTimeouts()
	timeouts.UserWait = time.Second

	ctrl := New(motors, servos, sensors, calStore, b, zap.NewNop(), timeouts)
	return &rig{ctrl: ctrl, mock: mock, motors: motors, sensors: sensors, bus: b, pins: pins}
}

// simulateTray wires the tray limit switches to the tray direction line,
// so full travel terminates the way the real mechanics do.
func (r *rig) simulateTray() {
	prev := r.mock.ReadHook
	r.mock.ReadHook = func(pin int) (int, bool) {
		switch pin {
		case r.pins.SensorTrayBegin:
			if r.mock.Level(r.pins.TrayDir) == gpio.Low {
				return gpio.High, true
			}
			return gpio.Low, true
		case r.pins.SensorTrayEnd:
			if r.mock.Level(r.pins.TrayDir) == gpio.High {
				return gpio.High, true
			}
			return gpio.Low, true
		}
		if prev != nil {
			return prev(pin)
		}
		return 0, false
	}
}

func collectProgress(sub *bus.Subscription) (progress []bus.Progress, errs []bus.Error) {
	for {
		select {
		case msg := <-sub.C:
			switch m := msg.(type) {
			case bus.Progress:
				progress = append(progress, m)
			case bus.Error:
				errs = append(errs, m)
			}
		default:
			return progress, errs
		}
	}
}

func TestInitHomeFromMidPosition(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	// Begin switches assert only when the tracked axis reaches zero.
	prev := r.mock.ReadHook
	r.mock.ReadHook = func(pin int) (int, bool) {
		x, y, _ := r.motors.Position()
		switch pin {
		case r.pins.SensorXBegin:
			if x <= 0 {
				return gpio.High, true
			}
			return gpio.Low, true
		case r.pins.SensorYBegin:
			if y <= 0 {
				return gpio.High, true
			}
			return gpio.Low, true
		}
		return prev(pin)
	}

	r.motors.SetPosition(1234, 5678)

	if err := r.ctrl.InitHome(); err != nil {
		t.Fatalf("InitHome: %v", err)
	}
	x, y := r.ctrl.Position()
	if x != 0 || y != 0 {
		t.Errorf("position after homing = (%d,%d), want (0,0)", x, y)
	}
	if r.ctrl.State() != StateIdle {
		t.Errorf("state = %s, want idle", r.ctrl.State())
	}
}

func TestInitHomeBudgetExhausted(t *testing.T) {
	r := newRig(t)
	r.simulateTray()
	// x_begin never asserts.
	r.motors.SetPosition(100000, 0)

	err := r.ctrl.InitHome()
	if err == nil {
		t.Fatal("InitHome succeeded with a dead begin switch")
	}
	me, ok := err.(*Error)
	if !ok || me.Code != CodeInitFailed {
		t.Errorf("err = %v, want code %d", err, CodeInitFailed)
	}
}

func TestTakeShelfChoreography(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	sub := r.bus.Subscribe(64)
	defer sub.Cancel()

	if err := r.ctrl.TakeShelf(config.RowFront, 0, 0); err != nil {
		t.Fatalf("TakeShelf: %v", err)
	}

	progress, errs := collectProgress(sub)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	var takeSteps []int
	for _, p := range progress {
		if p.Operation == "TAKE" {
			takeSteps = append(takeSteps, p.Step)
		}
	}
	if len(takeSteps) != 13 {
		t.Fatalf("TAKE progress steps = %d, want 13", len(takeSteps))
	}
	for i, s := range takeSteps {
		if s != i+1 {
			t.Fatalf("TAKE steps out of order: %v", takeSteps)
		}
	}

	if r.ctrl.State() != StateWaitingUser {
		t.Errorf("state = %s, want waiting_user", r.ctrl.State())
	}

	// Both shutters open at the end of TAKE.
	if r.mock.Level(r.pins.ShutterInner) != gpio.High || r.mock.Level(r.pins.ShutterOuter) != gpio.High {
		t.Error("shutters should be open after TAKE")
	}
}

func TestGiveShelfChoreography(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	sub := r.bus.Subscribe(64)
	defer sub.Cancel()

	if err := r.ctrl.GiveShelf(config.RowBack, 0, 0); err != nil {
		t.Fatalf("GiveShelf: %v", err)
	}

	progress, errs := collectProgress(sub)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	var giveSteps []int
	for _, p := range progress {
		if p.Operation == "GIVE" {
			giveSteps = append(giveSteps, p.Step)
		}
	}
	if len(giveSteps) != 12 {
		t.Fatalf("GIVE progress steps = %d, want 12", len(giveSteps))
	}
	if r.ctrl.State() != StateIdle {
		t.Errorf("state = %s, want idle", r.ctrl.State())
	}

	// Both shutter relays dropped after GIVE.
	if r.mock.Level(r.pins.ShutterInner) != gpio.Low || r.mock.Level(r.pins.ShutterOuter) != gpio.Low {
		t.Error("shutters should be closed after GIVE")
	}
}

func TestSafeMoveRejectsTrippedLimit(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	// x_end stuck triggered: any +X move must be rejected with code 10.
	r.mock.SetInput(r.pins.SensorXEnd, gpio.High)

	err := r.ctrl.MoveTo(3000, 0)
	me, ok := err.(*Error)
	if !ok || me.Code != CodeLimitTripped {
		t.Fatalf("MoveTo = %v, want code %d", err, CodeLimitTripped)
	}
	if r.ctrl.State() != StateError {
		t.Errorf("state = %s, want error", r.ctrl.State())
	}
}

func TestStopIsStickyUntilHome(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	r.ctrl.Stop()
	if r.ctrl.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", r.ctrl.State())
	}

	err := r.ctrl.TakeShelf(config.RowFront, 0, 0)
	me, ok := err.(*Error)
	if !ok || me.Code != CodeOperatorStop {
		t.Fatalf("TakeShelf after stop = %v, want code %d", err, CodeOperatorStop)
	}
	if !IsStop(err) {
		t.Error("IsStop should recognize the operator-stop error")
	}

	// Homing clears the sticky stop.
	r.mock.SetInput(r.pins.SensorXBegin, gpio.High)
	r.mock.SetInput(r.pins.SensorYBegin, gpio.High)
	if err := r.ctrl.InitHome(); err != nil {
		t.Fatalf("InitHome after stop: %v", err)
	}
	if err := r.ctrl.TakeShelf(config.RowFront, 0, 0); err != nil {
		t.Fatalf("TakeShelf after homing: %v", err)
	}
}

func TestWaitForUserAck(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	if err := r.ctrl.TakeShelf(config.RowFront, 0, 0); err != nil {
		t.Fatal(err)
	}

	done := make(chan bool, 1)
	go func() { done <- r.ctrl.WaitForUser(0) }()
	r.ctrl.UserAck()
	if acked := <-done; !acked {
		t.Error("WaitForUser should report the explicit ack")
	}
}

func TestWaitForUserTimeout(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	if err := r.ctrl.TakeShelf(config.RowFront, 0, 0); err != nil {
		t.Fatal(err)
	}
	if acked := r.ctrl.WaitForUser(20 * time.Millisecond); acked {
		t.Error("WaitForUser should time out without an ack")
	}
}

func TestSnapshot(t *testing.T) {
	r := newRig(t)
	r.simulateTray()

	snap := r.ctrl.GetSnapshot()
	if snap.State != StateIdle {
		t.Errorf("snapshot state = %s, want idle", snap.State)
	}
	if len(snap.Sensors) != 6 {
		t.Errorf("snapshot sensors = %d, want 6", len(snap.Sensors))
	}
	if len(snap.Locks) != 2 || len(snap.Shutters) != 2 {
		t.Error("snapshot missing lock/shutter states")
	}
}
