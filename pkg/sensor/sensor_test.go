package sensor

import (
	"testing"

	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
)

func newTestReader(t *testing.T) (*Reader, *gpio.Mock) {
	t.Helper()
	mock := gpio.NewMock()
	m := gpio.NewManager(mock)
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	r, err := New(m, config.DefaultPins())
	if err != nil {
		t.Fatal(err)
	}
	return r, mock
}

func TestDebounceRequiresConsecutiveReads(t *testing.T) {
	r, mock := newTestReader(t)
	pin := config.DefaultPins().SensorXBegin
	mock.SetInput(pin, gpio.High)

	// Fewer than DebounceReads identical reads must not commit a change.
	for i := 0; i < DebounceReads-1; i++ {
		reading, err := r.Read(XBegin)
		if err != nil {
			t.Fatal(err)
		}
		if reading.Triggered {
			t.Fatalf("read %d committed early", i+1)
		}
		if reading.Percent != 100 {
			t.Fatalf("percent = %v, want 100", reading.Percent)
		}
	}

	reading, err := r.Read(XBegin)
	if err != nil {
		t.Fatal(err)
	}
	if !reading.Triggered {
		t.Errorf("state not committed after %d identical reads", DebounceReads)
	}
}

func TestHysteresisHoldsBetweenThresholds(t *testing.T) {
	r, mock := newTestReader(t)
	pin := config.DefaultPins().SensorYBegin

	// Commit triggered first.
	mock.SetInput(pin, gpio.High)
	for i := 0; i < DebounceReads; i++ {
		if _, err := r.Read(YBegin); err != nil {
			t.Fatal(err)
		}
	}

	// A floating slot at ~96% HIGH is between thresholds: the committed
	// state must hold.
	calls := 0
	mock.ReadHook = func(p int) (int, bool) {
		if p != pin {
			return 0, false
		}
		calls++
		if calls%25 == 0 { // 2 of 50 samples LOW => 96%
			return gpio.Low, true
		}
		return gpio.High, true
	}
	for i := 0; i < DebounceReads*2; i++ {
		reading, err := r.Read(YBegin)
		if err != nil {
			t.Fatal(err)
		}
		if !reading.Triggered {
			t.Fatal("state dropped inside hysteresis band")
		}
	}

	// A clearly open slot (50%) must clear after the debounce.
	mock.ReadHook = func(p int) (int, bool) {
		if p != pin {
			return 0, false
		}
		calls++
		return calls % 2, true
	}
	var last Reading
	for i := 0; i < DebounceReads; i++ {
		var err error
		last, err = r.Read(YBegin)
		if err != nil {
			t.Fatal(err)
		}
	}
	if last.Triggered {
		t.Error("state did not clear below LowThreshold")
	}
}

func TestDerivedQueries(t *testing.T) {
	r, mock := newTestReader(t)
	pins := config.DefaultPins()

	mock.SetInput(pins.SensorXBegin, gpio.High)
	mock.SetInput(pins.SensorYBegin, gpio.High)
	mock.SetInput(pins.SensorTrayBegin, gpio.High)
	mock.SetInput(pins.SensorTrayEnd, gpio.Low)

	// Derived queries sample once per call; the debounce needs five.
	for i := 0; i < DebounceReads; i++ {
		r.ReadAll()
	}

	if !r.IsAtHome() {
		t.Error("IsAtHome = false with both begin switches asserted")
	}
	if !r.IsTrayRetracted() {
		t.Error("IsTrayRetracted = false with tray_begin asserted")
	}
	if r.IsTrayExtended() {
		t.Error("IsTrayExtended = true with tray_end clear")
	}
}
