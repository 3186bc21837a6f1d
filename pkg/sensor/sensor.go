// Package sensor filters the six optical limit switches. A triggered slot
// presents a stable HIGH; an open slot floats and reads HIGH only part of
// the time, so raw reads are oversampled and passed through a
// hysteresis-plus-debounce filter before anything mechanical trusts them.
package sensor

import (
	"fmt"
	"sync"

	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
)

// Filter parameters.
const (
	// Oversamples per read.
	Oversamples = 50

	// A sensor must read at least this percent HIGH to claim triggered.
	HighThreshold = 98.0

	// A sensor must read at most this percent HIGH to claim clear.
	LowThreshold = 95.0

	// Consecutive identical computed states required to commit a change.
	DebounceReads = 5
)

// Name identifies one limit switch.
type Name string

const (
	XBegin    Name = "x_begin"
	XEnd      Name = "x_end"
	YBegin    Name = "y_begin"
	YEnd      Name = "y_end"
	TrayBegin Name = "tray_begin"
	TrayEnd   Name = "tray_end"
)

// All lists every switch in a stable order.
func All() []Name {
	return []Name{XBegin, XEnd, YBegin, YEnd, TrayBegin, TrayEnd}
}

// Reading is the filtered state plus the raw oversample percentage kept for
// diagnostics.
type Reading struct {
	Triggered bool    `json:"triggered"`
	Percent   float64 `json:"percent"`
}

type filterState struct {
	committed    bool
	pending      bool
	pendingCount int
}

// Reader reads and filters all six switches.
type Reader struct {
	mu     sync.Mutex
	gpio   *gpio.Manager
	pins   map[Name]int
	states map[Name]*filterState
}

// New configures the sensor pins as pulled-up inputs and returns a Reader.
func New(g *gpio.Manager, pins config.Pins) (*Reader, error) {
	r := &Reader{
		gpio: g,
		pins: map[Name]int{
			XBegin:    pins.SensorXBegin,
			XEnd:      pins.SensorXEnd,
			YBegin:    pins.SensorYBegin,
			YEnd:      pins.SensorYEnd,
			TrayBegin: pins.SensorTrayBegin,
			TrayEnd:   pins.SensorTrayEnd,
		},
		states: make(map[Name]*filterState),
	}
	for name, pin := range r.pins {
		if err := g.SetupInput(pin, true); err != nil {
			return nil, fmt.Errorf("sensor %s: %w", name, err)
		}
		r.states[name] = &filterState{}
	}
	return r, nil
}

// Read oversamples one switch and runs it through the filter.
func (r *Reader) Read(name Name) (Reading, error) {
	pin, ok := r.pins[name]
	if !ok {
		return Reading{}, fmt.Errorf("sensor: unknown switch %q", name)
	}

	high := 0
	for i := 0; i < Oversamples; i++ {
		level, err := r.gpio.Read(pin)
		if err != nil {
			return Reading{}, fmt.Errorf("sensor %s: %w", name, err)
		}
		if level == gpio.High {
			high++
		}
	}
	percent := float64(high) * 100.0 / float64(Oversamples)

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.states[name]

	// Hysteresis: between the thresholds the computed state keeps the last
	// committed value.
	computed := st.committed
	if percent >= HighThreshold {
		computed = true
	} else if percent <= LowThreshold {
		computed = false
	}

	if computed == st.pending {
		st.pendingCount++
	} else {
		st.pending = computed
		st.pendingCount = 1
	}
	if st.pending != st.committed && st.pendingCount >= DebounceReads {
		st.committed = st.pending
	}

	return Reading{Triggered: st.committed, Percent: percent}, nil
}

// ReadAll reads every switch.
func (r *Reader) ReadAll() map[Name]Reading {
	out := make(map[Name]Reading, len(r.pins))
	for _, name := range All() {
		reading, err := r.Read(name)
		if err != nil {
			continue
		}
		out[name] = reading
	}
	return out
}

func (r *Reader) triggered(name Name) bool {
	reading, err := r.Read(name)
	return err == nil && reading.Triggered
}

// IsTrayRetracted reports the tray-begin switch.
func (r *Reader) IsTrayRetracted() bool { return r.triggered(TrayBegin) }

// IsTrayExtended reports the tray-end switch.
func (r *Reader) IsTrayExtended() bool { return r.triggered(TrayEnd) }

// IsAtHome reports both begin switches triggered.
func (r *Reader) IsAtHome() bool {
	return r.triggered(XBegin) && r.triggered(YBegin)
}

// IsAtXEnd reports the x-end switch.
func (r *Reader) IsAtXEnd() bool { return r.triggered(XEnd) }

// IsAtYEnd reports the y-end switch.
func (r *Reader) IsAtYEnd() bool { return r.triggered(YEnd) }
