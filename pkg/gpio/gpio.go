// Package gpio provides digital I/O for the cabinet hardware behind a
// small backend interface, so the same drivers run against the Raspberry
// Pi GPIO header or an in-memory mock on host builds.
package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Digital levels.
const (
	Low  = 0
	High = 1
)

var (
	// ErrNotInitialized is returned when a pin operation happens before Init.
	ErrNotInitialized = errors.New("gpio: manager not initialized")
)

// Backend is the minimal pin-level surface the drivers need.
type Backend interface {
	// SetupOutput configures pin as a digital output, initially LOW.
	SetupOutput(pin int) error

	// SetupInput configures pin as a digital input, optionally with the
	// internal pull-up enabled.
	SetupInput(pin int, pullUp bool) error

	// Write drives an output pin to the given level.
	Write(pin, level int) error

	// Read samples an input pin.
	Read(pin int) (int, error)

	// ServoPulseWidth drives a servo pin with the given pulse width in
	// microseconds at the standard 50 Hz period. Zero releases the servo.
	ServoPulseWidth(pin, widthUS int) error

	// Close releases the backend.
	Close() error
}

// Manager owns the backend and tracks configured pins so teardown can
// leave every output LOW. There is exactly one Manager per process; it is
// constructed at startup and passed to the drivers.
type Manager struct {
	mu      sync.Mutex
	backend Backend

	outputs map[int]struct{}
	inputs  map[int]struct{}
	servos  map[int]struct{}

	initialized bool
}

// NewManager wraps a backend. Init must be called before pin operations.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		outputs: make(map[int]struct{}),
		inputs:  make(map[int]struct{}),
		servos:  make(map[int]struct{}),
	}
}

// Init marks the manager ready. Pin configuration happens lazily through
// SetupOutput/SetupInput so each driver declares its own pins.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// Teardown drives every configured output LOW, releases every servo and
// closes the backend. Safe to call more than once.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	m.initialized = false

	var firstErr error
	for pin := range m.outputs {
		if err := m.backend.Write(pin, Low); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for pin := range m.servos {
		if err := m.backend.ServoPulseWidth(pin, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SetupOutput configures a digital output.
func (m *Manager) SetupOutput(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if err := m.backend.SetupOutput(pin); err != nil {
		return fmt.Errorf("gpio: setup output %d: %w", pin, err)
	}
	m.outputs[pin] = struct{}{}
	return nil
}

// SetupInput configures a digital input.
func (m *Manager) SetupInput(pin int, pullUp bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if err := m.backend.SetupInput(pin, pullUp); err != nil {
		return fmt.Errorf("gpio: setup input %d: %w", pin, err)
	}
	m.inputs[pin] = struct{}{}
	return nil
}

// Write drives an output level.
func (m *Manager) Write(pin, level int) error {
	return m.backend.Write(pin, level)
}

// Read samples an input level.
func (m *Manager) Read(pin int) (int, error) {
	return m.backend.Read(pin)
}

// ServoPulseWidth drives a servo pulse width in microseconds.
func (m *Manager) ServoPulseWidth(pin, widthUS int) error {
	m.mu.Lock()
	m.servos[pin] = struct{}{}
	m.mu.Unlock()
	return m.backend.ServoPulseWidth(pin, widthUS)
}

// Pulse emits count pulses on pin with delay between each level change.
func (m *Manager) Pulse(pin, count int, delay time.Duration) error {
	for i := 0; i < count; i++ {
		if err := m.backend.Write(pin, High); err != nil {
			return err
		}
		time.Sleep(delay)
		if err := m.backend.Write(pin, Low); err != nil {
			return err
		}
		time.Sleep(delay)
	}
	return nil
}
