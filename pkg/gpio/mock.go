package gpio

import (
	"sync"
)

// Mock is an in-memory backend for host builds and tests. Test code can
// inject input levels and observe every write.
type Mock struct {
	mu     sync.Mutex
	levels map[int]int
	writes map[int]int // write count per pin
	servo  map[int]int // last pulse width per servo pin

	// ReadHook, when set, overrides reads for the given pin. It is called
	// once per oversample, which lets tests model a floating input.
	ReadHook func(pin int) (int, bool)
}

// NewMock returns an empty mock backend.
func NewMock() *Mock {
	return &Mock{
		levels: make(map[int]int),
		writes: make(map[int]int),
		servo:  make(map[int]int),
	}
}

func (m *Mock) SetupOutput(pin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = Low
	return nil
}

// SetupInput registers an input pin. The mock models an open optical slot
// as a stable LOW regardless of pull-up, so nothing reads as triggered
// until a test injects it.
func (m *Mock) SetupInput(pin int, pullUp bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = Low
	return nil
}

func (m *Mock) Write(pin, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	m.writes[pin]++
	return nil
}

func (m *Mock) Read(pin int) (int, error) {
	if hook := m.ReadHook; hook != nil {
		if level, ok := hook(pin); ok {
			return level, nil
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *Mock) ServoPulseWidth(pin, widthUS int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servo[pin] = widthUS
	return nil
}

func (m *Mock) Close() error { return nil }

// SetInput injects an input level, simulating a sensor change.
func (m *Mock) SetInput(pin, level int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
}

// Level returns the current level of a pin.
func (m *Mock) Level(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

// WriteCount returns how many times a pin has been written.
func (m *Mock) WriteCount(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[pin]
}

// ServoWidth returns the last pulse width driven on a servo pin.
func (m *Mock) ServoWidth(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servo[pin]
}
