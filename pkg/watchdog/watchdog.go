// Package watchdog periodically broadcasts the mechanics snapshot over
// the event bus so the facade always has fresh sensor and position data,
// and flags a controller stuck in a non-idle state for too long.
package watchdog

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/motion"
)

// StallThreshold is how long the controller may stay busy before the
// watchdog logs a warning.
const StallThreshold = 5 * time.Minute

// Watchdog ticks in the background while started.
type Watchdog struct {
	ctrl     *motion.Controller
	bus      *bus.Bus
	log      *zap.Logger
	interval time.Duration

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	wg        sync.WaitGroup
	busySince time.Time
	warned    bool
}

// New builds a watchdog with the given broadcast interval.
func New(ctrl *motion.Controller, b *bus.Bus, log *zap.Logger, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watchdog{ctrl: ctrl, bus: b, log: log, interval: interval}
}

// Start launches the tick loop.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the loop.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watchdog) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	snap := w.ctrl.GetSnapshot()

	values := make(map[string]bool, len(snap.Sensors))
	for name, reading := range snap.Sensors {
		values[string(name)] = reading.Triggered
	}
	w.bus.Publish(bus.Sensors{Values: values})
	w.bus.Publish(bus.Position{X: snap.X, Y: snap.Y, Tray: snap.Tray})

	w.checkStall(snap.State)
}

func (w *Watchdog) checkStall(state motion.State) {
	busy := state == motion.StateBusy || state == motion.StateHoming
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !busy {
		w.busySince = time.Time{}
		w.warned = false
		return
	}
	if w.busySince.IsZero() {
		w.busySince = now
		return
	}
	if !w.warned && now.Sub(w.busySince) > StallThreshold {
		w.warned = true
		w.log.Warn("motion controller busy beyond stall threshold",
			zap.String("state", string(state)),
			zap.Duration("for", now.Sub(w.busySince)))
	}
}
