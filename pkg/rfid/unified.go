package rfid

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source tags where a card detection came from.
type Source string

const (
	SourceNFC Source = "nfc" // library card on the short-range reader
	SourceUHF Source = "uhf" // city card on the UHF panel reader
)

// Observer receives every debounced card detection.
type Observer func(uid string, source Source)

// UnifiedReader polls the NFC and UHF card readers in parallel and fans
// detections into a single observer with normalized UIDs. Either source
// may be nil when the hardware is absent; the cabinet then runs on the
// remaining reader.
type UnifiedReader struct {
	nfc TagSource
	uhf TagSource

	interval   time.Duration
	debounce   time.Duration
	observer   Observer
	log        *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewUnifiedReader builds the reader. interval is the per-loop poll
// period; debounce suppresses repeats of the same UID.
func NewUnifiedReader(nfc, uhf TagSource, interval, debounce time.Duration, log *zap.Logger) *UnifiedReader {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	if debounce <= 0 {
		debounce = DebounceMS * time.Millisecond
	}
	return &UnifiedReader{
		nfc:      nfc,
		uhf:      uhf,
		interval: interval,
		debounce: debounce,
		log:      log,
		lastSeen: make(map[string]time.Time),
	}
}

// SetObserver installs the detection callback; must be set before Start.
func (u *UnifiedReader) SetObserver(fn Observer) {
	u.observer = fn
}

// Start launches the polling loops.
func (u *UnifiedReader) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return
	}
	u.running = true
	u.stop = make(chan struct{})
	u.lastSeen = make(map[string]time.Time)

	if u.nfc != nil {
		u.wg.Add(1)
		go u.pollLoop(u.nfc, SourceNFC)
	}
	if u.uhf != nil {
		u.wg.Add(1)
		go u.pollLoop(u.uhf, SourceUHF)
	}
}

// Stop halts the polling loops and waits for them to exit.
func (u *UnifiedReader) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	close(u.stop)
	u.mu.Unlock()
	u.wg.Wait()
}

// Running reports whether the poll loops are live.
func (u *UnifiedReader) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Status reports reader availability for diagnostics.
func (u *UnifiedReader) Status() map[string]bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return map[string]bool{
		"nfc_connected": u.nfc != nil,
		"uhf_connected": u.uhf != nil,
		"polling":       u.running,
	}
}

func (u *UnifiedReader) pollLoop(src TagSource, source Source) {
	defer u.wg.Done()
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-u.stop:
			return
		case <-ticker.C:
			uids, err := src.Poll()
			if err != nil {
				u.log.Debug("rfid poll failed", zap.String("source", string(source)), zap.Error(err))
				continue
			}
			for _, uid := range uids {
				u.Handle(uid, source)
			}
		}
	}
}

// Handle normalizes, debounces and dispatches one raw read. Exposed so
// mock mode and the test API can simulate card taps.
func (u *UnifiedReader) Handle(raw string, source Source) {
	var uid string
	if source == SourceUHF {
		uid = NormalizeUHF(raw)
	} else {
		uid = NormalizeUID(raw)
	}
	if uid == "" {
		return
	}

	now := time.Now()
	u.mu.Lock()
	if last, ok := u.lastSeen[uid]; ok && now.Sub(last) < u.debounce {
		u.mu.Unlock()
		return
	}
	u.lastSeen[uid] = now
	observer := u.observer
	u.mu.Unlock()

	u.log.Info("card detected", zap.String("uid", uid), zap.String("source", string(source)))
	if observer != nil {
		observer(uid, source)
	}
}
