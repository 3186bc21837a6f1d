package rfid

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// TagSource is anything that can be polled for currently visible tags.
type TagSource interface {
	Poll() ([]string, error)
	Close() error
}

// serialPort narrows go.bug.st/serial for the drivers; tests substitute an
// in-memory pipe.
type serialPort interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// openSerial opens a device with the reader defaults.
func openSerial(device string, baud int) (serialPort, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("rfid: open %s: %w", device, err)
	}
	port.SetReadTimeout(time.Second)
	return port, nil
}

// IQRFID5102 is the UHF card reader on the outer panel.
type IQRFID5102 struct {
	port serialPort
	addr byte
}

// OpenIQRFID5102 connects to the card reader and verifies it responds to
// an inventory round.
func OpenIQRFID5102(device string, baud int) (*IQRFID5102, error) {
	port, err := openSerial(device, baud)
	if err != nil {
		return nil, err
	}
	r := &IQRFID5102{port: port}
	if _, err := r.Poll(); err != nil {
		port.Close()
		return nil, fmt.Errorf("rfid: iqrfid5102 not responding on %s: %w", device, err)
	}
	return r, nil
}

// NewIQRFID5102 wraps an already-open port; tests use this.
func NewIQRFID5102(port serialPort) *IQRFID5102 {
	return &IQRFID5102{port: port}
}

// Poll runs one inventory round and returns the raw EPC hex strings.
func (r *IQRFID5102) Poll() ([]string, error) {
	if err := r.port.ResetInputBuffer(); err != nil {
		return nil, err
	}
	frame := BuildFrame(r.addr, CmdInventory, nil)
	if _, err := r.port.Write(frame); err != nil {
		return nil, err
	}

	resp, err := readFrame(r.port)
	if err != nil {
		return nil, err
	}
	tags, err := ParseInventory(resp)
	if err != nil {
		return nil, err
	}
	epcs := make([]string, 0, len(tags))
	for _, t := range tags {
		epcs = append(epcs, t.EPC)
	}
	return epcs, nil
}

func (r *IQRFID5102) Close() error {
	return r.port.Close()
}

// RRU9816 is the long-range UHF reader inside the cabinet, used to scan
// shelved books during inventory. Its inventory command carries the
// session parameters captured from the vendor tooling.
type RRU9816 struct {
	port serialPort
	addr byte
}

// rru9816InventoryParams is the fixed parameter block of the inventory
// command: session flags, q value and round timing.
var rru9816InventoryParams = []byte{0x01, 0x00, 0x00, 0x80, 0x0A}

// OpenRRU9816 connects to the book reader.
func OpenRRU9816(device string, baud int) (*RRU9816, error) {
	port, err := openSerial(device, baud)
	if err != nil {
		return nil, err
	}
	r := &RRU9816{port: port}
	if _, err := r.Poll(); err != nil {
		port.Close()
		return nil, fmt.Errorf("rfid: rru9816 not responding on %s: %w", device, err)
	}
	return r, nil
}

// NewRRU9816 wraps an already-open port; tests use this.
func NewRRU9816(port serialPort) *RRU9816 {
	return &RRU9816{port: port}
}

// Poll runs one inventory round.
func (r *RRU9816) Poll() ([]string, error) {
	if err := r.port.ResetInputBuffer(); err != nil {
		return nil, err
	}
	frame := BuildFrame(r.addr, CmdInventory, rru9816InventoryParams)
	if _, err := r.port.Write(frame); err != nil {
		return nil, err
	}

	resp, err := readFrame(r.port)
	if err != nil {
		return nil, err
	}
	tags, err := ParseInventory(resp)
	if err != nil {
		return nil, err
	}
	epcs := make([]string, 0, len(tags))
	for _, t := range tags {
		epcs = append(epcs, t.EPC)
	}
	return epcs, nil
}

// Scan collects unique tags over several rounds; long-range reads are
// probabilistic, so one round rarely sees every shelf.
func (r *RRU9816) Scan(rounds int) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i < rounds; i++ {
		epcs, err := r.Poll()
		if err != nil {
			return out, err
		}
		for _, epc := range epcs {
			if _, ok := seen[epc]; !ok {
				seen[epc] = struct{}{}
				out = append(out, epc)
			}
		}
	}
	return out, nil
}

func (r *RRU9816) Close() error {
	return r.port.Close()
}

// readFrame reads one length-prefixed frame: the first byte is LEN and
// covers everything after itself.
func readFrame(port io.Reader) ([]byte, error) {
	head := make([]byte, 1)
	if _, err := io.ReadFull(port, head); err != nil {
		return nil, err
	}
	length := int(head[0])
	if length < 4 {
		return nil, ErrFrameTooShort
	}
	rest := make([]byte, length)
	if _, err := io.ReadFull(port, rest); err != nil {
		return nil, err
	}
	return append(head, rest...), nil
}

// MockSource is an injectable tag source for mock mode and tests.
type MockSource struct {
	tags chan string
}

// NewMockSource returns an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{tags: make(chan string, 16)}
}

// Present queues a tag for the next poll.
func (m *MockSource) Present(uid string) {
	select {
	case m.tags <- uid:
	default:
	}
}

// Poll drains any queued tags.
func (m *MockSource) Poll() ([]string, error) {
	var out []string
	for {
		select {
		case uid := <-m.tags:
			out = append(out, uid)
		default:
			return out, nil
		}
	}
}

func (m *MockSource) Close() error { return nil }
