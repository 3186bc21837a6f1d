package rfid

import (
	"bytes"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNormalizeUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AB:CD:EF:12", "ABCDEF12"},
		{"ab-cd-ef-12", "ABCDEF12"},
		{"0xABCDEF12", "ABCDEF12"},
		{" ab cd ", "ABCD"},
		{"E2 00 34 12", "E2003412"},
		{"not-hex-zz", "E"}, // non-hex characters are dropped
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeUID(tt.in); got != tt.want {
			t.Errorf("NormalizeUID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"AB:CD:EF:12", "e200001122334455667788990011223344", "0x04AABBCC"}
	for _, in := range inputs {
		once := NormalizeUID(in)
		if NormalizeUID(once) != once {
			t.Errorf("NormalizeUID not idempotent for %q", in)
		}
		uhf := NormalizeUHF(in)
		if NormalizeUHF(uhf) != uhf {
			t.Errorf("NormalizeUHF not idempotent for %q", in)
		}
	}
}

func TestNormalizeUHFTruncates(t *testing.T) {
	epc := "E200001122334455667788990011223344"
	got := NormalizeUHF(epc)
	if len(got) != UHFCardUIDLength {
		t.Fatalf("len = %d, want %d", len(got), UHFCardUIDLength)
	}
	if got != "E20000112233445566778899" {
		t.Errorf("NormalizeUHF = %s", got)
	}
}

func TestUIDVariants(t *testing.T) {
	variants := UIDVariants("AB:CD:EF:12")

	want := map[string]bool{
		"ABCDEF12":    false,
		"AB:CD:EF:12": false,
		"AB-CD-EF-12": false,
		"12EFCDAB":    false,
		"2882400018":  false, // 0xABCDEF12 decimal
	}
	for _, v := range variants {
		if _, ok := want[v]; ok {
			want[v] = true
		}
	}
	for v, seen := range want {
		if !seen {
			t.Errorf("variant %q missing from %v", v, variants)
		}
	}

	// Separator variants collapse back to the normalized input; the
	// reversed and decimal spellings are themselves normalization-stable.
	norm := NormalizeUID("AB:CD:EF:12")
	for _, v := range variants {
		nv := NormalizeUID(v)
		if nv != norm && NormalizeUID(nv) != nv {
			t.Errorf("variant %q not closed under normalization", v)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	frame := BuildFrame(0x00, CmdInventory, nil)
	// LEN covers ADR+CMD+CRC = 4 for an empty payload.
	if frame[0] != 4 || len(frame) != 5 {
		t.Fatalf("frame = % X", frame)
	}

	resp := BuildInventoryResponse(0x00, []string{"E2003412DC03011722340189"})
	tags, err := ParseInventory(resp)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0].EPC != "E2003412DC03011722340189" {
		t.Errorf("tags = %+v", tags)
	}
}

func TestParseInventoryMultipleTags(t *testing.T) {
	resp := BuildInventoryResponse(0x00, []string{"AABBCCDD", "11223344"})
	tags, err := ParseInventory(resp)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("tag count = %d, want 2", len(tags))
	}
	if tags[0].EPC != "AABBCCDD" || tags[1].EPC != "11223344" {
		t.Errorf("tags = %+v", tags)
	}
}

func TestParseInventoryNoTags(t *testing.T) {
	resp := BuildInventoryResponse(0x00, nil)
	tags, err := ParseInventory(resp)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %+v, want none", tags)
	}
}

func TestParseInventoryRejectsBadCRC(t *testing.T) {
	resp := BuildInventoryResponse(0x00, []string{"AABBCCDD"})
	resp[len(resp)-1] ^= 0xFF
	if _, err := ParseInventory(resp); err != ErrFrameCRC {
		t.Errorf("err = %v, want ErrFrameCRC", err)
	}
}

// pipePort is an in-memory serial port: writes trigger a scripted response.
type pipePort struct {
	response []byte
	buf      bytes.Reader
	lastTX   []byte
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.lastTX = append([]byte(nil), b...)
	p.buf = *bytes.NewReader(p.response)
	return len(b), nil
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.buf.Read(b) }
func (p *pipePort) Close() error                { return nil }
func (p *pipePort) ResetInputBuffer() error     { return nil }

func TestIQRFID5102Poll(t *testing.T) {
	port := &pipePort{response: BuildInventoryResponse(0x00, []string{"04AABBCC"})}
	r := NewIQRFID5102(port)

	epcs, err := r.Poll()
	if err != nil {
		t.Fatal(err)
	}
	if len(epcs) != 1 || epcs[0] != "04AABBCC" {
		t.Errorf("epcs = %v", epcs)
	}

	// The transmitted frame is a plain inventory command.
	want := BuildFrame(0x00, CmdInventory, nil)
	if !bytes.Equal(port.lastTX, want) {
		t.Errorf("tx = % X, want % X", port.lastTX, want)
	}
}

func TestRRU9816Scan(t *testing.T) {
	port := &pipePort{response: BuildInventoryResponse(0x00, []string{"E2001122AABBCCDD"})}
	r := NewRRU9816(port)

	epcs, err := r.Scan(3)
	if err != nil {
		t.Fatal(err)
	}
	// Rounds see the same tag; Scan deduplicates.
	if len(epcs) != 1 {
		t.Errorf("epcs = %v, want one unique tag", epcs)
	}
}

func TestUnifiedReaderDebounce(t *testing.T) {
	var got []string
	u := NewUnifiedReader(nil, nil, time.Millisecond, 50*time.Millisecond, zap.NewNop())
	u.SetObserver(func(uid string, source Source) {
		got = append(got, uid+"/"+string(source))
	})

	u.Handle("04:AA:BB:CC", SourceNFC)
	u.Handle("04AABBCC", SourceNFC) // same UID, inside the debounce window
	if len(got) != 1 {
		t.Fatalf("detections = %v, want 1", got)
	}
	if got[0] != "04AABBCC/nfc" {
		t.Errorf("detection = %s", got[0])
	}

	time.Sleep(60 * time.Millisecond)
	u.Handle("04AABBCC", SourceNFC)
	if len(got) != 2 {
		t.Errorf("detections after debounce window = %d, want 2", len(got))
	}
}

func TestUnifiedReaderPollLoops(t *testing.T) {
	nfc := NewMockSource()
	uhf := NewMockSource()

	detected := make(chan string, 8)
	u := NewUnifiedReader(nfc, uhf, 5*time.Millisecond, 10*time.Millisecond, zap.NewNop())
	u.SetObserver(func(uid string, source Source) {
		detected <- uid + "/" + string(source)
	})

	u.Start()
	defer u.Stop()

	nfc.Present("04AABBCC")
	uhf.Present("E200001122334455667788990011223344")

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case d := <-detected:
			seen[d] = true
		case <-timeout:
			t.Fatalf("timed out; saw %v", seen)
		}
	}

	if !seen["04AABBCC/nfc"] {
		t.Error("NFC detection missing")
	}
	// The UHF EPC is truncated to the card-UID length.
	if !seen["E20000112233445566778899/uhf"] {
		t.Errorf("UHF detection missing or not truncated: %v", seen)
	}

	u.Stop()
	if u.Running() {
		t.Error("reader still running after Stop")
	}
}
