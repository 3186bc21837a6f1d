// Package rfid talks to the cabinet's RFID hardware: the UHF card reader
// on the outside panel, the long-range book reader inside the cabinet, and
// the unified polling layer that fans both into one observer.
package rfid

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Frame protocol constants (IQRFID-5102 style):
// [LEN][ADR][CMD][DATA...][CRC_LO][CRC_HI], LEN = ADR+CMD+DATA+2.
const (
	CmdInventory = 0x01

	StatusTagFound = 0x01
	StatusNoTags   = 0xFB
)

var (
	ErrFrameTooShort = errors.New("rfid: frame too short")
	ErrFrameCRC      = errors.New("rfid: frame crc mismatch")
)

// crc16 computes the reversed-polynomial 0x8408 CRC with init 0xFFFF,
// transmitted LSB first.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// BuildFrame assembles a command frame for the given reader address.
func BuildFrame(addr, cmd byte, data []byte) []byte {
	length := byte(1 + 1 + len(data) + 2)
	frame := make([]byte, 0, int(length)+1)
	frame = append(frame, length, addr, cmd)
	frame = append(frame, data...)
	crc := crc16(frame)
	frame = append(frame, byte(crc&0xFF), byte(crc>>8))
	return frame
}

// Tag is one inventoried transponder.
type Tag struct {
	EPC  string
	RSSI int
}

// ParseInventory parses a full response frame (length byte included) from
// an inventory round. A no-tags status yields an empty list. Each tag
// entry is [epc_len][pc(2)][epc...][rssi]; epc_len covers the PC and EPC
// bytes.
func ParseInventory(frame []byte) ([]Tag, error) {
	if len(frame) < 6 {
		return nil, ErrFrameTooShort
	}
	length := int(frame[0])
	if len(frame) < length+1 {
		return nil, ErrFrameTooShort
	}
	frame = frame[:length+1]

	body := frame[:len(frame)-2]
	crc := uint16(frame[len(frame)-2]) | uint16(frame[len(frame)-1])<<8
	if crc16(body) != crc {
		return nil, ErrFrameCRC
	}

	// body: [LEN][ADR][CMD][STATUS][payload...]
	status := body[3]
	switch status {
	case StatusNoTags:
		return nil, nil
	case StatusTagFound:
	default:
		return nil, fmt.Errorf("rfid: inventory status 0x%02X", status)
	}

	payload := body[4:]
	if len(payload) == 0 {
		return nil, ErrFrameTooShort
	}
	count := int(payload[0])
	idx := 1

	tags := make([]Tag, 0, count)
	for i := 0; i < count; i++ {
		if idx >= len(payload) {
			return nil, ErrFrameTooShort
		}
		epcLen := int(payload[idx])
		idx++
		if idx+epcLen+1 > len(payload) {
			return nil, ErrFrameTooShort
		}
		entry := payload[idx : idx+epcLen]
		idx += epcLen
		rssi := int(payload[idx])
		idx++

		epc := entry
		if len(epc) > 2 {
			epc = epc[2:] // strip the 2 PC bytes
		}
		tags = append(tags, Tag{
			EPC:  strings.ToUpper(hex.EncodeToString(epc)),
			RSSI: rssi,
		})
	}
	return tags, nil
}

// BuildInventoryResponse assembles a response frame carrying the given
// tags; the mock reader and tests use it to mirror ParseInventory.
func BuildInventoryResponse(addr byte, epcs []string) []byte {
	if len(epcs) == 0 {
		return buildResponseFrame(addr, CmdInventory, []byte{StatusNoTags})
	}
	data := []byte{StatusTagFound, byte(len(epcs))}
	for _, epc := range epcs {
		raw, _ := hex.DecodeString(epc)
		entry := append([]byte{0x30, 0x00}, raw...) // PC bytes then EPC
		data = append(data, byte(len(entry)))
		data = append(data, entry...)
		data = append(data, 0xC8) // RSSI
	}
	return buildResponseFrame(addr, CmdInventory, data)
}

// buildResponseFrame frames response payloads where DATA starts with the
// status byte.
func buildResponseFrame(addr, cmd byte, data []byte) []byte {
	return BuildFrame(addr, cmd, data)
}
