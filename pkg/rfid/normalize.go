package rfid

import (
	"strconv"
	"strings"
)

// UID handling constants.
const (
	// UHFCardUIDLength is the configured card-UID length: UHF EPCs are
	// truncated to this many hex characters.
	UHFCardUIDLength = 24

	// DebounceMS suppresses repeated reads of the same UID.
	DebounceMS = 800
)

// NormalizeUID reduces a raw identifier to upper-case hex with no
// separators. Idempotent: normalizing a normalized UID is a no-op.
func NormalizeUID(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(":", "", "-", "", " ", "", "\t", "").Replace(s)
	s = strings.TrimPrefix(s, "0X")

	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// NormalizeUHF normalizes and truncates a UHF EPC to the card-UID length.
func NormalizeUHF(raw string) string {
	uid := NormalizeUID(raw)
	if len(uid) > UHFCardUIDLength {
		uid = uid[:UHFCardUIDLength]
	}
	return uid
}

// insertEvery2 inserts sep between every byte pair: "ABCD" -> "AB:CD".
func insertEvery2(hexStr, sep string) string {
	var parts []string
	for i := 0; i < len(hexStr); i += 2 {
		end := i + 2
		if end > len(hexStr) {
			end = len(hexStr)
		}
		parts = append(parts, hexStr[i:end])
	}
	return strings.Join(parts, sep)
}

// reverseByBytes reverses the byte order: "ABCDEF12" -> "12EFCDAB".
func reverseByBytes(hexStr string) string {
	var b strings.Builder
	b.Grow(len(hexStr))
	for i := len(hexStr); i > 0; i -= 2 {
		start := i - 2
		if start < 0 {
			start = 0
		}
		b.WriteString(hexStr[start:i])
	}
	return b.String()
}

// UIDVariants generates the UID spellings used when searching remote
// indexes: the normalized hex, separator-inserted forms, the byte-reversed
// forms, and decimal renderings. The remote catalogue predates any single
// convention, so reader records may carry any of these.
func UIDVariants(uid string) []string {
	hexOnly := NormalizeUID(uid)
	if hexOnly == "" {
		if uid == "" {
			return nil
		}
		return []string{uid}
	}

	variants := []string{hexOnly}

	if len(hexOnly) >= 4 {
		variants = append(variants,
			insertEvery2(hexOnly, ":"),
			insertEvery2(hexOnly, "-"),
		)
	}

	rev := reverseByBytes(hexOnly)
	if rev != hexOnly {
		variants = append(variants, rev)
		if len(rev) >= 4 {
			variants = append(variants,
				insertEvery2(rev, ":"),
				insertEvery2(rev, "-"),
			)
		}
	}

	// Decimal renderings only fit when the value is parseable as uint64.
	if dec, err := strconv.ParseUint(hexOnly, 16, 64); err == nil {
		decStr := strconv.FormatUint(dec, 10)
		variants = append(variants, decStr, zeroPad(decStr, 10))
		if rev != hexOnly {
			if revDec, err := strconv.ParseUint(rev, 16, 64); err == nil {
				revStr := strconv.FormatUint(revDec, 10)
				if revStr != decStr {
					variants = append(variants, revStr, zeroPad(revStr, 10))
				}
			}
		}
	}
	return variants
}

func zeroPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
