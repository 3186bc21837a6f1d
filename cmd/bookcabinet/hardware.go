package main

import (
	"os"

	"go.uber.org/zap"

	"bookcabinet/pkg/config"
	"bookcabinet/pkg/rfid"
)

// openReaders attaches the card readers and the in-cabinet book reader.
// Mock mode gets injectable sources (driven through /api/test/card);
// on hardware a missing device degrades that slot to nil and the cabinet
// runs on whatever remains.
func openReaders(cfg *config.Config, log *zap.Logger) (nfc, uhf rfid.TagSource, book *rfid.RRU9816) {
	if cfg.MockMode {
		return rfid.NewMockSource(), rfid.NewMockSource(), nil
	}

	uhfPort := cfg.RFID.UHFCardReader
	if _, err := os.Stat(uhfPort); err != nil {
		uhfPort = cfg.RFID.UHFCardFallback
	}
	if r, err := rfid.OpenIQRFID5102(uhfPort, cfg.RFID.UHFCardBaudrate); err != nil {
		log.Warn("uhf card reader unavailable", zap.String("port", uhfPort), zap.Error(err))
	} else {
		uhf = r
	}

	bookPort := cfg.RFID.BookReader
	if _, err := os.Stat(bookPort); err != nil {
		bookPort = cfg.RFID.BookFallback
	}
	if r, err := rfid.OpenRRU9816(bookPort, cfg.RFID.BookBaudrate); err != nil {
		log.Warn("book reader unavailable", zap.String("port", bookPort), zap.Error(err))
	} else {
		book = r
	}

	// The short-range NFC reader attaches through a PC/SC bridge that is
	// provisioned separately; without it the panel runs UHF-only.
	return nil, uhf, book
}
