package config

import (
	"testing"
	"time"
)

func TestBlockedCells(t *testing.T) {
	cells := BlockedCells()

	if len(cells) != 17 {
		t.Fatalf("blocked cell count = %d, want 17", len(cells))
	}

	// The delivery window must be part of the blocked set.
	if !IsBlocked(Window.Row, Window.X, Window.Y) {
		t.Error("window cell is not blocked")
	}

	for y := 7; y <= 18; y++ {
		if !IsBlocked(RowFront, 1, y) {
			t.Errorf("FRONT (1,%d) should be blocked", y)
		}
	}
	if !IsBlocked(RowBack, 2, 20) {
		t.Error("BACK (2,20) should be blocked")
	}
	if IsBlocked(RowFront, 0, 0) {
		t.Error("FRONT (0,0) should not be blocked")
	}
}

func TestTotalCells(t *testing.T) {
	if TotalCells != 126 {
		t.Errorf("TotalCells = %d, want 126", TotalCells)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if !cfg.MockMode {
		t.Error("MockMode should default to true")
	}
	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.Irbis.Port != 6666 {
		t.Errorf("Irbis.Port = %d, want 6666", cfg.Irbis.Port)
	}
	if cfg.Irbis.LoanDays != 30 {
		t.Errorf("Irbis.LoanDays = %d, want 30", cfg.Irbis.LoanDays)
	}
	if cfg.Timeouts.UserWait != 30*time.Second {
		t.Errorf("UserWait = %v, want 30s", cfg.Timeouts.UserWait)
	}
	if cfg.RFID.DebounceMS != 800 {
		t.Errorf("DebounceMS = %d, want 800", cfg.RFID.DebounceMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MOCK_MODE", "false")
	t.Setenv("PORT", "8080")
	t.Setenv("IRBIS_HOST", "10.0.0.9")
	t.Setenv("IRBIS_MOCK", "true")

	cfg := Load()

	if cfg.MockMode {
		t.Error("MOCK_MODE=false not honored")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Irbis.Host != "10.0.0.9" {
		t.Errorf("Irbis.Host = %s, want 10.0.0.9", cfg.Irbis.Host)
	}
	if !cfg.Irbis.Mock {
		t.Error("IRBIS_MOCK=true not honored")
	}
}
