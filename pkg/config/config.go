// Package config holds the process configuration for the book cabinet:
// environment-driven settings, the GPIO pin map, cabinet geometry and the
// fixed set of blocked cells.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Row names. The cabinet has two facing rows of cells.
const (
	RowFront = "FRONT"
	RowBack  = "BACK"
)

// Cabinet geometry.
const (
	Columns    = 3
	Positions  = 21
	TotalCells = 2 * Columns * Positions
)

// CellRef addresses one physical cell.
type CellRef struct {
	Row string `json:"row"`
	X   int    `json:"x"`
	Y   int    `json:"y"`
}

// Window is the delivery cell. It is part of the blocked set and never
// used for storage.
var Window = CellRef{Row: RowFront, X: 1, Y: 9}

// BlockedCells is the configuration-fixed set of cells occupied by the
// mechanism and the delivery window.
func BlockedCells() []CellRef {
	cells := make([]CellRef, 0, 17)
	for y := 7; y <= 18; y++ {
		cells = append(cells, CellRef{Row: RowFront, X: 1, Y: y})
	}
	cells = append(cells,
		CellRef{Row: RowBack, X: 0, Y: 19},
		CellRef{Row: RowBack, X: 0, Y: 20},
		CellRef{Row: RowBack, X: 1, Y: 19},
		CellRef{Row: RowBack, X: 1, Y: 20},
		CellRef{Row: RowBack, X: 2, Y: 20},
	)
	return cells
}

// IsBlocked reports whether (row, x, y) is in the blocked set.
func IsBlocked(row string, x, y int) bool {
	for _, c := range BlockedCells() {
		if c.Row == row && c.X == x && c.Y == y {
			return true
		}
	}
	return false
}

// Rows returns the row names in cabinet order.
func Rows() []string { return []string{RowFront, RowBack} }

// Pins is the Raspberry Pi BCM pin assignment.
type Pins struct {
	MotorAStep int
	MotorADir  int
	MotorBStep int
	MotorBDir  int
	TrayStep   int
	TrayDir    int

	ServoLock1 int
	ServoLock2 int

	ShutterOuter int
	ShutterInner int

	SensorXBegin    int
	SensorXEnd      int
	SensorYBegin    int
	SensorYEnd      int
	SensorTrayBegin int
	SensorTrayEnd   int
}

// DefaultPins returns the wiring found on the production cabinet.
func DefaultPins() Pins {
	return Pins{
		MotorAStep: 2,
		MotorADir:  3,
		MotorBStep: 19,
		MotorBDir:  21,
		TrayStep:   18,
		TrayDir:    27,

		ServoLock1: 12,
		ServoLock2: 13,

		ShutterOuter: 14,
		ShutterInner: 15,

		SensorXBegin:    9,
		SensorXEnd:      10,
		SensorYBegin:    8,
		SensorYEnd:      11,
		SensorTrayBegin: 7,
		SensorTrayEnd:   20,
	}
}

// Timeouts for mechanical phases.
type Timeouts struct {
	Move        time.Duration
	TrayExtend  time.Duration
	TrayRetract time.Duration
	CellOpen    time.Duration
	CellClose   time.Duration
	UserWait    time.Duration
}

// DefaultTimeouts returns the production timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Move:        1500 * time.Millisecond,
		TrayExtend:  800 * time.Millisecond,
		TrayRetract: 800 * time.Millisecond,
		CellOpen:    1000 * time.Millisecond,
		CellClose:   1000 * time.Millisecond,
		UserWait:    30 * time.Second,
	}
}

// RFIDConfig describes the two card readers and the in-cabinet book reader.
type RFIDConfig struct {
	NFCCardReader   string
	UHFCardReader   string
	UHFCardBaudrate int
	BookReader      string
	BookBaudrate    int

	// Fallback device paths when the udev aliases are absent.
	UHFCardFallback string
	BookFallback    string

	PollInterval  time.Duration
	DebounceMS    int
	UHFCardUIDLen int
}

// IrbisConfig describes the connection to the remote bibliographic server.
type IrbisConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	ReadersDatabase string
	LoanDays        int
	LocationCode    string
	Mock            bool
}

// TelegramConfig enables outward notifications when a bot token is set.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// Config is the full process configuration.
type Config struct {
	MockMode bool
	Debug    bool

	Host string
	Port int

	DatabasePath    string
	CalibrationPath string
	BackupDir       string

	LogLevel string
	LogFile  string

	Pins     Pins
	Timeouts Timeouts
	RFID     RFIDConfig
	Irbis    IrbisConfig
	Telegram TelegramConfig
}

// Load builds the configuration from the environment, filling defaults for
// anything unset.
func Load() *Config {
	return &Config{
		MockMode: envBool("MOCK_MODE", true),
		Debug:    envBool("DEBUG", true),

		Host: envString("HOST", "0.0.0.0"),
		Port: envInt("PORT", 5000),

		DatabasePath:    envString("DATABASE_PATH", "data/shelf_data.db"),
		CalibrationPath: envString("CALIBRATION_PATH", "data/calibration.json"),
		BackupDir:       envString("BACKUP_DIR", "data/backups"),

		LogLevel: envString("LOG_LEVEL", "INFO"),
		LogFile:  envString("LOG_FILE", ""),

		Pins:     DefaultPins(),
		Timeouts: DefaultTimeouts(),

		RFID: RFIDConfig{
			NFCCardReader:   envString("RFID_NFC_PORT", "/dev/pcsc"),
			UHFCardReader:   envString("RFID_UHF_PORT", "/dev/rfid_uhf_card"),
			UHFCardBaudrate: 57600,
			BookReader:      envString("RFID_BOOK_PORT", "/dev/rfid_book"),
			BookBaudrate:    57600,
			UHFCardFallback: "/dev/ttyUSB0",
			BookFallback:    "/dev/ttyUSB1",
			PollInterval:    300 * time.Millisecond,
			DebounceMS:      800,
			UHFCardUIDLen:   24,
		},

		Irbis: IrbisConfig{
			Host:            envString("IRBIS_HOST", "127.0.0.1"),
			Port:            envInt("IRBIS_PORT", 6666),
			Username:        envString("IRBIS_USERNAME", "MASTER"),
			Password:        envString("IRBIS_PASSWORD", "MASTERKEY"),
			Database:        envString("IRBIS_DATABASE", "IBIS"),
			ReadersDatabase: envString("IRBIS_READERS_DB", "RDR"),
			LoanDays:        envInt("IRBIS_LOAN_DAYS", 30),
			LocationCode:    envString("IRBIS_LOCATION_CODE", "09"),
			Mock:            envBool("IRBIS_MOCK", false),
		},

		Telegram: TelegramConfig{
			BotToken: envString("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   envString("TELEGRAM_CHAT_ID", ""),
			Enabled:  envBool("TELEGRAM_ENABLED", false),
		},
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return def
}
