package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/backup"
	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
	"bookcabinet/pkg/irbis"
	"bookcabinet/pkg/motion"
	"bookcabinet/pkg/motor"
	"bookcabinet/pkg/rfid"
	"bookcabinet/pkg/sensor"
	"bookcabinet/pkg/service"
	"bookcabinet/pkg/servo"
	"bookcabinet/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *service.Services, *calibration.Store) {
	t.Helper()

	cfg := config.Load()
	cfg.Debug = false

	mock := gpio.NewMock()
	manager := gpio.NewManager(mock)
	if err := manager.Init(); err != nil {
		t.Fatal(err)
	}
	pins := config.DefaultPins()

	calStore, err := calibration.Load(filepath.Join(t.TempDir(), "calibration.json"))
	if err != nil {
		t.Fatal(err)
	}
	err = calStore.Update(func(d *calibration.Data) {
		d.Speeds.XY = 10000
		d.Speeds.Tray = 10000
		d.GrabFront = calibration.Grab{Extend1: 20, Retract: 20, Extend2: 40}
		d.GrabBack = calibration.Grab{Extend1: 20, Retract: 20, Extend2: 40}
	})
	if err != nil {
		t.Fatal(err)
	}

	sensors, err := sensor.New(manager, pins)
	if err != nil {
		t.Fatal(err)
	}
	motors, err := motor.New(manager, pins, sensors, calStore.Get())
	if err != nil {
		t.Fatal(err)
	}
	servoCfg := servo.DefaultConfig()
	servoCfg.HoldTime = 0
	servoCfg.ShutterSettle = 0
	servos, err := servo.New(manager, pins, servoCfg, calStore.Get())
	if err != nil {
		t.Fatal(err)
	}

	mock.ReadHook = func(pin int) (int, bool) {
		switch pin {
		case pins.SensorTrayBegin:
			if mock.Level(pins.TrayDir) == gpio.Low {
				return gpio.High, true
			}
			return gpio.Low, true
		case pins.SensorTrayEnd:
			if mock.Level(pins.TrayDir) == gpio.High {
				return gpio.High, true
			}
			return gpio.Low, true
		}
		return 0, false
	}

	b := bus.New()
	timeouts := config.DefaultTimeouts()
	timeouts.UserWait = 20 * time.Millisecond
	ctrl := motion.New(motors, servos, sensors, calStore, b, zap.NewNop(), timeouts)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}

	irbisCfg := config.IrbisConfig{
		Database: "IBIS", ReadersDatabase: "RDR",
		Username: "MASTER", LoanDays: 30, LocationCode: "09", Mock: true,
	}
	library := irbis.NewService(irbis.NewMock("RDR", "IBIS"), irbisCfg, zap.NewNop())
	if err := library.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	services := service.New(service.Config{
		Store: st, Motion: ctrl, Library: library, Bus: b,
		Log: zap.NewNop(), LoanDays: 30,
	})

	reader := rfid.NewUnifiedReader(nil, nil, time.Second, time.Second, zap.NewNop())
	wizard := calibration.NewWizard(calStore, ctrl)
	backups := backup.New(filepath.Join(t.TempDir(), "backups"), "db", "cal")

	srv := New(Deps{
		Config: cfg, Store: st, Motion: ctrl, Services: services,
		Cal: calStore, Wizard: wizard, Library: library, Reader: reader,
		Backups: backups, Servos: servos, Bus: b, Log: zap.NewNop(),
	})
	return srv, services, calStore
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestGetCells(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/cells", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success bool         `json:"success"`
		Cells   []store.Cell `json:"cells"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || len(resp.Cells) != config.TotalCells {
		t.Errorf("cells = %d, want %d", len(resp.Cells), config.TotalCells)
	}
}

func TestAuthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/auth/card", map[string]string{"rfid": "ZZZ999"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Error != "unknown card" {
		t.Errorf("resp = %+v", resp)
	}

	// Missing rfid is malformed input: non-2xx.
	w = doJSON(t, srv, http.MethodPost, "/api/auth/card", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRoleGuards(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// No session: librarian route is refused with 401.
	w := doJSON(t, srv, http.MethodPost, "/api/extract-all", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	// A reader session: still forbidden.
	doJSON(t, srv, http.MethodPost, "/api/auth/card", map[string]string{"rfid": "CARD001"})
	w = doJSON(t, srv, http.MethodPost, "/api/extract-all", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	// A librarian session passes the guard.
	doJSON(t, srv, http.MethodPost, "/api/auth/card", map[string]string{"rfid": "ADMIN01"})
	w = doJSON(t, srv, http.MethodPost, "/api/extract-all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	// Calibration requires admin; the librarian is refused.
	w = doJSON(t, srv, http.MethodGet, "/api/calibration", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("calibration as librarian = %d, want 403", w.Code)
	}
}

func TestCalibrationImportRejectsBadPayload(t *testing.T) {
	srv, _, calStore := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/api/auth/card", map[string]string{"rfid": "ADMIN99"})

	bad := calibration.Default()
	bad.Positions.Y = bad.Positions.Y[:20]
	raw, _ := json.Marshal(bad)

	w := doJSON(t, srv, http.MethodPost, "/api/calibration/import", map[string]string{"json": string(raw)})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Success bool `json:"success"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success {
		t.Error("bad payload accepted")
	}
	if len(calStore.Get().Positions.Y) != 21 {
		t.Error("store mutated by rejected import")
	}
}

func TestIssueEndpointValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/issue", map[string]string{"bookRfid": "BOOK001"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing userRfid status = %d, want 400", w.Code)
	}

	// A transaction-level failure is conveyed in the body, not the status.
	w = doJSON(t, srv, http.MethodPost, "/api/issue",
		map[string]string{"bookRfid": "GHOST999", "userRfid": "CARD001"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Error != "book not found" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["state"] != string(motion.StateIdle) {
		t.Errorf("state = %v, want idle", resp["state"])
	}
}
