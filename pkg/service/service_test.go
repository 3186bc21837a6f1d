package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/config"
	"bookcabinet/pkg/gpio"
	"bookcabinet/pkg/irbis"
	"bookcabinet/pkg/motion"
	"bookcabinet/pkg/motor"
	"bookcabinet/pkg/sensor"
	"bookcabinet/pkg/servo"
	"bookcabinet/pkg/store"
)

type rig struct {
	services *Services
	store    *store.Store
	library  *irbis.Service
	bus      *bus.Bus
	mock     *gpio.Mock
	pins     config.Pins
}

type fakeScanner struct {
	tags []string
}

func (f *fakeScanner) Scan(rounds int) ([]string, error) { return f.tags, nil }

func newRig(t *testing.T) *rig {
	t.Helper()

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

	// Wire the tray limit switches to the tray direction line so full
	// travel terminates like the real mechanics.
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
		Database:        "IBIS",
		ReadersDatabase: "RDR",
		Username:        "MASTER",
		LoanDays:        30,
		LocationCode:    "09",
		Mock:            true,
	}
	library := irbis.NewService(irbis.NewMock("RDR", "IBIS"), irbisCfg, zap.NewNop())
	if err := library.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	services := New(Config{
		Store:    st,
		Motion:   ctrl,
		Library:  library,
		Bus:      b,
		Log:      zap.NewNop(),
		LoanDays: 30,
	})

	return &rig{services: services, store: st, library: library, bus: b, mock: mock, pins: pins}
}

func TestAuthenticateKnownReader(t *testing.T) {
	r := newRig(t)

	result := r.services.Authenticate(context.Background(), "CARD001")
	if !result.Success {
		t.Fatalf("authenticate failed: %s", result.Error)
	}
	if result.User.Role != store.RoleReader {
		t.Errorf("role = %s, want reader", result.User.Role)
	}
	if result.NeedsExtraction != 0 {
		t.Errorf("needsExtraction = %d, want 0", result.NeedsExtraction)
	}
	// The demo catalogue reserves BOOK001 for CARD001.
	found := false
	for _, b := range result.ReservedBooks {
		if b.RFID == "BOOK001" {
			found = true
		}
	}
	if !found {
		t.Errorf("reserved books = %+v, BOOK001 missing", result.ReservedBooks)
	}
	if r.services.CurrentUser() == nil {
		t.Error("session user not set")
	}
}

func TestAuthenticateUnknownCard(t *testing.T) {
	r := newRig(t)

	result := r.services.Authenticate(context.Background(), "ZZZ999")
	if result.Success {
		t.Fatal("unknown card authenticated")
	}
	if result.Error != "unknown card" {
		t.Errorf("error = %q, want 'unknown card'", result.Error)
	}

	// The system log gains a WARNING tagged auth.
	logs, err := r.store.RecentLogs(10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, l := range logs {
		if l.Level == "WARNING" && l.Component != nil && *l.Component == "auth" {
			found = true
		}
	}
	if !found {
		t.Errorf("no WARNING auth log: %+v", logs)
	}
}

func TestIssueHappyPath(t *testing.T) {
	r := newRig(t)

	sub := r.bus.Subscribe(128)
	defer sub.Cancel()

	result := r.services.Issue(context.Background(), "BOOK001", "CARD001")
	if !result.Success {
		t.Fatalf("issue failed: %s", result.Error)
	}

	// Book row: issued to CARD001, no cell.
	book, err := r.store.BookByRFID("BOOK001")
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookIssued || book.IssuedTo == nil || *book.IssuedTo != "CARD001" {
		t.Errorf("book = %+v", book)
	}
	if book.CellID != nil {
		t.Error("issued book still references a cell")
	}

	// Cell (FRONT,0,0) back to empty.
	cell, err := r.store.CellByPosition(config.RowFront, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if cell.Status != store.CellEmpty || cell.BookRFID != nil {
		t.Errorf("cell = %+v", cell)
	}

	// Progress stream: 13 TAKE steps and 12 GIVE steps in emission order.
	var take, give int
	for {
		var msg bus.Message
		select {
		case msg = <-sub.C:
		default:
			msg = nil
		}
		if msg == nil {
			break
		}
		if p, ok := msg.(bus.Progress); ok {
			switch p.Operation {
			case "TAKE":
				take++
			case "GIVE":
				give++
			}
		}
	}
	if take != 13 || give != 12 {
		t.Errorf("progress steps TAKE=%d GIVE=%d, want 13/12", take, give)
	}

	// Remote exemplar flipped to issued.
	info, err := r.library.GetBook(context.Background(), "BOOK001")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "issued" {
		t.Errorf("remote status = %s, want issued", info.Status)
	}

	// Operation log carries the issue.
	ops, _ := r.store.RecentOperations(5, store.OpIssue)
	if len(ops) != 1 || ops[0].Result != store.ResultOK {
		t.Errorf("operations = %+v", ops)
	}
}

func TestIssueRejectsWrongReader(t *testing.T) {
	r := newRig(t)

	// BOOK003 is reserved for CARD002.
	result := r.services.Issue(context.Background(), "BOOK003", "CARD001")
	if result.Success {
		t.Fatal("issue succeeded for the wrong reader")
	}
	if result.Error != "reserved by other reader" {
		t.Errorf("error = %q", result.Error)
	}

	// No cell or book mutation.
	book, _ := r.store.BookByRFID("BOOK003")
	if book.Status != store.BookReserved || book.CellID == nil {
		t.Errorf("book mutated: %+v", book)
	}
	cell, _ := r.store.CellByID(*book.CellID)
	if cell.Status != store.CellOccupied {
		t.Errorf("cell mutated: %+v", cell)
	}
}

func TestIssueUnknownBook(t *testing.T) {
	r := newRig(t)

	result := r.services.Issue(context.Background(), "GHOST999", "CARD001")
	if result.Success || result.Error != "book not found" {
		t.Errorf("result = %+v", result)
	}
}

func TestReturnUnknownBookCreatesRow(t *testing.T) {
	r := newRig(t)

	// NEW001 exists only in the remote catalogue.
	result := r.services.Return(context.Background(), "NEW001")
	if !result.Success {
		t.Fatalf("return failed: %s", result.Error)
	}

	book, err := r.store.BookByRFID("NEW001")
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookReturned {
		t.Errorf("book status = %s, want returned", book.Status)
	}
	if book.CellID == nil {
		t.Fatal("returned book has no cell")
	}

	cell, _ := r.store.CellByID(*book.CellID)
	if cell.Status != store.CellOccupied || !cell.NeedsExtraction {
		t.Errorf("cell = %+v", cell)
	}
	if cell.BookRFID == nil || *cell.BookRFID != "NEW001" {
		t.Errorf("cell book = %v", cell.BookRFID)
	}
}

func TestIssueThenReturnEndsExtractable(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if result := r.services.Issue(ctx, "BOOK001", "CARD001"); !result.Success {
		t.Fatalf("issue: %s", result.Error)
	}
	if result := r.services.Return(ctx, "BOOK001"); !result.Success {
		t.Fatalf("return: %s", result.Error)
	}

	book, _ := r.store.BookByRFID("BOOK001")
	if book.Status != store.BookReturned {
		t.Errorf("status = %s, want returned", book.Status)
	}
	cell, _ := r.store.CellByID(*book.CellID)
	if !cell.NeedsExtraction {
		t.Error("cell not flagged for extraction")
	}

	// The remote exemplar is back at available.
	info, _ := r.library.GetBook(ctx, "BOOK001")
	if info.Status != "available" {
		t.Errorf("remote status = %s, want available", info.Status)
	}
}

func TestLoadIntoChosenCell(t *testing.T) {
	r := newRig(t)

	target, err := r.store.CellByPosition(config.RowBack, 2, 5)
	if err != nil {
		t.Fatal(err)
	}

	result := r.services.Load(context.Background(), "NEW001", "", "", target.ID)
	if !result.Success {
		t.Fatalf("load failed: %s", result.Error)
	}
	// Metadata came from the remote catalogue.
	if result.Book.Title == "" {
		t.Error("load did not pull remote metadata")
	}

	cell, _ := r.store.CellByID(target.ID)
	if cell.Status != store.CellOccupied || *cell.BookRFID != "NEW001" {
		t.Errorf("cell = %+v", cell)
	}

	// Loading into an occupied cell is refused.
	again := r.services.Load(context.Background(), "BOOK999X", "Some Title", "", target.ID)
	if again.Success || again.Error != "cell unavailable" {
		t.Errorf("load into occupied cell = %+v", again)
	}
}

func TestExtractClearsCell(t *testing.T) {
	r := newRig(t)

	book, _ := r.store.BookByRFID("BOOK002")
	result := r.services.Extract(context.Background(), *book.CellID)
	if !result.Success {
		t.Fatalf("extract failed: %s", result.Error)
	}

	got, _ := r.store.BookByRFID("BOOK002")
	if got.Status != store.BookExtracted || got.CellID != nil {
		t.Errorf("book = %+v", got)
	}
	cell, _ := r.store.CellByID(*book.CellID)
	if cell.Status != store.CellEmpty || cell.NeedsExtraction {
		t.Errorf("cell = %+v", cell)
	}
}

func TestExtractAll(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// One returned book awaiting extraction.
	if result := r.services.Return(ctx, "NEW001"); !result.Success {
		t.Fatal(result.Error)
	}

	result := r.services.ExtractAll(ctx)
	if !result.Success || result.Extracted != 1 {
		t.Errorf("extract all = %+v", result)
	}

	cells, _ := r.store.CellsNeedingExtraction()
	if len(cells) != 0 {
		t.Errorf("cells still flagged: %+v", cells)
	}
}

func TestInventoryClassification(t *testing.T) {
	r := newRig(t)

	// Scanner sees BOOK001..BOOK004 plus a stray; BOOK005 is missing.
	r.services.scanner = &fakeScanner{tags: []string{
		"BOOK001", "BOOK002", "BOOK003", "BOOK004", "STRAY77",
	}}

	result := r.services.Inventory(context.Background(), true)
	if !result.Success {
		t.Fatalf("inventory failed: %s", result.Message)
	}
	if result.OK != 4 {
		t.Errorf("ok = %d, want 4", result.OK)
	}
	if result.Missing != 1 {
		t.Errorf("missing = %d, want 1", result.Missing)
	}
	if result.Unexpected != 1 {
		t.Errorf("unexpected = %d, want 1", result.Unexpected)
	}
	if result.Total != config.TotalCells-17 {
		t.Errorf("total = %d, want %d", result.Total, config.TotalCells-17)
	}
}

func TestCabinetExclusive(t *testing.T) {
	r := newRig(t)

	r.services.cabinet.Lock()
	defer r.services.cabinet.Unlock()

	result := r.services.Issue(context.Background(), "BOOK001", "CARD001")
	if result.Success || result.Error != "cabinet busy" {
		t.Errorf("result = %+v", result)
	}
}

func TestPermissions(t *testing.T) {
	r := newRig(t)

	reader, _ := r.store.UserByRFID("CARD001")
	staff, _ := r.store.UserByRFID("ADMIN01")
	admin, _ := r.store.UserByRFID("ADMIN99")

	if r.services.CheckPermission(reader, "load") {
		t.Error("reader may not load")
	}
	if !r.services.CheckPermission(staff, "inventory") {
		t.Error("librarian may run inventory")
	}
	if !r.services.CheckPermission(admin, "calibrate") {
		t.Error("admin may calibrate")
	}
	if r.services.CheckPermission(nil, "issue") {
		t.Error("nil user has no permissions")
	}
}
