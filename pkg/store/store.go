package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bookcabinet/pkg/config"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// System-log retention: every pruneEvery inserts the log is trimmed back
// to logRetention rows.
const (
	logRetention = 10000
	pruneEvery   = 500
)

// Store wraps the embedded database. All query results are owned value
// copies, never live cursors; the store serializes its own writes.
type Store struct {
	db       *gorm.DB
	logCount atomic.Int64
}

// Open opens (or creates) the database, migrates the schema and, on first
// boot, materializes the 126 cells and the demo catalogue.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&Cell{}, &Book{}, &User{}, &Operation{}, &SystemLog{}, &Setting{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{db: db}
	if err := s.seed(); err != nil {
		return nil, err
	}
	return s, nil
}

// seed materializes cells and demo data the first time the database opens.
func (s *Store) seed() error {
	var cellCount int64
	if err := s.db.Model(&Cell{}).Count(&cellCount).Error; err != nil {
		return err
	}
	if cellCount == 0 {
		if err := s.seedCells(); err != nil {
			return err
		}
	}

	var userCount int64
	if err := s.db.Model(&User{}).Count(&userCount).Error; err != nil {
		return err
	}
	if userCount == 0 {
		if err := s.seedDemo(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedCells() error {
	now := time.Now()
	cells := make([]Cell, 0, config.TotalCells)
	for _, row := range config.Rows() {
		for x := 0; x < config.Columns; x++ {
			for y := 0; y < config.Positions; y++ {
				status := CellEmpty
				if config.IsBlocked(row, x, y) {
					status = CellBlocked
				}
				cells = append(cells, Cell{
					Row: row, X: x, Y: y,
					Status:    status,
					UpdatedAt: now,
				})
			}
		}
	}
	return s.db.CreateInBatches(cells, 64).Error
}

// seedDemo loads the demo users and books used on a fresh cabinet.
func (s *Store) seedDemo() error {
	users := []User{
		{RFID: "CARD001", Name: "Ivanov I.I.", Role: RoleReader, CardType: "library", Active: true},
		{RFID: "CARD002", Name: "Petrova M.S.", Role: RoleReader, CardType: "library", Active: true},
		{RFID: "ADMIN01", Name: "Kozlova A.V.", Role: RoleLibrarian, CardType: "library", Active: true},
		{RFID: "ADMIN99", Name: "Administrator", Role: RoleAdmin, CardType: "library", Active: true},
	}
	if err := s.db.Create(&users).Error; err != nil {
		return err
	}

	type demoBook struct {
		rfid, title, author string
		status              BookStatus
		reservedBy          string
	}
	books := []demoBook{
		{"BOOK001", "War and Peace", "Tolstoy L.N.", BookReserved, "CARD001"},
		{"BOOK002", "The Master and Margarita", "Bulgakov M.A.", BookInCabinet, ""},
		{"BOOK003", "1984", "Orwell G.", BookReserved, "CARD002"},
		{"BOOK004", "Crime and Punishment", "Dostoevsky F.M.", BookInCabinet, ""},
		{"BOOK005", "Anna Karenina", "Tolstoy L.N.", BookInCabinet, ""},
	}

	var empty []Cell
	if err := s.db.Where("status = ?", CellEmpty).Order("id").Limit(len(books)).Find(&empty).Error; err != nil {
		return err
	}

	for i, b := range books {
		book := Book{RFID: b.rfid, Title: b.title, Status: b.status}
		author := b.author
		book.Author = &author
		if b.reservedBy != "" {
			reserved := b.reservedBy
			book.ReservedBy = &reserved
		}
		if i < len(empty) {
			cellID := empty[i].ID
			book.CellID = &cellID
		}
		if err := s.db.Create(&book).Error; err != nil {
			return err
		}
		if i < len(empty) {
			attrs := map[string]any{
				"status":     CellOccupied,
				"book_rfid":  b.rfid,
				"book_title": b.title,
				"updated_at": time.Now(),
			}
			if b.reservedBy != "" {
				attrs["reserved_for"] = b.reservedBy
			}
			if err := s.db.Model(&Cell{}).Where("id = ?", empty[i].ID).Updates(attrs).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// --- cells ---

// AllCells returns every cell ordered by row, column, position.
func (s *Store) AllCells() ([]Cell, error) {
	var cells []Cell
	err := s.db.Order("row desc, x, y").Find(&cells).Error
	return cells, err
}

// CellByID returns one cell.
func (s *Store) CellByID(id uint) (*Cell, error) {
	var cell Cell
	if err := s.db.First(&cell, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cell, nil
}

// CellByPosition returns the cell at (row, x, y).
func (s *Store) CellByPosition(row string, x, y int) (*Cell, error) {
	var cell Cell
	err := s.db.Where("row = ? AND x = ? AND y = ?", row, x, y).First(&cell).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cell, nil
}

// UpdateCell applies partial attributes to a cell and stamps updated_at.
func (s *Store) UpdateCell(id uint, attrs map[string]any) error {
	attrs["updated_at"] = time.Now()
	res := s.db.Model(&Cell{}).Where("id = ?", id).Updates(attrs)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindFirstEmptyCell returns the lowest-id empty cell.
func (s *Store) FindFirstEmptyCell() (*Cell, error) {
	var cell Cell
	err := s.db.Where("status = ?", CellEmpty).Order("id").First(&cell).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cell, nil
}

// CellsNeedingExtraction returns every cell flagged for staff extraction.
func (s *Store) CellsNeedingExtraction() ([]Cell, error) {
	var cells []Cell
	err := s.db.Where("needs_extraction = ?", true).Order("id").Find(&cells).Error
	return cells, err
}

// --- users and books ---

// UserByRFID returns an active user by card RFID.
func (s *Store) UserByRFID(rfid string) (*User, error) {
	var user User
	err := s.db.Where("rfid = ? AND active = ?", rfid, true).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a user row (e.g. one discovered via the library
// server).
func (s *Store) CreateUser(user *User) error {
	return s.db.Create(user).Error
}

// BookByRFID returns a book by its RFID EPC.
func (s *Store) BookByRFID(rfid string) (*Book, error) {
	var book Book
	err := s.db.Where("rfid = ?", rfid).First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &book, nil
}

// UserReservations returns the books reserved for a patron; a shelved
// book carries its cell id, not the cell coordinates.
func (s *Store) UserReservations(userRFID string) ([]Book, error) {
	var books []Book
	err := s.db.Where("reserved_by = ? AND status = ?", userRFID, BookReserved).Find(&books).Error
	return books, err
}

// UpdateBook applies partial attributes to a book.
func (s *Store) UpdateBook(id uint, attrs map[string]any) error {
	res := s.db.Model(&Book{}).Where("id = ?", id).Updates(attrs)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateBook inserts a book row.
func (s *Store) CreateBook(book *Book) error {
	return s.db.Create(book).Error
}

// --- logs ---

// LogOperation appends an operation-log record.
func (s *Store) LogOperation(op Operation) error {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	return s.db.Create(&op).Error
}

// LogSystem appends a system-log record, trimming the log back to the
// retention bound every few hundred inserts.
func (s *Store) LogSystem(level, component, message string) error {
	rec := SystemLog{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
	if component != "" {
		rec.Component = &component
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return err
	}
	if s.logCount.Add(1)%pruneEvery == 0 {
		return s.PruneSystemLogs(logRetention)
	}
	return nil
}

// RecentLogs returns the newest system-log records.
func (s *Store) RecentLogs(limit int) ([]SystemLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []SystemLog
	err := s.db.Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}

// RecentOperations returns the newest operation records, optionally
// filtered by kind.
func (s *Store) RecentOperations(limit int, kind OperationKind) ([]Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.Order("id desc").Limit(limit)
	if kind != "" {
		q = q.Where("operation = ?", kind)
	}
	var ops []Operation
	err := q.Find(&ops).Error
	return ops, err
}

// PruneSystemLogs keeps only the newest keep records.
func (s *Store) PruneSystemLogs(keep int) error {
	if keep <= 0 {
		return nil
	}
	var cutoff SystemLog
	err := s.db.Order("id desc").Offset(keep - 1).First(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.db.Where("id < ?", cutoff.ID).Delete(&SystemLog{}).Error
}

// --- settings ---

// GetSetting returns a settings value or the default.
func (s *Store) GetSetting(key, def string) string {
	var setting Setting
	if err := s.db.First(&setting, "key = ?", key).Error; err != nil {
		return def
	}
	return setting.Value
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(key, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.Save(&setting).Error
}

// AllSettings returns every settings row.
func (s *Store) AllSettings() ([]Setting, error) {
	var settings []Setting
	err := s.db.Order("key").Find(&settings).Error
	return settings, err
}

// --- statistics ---

// GetStatistics computes the dashboard counters.
func (s *Store) GetStatistics() (Statistics, error) {
	var stats Statistics
	var n int64

	if err := s.db.Model(&Cell{}).Where("status = ?", CellOccupied).Count(&n).Error; err != nil {
		return stats, err
	}
	stats.OccupiedCells = int(n)

	if err := s.db.Model(&Cell{}).Where("status <> ?", CellBlocked).Count(&n).Error; err != nil {
		return stats, err
	}
	stats.TotalCells = int(n)

	if err := s.db.Model(&Cell{}).Where("needs_extraction = ?", true).Count(&n).Error; err != nil {
		return stats, err
	}
	stats.BooksNeedExtraction = int(n)

	today := time.Now().Truncate(24 * time.Hour)
	counts := []struct {
		kind  OperationKind
		total *int
		day   *int
	}{
		{OpIssue, &stats.IssuesTotal, &stats.IssuesToday},
		{OpReturn, &stats.ReturnsTotal, &stats.ReturnsToday},
	}
	for _, c := range counts {
		if err := s.db.Model(&Operation{}).Where("operation = ?", c.kind).Count(&n).Error; err != nil {
			return stats, err
		}
		*c.total = int(n)
		if err := s.db.Model(&Operation{}).
			Where("operation = ? AND timestamp >= ?", c.kind, today).Count(&n).Error; err != nil {
			return stats, err
		}
		*c.day = int(n)
	}
	return stats, nil
}
