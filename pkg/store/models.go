// Package store is the local persistent catalogue: cells, books, users,
// the operation log and the system log. It is the source of truth for the
// physical state of the cabinet; the remote bibliographic server owns only
// its own records.
package store

import (
	"time"
)

// CellStatus of one storage cell.
type CellStatus string

const (
	CellEmpty    CellStatus = "empty"
	CellOccupied CellStatus = "occupied"
	CellBlocked  CellStatus = "blocked"
)

// BookStatus tracks a book through the cabinet lifecycle.
type BookStatus string

const (
	BookInCabinet BookStatus = "in_cabinet"
	BookReserved  BookStatus = "reserved"
	BookIssued    BookStatus = "issued"
	BookReturned  BookStatus = "returned"
	BookExtracted BookStatus = "extracted"
)

// UserRole carries a fixed permission set.
type UserRole string

const (
	RoleReader    UserRole = "reader"
	RoleLibrarian UserRole = "librarian"
	RoleAdmin     UserRole = "admin"
)

// RolePermissions maps each role to its allowed actions.
var RolePermissions = map[UserRole][]string{
	RoleReader:    {"issue", "return"},
	RoleLibrarian: {"issue", "return", "load", "unload", "inventory"},
	RoleAdmin:     {"issue", "return", "load", "unload", "inventory", "calibrate", "settings", "maintenance"},
}

// HasPermission reports whether a role may perform an action.
func HasPermission(role UserRole, action string) bool {
	for _, a := range RolePermissions[role] {
		if a == action {
			return true
		}
	}
	return false
}

// AtLeastLibrarian reports librarian or admin.
func AtLeastLibrarian(role UserRole) bool {
	return role == RoleLibrarian || role == RoleAdmin
}

// OperationKind of an operation-log record.
type OperationKind string

const (
	OpInit      OperationKind = "INIT"
	OpTake      OperationKind = "TAKE"
	OpGive      OperationKind = "GIVE"
	OpIssue     OperationKind = "ISSUE"
	OpReturn    OperationKind = "RETURN"
	OpLoad      OperationKind = "LOAD"
	OpExtract   OperationKind = "EXTRACT"
	OpInventory OperationKind = "INVENTORY"
)

// OperationResult of an operation-log record.
type OperationResult string

const (
	ResultOK    OperationResult = "OK"
	ResultError OperationResult = "ERROR"
)

// Cell is one storage slot. Cells own the authoritative book reference;
// books point back by cell id, and the relation is walked via the store.
type Cell struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Row             string     `gorm:"size:8;index:idx_cell_pos,unique" json:"row"`
	X               int        `gorm:"index:idx_cell_pos,unique" json:"x"`
	Y               int        `gorm:"index:idx_cell_pos,unique" json:"y"`
	Status          CellStatus `gorm:"size:16;default:empty" json:"status"`
	BookRFID        *string    `gorm:"size:64" json:"book_rfid"`
	BookTitle       *string    `gorm:"size:255" json:"book_title"`
	ReservedFor     *string    `gorm:"size:64" json:"reserved_for"`
	NeedsExtraction bool       `gorm:"default:false" json:"needs_extraction"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Book is one physical exemplar identified by its RFID EPC.
type Book struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	RFID       string     `gorm:"size:64;uniqueIndex" json:"rfid"`
	Title      string     `gorm:"size:255" json:"title"`
	Author     *string    `gorm:"size:255" json:"author"`
	ISBN       *string    `gorm:"size:32" json:"isbn"`
	Status     BookStatus `gorm:"size:16;default:in_cabinet" json:"status"`
	CellID     *uint      `json:"cell_id"`
	ReservedBy *string    `gorm:"size:64" json:"reserved_by"`
	IssuedTo   *string    `gorm:"size:64" json:"issued_to"`
	IssuedAt   *time.Time `json:"issued_at"`
	DueDate    *time.Time `json:"due_date"`
}

// User is a patron or staff member identified by card RFID.
type User struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	RFID     string   `gorm:"size:64;uniqueIndex" json:"rfid"`
	Name     string   `gorm:"size:255" json:"name"`
	Role     UserRole `gorm:"size:16;default:reader" json:"role"`
	CardType string   `gorm:"size:32;default:library" json:"card_type"`
	Active   bool     `gorm:"default:true" json:"active"`
}

// Operation is one append-only operation-log record.
type Operation struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time       `gorm:"index" json:"timestamp"`
	Operation  OperationKind   `gorm:"size:16;index" json:"operation"`
	CellRow    *string         `gorm:"size:8" json:"cell_row"`
	CellX      *int            `json:"cell_x"`
	CellY      *int            `json:"cell_y"`
	BookRFID   *string         `gorm:"size:64" json:"book_rfid"`
	UserRFID   *string         `gorm:"size:64" json:"user_rfid"`
	Result     OperationResult `gorm:"size:8;default:OK" json:"result"`
	DurationMS int             `gorm:"default:0" json:"duration_ms"`
	Details    *string         `json:"details"`
}

// SystemLog is one append-only system-log record.
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Level     string    `gorm:"size:8" json:"level"`
	Component *string   `gorm:"size:32" json:"component"`
	Message   string    `json:"message"`
}

// Setting is one key/value settings row.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Statistics summarizes the catalogue for the dashboard.
type Statistics struct {
	OccupiedCells       int `json:"occupiedCells"`
	TotalCells          int `json:"totalCells"`
	BooksNeedExtraction int `json:"booksNeedExtraction"`
	IssuesTotal         int `json:"issuesTotal"`
	IssuesToday         int `json:"issuesToday"`
	ReturnsTotal        int `json:"returnsTotal"`
	ReturnsToday        int `json:"returnsToday"`
}
