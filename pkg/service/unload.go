package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/rfid"
	"bookcabinet/pkg/store"
)

// ExtractResult is the single-cell extraction payload.
type ExtractResult struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Book    *store.Book `json:"book,omitempty"`
	Cell    *store.Cell `json:"cell,omitempty"`
}

// Extract presents a cell's shelf to the operator, waits for the book to
// be taken, seats the empty shelf back and clears the cell.
func (s *Services) Extract(ctx context.Context, cellID uint) ExtractResult {
	if err := s.acquire(); err != nil {
		return ExtractResult{Success: false, Error: "cabinet busy"}
	}
	defer s.release()
	return s.extractLocked(ctx, cellID)
}

func (s *Services) extractLocked(ctx context.Context, cellID uint) ExtractResult {
	start := time.Now()

	cell, err := s.store.CellByID(cellID)
	if err != nil {
		return ExtractResult{Success: false, Error: "cell not found"}
	}
	if cell.Status != store.CellOccupied {
		return ExtractResult{Success: false, Error: "cell is empty"}
	}

	if err := s.motion.TakeShelf(cell.Row, cell.X, cell.Y); err != nil {
		s.logOperation(store.OpExtract, cell, deref(cell.BookRFID), "", store.ResultError, start, err.Error())
		s.logSystem("WARNING", "unload", "mechanics failure: "+err.Error())
		return ExtractResult{Success: false, Error: "cabinet mechanics failure"}
	}

	s.motion.WaitForUser(0)

	if err := s.motion.GiveShelf(cell.Row, cell.X, cell.Y); err != nil {
		s.logOperation(store.OpExtract, cell, deref(cell.BookRFID), "", store.ResultError, start, err.Error())
		s.logSystem("WARNING", "unload", "mechanics failure on shelf return: "+err.Error())
		return ExtractResult{Success: false, Error: "cabinet mechanics failure"}
	}

	var book *store.Book
	if cell.BookRFID != nil {
		book, _ = s.store.BookByRFID(*cell.BookRFID)
		if book != nil {
			err := s.store.UpdateBook(book.ID, map[string]any{
				"status":  store.BookExtracted,
				"cell_id": nil,
			})
			if err != nil {
				s.log.Error("extract: book row update failed", zap.Error(err))
			}
		}
	}

	err = s.store.UpdateCell(cell.ID, map[string]any{
		"status":           store.CellEmpty,
		"book_rfid":        nil,
		"book_title":       nil,
		"reserved_for":     nil,
		"needs_extraction": false,
	})
	if err != nil {
		s.log.Error("extract: cell row update failed", zap.Error(err))
	}

	title := deref(cell.BookTitle)
	if title == "" {
		title = "book"
	}
	s.logOperation(store.OpExtract, cell, deref(cell.BookRFID), "", store.ResultOK, start, "")
	s.logSystem("INFO", "unload", "extracted: "+title)

	updatedCell, _ := s.store.CellByID(cell.ID)
	if updatedCell == nil {
		updatedCell = cell
	}
	return ExtractResult{
		Success: true,
		Book:    book,
		Cell:    updatedCell,
		Message: "extracted: " + title,
	}
}

// ExtractAllResult summarizes a bulk extraction.
type ExtractAllResult struct {
	Success   bool     `json:"success"`
	Extracted int      `json:"extracted"`
	Errors    []string `json:"errors,omitempty"`
	Message   string   `json:"message"`
}

// ExtractAll visits every cell flagged for extraction.
func (s *Services) ExtractAll(ctx context.Context) ExtractAllResult {
	if err := s.acquire(); err != nil {
		return ExtractAllResult{Success: false, Message: "cabinet busy"}
	}
	defer s.release()

	cells, err := s.store.CellsNeedingExtraction()
	if err != nil {
		return ExtractAllResult{Success: false, Message: "store failure"}
	}
	if len(cells) == 0 {
		return ExtractAllResult{Success: true, Extracted: 0, Message: "nothing to extract"}
	}

	var errs []string
	extracted := 0
	for _, cell := range cells {
		result := s.extractLocked(ctx, cell.ID)
		if result.Success {
			extracted++
		} else {
			errs = append(errs, fmt.Sprintf("cell %d: %s", cell.ID, result.Error))
		}
	}
	return ExtractAllResult{
		Success:   len(errs) == 0,
		Extracted: extracted,
		Errors:    errs,
		Message:   fmt.Sprintf("extracted %d books", extracted),
	}
}

// InventoryEntry classifies one cell or stray tag.
type InventoryEntry struct {
	Cell   *store.Cell `json:"cell,omitempty"`
	RFID   string      `json:"rfid,omitempty"`
	Status string      `json:"status"` // ok | missing | mismatch | unexpected
}

// InventoryResult summarizes a full inventory pass.
type InventoryResult struct {
	Success    bool             `json:"success"`
	Total      int              `json:"total"`
	OK         int              `json:"ok"`
	Missing    int              `json:"missing"`
	Mismatch   int              `json:"mismatch"`
	Unexpected int              `json:"unexpected"`
	Entries    []InventoryEntry `json:"entries"`
	Message    string           `json:"message"`
}

// Inventory classifies every storage cell against the catalogue, and,
// when the in-cabinet reader is available and scanning was requested,
// against the tags actually visible inside the cabinet.
func (s *Services) Inventory(ctx context.Context, scanRFID bool) InventoryResult {
	if err := s.acquire(); err != nil {
		return InventoryResult{Success: false, Message: "cabinet busy"}
	}
	defer s.release()

	cells, err := s.store.AllCells()
	if err != nil {
		return InventoryResult{Success: false, Message: "store failure"}
	}

	var scanned map[string]bool
	if scanRFID && s.scanner != nil {
		tags, err := s.scanner.Scan(10)
		if err != nil {
			s.logSystem("WARNING", "inventory", "tag scan failed: "+err.Error())
		}
		scanned = make(map[string]bool, len(tags))
		for _, tag := range tags {
			scanned[rfid.NormalizeUID(tag)] = false // false = not yet claimed by a cell
		}
	}

	result := InventoryResult{Success: true}
	for i := range cells {
		cell := cells[i]
		if cell.Status == store.CellBlocked {
			continue
		}
		result.Total++
		if cell.Status != store.CellOccupied {
			continue
		}

		entry := InventoryEntry{Cell: &cells[i], RFID: deref(cell.BookRFID)}
		switch {
		case cell.BookRFID == nil:
			entry.Status = "mismatch" // occupied with no tag on record
		case scanned != nil:
			key := rfid.NormalizeUID(*cell.BookRFID)
			if _, ok := scanned[key]; ok {
				scanned[key] = true
				entry.Status = s.classifyCatalogued(cell)
			} else {
				entry.Status = "missing"
			}
		default:
			entry.Status = s.classifyCatalogued(cell)
		}

		switch entry.Status {
		case "ok":
			result.OK++
		case "missing":
			result.Missing++
		case "mismatch":
			result.Mismatch++
		}
		result.Entries = append(result.Entries, entry)
	}

	// Tags seen inside the cabinet that no occupied cell accounts for.
	for tag, claimed := range scanned {
		if claimed {
			continue
		}
		result.Unexpected++
		result.Entries = append(result.Entries, InventoryEntry{RFID: tag, Status: "unexpected"})
	}

	s.logSystem("INFO", "inventory", fmt.Sprintf(
		"inventory: %d ok, %d missing, %d mismatch, %d unexpected",
		result.OK, result.Missing, result.Mismatch, result.Unexpected))

	result.Message = fmt.Sprintf("inventory complete: %d of %d cells verified", result.OK, result.Total)
	return result
}

// classifyCatalogued cross-checks an occupied cell against its book row.
func (s *Services) classifyCatalogued(cell store.Cell) string {
	book, err := s.store.BookByRFID(*cell.BookRFID)
	if err != nil || book == nil {
		return "mismatch"
	}
	if book.CellID == nil || *book.CellID != cell.ID {
		return "mismatch"
	}
	return "ok"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
