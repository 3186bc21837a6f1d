package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/store"
)

// IssueResult is the issue-transaction payload.
type IssueResult struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Book    *store.Book `json:"book,omitempty"`
}

// Issue hands the patron a book: validate the local rows, extract the
// shelf to the window, wait for the patron, return the emptied shelf, then
// update the local rows and register the loan remotely. A remote failure
// is a warning, not a rollback; the local store owns the physical truth.
func (s *Services) Issue(ctx context.Context, bookRFID, userRFID string) IssueResult {
	if err := s.acquire(); err != nil {
		return IssueResult{Success: false, Error: "cabinet busy"}
	}
	defer s.release()

	start := time.Now()

	book, err := s.store.BookByRFID(bookRFID)
	if err != nil || book == nil {
		return IssueResult{Success: false, Error: "book not found"}
	}
	if book.Status == store.BookIssued {
		return IssueResult{Success: false, Error: "book already issued"}
	}
	if book.ReservedBy != nil && *book.ReservedBy != userRFID {
		return IssueResult{Success: false, Error: "reserved by other reader"}
	}
	if book.CellID == nil {
		return IssueResult{Success: false, Error: "book not in cabinet"}
	}
	cell, err := s.store.CellByID(*book.CellID)
	if err != nil {
		return IssueResult{Success: false, Error: "book not in cabinet"}
	}

	if err := s.motion.TakeShelf(cell.Row, cell.X, cell.Y); err != nil {
		s.logOperation(store.OpIssue, cell, bookRFID, userRFID, store.ResultError, start, err.Error())
		s.logSystem("WARNING", "issue", "mechanics failure: "+err.Error())
		return IssueResult{Success: false, Error: "cabinet mechanics failure"}
	}

	s.motion.WaitForUser(0)

	if err := s.motion.GiveShelf(cell.Row, cell.X, cell.Y); err != nil {
		s.logOperation(store.OpIssue, cell, bookRFID, userRFID, store.ResultError, start, err.Error())
		s.logSystem("WARNING", "issue", "mechanics failure on shelf return: "+err.Error())
		return IssueResult{Success: false, Error: "cabinet mechanics failure"}
	}

	now := time.Now()
	due := now.AddDate(0, 0, s.loanDays)
	err = s.store.UpdateBook(book.ID, map[string]any{
		"status":      store.BookIssued,
		"issued_to":   userRFID,
		"issued_at":   now,
		"due_date":    due,
		"reserved_by": nil,
		"cell_id":     nil,
	})
	if err != nil {
		s.log.Error("issue: book row update failed", zap.Error(err))
	}
	err = s.store.UpdateCell(cell.ID, map[string]any{
		"status":       store.CellEmpty,
		"book_rfid":    nil,
		"book_title":   nil,
		"reserved_for": nil,
	})
	if err != nil {
		s.log.Error("issue: cell row update failed", zap.Error(err))
	}

	if s.library != nil {
		rctx, cancel := remoteCtx(ctx)
		_, err := s.library.IssueBook(rctx, bookRFID, userRFID)
		cancel()
		if err != nil {
			s.logSystem("WARNING", "issue", "remote issue failed: "+err.Error())
		}
	}

	s.logOperation(store.OpIssue, cell, bookRFID, userRFID, store.ResultOK, start, "")
	s.logSystem("INFO", "issue", "issued: "+book.Title)
	s.notify("issue", "Issued "+book.Title+" to "+userRFID)

	updated, _ := s.store.BookByRFID(bookRFID)
	if updated == nil {
		updated = book
	}
	return IssueResult{
		Success: true,
		Book:    updated,
		Message: "book issued: " + book.Title,
	}
}
