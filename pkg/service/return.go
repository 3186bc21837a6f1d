package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/store"
)

// ReturnResult is the return-transaction payload.
type ReturnResult struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Book    *store.Book `json:"book,omitempty"`
	Cell    *store.Cell `json:"cell,omitempty"`
}

// Return accepts a book back: resolve (or create from remote metadata)
// the book row, allocate the first empty cell, run the shelf there, mark
// the cell as needing staff extraction, then close the loan remotely.
func (s *Services) Return(ctx context.Context, bookRFID string) ReturnResult {
	if err := s.acquire(); err != nil {
		return ReturnResult{Success: false, Error: "cabinet busy"}
	}
	defer s.release()

	start := time.Now()

	book, err := s.store.BookByRFID(bookRFID)
	if err != nil && err != store.ErrNotFound {
		s.log.Error("return: store lookup failed", zap.Error(err))
	}

	if book == nil {
		// Unknown locally: pull metadata from the catalogue.
		var title, author string
		if s.library != nil {
			rctx, cancel := remoteCtx(ctx)
			info, err := s.library.GetBook(rctx, bookRFID)
			cancel()
			if err != nil {
				s.log.Warn("return: remote metadata lookup failed", zap.Error(err))
			}
			if info != nil {
				title = info.Title
				author = info.Author
			}
		}
		if title == "" {
			return ReturnResult{Success: false, Error: "book not found"}
		}
		newBook := &store.Book{RFID: bookRFID, Title: title, Status: store.BookReturned}
		if author != "" {
			newBook.Author = &author
		}
		if err := s.store.CreateBook(newBook); err != nil {
			s.log.Error("return: book row create failed", zap.Error(err))
			return ReturnResult{Success: false, Error: "book not found"}
		}
		book = newBook
	}

	cell, err := s.store.FindFirstEmptyCell()
	if err != nil || cell == nil {
		return ReturnResult{Success: false, Error: "no empty cell"}
	}

	if err := s.motion.GiveShelf(cell.Row, cell.X, cell.Y); err != nil {
		s.logOperation(store.OpReturn, cell, bookRFID, "", store.ResultError, start, err.Error())
		s.logSystem("WARNING", "return", "mechanics failure: "+err.Error())
		return ReturnResult{Success: false, Error: "cabinet mechanics failure"}
	}

	err = s.store.UpdateBook(book.ID, map[string]any{
		"status":    store.BookReturned,
		"cell_id":   cell.ID,
		"issued_to": nil,
		"issued_at": nil,
	})
	if err != nil {
		s.log.Error("return: book row update failed", zap.Error(err))
	}
	err = s.store.UpdateCell(cell.ID, map[string]any{
		"status":           store.CellOccupied,
		"book_rfid":        bookRFID,
		"book_title":       book.Title,
		"needs_extraction": true,
	})
	if err != nil {
		s.log.Error("return: cell row update failed", zap.Error(err))
	}

	if s.library != nil {
		rctx, cancel := remoteCtx(ctx)
		_, err := s.library.ReturnBook(rctx, bookRFID)
		cancel()
		if err != nil {
			s.logSystem("WARNING", "return", "remote return failed: "+err.Error())
		}
	}

	s.logOperation(store.OpReturn, cell, bookRFID, "", store.ResultOK, start, "")
	s.logSystem("INFO", "return", "returned: "+book.Title)
	s.notify("return", "Returned "+book.Title)

	updatedBook, _ := s.store.BookByRFID(bookRFID)
	if updatedBook == nil {
		updatedBook = book
	}
	updatedCell, _ := s.store.CellByID(cell.ID)
	if updatedCell == nil {
		updatedCell = cell
	}
	return ReturnResult{
		Success: true,
		Book:    updatedBook,
		Cell:    updatedCell,
		Message: "book returned: " + book.Title,
	}
}
