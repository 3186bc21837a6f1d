package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/store"
)

// LoadResult is the load-transaction payload.
type LoadResult struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Book    *store.Book `json:"book,omitempty"`
	Cell    *store.Cell `json:"cell,omitempty"`
}

// Load shelves a book brought by a librarian: create the book row when
// absent (pulling catalogue metadata where possible), pick the target
// cell, run the shelf there and mark the cell occupied. A remote record
// that still shows the book as issued produces a warning, not a refusal.
func (s *Services) Load(ctx context.Context, bookRFID, title, author string, cellID uint) LoadResult {
	if err := s.acquire(); err != nil {
		return LoadResult{Success: false, Error: "cabinet busy"}
	}
	defer s.release()

	start := time.Now()
	warning := ""

	book, err := s.store.BookByRFID(bookRFID)
	if err != nil && err != store.ErrNotFound {
		s.log.Error("load: store lookup failed", zap.Error(err))
	}

	if book == nil {
		if s.library != nil {
			rctx, cancel := remoteCtx(ctx)
			info, err := s.library.GetBook(rctx, bookRFID)
			cancel()
			if err != nil {
				s.log.Warn("load: remote metadata lookup failed", zap.Error(err))
			}
			if info != nil {
				if title == "" {
					title = info.Title
				}
				if author == "" {
					author = info.Author
				}
				if info.Status == "issued" {
					warning = "remote record still shows the book as issued"
					s.logSystem("WARNING", "load", warning+": "+bookRFID)
				}
			}
		}
		if title == "" {
			return LoadResult{Success: false, Error: "title required"}
		}
		newBook := &store.Book{RFID: bookRFID, Title: title, Status: store.BookInCabinet}
		if author != "" {
			a := author
			newBook.Author = &a
		}
		if err := s.store.CreateBook(newBook); err != nil {
			s.log.Error("load: book row create failed", zap.Error(err))
			return LoadResult{Success: false, Error: "store failure"}
		}
		book = newBook
	}

	var cell *store.Cell
	if cellID != 0 {
		cell, err = s.store.CellByID(cellID)
		if err != nil || cell.Status != store.CellEmpty {
			return LoadResult{Success: false, Error: "cell unavailable"}
		}
	} else {
		cell, err = s.store.FindFirstEmptyCell()
		if err != nil || cell == nil {
			return LoadResult{Success: false, Error: "no empty cell"}
		}
	}

	if err := s.motion.GiveShelf(cell.Row, cell.X, cell.Y); err != nil {
		s.logOperation(store.OpLoad, cell, bookRFID, "", store.ResultError, start, err.Error())
		s.logSystem("WARNING", "load", "mechanics failure: "+err.Error())
		return LoadResult{Success: false, Error: "cabinet mechanics failure"}
	}

	err = s.store.UpdateBook(book.ID, map[string]any{
		"status":  store.BookInCabinet,
		"cell_id": cell.ID,
	})
	if err != nil {
		s.log.Error("load: book row update failed", zap.Error(err))
	}
	err = s.store.UpdateCell(cell.ID, map[string]any{
		"status":     store.CellOccupied,
		"book_rfid":  bookRFID,
		"book_title": book.Title,
	})
	if err != nil {
		s.log.Error("load: cell row update failed", zap.Error(err))
	}

	s.logOperation(store.OpLoad, cell, bookRFID, "", store.ResultOK, start, "")
	s.logSystem("INFO", "load", "loaded: "+book.Title)

	updatedBook, _ := s.store.BookByRFID(bookRFID)
	if updatedBook == nil {
		updatedBook = book
	}
	updatedCell, _ := s.store.CellByID(cell.ID)
	if updatedCell == nil {
		updatedCell = cell
	}
	return LoadResult{
		Success: true,
		Book:    updatedBook,
		Cell:    updatedCell,
		Warning: warning,
		Message: "book loaded",
	}
}
