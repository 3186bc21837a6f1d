package irbis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookcabinet/pkg/config"
	"bookcabinet/pkg/rfid"
)

// Index patterns per record class. Catalogues predate a single indexing
// convention, so each class is searched across several prefixes and UID
// variants; the first pattern that answers is cached for its class.
var (
	readerPatterns = []string{"RI=", "EKP="}
	bookPatterns   = []string{"H=", "HI=", "RF=", "RFID="}
	holderPatterns = []string{"HIN="}
)

// Service errors.
var (
	ErrReaderNotFound   = errors.New("irbis: reader not found")
	ErrBookNotFound     = errors.New("irbis: book not found")
	ErrExemplarNotFound = errors.New("irbis: exemplar not found")
	ErrAlreadyIssued    = errors.New("irbis: exemplar already issued")
	ErrNotOnLoan        = errors.New("irbis: book not on loan")
)

// UserInfo is the reader view the transaction layer consumes.
type UserInfo struct {
	RFID string `json:"rfid"`
	Name string `json:"name"`
	Role string `json:"role"`
	MFN  int    `json:"mfn"`
}

// BookInfo is the catalogue view the transaction layer consumes.
type BookInfo struct {
	RFID   string `json:"rfid"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Status string `json:"status"` // "available", "issued" or the raw exemplar status
	MFN    int    `json:"mfn"`
}

// Reservation is one book held for or by a patron on the remote side.
type Reservation struct {
	RFID    string `json:"rfid"`
	Title   string `json:"title"`
	DueDate string `json:"due_date"`
}

// Service composes the connector into the library workflows.
type Service struct {
	conn Connector
	cfg  config.IrbisConfig
	log  *zap.Logger

	cacheMu      sync.Mutex
	patternCache map[string]string
}

// NewService builds the workflow layer over a connector.
func NewService(conn Connector, cfg config.IrbisConfig, log *zap.Logger) *Service {
	return &Service{
		conn:         conn,
		cfg:          cfg,
		log:          log,
		patternCache: make(map[string]string),
	}
}

// Connect registers on the server.
func (s *Service) Connect(ctx context.Context) error { return s.conn.Connect(ctx) }

// Disconnect unregisters.
func (s *Service) Disconnect(ctx context.Context) error { return s.conn.Disconnect(ctx) }

// Connected reports the connector state.
func (s *Service) Connected() bool { return s.conn.Connected() }

// searchByUID runs the pattern × variant search for one record class,
// short-circuiting on the first non-empty response and caching the winning
// pattern. A nil record with nil error means "not found".
func (s *Service) searchByUID(ctx context.Context, database, class string, patterns []string, uid string) (*Record, error) {
	s.cacheMu.Lock()
	cached, hasCached := s.patternCache[class]
	s.cacheMu.Unlock()

	ordered := patterns
	if hasCached {
		ordered = append([]string{cached}, patterns...)
	}

	variants := rfid.UIDVariants(uid)
	tried := make(map[string]struct{})
	for _, pattern := range ordered {
		if _, done := tried[pattern]; done {
			continue
		}
		tried[pattern] = struct{}{}

		for _, variant := range variants {
			mfns, err := s.conn.Search(ctx, database, pattern+variant)
			if err != nil {
				return nil, err
			}
			if len(mfns) == 0 {
				continue
			}
			s.cacheMu.Lock()
			s.patternCache[class] = pattern
			s.cacheMu.Unlock()
			rec, err := s.conn.ReadRecord(ctx, database, mfns[0])
			if err != nil {
				return nil, err
			}
			return rec, nil
		}
	}
	return nil, nil
}

// roleFromCategory maps the reader category (field 50) to a cabinet role.
func roleFromCategory(category string) string {
	c := strings.ToLower(category)
	switch {
	case strings.Contains(c, "administrator"), strings.Contains(c, "админ"):
		return "admin"
	case strings.Contains(c, "librarian"), strings.Contains(c, "библиотек"), strings.Contains(c, "сотрудник"):
		return "librarian"
	default:
		return "reader"
	}
}

// GetUser looks up a reader by card UID; nil means unknown card.
func (s *Service) GetUser(ctx context.Context, cardUID string) (*UserInfo, error) {
	rec, err := s.searchByUID(ctx, s.cfg.ReadersDatabase, "reader", readerPatterns, cardUID)
	if err != nil || rec == nil {
		return nil, err
	}
	name := ReaderName(rec)
	if name == "" {
		name = "Reader"
	}
	return &UserInfo{
		RFID: rfid.NormalizeUID(cardUID),
		Name: name,
		Role: roleFromCategory(rec.FieldValue(FieldCategory)),
		MFN:  rec.MFN,
	}, nil
}

// GetBook looks up a catalogue record by exemplar RFID; nil means unknown.
func (s *Service) GetBook(ctx context.Context, bookRFID string) (*BookInfo, error) {
	rec, err := s.searchByUID(ctx, s.cfg.Database, "book", bookPatterns, bookRFID)
	if err != nil || rec == nil {
		return nil, err
	}

	status := ExemplarAvailable
	if ex := FindExemplar(rec, bookRFID); ex != nil {
		status = ex.Status
	}
	display := "available"
	switch status {
	case ExemplarAvailable, "":
		display = "available"
	case ExemplarIssued:
		display = "issued"
	default:
		display = status
	}

	author := ""
	if a := rec.FieldValue(FieldAuthor); a != "" {
		author = strings.TrimSpace(SubfieldValue(a, 'a') + " " + SubfieldValue(a, 'b'))
	}
	return &BookInfo{
		RFID:   rfid.NormalizeUID(bookRFID),
		Title:  BookBrief(rec),
		Author: author,
		Status: display,
		MFN:    rec.MFN,
	}, nil
}

// GetReservations returns the open loans of a patron, which the cabinet
// presents as the remotely held book set.
func (s *Service) GetReservations(ctx context.Context, cardUID string) ([]Reservation, error) {
	rec, err := s.searchByUID(ctx, s.cfg.ReadersDatabase, "reader", readerPatterns, cardUID)
	if err != nil || rec == nil {
		return nil, err
	}
	var out []Reservation
	for _, loan := range ActiveLoans(rec) {
		out = append(out, Reservation{
			RFID:    rfid.NormalizeUID(loan.RFID),
			Title:   loan.Title,
			DueDate: loan.DueDate,
		})
	}
	return out, nil
}

// IssueBook records a loan: a new 40 entry on the reader record and the
// exemplar status flipped to issued. A failure after the reader write is
// logged as a warning rather than rolled back; the local store stays the
// source of truth for the physical state.
func (s *Service) IssueBook(ctx context.Context, bookRFID, cardUID string) (string, error) {
	reader, err := s.searchByUID(ctx, s.cfg.ReadersDatabase, "reader", readerPatterns, cardUID)
	if err != nil {
		return "", err
	}
	if reader == nil {
		return "", ErrReaderNotFound
	}

	book, err := s.searchByUID(ctx, s.cfg.Database, "book", bookPatterns, bookRFID)
	if err != nil {
		return "", err
	}
	if book == nil {
		return "", ErrBookNotFound
	}

	normalized := rfid.NormalizeUID(bookRFID)
	exemplar := FindExemplar(book, normalized)
	if exemplar == nil {
		return "", ErrExemplarNotFound
	}
	if exemplar.Status != ExemplarAvailable && exemplar.Status != "" {
		return "", ErrAlreadyIssued
	}

	now := time.Now()
	title := BookBrief(book)
	if len(title) > 100 {
		title = title[:100]
	}
	loan := Loan{
		Shelfmark:     book.FieldValue(FieldShelfmark),
		Inventory:     exemplar.Inventory,
		Title:         title,
		IssueDate:     now.Format("20060102"),
		DueDate:       now.AddDate(0, 0, s.cfg.LoanDays).Format("20060102"),
		ReturnDate:    OpenLoanPlaceholder,
		Database:      s.cfg.Database,
		RFID:          normalized,
		Operator:      s.cfg.Username,
		Location:      exemplar.Location,
		IssueLocation: s.cfg.LocationCode,
		GUID:          strings.ReplaceAll(uuid.New().String(), "-", ""),
		IssueTime:     now.Format("150405"),
	}
	reader.AddField(FieldLoans, loan.Format())

	if err := s.conn.WriteRecord(ctx, s.cfg.ReadersDatabase, reader); err != nil {
		return "", fmt.Errorf("irbis: write reader record: %w", err)
	}

	book.SetField(FieldExemplars, exemplar.Index, SetSubfieldValue(exemplar.Raw, 'a', ExemplarIssued))
	if err := s.conn.WriteRecord(ctx, s.cfg.Database, book); err != nil {
		// The loan is already on the reader record; tolerate the skew.
		s.log.Warn("issue compensation: book record write failed after reader write",
			zap.String("rfid", normalized), zap.Error(err))
	}

	return "issued: " + title, nil
}

// ReturnBook closes the loan: finds the reader holding the book, fills in
// the return date/time/location on the loan entry, and flips the exemplar
// back to available. Returning a book whose exemplar is already available
// reports idempotent success.
func (s *Service) ReturnBook(ctx context.Context, bookRFID string) (string, error) {
	normalized := rfid.NormalizeUID(bookRFID)

	holder, err := s.searchByUID(ctx, s.cfg.ReadersDatabase, "holder", holderPatterns, bookRFID)
	if err != nil {
		return "", err
	}
	if holder == nil {
		book, err := s.searchByUID(ctx, s.cfg.Database, "book", bookPatterns, bookRFID)
		if err != nil {
			return "", err
		}
		if book != nil {
			if ex := FindExemplar(book, normalized); ex != nil && ex.Status == ExemplarAvailable {
				return "already returned", nil
			}
		}
		return "", ErrNotOnLoan
	}

	idx := FindOpenLoanIndex(holder, bookRFID)
	if idx < 0 {
		return "", ErrNotOnLoan
	}

	now := time.Now()
	value := holder.FieldValues(FieldLoans)[idx]
	value = DeleteSubfield(value, 'c') // the closed entry drops the title copy
	value = SetSubfieldValue(value, 'f', now.Format("20060102"))
	value = SetSubfieldValue(value, '2', now.Format("150405"))
	value = SetSubfieldValue(value, 'r', s.cfg.LocationCode)
	value = SetSubfieldValue(value, 'i', s.cfg.Username)
	holder.SetField(FieldLoans, idx, value)

	if err := s.conn.WriteRecord(ctx, s.cfg.ReadersDatabase, holder); err != nil {
		return "", fmt.Errorf("irbis: write reader record: %w", err)
	}

	book, err := s.searchByUID(ctx, s.cfg.Database, "book", bookPatterns, bookRFID)
	if err == nil && book != nil {
		if ex := FindExemplar(book, normalized); ex != nil {
			book.SetField(FieldExemplars, ex.Index, SetSubfieldValue(ex.Raw, 'a', ExemplarAvailable))
			err = s.conn.WriteRecord(ctx, s.cfg.Database, book)
		}
	}
	if err != nil {
		s.log.Warn("return compensation: book record update failed after reader write",
			zap.String("rfid", normalized), zap.Error(err))
	}

	return "returned", nil
}
