// Package service implements the five library transactions - authenticate,
// issue, return, load and extract/inventory - by composing the motion
// controller, the local store and the remote library client. The physical
// cabinet is one exclusive resource: a second transaction is refused while
// one is running, including the waiting-for-user window.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/irbis"
	"bookcabinet/pkg/motion"
	"bookcabinet/pkg/store"
)

// ErrCabinetBusy is returned when a transaction is already running.
var ErrCabinetBusy = errors.New("service: cabinet busy")

// BookScanner reads tags inside the cabinet during inventory. May be nil
// when the book reader is absent.
type BookScanner interface {
	Scan(rounds int) ([]string, error)
}

// Notifier delivers outward notifications (e.g. Telegram). May be nil.
type Notifier interface {
	Notify(event, message string)
}

// Services bundles the transaction workflows and the patron session.
type Services struct {
	store    *store.Store
	motion   *motion.Controller
	library  *irbis.Service
	bus      *bus.Bus
	log      *zap.Logger
	scanner  BookScanner
	notifier Notifier

	loanDays int

	cabinet sync.Mutex

	sessionMu   sync.Mutex
	currentUser *store.User
}

// Config wires the dependencies.
type Config struct {
	Store    *store.Store
	Motion   *motion.Controller
	Library  *irbis.Service
	Bus      *bus.Bus
	Log      *zap.Logger
	Scanner  BookScanner
	Notifier Notifier
	LoanDays int
}

// New builds the transaction layer.
func New(cfg Config) *Services {
	if cfg.LoanDays <= 0 {
		cfg.LoanDays = 30
	}
	return &Services{
		store:    cfg.Store,
		motion:   cfg.Motion,
		library:  cfg.Library,
		bus:      cfg.Bus,
		log:      cfg.Log,
		scanner:  cfg.Scanner,
		notifier: cfg.Notifier,
		loanDays: cfg.LoanDays,
	}
}

// acquire claims the cabinet for one transaction.
func (s *Services) acquire() error {
	if !s.cabinet.TryLock() {
		return ErrCabinetBusy
	}
	return nil
}

func (s *Services) release() {
	s.cabinet.Unlock()
}

// CurrentUser returns the authenticated session user, if any.
func (s *Services) CurrentUser() *store.User {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.currentUser
}

// Logout clears the patron session.
func (s *Services) Logout() {
	s.sessionMu.Lock()
	s.currentUser = nil
	s.sessionMu.Unlock()
}

func (s *Services) setCurrentUser(u *store.User) {
	s.sessionMu.Lock()
	s.currentUser = u
	s.sessionMu.Unlock()
}

// CheckPermission reports whether the user's role allows the action.
func (s *Services) CheckPermission(user *store.User, action string) bool {
	if user == nil {
		return false
	}
	return store.HasPermission(user.Role, action)
}

func (s *Services) notify(event, message string) {
	if s.notifier != nil {
		s.notifier.Notify(event, message)
	}
}

// logOperation appends the operation record and swallows store errors so a
// logging hiccup never fails a finished transaction.
func (s *Services) logOperation(kind store.OperationKind, cell *store.Cell, bookRFID, userRFID string, result store.OperationResult, start time.Time, details string) {
	op := store.Operation{
		Operation:  kind,
		Result:     result,
		DurationMS: int(time.Since(start).Milliseconds()),
	}
	if cell != nil {
		row := cell.Row
		x, y := cell.X, cell.Y
		op.CellRow, op.CellX, op.CellY = &row, &x, &y
	}
	if bookRFID != "" {
		op.BookRFID = &bookRFID
	}
	if userRFID != "" {
		op.UserRFID = &userRFID
	}
	if details != "" {
		op.Details = &details
	}
	if err := s.store.LogOperation(op); err != nil {
		s.log.Warn("operation log write failed", zap.Error(err))
	}
}

func (s *Services) logSystem(level, component, message string) {
	if err := s.store.LogSystem(level, component, message); err != nil {
		s.log.Warn("system log write failed", zap.Error(err))
	}
}

// remoteCtx bounds one remote-library call; the client's own socket
// timeouts elevate failures to return code -3.
func remoteCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 45*time.Second)
}
