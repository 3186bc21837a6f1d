package service

import (
	"context"

	"go.uber.org/zap"

	"bookcabinet/pkg/bus"
	"bookcabinet/pkg/rfid"
	"bookcabinet/pkg/store"
)

// ReservedBook is one entry of the merged local+remote reservation list.
type ReservedBook struct {
	RFID   string      `json:"rfid"`
	Title  string      `json:"title"`
	Cell   *store.Cell `json:"cell,omitempty"`
	Remote bool        `json:"remote"`
}

// AuthResult is the authenticate payload.
type AuthResult struct {
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	User            *store.User    `json:"user,omitempty"`
	ReservedBooks   []ReservedBook `json:"reservedBooks"`
	NeedsExtraction int            `json:"needsExtraction"`
}

// Authenticate resolves a card tap: local user first, then the library
// server; unknown cards fail. On success the session user is set and the
// reservation snapshot (local plus remote, unioned by RFID) is returned.
func (s *Services) Authenticate(ctx context.Context, cardRFID string) AuthResult {
	user, err := s.store.UserByRFID(cardRFID)
	if err != nil && err != store.ErrNotFound {
		s.log.Error("auth store lookup failed", zap.Error(err))
	}

	if user == nil && s.library != nil {
		rctx, cancel := remoteCtx(ctx)
		info, err := s.library.GetUser(rctx, cardRFID)
		cancel()
		if err != nil {
			s.log.Warn("auth remote lookup failed", zap.Error(err))
		}
		if info != nil {
			user = &store.User{
				RFID:     cardRFID,
				Name:     info.Name,
				Role:     store.UserRole(info.Role),
				CardType: "library",
				Active:   true,
			}
		}
	}

	if user == nil {
		s.logSystem("WARNING", "auth", "unknown card: "+cardRFID)
		s.bus.Publish(bus.AuthResult{Success: false, Err: "unknown card"})
		return AuthResult{Success: false, Error: "unknown card"}
	}

	reserved := s.reservationSnapshot(ctx, cardRFID)

	needsExtraction := 0
	if store.AtLeastLibrarian(user.Role) {
		if cells, err := s.store.CellsNeedingExtraction(); err == nil {
			needsExtraction = len(cells)
		}
	}

	s.setCurrentUser(user)
	s.logSystem("INFO", "auth", "authenticated: "+user.Name+" ("+string(user.Role)+")")
	s.bus.Publish(bus.AuthResult{Success: true, Name: user.Name, Role: string(user.Role)})

	return AuthResult{
		Success:         true,
		User:            user,
		ReservedBooks:   reserved,
		NeedsExtraction: needsExtraction,
	}
}

// reservationSnapshot unions local reservations with the remote list,
// keyed by normalized RFID.
func (s *Services) reservationSnapshot(ctx context.Context, cardRFID string) []ReservedBook {
	reserved := []ReservedBook{}
	seen := make(map[string]struct{})

	local, err := s.store.UserReservations(cardRFID)
	if err != nil {
		s.log.Warn("reservation lookup failed", zap.Error(err))
	}
	for _, book := range local {
		entry := ReservedBook{RFID: book.RFID, Title: book.Title}
		if book.CellID != nil {
			if cell, err := s.store.CellByID(*book.CellID); err == nil {
				entry.Cell = cell
			}
		}
		reserved = append(reserved, entry)
		seen[rfid.NormalizeUID(book.RFID)] = struct{}{}
	}

	if s.library != nil {
		rctx, cancel := remoteCtx(ctx)
		remote, err := s.library.GetReservations(rctx, cardRFID)
		cancel()
		if err != nil {
			s.log.Warn("remote reservation lookup failed", zap.Error(err))
		}
		for _, r := range remote {
			if _, ok := seen[rfid.NormalizeUID(r.RFID)]; ok {
				continue
			}
			reserved = append(reserved, ReservedBook{RFID: r.RFID, Title: r.Title, Remote: true})
		}
	}
	return reserved
}
