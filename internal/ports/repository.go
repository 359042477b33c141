package ports

import (
	"context"
	"time"

	"perpKeeper/internal/domain"
)

// PositionStore persists position lifecycle records.
type PositionStore interface {
	// GetOpen returns the open record for symbol and direction.
	// Returns nil, nil if none is open.
	GetOpen(ctx context.Context, symbol string, dir domain.Direction) (*domain.PositionRecord, error)
	// ListOpen returns every open record ordered by symbol.
	ListOpen(ctx context.Context) ([]*domain.PositionRecord, error)
	// ListClosed returns the most recently closed records, newest first.
	ListClosed(ctx context.Context, limit int) ([]*domain.PositionRecord, error)
	// Create saves a new open record and returns its assigned ID. A second open
	// record for the same symbol and direction fails with ErrDuplicateEntry.
	Create(ctx context.Context, rec *domain.PositionRecord) (int64, error)
	// Update overwrites a record and appends events in one transaction.
	Update(ctx context.Context, rec *domain.PositionRecord, events ...*domain.TradeEvent) error
	// CloseOpen closes the open record of (symbol, dir) with reason and
	// reports how many records it closed.
	CloseOpen(ctx context.Context, symbol string, dir domain.Direction, reason domain.CloseReason, at time.Time) (int64, error)
}

// EventStore is the append-only trade event log.
type EventStore interface {
	// AppendEvent stores an event and returns its ID.
	AppendEvent(ctx context.Context, ev *domain.TradeEvent) (int64, error)
	// LatestEvent returns the newest event of type for symbol at or after since.
	// An empty dir matches both directions. Returns nil, nil if none.
	LatestEvent(ctx context.Context, symbol string, dir domain.Direction, typ domain.EventType, since time.Time) (*domain.TradeEvent, error)
	// CountEvents counts events of type for symbol at or after since.
	// An empty dir matches both directions.
	CountEvents(ctx context.Context, symbol string, dir domain.Direction, typ domain.EventType, since time.Time) (int, error)
	// DeleteEvents removes every event of type for symbol.
	DeleteEvents(ctx context.Context, symbol string, typ domain.EventType) (int64, error)
}
