package domain

import "time"

// PositionRecord is the persisted lifecycle state of one open symbol+direction.
// The exchange is authoritative for size and entry price; the record holds the
// risk plan (ATR, stage flags, cascade counter) and the last observed size.
type PositionRecord struct {
	ID               int64
	Symbol           string
	Direction        Direction
	Quantity         float64 // current live size, synced from the exchange
	OriginalQuantity float64 // size basis for TP1 and remaining percent; grows on adds
	EntryPrice       float64
	ATR              float64 // 0 until backfilled
	TP1Hit           bool
	TP2Hit           bool
	TP2Count         int
	LastKnownSize    float64
	Status           PositionStatus
	CloseReason      CloseReason // empty while open
	OpenedAt         time.Time
	ClosedAt         time.Time // zero while open
	UpdatedAt        time.Time
}

// IsOpen checks if the position status is open.
func (p *PositionRecord) IsOpen() bool {
	return p.Status == StatusOpen
}

// Stage derives the take-profit stage from the flags.
func (p *PositionRecord) Stage() Stage {
	switch {
	case p.TP2Hit:
		return StageTP2Hit
	case p.TP1Hit:
		return StageTP1Hit
	default:
		return StageInitial
	}
}

// RemainingPercent is the current size as a percentage of the original size.
func (p *PositionRecord) RemainingPercent() float64 {
	if p.OriginalQuantity <= 0 {
		return 100
	}
	return p.Quantity / p.OriginalQuantity * 100
}

// Notional values the position at price.
func (p *PositionRecord) Notional(price float64) float64 {
	return p.Quantity * price
}
