package ports

import (
	"time"

	"perpKeeper/internal/domain"
)

// Metrics records operational counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	CycleCompleted(d time.Duration, err error)
	SignalReceived(source string, action domain.Action)
	EntryRefused(reason string)
	OrderPlaced(kind string, dir domain.Direction)
	OrderCancelled(kind string)
	StageTransition(symbol string, stage domain.Stage)
	PositionClosed(reason domain.CloseReason)
	SetBalance(balance float64)
	SetOpenPositions(n int)
	Flush() error
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) CycleCompleted(time.Duration, error) {}
func (NopMetrics) SignalReceived(string, domain.Action) {}
func (NopMetrics) EntryRefused(string) {}
func (NopMetrics) OrderPlaced(string, domain.Direction) {}
func (NopMetrics) OrderCancelled(string) {}
func (NopMetrics) StageTransition(string, domain.Stage) {}
func (NopMetrics) PositionClosed(domain.CloseReason) {}
func (NopMetrics) SetBalance(float64) {}
func (NopMetrics) SetOpenPositions(int) {}
func (NopMetrics) Flush() error { return nil }
