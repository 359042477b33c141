package reconcile

import (
	"fmt"
	"math"
	"time"

	"perpKeeper/internal/domain"
)

// Transition is what a size observation means for a position record.
type Transition struct {
	Added float64 // size added since the last observation
	TP1   bool
	TP2   bool
}

// Any reports whether a stage or basis change was detected.
func (t Transition) Any() bool {
	return t.Added > 0 || t.TP1 || t.TP2
}

// NextTP2RemainingPercent is the remaining percent of the original quantity
// expected after the next TP2 fill: (100 - tp1 size) * (1 - tp2 size)^(k+1).
func NextTP2RemainingPercent(tp2Count int, p Params) float64 {
	base := 100 - p.TP1SizePercent
	return base * math.Pow(1-p.TP2SizePercent/100, float64(tp2Count+1))
}

// DetectTransition compares the observed size against the record.
func DetectTransition(rec *domain.PositionRecord, current float64, p Params) Transition {
	var tr Transition
	last := rec.LastKnownSize
	if last <= 0 {
		last = rec.Quantity
	}
	if last <= 0 || current <= 0 {
		return tr
	}

	switch {
	case current > last*(1+p.AddThreshold):
		tr.Added = current - last
	case current < last*(1-p.DecreaseThreshold):
		remaining := current / rec.OriginalQuantity * 100
		if !rec.TP1Hit {
			tr.TP1 = remaining <= p.TP1RemainingPercent
			return tr
		}
		// After an add the remaining percent is re-based, so a drop the size
		// of a full TP2 slice also counts.
		threshold := NextTP2RemainingPercent(rec.TP2Count, p) * (1 + p.CascadeTolerance)
		slice := last * (1 - p.TP2SizePercent/100*(1-p.CascadeTolerance))
		tr.TP2 = remaining <= threshold || current <= slice
	}
	return tr
}

// ApplyTransition mutates rec for the observed size and returns the tp
// events to persist with it. Stage flags and the cascade counter only move forward.
func ApplyTransition(rec *domain.PositionRecord, tr Transition, current float64, now time.Time) []*domain.TradeEvent {
	var events []*domain.TradeEvent
	rec.Quantity = current

	if tr.Added > 0 {
		rec.OriginalQuantity += tr.Added
	}
	if tr.TP1 {
		rec.TP1Hit = true
		events = append(events, &domain.TradeEvent{
			Symbol: rec.Symbol, Type: domain.EventTakeProfit, Direction: rec.Direction, Time: now,
			Details: fmt.Sprintf("TP1 filled: size %.8g -> %.8g (%.1f%% left)", rec.LastKnownSize, current, rec.RemainingPercent()),
		})
	}
	if tr.TP2 {
		rec.TP2Hit = true
		rec.TP2Count++
		events = append(events, &domain.TradeEvent{
			Symbol: rec.Symbol, Type: domain.EventTakeProfit, Direction: rec.Direction, Time: now,
			Details: fmt.Sprintf("TP2 #%d filled: size %.8g -> %.8g (%.1f%% left)", rec.TP2Count, rec.LastKnownSize, current, rec.RemainingPercent()),
		})
	}
	if rec.Quantity > rec.OriginalQuantity {
		rec.OriginalQuantity = rec.Quantity
	}
	rec.LastKnownSize = current
	return events
}
