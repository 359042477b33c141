package risk

import (
	"context"
	"fmt"

	"perpKeeper/internal/domain"
)

// FlipStatus reports progress towards flipping a position.
type FlipStatus struct {
	Count    int // opposite signals in the window, including this one
	Required int
	Ready    bool
}

// RegisterOppositeSignal records a signal for desired on symbol while the
// opposite direction is open, and reports whether enough have accumulated
// inside the flip window.
func (r *RiskManager) RegisterOppositeSignal(ctx context.Context, symbol string, desired domain.Direction) (FlipStatus, error) {
	now := r.now()
	prior, err := r.events.CountEvents(ctx, symbol, desired, domain.EventOppositeSignal, now.Add(-r.config.FlipWindow))
	if err != nil {
		return FlipStatus{}, fmt.Errorf("failed to count opposite signals for %s: %w", symbol, err)
	}

	ev := &domain.TradeEvent{
		Symbol:    symbol,
		Type:      domain.EventOppositeSignal,
		Direction: desired,
		Time:      now,
		Details:   fmt.Sprintf("signal %d/%d to flip to %s", prior+1, r.config.FlipSignalsRequired, desired),
	}
	if _, err := r.events.AppendEvent(ctx, ev); err != nil {
		return FlipStatus{}, fmt.Errorf("failed to record opposite signal for %s: %w", symbol, err)
	}

	status := FlipStatus{Count: prior + 1, Required: r.config.FlipSignalsRequired}
	status.Ready = status.Count >= status.Required
	r.logger.Info(ctx, "Opposite signal recorded", map[string]interface{}{
		"symbol": symbol, "desired": desired, "count": status.Count, "required": status.Required,
	})
	return status, nil
}

// ResetOppositeSignals clears the accumulated signals after a flip.
func (r *RiskManager) ResetOppositeSignals(ctx context.Context, symbol string) error {
	if _, err := r.events.DeleteEvents(ctx, symbol, domain.EventOppositeSignal); err != nil {
		return fmt.Errorf("failed to reset opposite signals for %s: %w", symbol, err)
	}
	return nil
}
