package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"perpKeeper/internal/domain"
)

// CooldownResult tells whether a gate is open and, if not, for how long it stays shut.
type CooldownResult struct {
	Allowed          bool
	RemainingMinutes int
	Reason           string
}

// CanAddToPosition refuses to grow a position in symbol within the
// add-after-TP window of any tp event for that symbol.
func (r *RiskManager) CanAddToPosition(ctx context.Context, symbol string) (CooldownResult, error) {
	if !r.config.AddAfterTPEnabled {
		return CooldownResult{Allowed: true}, nil
	}
	return r.checkCooldown(ctx, symbol, "", domain.EventTakeProfit, r.config.AddAfterTPCooldown, "add after take-profit")
}

// CanOpenPosition refuses a new position in symbol and dir within the
// reopen-after-SL window of an sl event for the same symbol and direction.
func (r *RiskManager) CanOpenPosition(ctx context.Context, symbol string, dir domain.Direction) (CooldownResult, error) {
	if !r.config.ReopenAfterSLEnabled {
		return CooldownResult{Allowed: true}, nil
	}
	return r.checkCooldown(ctx, symbol, dir, domain.EventStopLoss, r.config.ReopenAfterSLCooldown, "reopen "+string(dir)+" after stop-loss")
}

func (r *RiskManager) checkCooldown(ctx context.Context, symbol string, dir domain.Direction, typ domain.EventType, window time.Duration, what string) (CooldownResult, error) {
	now := r.now()
	ev, err := r.events.LatestEvent(ctx, symbol, dir, typ, now.Add(-window))
	if err != nil {
		return CooldownResult{}, fmt.Errorf("failed to check %s cooldown for %s: %w", what, symbol, err)
	}
	if ev == nil {
		return CooldownResult{Allowed: true}, nil
	}

	elapsed := int(math.Floor(now.Sub(ev.Time).Minutes()))
	remaining := int(window.Minutes()) - elapsed
	if remaining < 1 {
		remaining = 1
	}
	return CooldownResult{
		RemainingMinutes: remaining,
		Reason:           fmt.Sprintf("cooldown: %s for %s, %d min left", what, symbol, remaining),
	}, nil
}
