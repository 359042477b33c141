package reconcile

import (
	"context"
	"fmt"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"
)

// syncClosed closes every open record whose position is gone from the
// exchange and cancels protective orders left behind on flat positions.
func (e *Engine) syncClosed(ctx context.Context, positions []ports.ExchangePosition, orders []domain.ObservedOrder, report *Report) error {
	live := make(map[string]bool, len(positions))
	for _, p := range positions {
		live[positionKey(p.Symbol, p.Direction)] = true
	}

	records, err := e.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open records: %w", err)
	}

	for _, rec := range records {
		key := positionKey(rec.Symbol, rec.Direction)
		if live[key] {
			continue
		}
		if err := e.closeRecord(ctx, rec, orders, report); err != nil {
			report.Failures[key] = err
			e.logger.Error(ctx, err, "Failed to close record", map[string]interface{}{
				"symbol": rec.Symbol, "direction": rec.Direction,
			})
		}
	}

	e.cancelOrphans(ctx, live, orders, report)
	return nil
}

func (e *Engine) closeRecord(ctx context.Context, rec *domain.PositionRecord, orders []domain.ObservedOrder, report *Report) error {
	now := e.now()
	key := positionKey(rec.Symbol, rec.Direction)
	reason, err := e.inferCloseReason(ctx, rec, orders)
	if err != nil {
		return err
	}

	var events []*domain.TradeEvent
	if reason == domain.CloseReasonStopLoss {
		recent, err := e.events.LatestEvent(ctx, rec.Symbol, rec.Direction, domain.EventStopLoss, now.Add(-e.params.CloseEventWindow))
		if err != nil {
			return fmt.Errorf("failed to read recent sl events: %w", err)
		}
		if recent == nil {
			events = append(events, &domain.TradeEvent{
				Symbol: rec.Symbol, Type: domain.EventStopLoss, Direction: rec.Direction, Time: now,
				Details: fmt.Sprintf("stop-loss close at size %.8g", rec.LastKnownSize),
			})
		}
	}

	rec.Status = domain.StatusClosed
	rec.CloseReason = reason
	rec.ClosedAt = now
	rec.Quantity = 0
	if err := e.positions.Update(ctx, rec, events...); err != nil {
		return fmt.Errorf("failed to close record: %w", err)
	}

	e.forgetProtection(key)
	e.metrics.PositionClosed(reason)
	report.Closed = append(report.Closed, ClosedPosition{Symbol: rec.Symbol, Direction: rec.Direction, Reason: reason})
	e.logger.Info(ctx, "Position closed on exchange", map[string]interface{}{
		"symbol": rec.Symbol, "direction": rec.Direction, "reason": reason,
		"stage": rec.Stage(), "tp2Count": rec.TP2Count,
	})
	return nil
}

// inferCloseReason decides why a position disappeared. In order:
// a stop still resting on the exchange means sl; a take-profit fill in the
// recent window means tp; a stop seen on the previous pass that vanished
// with the position means sl; a position past TP1 means tp; anything else
// was closed by hand.
func (e *Engine) inferCloseReason(ctx context.Context, rec *domain.PositionRecord, orders []domain.ObservedOrder) (domain.CloseReason, error) {
	size := rec.LastKnownSize
	if size <= 0 {
		size = rec.Quantity
	}
	if len(protectiveOrders(orders, rec.Symbol, rec.Direction, size, e.params.SLClassifyRatio)[domain.KindStopLoss]) > 0 {
		return domain.CloseReasonStopLoss, nil
	}

	since := e.now().Add(-e.params.CloseEventWindow)
	tp, err := e.events.LatestEvent(ctx, rec.Symbol, rec.Direction, domain.EventTakeProfit, since)
	if err != nil {
		return "", fmt.Errorf("failed to read recent tp events: %w", err)
	}
	switch {
	case tp != nil:
		return domain.CloseReasonTakeProfit, nil
	case e.wasProtected(positionKey(rec.Symbol, rec.Direction)):
		return domain.CloseReasonStopLoss, nil
	case rec.TP1Hit:
		return domain.CloseReasonTakeProfit, nil
	}
	return domain.CloseReasonManual, nil
}

// cancelOrphans cancels reduce-only and trigger orders protecting a
// position that no longer exists. Failures are retried next pass.
func (e *Engine) cancelOrphans(ctx context.Context, live map[string]bool, orders []domain.ObservedOrder, report *Report) {
	for i := range orders {
		o := &orders[i]
		if !o.IsTrigger && !o.ReduceOnly {
			continue
		}
		if live[positionKey(o.Symbol, o.Direction())] {
			continue
		}
		kind := Classify(o, 0, e.params.SLClassifyRatio)
		if err := e.gateway.CancelOrder(ctx, o.Symbol, o.OrderID); err != nil {
			e.logger.Warn(ctx, "Failed to cancel orphan order", map[string]interface{}{
				"symbol": o.Symbol, "orderID": o.OrderID, "error": err.Error(),
			})
			continue
		}
		report.Cancelled++
		e.metrics.OrderCancelled(string(kind))
		e.logger.Info(ctx, "Cancelled orphan order", map[string]interface{}{
			"symbol": o.Symbol, "orderID": o.OrderID, "type": o.Type, "side": o.Side,
		})
	}
}

func (e *Engine) markProtection(key string, hasStop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.protected[key] = hasStop
}

func (e *Engine) wasProtected(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protected[key]
}

func (e *Engine) forgetProtection(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.protected, key)
}
