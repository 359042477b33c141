package reconcile

import (
	"fmt"
	"math"

	"perpKeeper/internal/domain"
)

// Classify returns the protective role of a trigger order. The exchange
// order type wins when it carries one; otherwise an order covering at least
// slRatio of the position is a stop and anything smaller a take-profit.
func Classify(o *domain.ObservedOrder, positionSize, slRatio float64) domain.OrderKind {
	if o.Kind != "" {
		return o.Kind
	}
	if k, ok := domain.KindForType(o.Type); ok {
		return k
	}
	if positionSize > 0 && o.Size/positionSize >= slRatio {
		return domain.KindStopLoss
	}
	return domain.KindTakeProfit
}

// protectiveOrders splits the reduce-only trigger orders protecting
// (symbol, dir) into stops and take-profits.
func protectiveOrders(orders []domain.ObservedOrder, symbol string, dir domain.Direction, positionSize, slRatio float64) map[domain.OrderKind][]domain.ObservedOrder {
	out := make(map[domain.OrderKind][]domain.ObservedOrder, 2)
	for i := range orders {
		o := &orders[i]
		if o.Symbol != symbol || !o.IsTrigger || !o.ReduceOnly || o.Direction() != dir {
			continue
		}
		kind := Classify(o, positionSize, slRatio)
		out[kind] = append(out[kind], *o)
	}
	return out
}

// untargeted returns the orders to cancel for a kind that has no target.
// A stop is never removed outright: the largest one stays and only its
// duplicates go. Take-profits without a target are all stale.
func untargeted(kind domain.OrderKind, observed []domain.ObservedOrder) []domain.ObservedOrder {
	if kind != domain.KindStopLoss {
		return observed
	}
	if len(observed) < 2 {
		return nil
	}
	keep := 0
	for i := range observed {
		if observed[i].Size > observed[keep].Size {
			keep = i
		}
	}
	stale := make([]domain.ObservedOrder, 0, len(observed)-1)
	for i := range observed {
		if i != keep {
			stale = append(stale, observed[i])
		}
	}
	return stale
}

// Diff reports whether the observed orders of one kind must be rebuilt to
// match target, and why. A nil target is handled by untargeted instead.
func Diff(target *domain.TargetOrder, observed []domain.ObservedOrder, dir domain.Direction, meta domain.InstrumentMeta, mark float64, p Params) (bool, string) {
	if target == nil {
		return false, ""
	}
	switch len(observed) {
	case 0:
		return true, "missing"
	case 1:
	default:
		return true, fmt.Sprintf("%d duplicates", len(observed))
	}

	o := observed[0]
	if o.Side != dir.ExitSide() {
		return true, fmt.Sprintf("side %s does not close a %s", o.Side, dir)
	}

	sizeTol := math.Max(target.Size*p.SizeTolerance, meta.StepSize)
	if math.Abs(o.Size-target.Size) > sizeTol+1e-12 {
		return true, fmt.Sprintf("size %.8g, want %.8g", o.Size, target.Size)
	}

	if target.Clamped {
		if !safeSide(target.Kind, dir, o.TriggerPrice, mark) {
			return true, fmt.Sprintf("trigger %.8g on wrong side of market %.8g", o.TriggerPrice, mark)
		}
		return false, ""
	}
	priceTol := math.Max(target.TriggerPrice*p.PriceTolerance, meta.TickSize)
	if math.Abs(o.TriggerPrice-target.TriggerPrice) > priceTol+1e-12 {
		return true, fmt.Sprintf("trigger %.8g, want %.8g", o.TriggerPrice, target.TriggerPrice)
	}
	return false, ""
}
