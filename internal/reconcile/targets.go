package reconcile

import (
	"math"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/risk"
)

// ComputeTargets derives the intended SL and TP from the record alone.
// The stop is omitted while the record has no ATR and TP1 has not filled.
func ComputeTargets(rec *domain.PositionRecord, p Params) domain.TargetOrderSet {
	var set domain.TargetOrderSet
	sign := rec.Direction.Sign()
	current := rec.Quantity
	if current <= 0 || rec.EntryPrice <= 0 {
		return set
	}

	if !rec.TP1Hit {
		if rec.ATR > 0 {
			set.StopLoss = &domain.TargetOrder{
				Kind:         domain.KindStopLoss,
				TriggerPrice: risk.StopLossPrice(rec.EntryPrice, rec.ATR, p.ATRMultiplier, rec.Direction),
				Size:         current,
			}
		}
		set.TakeProfit = &domain.TargetOrder{
			Kind:         domain.KindTakeProfit,
			TriggerPrice: rec.EntryPrice * (1 + sign*p.TP1Percent/100),
			Size:         math.Min(rec.OriginalQuantity*p.TP1SizePercent/100, current),
		}
		return set
	}

	set.StopLoss = &domain.TargetOrder{
		Kind:         domain.KindStopLoss,
		TriggerPrice: rec.EntryPrice,
		Size:         current,
	}
	if rec.RemainingPercent() <= p.MinRemainingPercent {
		return set
	}
	size := current * p.TP2SizePercent / 100
	if size < p.DustSize {
		return set
	}
	offset := p.TP1Percent + p.TP2Percent*float64(rec.TP2Count+1)
	set.TakeProfit = &domain.TargetOrder{
		Kind:         domain.KindTakeProfit,
		TriggerPrice: rec.EntryPrice * (1 + sign*offset/100),
		Size:         size,
	}
	return set
}

// Correction records a trigger moved off the wrong side of the market.
type Correction struct {
	Kind     domain.OrderKind
	Computed float64
	Clamped  float64
}

// FinalizeTargets rounds targets to the instrument's increments and clamps
// triggers that would fire immediately at mark. Targets that round to
// nothing are dropped.
func FinalizeTargets(set domain.TargetOrderSet, dir domain.Direction, meta domain.InstrumentMeta, mark float64, p Params) (domain.TargetOrderSet, []Correction) {
	var out domain.TargetOrderSet
	var corrections []Correction
	for _, t := range []*domain.TargetOrder{set.StopLoss, set.TakeProfit} {
		if t == nil {
			continue
		}
		ft := *t
		ft.Size = meta.FloorSize(t.Size)
		if ft.Size <= 0 || ft.Size < meta.MinQty {
			continue
		}
		ft.TriggerPrice = meta.RoundPrice(t.TriggerPrice)
		if mark > 0 && !safeSide(ft.Kind, dir, ft.TriggerPrice, mark) {
			clamped := clampPrice(ft.Kind, dir, mark, p.ClampOffsetPercent)
			corrections = append(corrections, Correction{Kind: ft.Kind, Computed: ft.TriggerPrice, Clamped: clamped})
			ft.TriggerPrice = meta.RoundPrice(clamped)
			ft.Clamped = true
		}
		if ft.Kind == domain.KindStopLoss {
			out.StopLoss = &ft
		} else {
			out.TakeProfit = &ft
		}
	}
	return out, corrections
}

// safeSide reports whether a trigger at price rests on the side of mark
// from which it can only fire on a future move: below for a long stop or a
// short take-profit, above otherwise.
func safeSide(kind domain.OrderKind, dir domain.Direction, price, mark float64) bool {
	below := (kind == domain.KindStopLoss) == (dir == domain.Long)
	if below {
		return price < mark
	}
	return price > mark
}

func clampPrice(kind domain.OrderKind, dir domain.Direction, mark, offsetPercent float64) float64 {
	below := (kind == domain.KindStopLoss) == (dir == domain.Long)
	if below {
		return mark * (1 - offsetPercent/100)
	}
	return mark * (1 + offsetPercent/100)
}
