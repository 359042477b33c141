package risk

import (
	"context"
	"fmt"
	"math"

	"perpKeeper/internal/domain"
)

// Refusal reasons returned in SizingResult.Reason.
const (
	ReasonNoBalance     = "balance is zero or unavailable"
	ReasonNoPrice       = "no tradable price available"
	ReasonExposureLimit = "exposure limit reached"
	ReasonNoHeadroom    = "no headroom left under exposure limit"
	ReasonBelowMinimum  = "quantity below instrument minimum"
)

// SizingInput collects everything sizing depends on.
type SizingInput struct {
	Symbol          string
	Balance         float64 // B
	AvailableMargin float64
	Exposure        float64 // E: value of open positions in Symbol, both directions
	MidPrice        float64
	Meta            domain.InstrumentMeta
}

// SizingResult is either a positive quantity or a refusal reason.
type SizingResult struct {
	Quantity   float64
	OrderValue float64
	MaxValue   float64
	Available  float64
	Reason     string
}

// Refused reports whether sizing produced no order.
func (s SizingResult) Refused() bool {
	return s.Quantity <= 0
}

// GetPositionSize calculates the order quantity for a new entry or add.
func (r *RiskManager) GetPositionSize(ctx context.Context, in SizingInput) SizingResult {
	if in.Balance <= 0 {
		return SizingResult{Reason: ReasonNoBalance}
	}
	if in.MidPrice <= 0 || math.IsNaN(in.MidPrice) {
		return SizingResult{Reason: ReasonNoPrice}
	}

	res := SizingResult{MaxValue: in.Balance * r.config.MaxTotalPositionPercent / 100}
	if in.Exposure >= res.MaxValue {
		res.Reason = fmt.Sprintf("%s: exposure %.2f >= max %.2f", ReasonExposureLimit, in.Exposure, res.MaxValue)
		return res
	}

	res.Available = res.MaxValue - in.Exposure
	if res.Available <= 0 {
		res.Reason = ReasonNoHeadroom
		return res
	}

	res.OrderValue = math.Min(res.Available, in.Balance*r.config.PositionSizePercent/100)
	res.OrderValue = math.Min(res.OrderValue, in.AvailableMargin)
	if res.OrderValue <= 0 {
		res.Reason = ReasonNoHeadroom
		return res
	}

	qty := in.Meta.FloorSize(res.OrderValue / in.MidPrice)
	if qty <= 0 || qty < in.Meta.MinQty {
		res.Reason = fmt.Sprintf("%s: %.8f < %.8f", ReasonBelowMinimum, qty, in.Meta.MinQty)
		return res
	}
	res.Quantity = qty

	r.logger.Debug(ctx, "Position size calculated", map[string]interface{}{
		"symbol": in.Symbol, "balance": in.Balance, "exposure": in.Exposure,
		"maxValue": res.MaxValue, "orderValue": res.OrderValue, "quantity": qty,
	})
	return res
}

// Exposure sums the value of open records for symbol at price, across both directions.
func Exposure(records []*domain.PositionRecord, symbol string, price float64) float64 {
	total := 0.0
	for _, rec := range records {
		if rec.Symbol == symbol && rec.IsOpen() {
			total += rec.Notional(price)
		}
	}
	return total
}
