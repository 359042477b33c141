package indicators

import (
	"context"
	"fmt"

	"perpKeeper/internal/domain"
)

// WilliamsR implements Williams %R, ranging from -100 to 0.
type WilliamsR struct {
	BaseIndicator
}

// NewWilliamsR creates a Williams %R indicator.
func NewWilliamsR(config IndicatorConfig) *WilliamsR {
	return &WilliamsR{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (w *WilliamsR) Name() string {
	return "WillR"
}

// Calculate computes %R over the last period klines. A flat range reads 0.
func (w *WilliamsR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := w.Config.Period
	if period <= 0 || len(klines) < period {
		return 0, fmt.Errorf("%w (%d) to calculate WillR for period %d", ErrNotEnoughData, len(klines), period)
	}
	window := klines[len(klines)-period:]
	hh, ll := window[0].High, window[0].Low
	for _, k := range window[1:] {
		hh = max(hh, k.High)
		ll = min(ll, k.Low)
	}
	if hh == ll {
		return 0, nil
	}
	return -100 * (hh - klines[len(klines)-1].Close) / (hh - ll), nil
}
