package reconcile

import "time"

// Params drives stage detection, target computation and the diff tolerances.
type Params struct {
	ATRMultiplier  float64
	TP1Percent     float64 // TP1 distance from entry, percent
	TP1SizePercent float64 // TP1 size, percent of original quantity
	TP2Percent     float64 // added distance per cascade level, percent
	TP2SizePercent float64 // TP2 size, percent of current size

	TP1RemainingPercent float64 // remaining percent at or below which TP1 counts as filled
	AddThreshold        float64 // relative size increase treated as an add
	DecreaseThreshold   float64 // relative size decrease treated as a fill
	CascadeTolerance    float64 // relative slack on the compounding TP2 threshold

	DustSize            float64 // smallest TP2 worth placing
	MinRemainingPercent float64 // no TP2 at or below this remaining percent
	ClampOffsetPercent  float64 // distance from market for clamped triggers
	SizeTolerance       float64 // relative
	PriceTolerance      float64 // relative
	SLClassifyRatio     float64 // order/position size ratio classified as SL when type is unknown

	CloseEventWindow time.Duration // recent tp lookback and sl event dedup window
	ConfirmTimeout   time.Duration // poll budget for cancellations to disappear
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ATRMultiplier:       1.5,
		TP1Percent:          1,
		TP1SizePercent:      30,
		TP2Percent:          1,
		TP2SizePercent:      20,
		TP1RemainingPercent: 75,
		AddThreshold:        0.05,
		DecreaseThreshold:   0.02,
		CascadeTolerance:    0.05,
		DustSize:            0.0001,
		MinRemainingPercent: 1,
		ClampOffsetPercent:  0.1,
		SizeTolerance:       0.01,
		PriceTolerance:      0.001,
		SLClassifyRatio:     0.95,
		CloseEventWindow:    5 * time.Minute,
		ConfirmTimeout:      5 * time.Second,
	}
}
