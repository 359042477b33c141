package risk

import (
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"
)

// RiskConfig holds configuration for sizing, cooldowns and flips.
type RiskConfig struct {
	PositionSizePercent     float64 // P: share of balance per order
	MaxTotalPositionPercent float64 // M: cap on per-symbol exposure, percent of balance

	AddAfterTPEnabled     bool
	AddAfterTPCooldown    time.Duration
	ReopenAfterSLEnabled  bool
	ReopenAfterSLCooldown time.Duration

	FlipWindow          time.Duration
	FlipSignalsRequired int
}

// DefaultRiskConfig returns the production defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		PositionSizePercent:     100,
		MaxTotalPositionPercent: 400,
		AddAfterTPEnabled:       true,
		AddAfterTPCooldown:      30 * time.Minute,
		ReopenAfterSLEnabled:    true,
		ReopenAfterSLCooldown:   90 * time.Minute,
		FlipWindow:              30 * time.Minute,
		FlipSignalsRequired:     2,
	}
}

// RiskManager gates new entries: it sizes orders, enforces cooldowns read
// from the trade event log and tracks opposite-signal hysteresis.
type RiskManager struct {
	config RiskConfig
	events ports.EventStore
	logger ports.Logger
	now    func() time.Time
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig, events ports.EventStore, logger ports.Logger) *RiskManager {
	if config.FlipSignalsRequired <= 0 {
		config.FlipSignalsRequired = 2
	}
	if config.FlipWindow <= 0 {
		config.FlipWindow = 30 * time.Minute
	}
	return &RiskManager{
		config: config,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the active configuration.
func (r *RiskManager) Config() RiskConfig {
	return r.config
}

// StopLossPrice is entry minus ATR*multiplier for a long, plus for a short.
func StopLossPrice(entryPrice, atr, multiplier float64, dir domain.Direction) float64 {
	return entryPrice - dir.Sign()*atr*multiplier
}
