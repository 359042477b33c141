package ports

import (
	"context"

	"perpKeeper/internal/domain"
)

// SignalSource turns a compressed market summary into a trade decision.
type SignalSource interface {
	// Analyze returns a decision restricted to validSymbols. The decision's
	// Reason carries the human-readable rationale.
	Analyze(ctx context.Context, summary string, validSymbols []string) (domain.Decision, error)
	// Name identifies the source in logs.
	Name() string
}
