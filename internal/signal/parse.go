// Package signal turns model answers into trade decisions.
package signal

import (
	"fmt"
	"slices"
	"strings"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"
)

// quoteSuffix is appended when a model names the base asset only.
const quoteSuffix = "USDT"

// ParseResponse extracts the Action and Reason lines of a model answer.
// Markdown emphasis is ignored.
func ParseResponse(text string) (domain.Decision, error) {
	text = strings.ReplaceAll(text, "*", "")

	var action, reason string
	var haveAction, haveReason bool
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Action"):
			_, v, ok := strings.Cut(line, "Action:")
			action, haveAction = strings.TrimSpace(v), ok
		case strings.HasPrefix(line, "Reason"):
			_, v, ok := strings.Cut(line, "Reason:")
			reason, haveReason = strings.TrimSpace(v), ok
		}
	}
	if !haveAction || !haveReason || action == "" || reason == "" {
		return domain.Decision{}, fmt.Errorf("%w: missing Action or Reason line in %q", ports.ErrInvalidSignal, truncate(text, 200))
	}

	dec, err := domain.ParseDecision(action)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %w", ports.ErrInvalidSignal, err)
	}
	dec.Reason = reason
	return dec, nil
}

// Restrict turns a trade on a symbol outside validSymbols into a hold,
// keeping the reason. A bare base asset (ETH) is matched against ETHUSDT.
func Restrict(dec domain.Decision, validSymbols []string) domain.Decision {
	if !dec.IsTrade() {
		return domain.Decision{Action: domain.ActionHold, Reason: dec.Reason}
	}
	if slices.Contains(validSymbols, dec.Symbol) {
		return dec
	}
	if !strings.HasSuffix(dec.Symbol, quoteSuffix) && slices.Contains(validSymbols, dec.Symbol+quoteSuffix) {
		dec.Symbol += quoteSuffix
		return dec
	}
	return domain.Decision{Action: domain.ActionHold, Reason: dec.Reason}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
