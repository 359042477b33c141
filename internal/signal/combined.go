package signal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"golang.org/x/sync/errgroup"
)

// Strategy merges the decisions of several sources.
type Strategy string

const (
	// StrategyAny takes the first non-hold decision in source order.
	StrategyAny Strategy = "any"
	// StrategyUnanimous trades only when every source says the same thing.
	StrategyUnanimous Strategy = "unanimous"
	// StrategyPriorityPerplexity lets the perplexity source decide.
	StrategyPriorityPerplexity Strategy = "priority_perplexity"
	// StrategyPriorityOpenRouter lets the openrouter source decide.
	StrategyPriorityOpenRouter Strategy = "priority_openrouter"
)

const priorityPrefix = "priority_"

// ParseStrategy validates s.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	switch {
	case st == StrategyAny, st == StrategyUnanimous:
		return st, nil
	case strings.HasPrefix(string(st), priorityPrefix) && len(st) > len(priorityPrefix):
		return st, nil
	}
	return "", fmt.Errorf("unknown signal strategy %q", s)
}

// Combined queries several sources concurrently and merges their answers.
type Combined struct {
	sources  []ports.SignalSource
	strategy Strategy
	logger   ports.Logger
}

// NewCombined creates a combined source. With a priority strategy one of the
// sources must carry the named priority.
func NewCombined(strategy Strategy, logger ports.Logger, sources ...ports.SignalSource) (*Combined, error) {
	if logger == nil {
		return nil, errors.New("missing required dependencies for Combined")
	}
	if len(sources) == 0 {
		return nil, errors.New("Combined needs at least one source")
	}
	if p, ok := priorityName(strategy); ok {
		found := false
		for _, s := range sources {
			found = found || s.Name() == p
		}
		if !found {
			return nil, fmt.Errorf("strategy %s names no configured source", strategy)
		}
	}
	return &Combined{sources: sources, strategy: strategy, logger: logger}, nil
}

func (c *Combined) Name() string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Answer is one source's decision.
type Answer struct {
	Source   string
	Decision domain.Decision
}

// Analyze asks every source. A failing source counts as hold; when every
// source fails the error is returned.
func (c *Combined) Analyze(ctx context.Context, summary string, validSymbols []string) (domain.Decision, error) {
	if len(c.sources) == 1 {
		return c.sources[0].Analyze(ctx, summary, validSymbols)
	}

	answers := make([]Answer, len(c.sources))
	errs := make([]error, len(c.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		i, src := i, src
		g.Go(func() error {
			dec, err := src.Analyze(gctx, summary, validSymbols)
			if err != nil {
				errs[i] = err
				dec = domain.Hold(err.Error())
			}
			answers[i] = Answer{Source: src.Name(), Decision: dec}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			c.logger.Warn(ctx, "Signal source failed, counted as hold", map[string]interface{}{
				"source": answers[i].Source, "error": err.Error(),
			})
		}
	}
	if failed == len(c.sources) {
		return domain.Hold("все источники недоступны"), errors.Join(errs...)
	}

	dec := Merge(c.strategy, answers...)
	c.logger.Info(ctx, "Signals combined", map[string]interface{}{
		"strategy": c.strategy, "decision": dec.String(), "reason": dec.Reason,
	})
	return dec, nil
}

// Merge applies strategy to named decisions.
func Merge(strategy Strategy, answers ...Answer) domain.Decision {
	if p, ok := priorityName(strategy); ok {
		return mergePriority(p, answers)
	}
	switch strategy {
	case StrategyUnanimous:
		first := answers[0].Decision
		parts := make([]string, len(answers))
		agree := true
		for i, a := range answers {
			parts[i] = a.Source + "=" + a.Decision.String()
			agree = agree && a.Decision.String() == first.String()
		}
		if agree {
			first.Reason = "Единогласно: " + first.Reason
			return first
		}
		return domain.Hold("Сигналы расходятся: " + strings.Join(parts, ", "))
	case StrategyAny:
		for _, a := range answers {
			if a.Decision.IsTrade() {
				a.Decision.Reason = a.Source + ": " + a.Decision.Reason
				return a.Decision
			}
		}
		return domain.Hold("Hold")
	}
	return domain.Hold("Нет сигналов")
}

func mergePriority(priority string, answers []Answer) domain.Decision {
	var lead *Answer
	for i := range answers {
		if answers[i].Source == priority {
			lead = &answers[i]
			break
		}
	}
	if lead == nil {
		return domain.Hold("Нет сигналов")
	}
	if !lead.Decision.IsTrade() {
		return domain.Hold("Hold: " + lead.Decision.Reason)
	}

	dec := lead.Decision
	for _, a := range answers {
		if a.Source != priority && a.Decision.String() != dec.String() {
			dec.Reason = "Приоритет " + priority + ": " + lead.Decision.Reason
			return dec
		}
	}
	dec.Reason = "Подтверждено: " + lead.Decision.Reason
	return dec
}

func priorityName(s Strategy) (string, bool) {
	name, ok := strings.CutPrefix(string(s), priorityPrefix)
	return name, ok && name != ""
}
