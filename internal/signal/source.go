package signal

import (
	"context"
	"errors"
	"fmt"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"
)

// Completer sends one prompt pair to a model and returns its raw answer.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// ModelSourceConfig configures a ModelSource.
type ModelSourceConfig struct {
	Name    string
	Primary Completer
	// Verifier, when set, must confirm every trade the primary model proposes.
	Verifier Completer
	Prompts  Prompts
	Logger   ports.Logger
	Metrics  ports.Metrics
}

// ModelSource asks one model, optionally confirmed by a second one.
type ModelSource struct {
	name     string
	primary  Completer
	verifier Completer
	prompts  Prompts
	logger   ports.Logger
	metrics  ports.Metrics
}

// NewModelSource validates the configuration and creates the source.
func NewModelSource(cfg ModelSourceConfig) (*ModelSource, error) {
	if cfg.Primary == nil || cfg.Logger == nil {
		return nil, errors.New("missing required dependencies for ModelSource")
	}
	if cfg.Name == "" {
		return nil, errors.New("ModelSource needs a name")
	}
	if cfg.Prompts.System == "" && cfg.Prompts.UserTemplate == "" {
		cfg.Prompts = DefaultPrompts()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	return &ModelSource{
		name:     cfg.Name,
		primary:  cfg.Primary,
		verifier: cfg.Verifier,
		prompts:  cfg.Prompts,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

func (s *ModelSource) Name() string {
	return s.name
}

// Analyze asks the primary model and, for trades, the verifier.
// Transport and format failures of the primary are returned as errors;
// verifier failures turn the decision into a hold.
func (s *ModelSource) Analyze(ctx context.Context, summary string, validSymbols []string) (domain.Decision, error) {
	if summary == "" || len(validSymbols) == 0 {
		return domain.Hold("Нет данных"), nil
	}
	user := s.prompts.User(summary)

	first, err := s.ask(ctx, s.primary, user)
	if err != nil {
		return domain.Hold(err.Error()), fmt.Errorf("%s: %w", s.name, err)
	}
	first = Restrict(first, validSymbols)
	s.logger.Info(ctx, "Model answered", map[string]interface{}{
		"source": s.name, "model": s.primary.Model(), "decision": first.String(), "reason": first.Reason,
	})

	if s.verifier == nil || !first.IsTrade() {
		s.metrics.SignalReceived(s.name, first.Action)
		return first, nil
	}

	dec := s.verify(ctx, first, user, validSymbols)
	s.metrics.SignalReceived(s.name, dec.Action)
	return dec, nil
}

func (s *ModelSource) verify(ctx context.Context, first domain.Decision, user string, validSymbols []string) domain.Decision {
	second, err := s.ask(ctx, s.verifier, user)
	if err != nil {
		s.logger.Warn(ctx, "Verification failed, signal rejected", map[string]interface{}{
			"source": s.name, "model": s.verifier.Model(), "error": err.Error(),
		})
		return domain.Hold("Ошибка подтверждения: " + err.Error())
	}
	s.logger.Info(ctx, "Verifier answered", map[string]interface{}{
		"source": s.name, "model": s.verifier.Model(), "decision": second.String(), "reason": second.Reason,
	})

	if !second.IsTrade() {
		return domain.Hold("Подтверждение отклонено: " + second.Reason)
	}
	confirmed := Restrict(second, validSymbols)
	if confirmed.IsTrade() && confirmed.Action == first.Action && confirmed.Symbol == first.Symbol {
		confirmed.Reason = "Подтверждено: " + second.Reason
		return confirmed
	}
	s.logger.Warn(ctx, "Verifier disagreed", map[string]interface{}{
		"source": s.name, "level1": first.String(), "level2": second.String(),
	})
	return domain.Hold("Сигналы не совпали")
}

func (s *ModelSource) ask(ctx context.Context, model Completer, user string) (domain.Decision, error) {
	text, err := model.Complete(ctx, s.prompts.System, user)
	if err != nil {
		return domain.Decision{}, err
	}
	return ParseResponse(text)
}
