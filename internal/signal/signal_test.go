package signal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockCompleter answers with a canned text or error and records the prompts.
type mockCompleter struct {
	model  string
	answer string
	err    error
	calls  int
	system string
	user   string
}

func (m *mockCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.calls++
	m.system, m.user = systemPrompt, userPrompt
	return m.answer, m.err
}

func (m *mockCompleter) Model() string { return m.model }

type stubSource struct {
	name string
	dec  domain.Decision
	err  error
}

func (s *stubSource) Analyze(ctx context.Context, summary string, validSymbols []string) (domain.Decision, error) {
	return s.dec, s.err
}

func (s *stubSource) Name() string { return s.name }

var valid = []string{"BTCUSDT", "ETHUSDT"}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    domain.Decision
		wantErr bool
	}{
		{
			name: "plain",
			text: "Action: buy_ETHUSDT\nReason: пробой сопротивления",
			want: domain.Decision{Action: domain.ActionBuy, Symbol: "ETHUSDT", Reason: "пробой сопротивления"},
		},
		{
			name: "markdown emphasis and chatter",
			text: "Анализ завершён.\n**Action:** sell_btcusdt\n*Reason:* RSI перекуплен\n",
			want: domain.Decision{Action: domain.ActionSell, Symbol: "BTCUSDT", Reason: "RSI перекуплен"},
		},
		{
			name: "hold",
			text: "Action: hold\nReason: слабые сигналы",
			want: domain.Decision{Action: domain.ActionHold, Reason: "слабые сигналы"},
		},
		{name: "missing reason", text: "Action: hold", wantErr: true},
		{name: "missing action", text: "Reason: nothing", wantErr: true},
		{name: "unknown action", text: "Action: short_ETHUSDT\nReason: x", wantErr: true},
		{name: "action without colon", text: "Action buy_ETHUSDT\nReason: x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInvalidSignal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRestrict(t *testing.T) {
	buyETH := domain.Decision{Action: domain.ActionBuy, Symbol: "ETHUSDT", Reason: "r"}
	assert.Equal(t, buyETH, Restrict(buyETH, valid))

	bare := domain.Decision{Action: domain.ActionBuy, Symbol: "ETH", Reason: "r"}
	assert.Equal(t, buyETH, Restrict(bare, valid))

	sol := domain.Decision{Action: domain.ActionSell, Symbol: "SOLUSDT", Reason: "r"}
	got := Restrict(sol, valid)
	assert.Equal(t, domain.ActionHold, got.Action)
	assert.Empty(t, got.Symbol)
	assert.Equal(t, "r", got.Reason)
}

func TestLoadPrompts(t *testing.T) {
	p, err := LoadPrompts("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompts(), p)
	assert.Equal(t, "Данные рынка:\n\nSUMMARY", p.User("SUMMARY"))

	dir := t.TempDir()
	sys := filepath.Join(dir, "system.txt")
	usr := filepath.Join(dir, "user.txt")
	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(sys, []byte("be brief\n"), 0o644))
	require.NoError(t, os.WriteFile(usr, []byte("data: {market_data}"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("no placeholder"), 0o644))

	p, err = LoadPrompts(sys, usr)
	require.NoError(t, err)
	assert.Equal(t, "be brief", p.System)
	assert.Equal(t, "data: X", p.User("X"))

	_, err = LoadPrompts("", bad)
	assert.Error(t, err)
	_, err = LoadPrompts(filepath.Join(dir, "missing"), "")
	assert.Error(t, err)
}

func newSource(t *testing.T, primary, verifier *mockCompleter) *ModelSource {
	t.Helper()
	cfg := ModelSourceConfig{Name: "openrouter", Primary: primary, Logger: &mockLogger{}}
	if verifier != nil {
		cfg.Verifier = verifier
	}
	s, err := NewModelSource(cfg)
	require.NoError(t, err)
	return s
}

func TestModelSource_SingleLevel(t *testing.T) {
	primary := &mockCompleter{model: "m1", answer: "Action: buy_ETHUSDT\nReason: тренд"}
	s := newSource(t, primary, nil)

	dec, err := s.Analyze(context.Background(), "SUMMARY", valid)
	require.NoError(t, err)
	assert.Equal(t, domain.Decision{Action: domain.ActionBuy, Symbol: "ETHUSDT", Reason: "тренд"}, dec)
	assert.Equal(t, DefaultSystemPrompt, primary.system)
	assert.Equal(t, "Данные рынка:\n\nSUMMARY", primary.user)
}

func TestModelSource_NoData(t *testing.T) {
	primary := &mockCompleter{model: "m1"}
	s := newSource(t, primary, nil)

	dec, err := s.Analyze(context.Background(), "", valid)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, dec.Action)
	assert.Zero(t, primary.calls)
}

func TestModelSource_PrimaryFailure(t *testing.T) {
	s := newSource(t, &mockCompleter{model: "m1", err: ports.ErrSignalUnavailable}, nil)
	dec, err := s.Analyze(context.Background(), "SUMMARY", valid)
	assert.ErrorIs(t, err, ports.ErrSignalUnavailable)
	assert.Equal(t, domain.ActionHold, dec.Action)

	s = newSource(t, &mockCompleter{model: "m1", answer: "I think ETH goes up"}, nil)
	_, err = s.Analyze(context.Background(), "SUMMARY", valid)
	assert.ErrorIs(t, err, ports.ErrInvalidSignal)
}

func TestModelSource_TwoLevelVerification(t *testing.T) {
	tests := []struct {
		name          string
		level1        string
		level2        string
		level2Err     error
		want          domain.Decision
		wantVerifyRun bool
	}{
		{
			name:          "confirmed",
			level1:        "Action: buy_ETHUSDT\nReason: первый",
			level2:        "Action: buy_ETHUSDT\nReason: второй",
			want:          domain.Decision{Action: domain.ActionBuy, Symbol: "ETHUSDT", Reason: "Подтверждено: второй"},
			wantVerifyRun: true,
		},
		{
			name:          "level 2 holds",
			level1:        "Action: sell_BTCUSDT\nReason: первый",
			level2:        "Action: hold\nReason: неясно",
			want:          domain.Hold("Подтверждение отклонено: неясно"),
			wantVerifyRun: true,
		},
		{
			name:          "different symbol",
			level1:        "Action: buy_ETHUSDT\nReason: первый",
			level2:        "Action: buy_BTCUSDT\nReason: второй",
			want:          domain.Hold("Сигналы не совпали"),
			wantVerifyRun: true,
		},
		{
			name:          "opposite side",
			level1:        "Action: buy_ETHUSDT\nReason: первый",
			level2:        "Action: sell_ETHUSDT\nReason: второй",
			want:          domain.Hold("Сигналы не совпали"),
			wantVerifyRun: true,
		},
		{
			name:          "level 2 error",
			level1:        "Action: buy_ETHUSDT\nReason: первый",
			level2Err:     errors.New("boom"),
			want:          domain.Hold("Ошибка подтверждения: boom"),
			wantVerifyRun: true,
		},
		{
			name:   "level 1 hold skips verification",
			level1: "Action: hold\nReason: ждём",
			want:   domain.Hold("ждём"),
		},
		{
			name:   "level 1 invalid symbol skips verification",
			level1: "Action: buy_SOLUSDT\nReason: первый",
			want:   domain.Hold("первый"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &mockCompleter{model: "x-ai/grok-4.1-fast", answer: tt.level1}
			verifier := &mockCompleter{model: "deepseek/deepseek-v3.2", answer: tt.level2, err: tt.level2Err}
			s := newSource(t, primary, verifier)

			dec, err := s.Analyze(context.Background(), "SUMMARY", valid)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dec)
			assert.Equal(t, tt.wantVerifyRun, verifier.calls == 1)
		})
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"any", "UNANIMOUS", "priority_perplexity", "priority_openrouter"} {
		_, err := ParseStrategy(s)
		assert.NoError(t, err, s)
	}
	for _, s := range []string{"", "majority", "priority_"} {
		_, err := ParseStrategy(s)
		assert.Error(t, err, s)
	}
}

func TestMerge(t *testing.T) {
	buyETH := func(reason string) domain.Decision {
		return domain.Decision{Action: domain.ActionBuy, Symbol: "ETHUSDT", Reason: reason}
	}
	sellBTC := domain.Decision{Action: domain.ActionSell, Symbol: "BTCUSDT", Reason: "or"}

	tests := []struct {
		name     string
		strategy Strategy
		pplx     domain.Decision
		or       domain.Decision
		want     domain.Decision
	}{
		{
			name:     "unanimous agree",
			strategy: StrategyUnanimous,
			pplx:     buyETH("pp"),
			or:       buyETH("or"),
			want:     buyETH("Единогласно: pp"),
		},
		{
			name:     "unanimous disagree",
			strategy: StrategyUnanimous,
			pplx:     buyETH("pp"),
			or:       domain.Hold("or"),
			want:     domain.Hold("Сигналы расходятся: perplexity=buy_ETHUSDT, openrouter=hold"),
		},
		{
			name:     "priority confirmed",
			strategy: StrategyPriorityPerplexity,
			pplx:     buyETH("pp"),
			or:       buyETH("or"),
			want:     buyETH("Подтверждено: pp"),
		},
		{
			name:     "priority overrides",
			strategy: StrategyPriorityOpenRouter,
			pplx:     buyETH("pp"),
			or:       sellBTC,
			want:     domain.Decision{Action: domain.ActionSell, Symbol: "BTCUSDT", Reason: "Приоритет openrouter: or"},
		},
		{
			name:     "priority holds",
			strategy: StrategyPriorityOpenRouter,
			pplx:     buyETH("pp"),
			or:       domain.Hold("wait"),
			want:     domain.Hold("Hold: wait"),
		},
		{
			name:     "any takes first trade",
			strategy: StrategyAny,
			pplx:     domain.Hold("pp"),
			or:       sellBTC,
			want:     domain.Decision{Action: domain.ActionSell, Symbol: "BTCUSDT", Reason: "openrouter: or"},
		},
		{
			name:     "any all hold",
			strategy: StrategyAny,
			pplx:     domain.Hold("pp"),
			or:       domain.Hold("or"),
			want:     domain.Hold("Hold"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.strategy, Answer{Source: "perplexity", Decision: tt.pplx}, Answer{Source: "openrouter", Decision: tt.or})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCombined_Analyze(t *testing.T) {
	logger := &mockLogger{}
	ctx := context.Background()

	_, err := NewCombined(StrategyPriorityPerplexity, logger, &stubSource{name: "openrouter"})
	assert.Error(t, err, "priority source must be configured")

	pplx := &stubSource{name: "perplexity", err: ports.ErrSignalUnavailable}
	or := &stubSource{name: "openrouter", dec: domain.Decision{Action: domain.ActionBuy, Symbol: "ETHUSDT", Reason: "r"}}
	c, err := NewCombined(StrategyAny, logger, pplx, or)
	require.NoError(t, err)
	assert.Equal(t, "perplexity+openrouter", c.Name())

	dec, err := c.Analyze(ctx, "S", valid)
	require.NoError(t, err, "one failing source counts as hold")
	assert.Equal(t, "buy_ETHUSDT", dec.String())

	or.err = errors.New("down")
	dec, err = c.Analyze(ctx, "S", valid)
	assert.Error(t, err)
	assert.Equal(t, domain.ActionHold, dec.Action)

	single, err := NewCombined(StrategyUnanimous, logger, &stubSource{name: "openrouter", dec: domain.Hold("x")})
	require.NoError(t, err)
	dec, err = single.Analyze(ctx, "S", valid)
	require.NoError(t, err)
	assert.Equal(t, domain.Hold("x"), dec)
}
