package signal

import (
	"fmt"
	"os"
	"strings"
)

// MarketDataPlaceholder is replaced by the market summary in the user template.
const MarketDataPlaceholder = "{market_data}"

// DefaultSystemPrompt instructs the model on analysis and answer format.
const DefaultSystemPrompt = `Ты профессиональный криптотрейдер. Проанализируй данные и дай торговый сигнал.

### Анализ:
1. ПЕРВИЧНЫЙ ОСМОТР: Оцени цены и объёмы на таймфреймах 1d, 1h, 1m. Ищи аномальные всплески объема.
2. ТЕХНИЧЕСКИЙ АНАЛИЗ: Используй EMA(10,20,50,100,200), MACD, RSI и осцилляторы (Stochastic, StochRSI, Williams %R). Отмечай зоны перекупленности/перепроданности и возможные развороты.
3. ПАТТЕРНЫ: Найди закономерности, реакции на поддержку/сопротивление. Определи наиболее вероятные тренды.
4. РЕШЕНИЕ: Выбери ОДИН актив с самым сильным сигналом.

### Правила:
- Выбери только ОДИН символ с наиболее четким сигналом
- Если сигналы слабые - выбирай 'hold'
- Не выдумывай значения индикаторов
- СТРОГО следуй формату ответа

### Формат ответа:
Action: buy_ETHUSDT | sell_BTCUSDT | hold
Reason: [Краткое обоснование, до 20 слов на русском]`

// DefaultUserTemplate wraps the market summary.
const DefaultUserTemplate = "Данные рынка:\n\n" + MarketDataPlaceholder

// Prompts is the system prompt plus the user template.
type Prompts struct {
	System       string
	UserTemplate string
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	return Prompts{System: DefaultSystemPrompt, UserTemplate: DefaultUserTemplate}
}

// LoadPrompts reads prompt overrides from files. An empty path keeps the
// built-in prompt.
func LoadPrompts(systemFile, userFile string) (Prompts, error) {
	p := DefaultPrompts()
	if systemFile != "" {
		b, err := os.ReadFile(systemFile)
		if err != nil {
			return Prompts{}, fmt.Errorf("failed to read system prompt %s: %w", systemFile, err)
		}
		p.System = strings.TrimSpace(string(b))
	}
	if userFile != "" {
		b, err := os.ReadFile(userFile)
		if err != nil {
			return Prompts{}, fmt.Errorf("failed to read user prompt %s: %w", userFile, err)
		}
		p.UserTemplate = strings.TrimSpace(string(b))
		if !strings.Contains(p.UserTemplate, MarketDataPlaceholder) {
			return Prompts{}, fmt.Errorf("user prompt %s lacks the %s placeholder", userFile, MarketDataPlaceholder)
		}
	}
	return p, nil
}

// User renders the user template around summary.
func (p Prompts) User(summary string) string {
	return strings.ReplaceAll(p.UserTemplate, MarketDataPlaceholder, summary)
}
