package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/indicators"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// rising returns n candles closing at start, start+1, ... with a two-point range.
func rising(n int, start float64) []*domain.Kline {
	out := make([]*domain.Kline, n)
	t0 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		c := start + float64(i)
		out[i] = &domain.Kline{
			OpenTime: t0.Add(time.Duration(i) * time.Hour),
			Open:     c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 10,
		}
	}
	return out
}

type mockMarketData struct {
	mu       sync.Mutex
	requests map[string]int // "SYMBOL/interval" -> limit
	fail     map[string]bool
	n        int
}

func (m *mockMarketData) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	key := symbol + "/" + interval
	m.mu.Lock()
	if m.requests == nil {
		m.requests = make(map[string]int)
	}
	m.requests[key] = limit
	m.mu.Unlock()
	if m.fail[key] {
		return nil, errors.New("exchange hiccup")
	}
	n := m.n
	if n == 0 {
		n = 30
	}
	return rising(n, 100), nil
}

func TestFetcher_Fetch(t *testing.T) {
	data := &mockMarketData{fail: map[string]bool{"SOLUSDT/1m": true}}
	f, err := NewFetcher(FetcherConfig{Data: data, Logger: &mockLogger{}, Concurrency: 2})
	require.NoError(t, err)

	snap, valid, err := f.Fetch(context.Background(), []string{"BTCUSDT", "SOLUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, valid)
	assert.Len(t, snap["SOLUSDT"]["1h"], 30)
	assert.Empty(t, snap["SOLUSDT"]["1m"])

	assert.Equal(t, 360, data.requests["BTCUSDT/1d"])
	assert.Equal(t, 200, data.requests["BTCUSDT/1h"])
	assert.Equal(t, 1440, data.requests["BTCUSDT/1m"])
	assert.Len(t, data.requests, 9)
}

func TestFetcher_Canceled(t *testing.T) {
	f, err := NewFetcher(FetcherConfig{Data: &mockMarketData{}, Logger: &mockLogger{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = f.Fetch(ctx, []string{"BTCUSDT"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFetcher_Validation(t *testing.T) {
	_, err := NewFetcher(FetcherConfig{Logger: &mockLogger{}})
	assert.Error(t, err)
}

func TestSummarizer_Compress(t *testing.T) {
	snap := domain.MarketSnapshot{
		"ETHUSDT": {
			"1d": rising(30, 100),
			"1h": rising(60, 100),
			"1m": nil,
		},
	}
	s := NewSummarizer(DefaultThresholds())
	out := s.Compress(context.Background(), snap, []string{"ETHUSDT"})

	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "", lines[0])
	assert.Equal(t, "ETHUSDT:", lines[1])
	assert.Equal(t, " 1d: up O:128.5000 H:130.0000 L:128.0000 C:129.0000 | MaxH:130.0000 MinL:99.0000 Vol:10.00 (30)", lines[2])

	assert.Contains(t, out, "\n EMA: 10=")
	assert.Contains(t, out, "\n RSI: 100.0 (overbought)")
	assert.Contains(t, out, "OB/OS: Stoch:")
	assert.Contains(t, out, "WillR:")
	assert.Contains(t, out, "\n 1m: Нет данных")

	daily := out[:strings.Index(out, " 1h:")]
	assert.NotContains(t, daily, "50=", "EMA50 needs 50 candles")
	assert.NotContains(t, daily, "MACD", "MACD(12,26,9) needs 35 candles")
	assert.NotContains(t, daily, "StochRSI", "StochRSI(14,14,3,3) needs more than 30 candles")
	assert.Contains(t, out[strings.Index(out, " 1h:"):], "MACD: bull")
}

func TestSummarizer_RSIThresholds(t *testing.T) {
	snap := domain.MarketSnapshot{"ETHUSDT": {"1h": rising(60, 100)}}
	th := DefaultThresholds()
	th.RSI = indicators.Thresholds{Overbought: 101, Oversold: 0}

	out := NewSummarizer(th).Compress(context.Background(), snap, []string{"ETHUSDT"})
	assert.Contains(t, out, "\n RSI: 100.0 (neutral)")
}

func TestSummarizer_MultipleSymbolsKeepOrder(t *testing.T) {
	snap := domain.MarketSnapshot{
		"BTCUSDT": {"1d": rising(5, 1), "1h": rising(5, 1), "1m": rising(5, 1)},
		"ETHUSDT": {"1d": rising(5, 1), "1h": rising(5, 1), "1m": rising(5, 1)},
	}
	out := NewSummarizer(DefaultThresholds()).Compress(context.Background(), snap, []string{"ETHUSDT", "BTCUSDT"})
	assert.Less(t, strings.Index(out, "ETHUSDT:"), strings.Index(out, "BTCUSDT:"))
	assert.NotContains(t, out, "RSI", "five candles are too few for any oscillator")
}

func TestATRSource(t *testing.T) {
	data := &mockMarketData{}
	src, err := NewATRSource(data, 0)
	require.NoError(t, err)

	v, err := src.ATR(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	// Each true range is max(2, |c+1-(c-1)|, |c-1-(c-1)|) = 2.
	assert.InDelta(t, 2.0, v, 1e-9)
	assert.Equal(t, 200, data.requests["ETHUSDT/1h"])

	data.n = 10
	_, err = src.ATR(context.Background(), "ETHUSDT")
	assert.Error(t, err)

	data.fail = map[string]bool{"BTCUSDT/1h": true}
	_, err = src.ATR(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func ExampleSummarizer_Compress() {
	snap := domain.MarketSnapshot{"BTCUSDT": {"1d": rising(2, 100)}}
	fmt.Print(NewSummarizer(DefaultThresholds()).Compress(context.Background(), snap, []string{"BTCUSDT"}))
	// Output:
	// BTCUSDT:
	//  1d: up O:100.5000 H:102.0000 L:100.0000 C:101.0000 | MaxH:102.0000 MinL:99.0000 Vol:10.00 (2)
	//  1h: Нет данных
	//  1m: Нет данных
}
