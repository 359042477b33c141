// Package market fetches candles for the watched symbols and compresses them
// into the text summary a signal source reads.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"golang.org/x/sync/errgroup"
)

// Limits is the number of candles fetched per interval.
type Limits struct {
	Day    int
	Hour   int
	Minute int
}

// DefaultLimits returns 360 daily, 200 hourly and 1440 minute candles.
func DefaultLimits() Limits {
	return Limits{Day: 360, Hour: 200, Minute: 1440}
}

func (l Limits) byInterval() []struct {
	interval string
	limit    int
} {
	return []struct {
		interval string
		limit    int
	}{
		{domain.Interval1d, l.Day},
		{domain.Interval1h, l.Hour},
		{domain.Interval1m, l.Minute},
	}
}

// Intervals is every interval a symbol needs to count as valid.
var Intervals = []string{domain.Interval1d, domain.Interval1h, domain.Interval1m}

// FetcherConfig wires a Fetcher.
type FetcherConfig struct {
	Data        ports.MarketData
	Logger      ports.Logger
	Limits      Limits
	Concurrency int // parallel requests; defaults to 4
}

// Fetcher loads candles for many symbols concurrently.
type Fetcher struct {
	data        ports.MarketData
	logger      ports.Logger
	limits      Limits
	concurrency int
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Data == nil || cfg.Logger == nil {
		return nil, errors.New("missing required dependencies for market Fetcher")
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Fetcher{data: cfg.Data, logger: cfg.Logger, limits: cfg.Limits, concurrency: cfg.Concurrency}, nil
}

// Fetch loads every interval for every symbol. A failed request leaves that
// interval empty and is logged; only cancellation aborts the whole fetch.
// The returned valid symbols keep the input order and have all intervals.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string) (domain.MarketSnapshot, []string, error) {
	snap := make(domain.MarketSnapshot, len(symbols))
	for _, s := range symbols {
		snap[s] = make(map[string][]*domain.Kline, len(Intervals))
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, symbol := range symbols {
		for _, iv := range f.limits.byInterval() {
			symbol, iv := symbol, iv
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				klines, err := f.data.GetKlines(gctx, symbol, iv.interval, iv.limit)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					f.logger.Warn(gctx, "Failed to fetch candles", map[string]interface{}{
						"symbol": symbol, "interval": iv.interval, "error": err.Error(),
					})
					return nil
				}
				mu.Lock()
				snap[symbol][iv.interval] = klines
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("candle fetch aborted: %w", err)
	}

	valid := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if snap.HasAll(s, Intervals...) {
			valid = append(valid, s)
		}
	}
	f.logger.Debug(ctx, "Candles fetched", map[string]interface{}{"symbols": len(symbols), "valid": len(valid)})
	return snap, valid, nil
}
