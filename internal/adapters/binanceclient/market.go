package binanceclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

// GetMidPrice returns the midpoint of the best bid and ask.
func (c *Client) GetMidPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMidPrice"
	var tickers []*futures.BookTicker
	err := c.read(ctx, op, func() (err error) {
		tickers, err = c.futuresClient.NewListBookTickersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("%s: %w: no book ticker for %s", op, ports.ErrNoPrice, symbol)
	}

	bid, errBid := strconv.ParseFloat(tickers[0].BidPrice, 64)
	ask, errAsk := strconv.ParseFloat(tickers[0].AskPrice, 64)
	if errBid != nil || errAsk != nil {
		parseErr := fmt.Errorf("could not parse book '%s'/'%s'", tickers[0].BidPrice, tickers[0].AskPrice)
		return 0, c.handleError(ctx, parseErr, op)
	}
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2, nil
	case bid > 0:
		return bid, nil
	case ask > 0:
		return ask, nil
	}
	return 0, fmt.Errorf("%s: %w: empty book for %s", op, ports.ErrNoPrice, symbol)
}

// GetInstrumentMeta returns tick and step sizes from the cached exchange info.
func (c *Client) GetInstrumentMeta(ctx context.Context, symbol string) (*domain.InstrumentMeta, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if time.Since(c.metaLoaded) > c.metaTTL || c.meta[symbol] == nil {
		if err := c.loadExchangeInfo(ctx); err != nil {
			return nil, err
		}
	}
	meta, ok := c.meta[symbol]
	if !ok {
		return nil, fmt.Errorf("GetInstrumentMeta: %w: %s", ports.ErrUnknownSymbol, symbol)
	}
	cp := *meta
	return &cp, nil
}

// loadExchangeInfo refreshes c.meta. Callers hold metaMu.
func (c *Client) loadExchangeInfo(ctx context.Context) error {
	op := "GetExchangeInfo"
	var info *futures.ExchangeInfo
	err := c.read(ctx, op, func() (err error) {
		info, err = c.futuresClient.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return err
	}

	meta := make(map[string]*domain.InstrumentMeta, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		m := &domain.InstrumentMeta{Symbol: s.Symbol}
		if pf := s.PriceFilter(); pf != nil {
			m.TickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			m.StepSize, _ = strconv.ParseFloat(lf.StepSize, 64)
			m.MinQty, _ = strconv.ParseFloat(lf.MinQuantity, 64)
		}
		meta[s.Symbol] = m
	}
	c.meta = meta
	c.metaLoaded = time.Now()
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"symbols": len(meta)})
	return nil
}

// GetKlines retrieves historical klines/candlestick data for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	var binanceKlines []*futures.Kline
	err := c.read(ctx, op, func() (err error) {
		binanceKlines, err = c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	domainKlines := make([]*domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		domainKlines = append(domainKlines, dk)
	}
	return domainKlines, nil
}
