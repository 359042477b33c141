// Package paper simulates the futures account for test mode.
//
// Prices, instrument metadata and candles come from a real market source;
// balance, positions and orders live in memory. Market orders fill at the
// current mid price. Trigger orders rest until cancelled and never fire.
package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/google/uuid"
)

// MarketSource provides the live data the simulation prices against.
type MarketSource interface {
	GetMidPrice(ctx context.Context, symbol string) (float64, error)
	GetInstrumentMeta(ctx context.Context, symbol string) (*domain.InstrumentMeta, error)
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)
}

// Config for the paper gateway.
type Config struct {
	Market   MarketSource
	Logger   ports.Logger
	Balance  float64 // starting wallet balance in USDT
	Leverage int     // margin divisor for available balance; defaults to 1
}

type positionKey struct {
	symbol string
	dir    domain.Direction
}

type position struct {
	size  float64
	entry float64
}

// Gateway implements ports.ExchangeGateway and ports.MarketData in memory.
type Gateway struct {
	market   MarketSource
	logger   ports.Logger
	leverage int

	mu        sync.Mutex
	balance   float64
	positions map[positionKey]*position
	orders    []domain.ObservedOrder
	nextID    int64
}

// New creates a paper gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Market == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for paper Gateway")
	}
	if cfg.Balance <= 0 {
		return nil, fmt.Errorf("paper balance must be positive, got %.2f", cfg.Balance)
	}
	leverage := cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	cfg.Logger.Info(context.Background(), "Paper gateway active: orders never reach the exchange", map[string]interface{}{
		"balance": cfg.Balance, "leverage": leverage,
	})
	return &Gateway{
		market:    cfg.Market,
		logger:    cfg.Logger,
		leverage:  leverage,
		balance:   cfg.Balance,
		positions: make(map[positionKey]*position),
	}, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

// GetAvailableBalance is the balance less the margin held by open positions.
func (g *Gateway) GetAvailableBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	used := 0.0
	for _, p := range g.positions {
		used += p.size * p.entry / float64(g.leverage)
	}
	return math.Max(g.balance-used, 0), nil
}

func (g *Gateway) GetOpenPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ports.ExchangePosition, 0, len(g.positions))
	for k, p := range g.positions {
		out = append(out, ports.ExchangePosition{
			Symbol:     k.symbol,
			Direction:  k.dir,
			Size:       p.size,
			EntryPrice: p.entry,
			Leverage:   g.leverage,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Direction < out[j].Direction
	})
	return out, nil
}

func (g *Gateway) GetOpenOrders(ctx context.Context, forceRefresh bool) ([]domain.ObservedOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.ObservedOrder(nil), g.orders...), nil
}

func (g *Gateway) GetMidPrice(ctx context.Context, symbol string) (float64, error) {
	return g.market.GetMidPrice(ctx, symbol)
}

func (g *Gateway) GetInstrumentMeta(ctx context.Context, symbol string) (*domain.InstrumentMeta, error) {
	return g.market.GetInstrumentMeta(ctx, symbol)
}

func (g *Gateway) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	return g.market.GetKlines(ctx, symbol, interval, limit)
}

// PlaceOrder fills market orders at mid and rests trigger orders.
func (g *Gateway) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	if req.Quantity <= 0 || !req.Direction.Valid() {
		return nil, fmt.Errorf("%s: %w", op, ports.ErrInvalidRequest)
	}

	if req.Type != domain.OrderTypeMarket {
		return g.rest(ctx, req)
	}

	price, err := g.market.GetMidPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	key := positionKey{symbol: req.Symbol, dir: req.Direction}
	pos := g.positions[key]
	opening := req.Side == req.Direction.EntrySide()

	switch {
	case opening && req.ReduceOnly:
		return nil, fmt.Errorf("%s: %w: reduce-only order would grow the position", op, ports.ErrOrderPlacementFailed)
	case opening:
		if pos == nil {
			pos = &position{}
			g.positions[key] = pos
		}
		total := pos.size + req.Quantity
		pos.entry = (pos.entry*pos.size + price*req.Quantity) / total
		pos.size = total
	default:
		if pos == nil {
			return nil, fmt.Errorf("%s: %w: no %s position in %s", op, ports.ErrPositionNotFound, req.Direction, req.Symbol)
		}
		qty := math.Min(req.Quantity, pos.size)
		g.balance += (price - pos.entry) * req.Direction.Sign() * qty
		pos.size -= qty
		if pos.size <= 1e-12 {
			delete(g.positions, key)
		}
	}

	g.nextID++
	resp := &ports.OrderResponse{
		OrderID:       g.nextID,
		Symbol:        req.Symbol,
		ClientOrderID: uuid.NewString(),
		Type:          req.Type,
		Side:          req.Side,
		OrigQuantity:  req.Quantity,
		ExecutedQty:   req.Quantity,
		AvgPrice:      price,
		Status:        "FILLED",
	}
	g.logger.Info(ctx, "Paper market order filled", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "direction": req.Direction, "quantity": req.Quantity,
		"price": price, "balance": g.balance,
	})
	return resp, nil
}

func (g *Gateway) rest(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	if req.TriggerPrice <= 0 {
		return nil, fmt.Errorf("PlaceOrder: %w: trigger price required for %s", ports.ErrInvalidRequest, req.Type)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	o := domain.ObservedOrder{
		Symbol:        req.Symbol,
		OrderID:       g.nextID,
		ClientOrderID: uuid.NewString(),
		Side:          req.Side,
		PositionSide:  req.Direction,
		Type:          req.Type,
		Size:          req.Quantity,
		TriggerPrice:  req.TriggerPrice,
		IsTrigger:     true,
		ReduceOnly:    req.ReduceOnly,
	}
	if kind, ok := domain.KindForType(req.Type); ok {
		o.Kind = kind
	}
	g.orders = append(g.orders, o)
	g.logger.Info(ctx, "Paper trigger order resting", map[string]interface{}{
		"symbol": req.Symbol, "type": req.Type, "trigger": req.TriggerPrice, "quantity": req.Quantity, "orderID": o.OrderID,
	})
	return &ports.OrderResponse{
		OrderID:       o.OrderID,
		Symbol:        o.Symbol,
		ClientOrderID: o.ClientOrderID,
		Type:          o.Type,
		Side:          o.Side,
		OrigQuantity:  o.Size,
		StopPrice:     o.TriggerPrice,
		Status:        "NEW",
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, o := range g.orders {
		if o.OrderID == orderID && o.Symbol == symbol {
			g.orders = append(g.orders[:i], g.orders[i+1:]...)
			return nil
		}
	}
	return nil
}
