package ports

import (
	"context"

	"perpKeeper/internal/domain"
)

// ExchangePosition is an open position as reported by the exchange.
type ExchangePosition struct {
	Symbol        string
	Direction     domain.Direction
	Size          float64 // always positive
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// OrderRequest describes an order to submit. Price and size must already be
// rounded to the instrument's increments.
type OrderRequest struct {
	Symbol       string
	Side         domain.OrderSide
	Direction    domain.Direction // position the order belongs to
	Type         domain.OrderType
	Quantity     float64
	TriggerPrice float64 // trigger orders only
	ReduceOnly   bool
}

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64
	Symbol        string
	ClientOrderID string
	Type          domain.OrderType
	Side          domain.OrderSide
	OrigQuantity  float64
	ExecutedQty   float64
	AvgPrice      float64
	StopPrice     float64
	Status        string // e.g. NEW, FILLED
}

// ExchangeGateway is the capability surface of the futures account.
type ExchangeGateway interface {
	// GetBalance returns the wallet balance of the quote asset.
	GetBalance(ctx context.Context) (float64, error)
	// GetAvailableBalance returns the margin available for new orders.
	GetAvailableBalance(ctx context.Context) (float64, error)
	// GetOpenPositions returns every position with nonzero size.
	GetOpenPositions(ctx context.Context) ([]ExchangePosition, error)
	// GetOpenOrders returns all open orders. forceRefresh bypasses any cache.
	GetOpenOrders(ctx context.Context, forceRefresh bool) ([]domain.ObservedOrder, error)
	// GetMidPrice returns the midpoint of the best bid and ask.
	GetMidPrice(ctx context.Context, symbol string) (float64, error)
	// GetInstrumentMeta returns tick and step sizes for symbol.
	GetInstrumentMeta(ctx context.Context, symbol string) (*domain.InstrumentMeta, error)
	// PlaceOrder submits a market or trigger order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	// CancelOrder cancels an order. Cancelling an order that no longer exists
	// is not an error.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// MarketData provides historical candles.
type MarketData interface {
	// GetKlines retrieves the most recent klines for symbol, oldest first.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)
}
