package binanceclient

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
)

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	stopPrice, _ := strconv.ParseFloat(order.StopPrice, 64)

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Type:          domain.OrderType(order.Type),
		Side:          domain.OrderSide(order.Side),
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		AvgPrice:      avgPrice,
		StopPrice:     stopPrice,
		Status:        string(order.Status),
	}
}

// translatePositionRisk maps a position row; ok is false for flat rows.
func translatePositionRisk(pos *futures.PositionRisk) (ports.ExchangePosition, bool) {
	if pos == nil {
		return ports.ExchangePosition{}, false
	}
	amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	if amt == 0 {
		return ports.ExchangePosition{}, false
	}
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	leverage, _ := strconv.Atoi(pos.Leverage)

	dir := domain.Long
	switch futures.PositionSideType(pos.PositionSide) {
	case futures.PositionSideTypeLong:
	case futures.PositionSideTypeShort:
		dir = domain.Short
	default:
		if amt < 0 {
			dir = domain.Short
		}
	}

	return ports.ExchangePosition{
		Symbol:        pos.Symbol,
		Direction:     dir,
		Size:          math.Abs(amt),
		EntryPrice:    entryPrice,
		MarkPrice:     markPrice,
		UnrealizedPnL: unProfit,
		Leverage:      leverage,
	}, true
}

func translateOrder(o *futures.Order) domain.ObservedOrder {
	orig, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	executed, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	stop, _ := strconv.ParseFloat(o.StopPrice, 64)
	limit, _ := strconv.ParseFloat(o.Price, 64)

	obs := domain.ObservedOrder{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          domain.OrderSide(o.Side),
		Type:          domain.OrderType(o.Type),
		Size:          orig - executed,
		TriggerPrice:  stop,
		LimitPrice:    limit,
		IsTrigger:     stop > 0,
		ReduceOnly:    o.ReduceOnly || o.ClosePosition,
	}
	switch o.PositionSide {
	case futures.PositionSideTypeLong:
		obs.PositionSide = domain.Long
	case futures.PositionSideTypeShort:
		obs.PositionSide = domain.Short
	}
	// Hedge-mode exits do not carry reduceOnly; the side gives them away.
	if obs.PositionSide.Valid() && obs.Side == obs.PositionSide.ExitSide() {
		obs.ReduceOnly = true
	}
	if kind, ok := domain.KindForType(obs.Type); ok {
		obs.Kind = kind
		obs.IsTrigger = true
	}
	return obs
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
