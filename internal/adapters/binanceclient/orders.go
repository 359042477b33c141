package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
)

const clientOrderPrefix = "pk-"

// GetOpenOrders returns every open order. forceRefresh skips the cache.
func (c *Client) GetOpenOrders(ctx context.Context, forceRefresh bool) ([]domain.ObservedOrder, error) {
	if !forceRefresh {
		if cached, ok := c.orders.get(); ok {
			return append([]domain.ObservedOrder(nil), cached...), nil
		}
	}
	op := "GetOpenOrders"
	var raw []*futures.Order
	err := c.read(ctx, op, func() (err error) {
		raw, err = c.futuresClient.NewListOpenOrdersService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.ObservedOrder, 0, len(raw))
	for _, o := range raw {
		if o == nil {
			continue
		}
		orders = append(orders, translateOrder(o))
	}
	c.orders.set(orders)
	return append([]domain.ObservedOrder(nil), orders...), nil
}

// PlaceOrder submits a market or trigger order. Trigger orders fire on mark
// price. In hedge mode the order is routed by positionSide; in one-way mode
// exits carry reduceOnly.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceOrder"
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%s: %w: quantity %.8g", op, ports.ErrInvalidRequest, req.Quantity)
	}
	meta, err := c.GetInstrumentMeta(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	quantity := meta.FormatSize(req.Quantity)
	clientID := newClientOrderID()
	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(quantity).
		NewClientOrderID(clientID)
	if c.hedgeMode {
		svc = svc.PositionSide(positionSideFor(req.Direction))
	} else if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	fields := map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type, "quantity": quantity,
		"reduceOnly": req.ReduceOnly, "clientOrderID": clientID,
	}
	if req.TriggerPrice > 0 {
		stop := meta.FormatPrice(req.TriggerPrice)
		svc = svc.StopPrice(stop).WorkingType(futures.WorkingTypeMarkPrice)
		fields["stopPrice"] = stop
	}

	var order *futures.CreateOrderResponse
	err = c.write(ctx, op, func() (err error) {
		order, err = svc.Do(ctx)
		return err
	})
	c.invalidate()
	if err != nil {
		return nil, err
	}

	resp := translateOrderResponse(order)
	fields["orderID"] = resp.OrderID
	fields["status"] = resp.Status
	c.logger.Info(ctx, op+" successful", fields)
	return resp, nil
}

// CancelOrder cancels an open order. An order that no longer exists counts
// as cancelled.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	var res *futures.CancelOrderResponse
	err := c.write(ctx, op, func() (err error) {
		res, err = c.futuresClient.NewCancelOrderService().
			Symbol(symbol).
			OrderID(orderID).
			Do(ctx)
		return err
	})
	c.invalidate()
	if errors.Is(err, ports.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": res.Status})
	return nil
}

func newClientOrderID() string {
	return clientOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func positionSideFor(dir domain.Direction) futures.PositionSideType {
	if dir == domain.Short {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}
