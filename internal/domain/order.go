package domain

// OrderKind is the protective role of a trigger order.
type OrderKind string

const (
	KindStopLoss   OrderKind = "sl"
	KindTakeProfit OrderKind = "tp"
)

// OrderType is the exchange order type used by this bot.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// KindForType maps an authoritative trigger order type onto its kind.
// The second result is false when the type carries no role.
func KindForType(t OrderType) (OrderKind, bool) {
	switch t {
	case OrderTypeStopMarket, "STOP":
		return KindStopLoss, true
	case OrderTypeTakeProfitMarket, "TAKE_PROFIT":
		return KindTakeProfit, true
	}
	return "", false
}

// TypeForKind is the order type submitted for a protective order of kind k.
func TypeForKind(k OrderKind) OrderType {
	if k == KindStopLoss {
		return OrderTypeStopMarket
	}
	return OrderTypeTakeProfitMarket
}

// ObservedOrder is a live order as reported by the exchange.
type ObservedOrder struct {
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Side          OrderSide
	PositionSide  Direction // empty in one-way mode
	Type          OrderType
	Size          float64
	TriggerPrice  float64
	LimitPrice    float64
	IsTrigger     bool
	ReduceOnly    bool
	Kind          OrderKind // set only when Type is authoritative
}

// Direction resolves which position the order protects. Hedge-mode orders
// carry it explicitly; one-way orders are inferred from the exit side.
func (o *ObservedOrder) Direction() Direction {
	if o.PositionSide.Valid() {
		return o.PositionSide
	}
	if o.Side == Sell {
		return Long
	}
	return Short
}

// TargetOrder is one protective order the engine wants on the exchange.
type TargetOrder struct {
	Kind         OrderKind
	TriggerPrice float64
	Size         float64
	Clamped      bool // trigger was moved to a safe offset from market
}

// TargetOrderSet is the intended protective state of one position.
type TargetOrderSet struct {
	StopLoss   *TargetOrder
	TakeProfit *TargetOrder
}

// Get returns the target for kind, or nil.
func (s TargetOrderSet) Get(kind OrderKind) *TargetOrder {
	if kind == KindStopLoss {
		return s.StopLoss
	}
	return s.TakeProfit
}
