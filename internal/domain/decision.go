package domain

import (
	"fmt"
	"strings"
)

// Action is the intent returned by a signal source.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Decision is a parsed trade intent. Symbol is empty for hold.
type Decision struct {
	Action Action
	Symbol string
	Reason string
}

// Hold builds a hold decision with a reason.
func Hold(reason string) Decision {
	return Decision{Action: ActionHold, Reason: reason}
}

// IsTrade reports whether the decision asks for an order.
func (d Decision) IsTrade() bool {
	return (d.Action == ActionBuy || d.Action == ActionSell) && d.Symbol != ""
}

// Direction of the position a trade decision opens.
func (d Decision) Direction() Direction {
	if d.Action == ActionSell {
		return Short
	}
	return Long
}

// String renders the wire form: hold, buy_SYMBOL or sell_SYMBOL.
func (d Decision) String() string {
	if !d.IsTrade() {
		return string(ActionHold)
	}
	return string(d.Action) + "_" + d.Symbol
}

// ParseDecision parses hold, buy_SYMBOL or sell_SYMBOL. Symbols are upper-cased.
func ParseDecision(s string) (Decision, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, string(ActionHold)) {
		return Decision{Action: ActionHold}, nil
	}
	action, symbol, ok := strings.Cut(s, "_")
	if !ok || symbol == "" {
		return Decision{}, fmt.Errorf("invalid decision %q", s)
	}
	switch Action(strings.ToLower(action)) {
	case ActionBuy:
		return Decision{Action: ActionBuy, Symbol: strings.ToUpper(symbol)}, nil
	case ActionSell:
		return Decision{Action: ActionSell, Symbol: strings.ToUpper(symbol)}, nil
	}
	return Decision{}, fmt.Errorf("invalid decision action %q", action)
}
