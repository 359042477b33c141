package domain

import (
	"fmt"
	"strings"
)

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// EntrySide returns the order side that opens or grows a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == Short {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side that reduces a position in this direction.
func (d Direction) ExitSide() OrderSide {
	if d == Short {
		return Buy
	}
	return Sell
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// ParseDirection accepts long/short and the buy/sell aliases.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonTakeProfit CloseReason = "tp"
	CloseReasonStopLoss   CloseReason = "sl"
	CloseReasonManual     CloseReason = "manual"
	CloseReasonFlip       CloseReason = "flip"
)

// Stage is the take-profit progress of an open position.
type Stage string

const (
	StageInitial Stage = "initial"
	StageTP1Hit  Stage = "tp1_hit"
	StageTP2Hit  Stage = "tp2_hit"
)

// Rank orders stages so that monotonicity can be checked.
func (s Stage) Rank() int {
	switch s {
	case StageTP1Hit:
		return 1
	case StageTP2Hit:
		return 2
	}
	return 0
}
