package domain

import "time"

// EventType classifies trade events.
type EventType string

const (
	EventTakeProfit     EventType = "tp"
	EventStopLoss       EventType = "sl"
	EventOppositeSignal EventType = "opposite_signal"
)

// TradeEvent is an entry in the append-only trade log. Cooldowns, close
// inference and flip hysteresis all read from it.
type TradeEvent struct {
	ID        int64
	Symbol    string
	Type      EventType
	Direction Direction
	Time      time.Time
	Details   string
}
