// Package metrics records bot activity in Prometheus collectors and writes
// them to a node-exporter textfile after every cycle.
package metrics

import (
	"fmt"
	"time"

	"perpKeeper/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the keeper.
type Metrics struct {
	registry *prometheus.Registry
	textfile string

	CyclesTotal      *prometheus.CounterVec // labels: result=ok|error
	CycleDuration    prometheus.Histogram
	SignalsTotal     *prometheus.CounterVec // labels: source, action
	EntryRefusals    *prometheus.CounterVec // labels: reason
	OrdersPlaced     *prometheus.CounterVec // labels: kind, direction
	OrdersCancelled  *prometheus.CounterVec // labels: kind
	StageTransitions *prometheus.CounterVec // labels: symbol, stage
	PositionsClosed  *prometheus.CounterVec // labels: reason
	Balance          prometheus.Gauge
	OpenPositions    prometheus.Gauge
	LastCycle        prometheus.Gauge
}

// NewMetrics registers every collector on a private registry. An empty
// textfile path turns Flush into a no-op.
func NewMetrics(textfile string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		textfile: textfile,
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_cycles_total",
			Help: "Completed cycles by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "perpkeeper_cycle_duration_seconds",
			Help:    "Wall time of one cycle",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_signals_total",
			Help: "Decisions received from signal sources",
		}, []string{"source", "action"}),
		EntryRefusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_entry_refusals_total",
			Help: "Trade decisions not executed, by gate",
		}, []string{"reason"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_orders_placed_total",
			Help: "Orders submitted, by kind and position direction",
		}, []string{"kind", "direction"}),
		OrdersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_orders_cancelled_total",
			Help: "Orders cancelled, by kind",
		}, []string{"kind"}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_stage_transitions_total",
			Help: "Take-profit stage transitions",
		}, []string{"symbol", "stage"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpkeeper_positions_closed_total",
			Help: "Position records closed, by inferred reason",
		}, []string{"reason"}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpkeeper_balance_usdt",
			Help: "Wallet balance in the quote asset",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpkeeper_open_positions",
			Help: "Open positions seen on the exchange",
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpkeeper_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),
	}

	m.registry.MustRegister(
		m.CyclesTotal, m.CycleDuration, m.SignalsTotal, m.EntryRefusals,
		m.OrdersPlaced, m.OrdersCancelled, m.StageTransitions, m.PositionsClosed,
		m.Balance, m.OpenPositions, m.LastCycle,
	)
	return m
}

func (m *Metrics) CycleCompleted(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.LastCycle.SetToCurrentTime()
}

func (m *Metrics) SignalReceived(source string, action domain.Action) {
	m.SignalsTotal.WithLabelValues(source, string(action)).Inc()
}

func (m *Metrics) EntryRefused(reason string) {
	m.EntryRefusals.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderPlaced(kind string, dir domain.Direction) {
	m.OrdersPlaced.WithLabelValues(kind, string(dir)).Inc()
}

func (m *Metrics) OrderCancelled(kind string) {
	m.OrdersCancelled.WithLabelValues(kind).Inc()
}

func (m *Metrics) StageTransition(symbol string, stage domain.Stage) {
	m.StageTransitions.WithLabelValues(symbol, string(stage)).Inc()
}

func (m *Metrics) PositionClosed(reason domain.CloseReason) {
	m.PositionsClosed.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) SetBalance(balance float64) {
	m.Balance.Set(balance)
}

func (m *Metrics) SetOpenPositions(n int) {
	m.OpenPositions.Set(float64(n))
}

// Flush writes the registry to the textfile atomically.
func (m *Metrics) Flush() error {
	if m.textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", m.textfile, err)
	}
	return nil
}
