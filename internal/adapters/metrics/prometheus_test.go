package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Metrics = (*Metrics)(nil)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("")

	m.CycleCompleted(2*time.Second, nil)
	m.CycleCompleted(time.Second, errors.New("boom"))
	m.SignalReceived("openrouter", domain.ActionBuy)
	m.EntryRefused("cooldown")
	m.OrderPlaced("sl", domain.Long)
	m.OrderPlaced("sl", domain.Long)
	m.OrderCancelled("tp")
	m.StageTransition("ETHUSDT", domain.StageTP1Hit)
	m.PositionClosed(domain.CloseReasonStopLoss)
	m.SetBalance(1234.5)
	m.SetOpenPositions(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsTotal.WithLabelValues("openrouter", "buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntryRefusals.WithLabelValues("cooldown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues("sl", "long")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersCancelled.WithLabelValues("tp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageTransitions.WithLabelValues("ETHUSDT", "tp1_hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsClosed.WithLabelValues("sl")))
	assert.Equal(t, 1234.5, testutil.ToFloat64(m.Balance))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenPositions))

	require.NoError(t, m.Flush(), "no textfile configured")
}

func TestMetrics_FlushWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perpkeeper.prom")
	m := NewMetrics(path)
	m.SetOpenPositions(2)
	m.PositionClosed(domain.CloseReasonManual)

	require.NoError(t, m.Flush())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "perpkeeper_open_positions 2")
	assert.Contains(t, string(b), `perpkeeper_positions_closed_total{reason="manual"} 1`)
}

func TestMetrics_FlushFailure(t *testing.T) {
	m := NewMetrics(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, m.Flush())
}
