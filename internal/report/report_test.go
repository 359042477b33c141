package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// readOnlyGateway fails the test on any write.
type readOnlyGateway struct {
	t          *testing.T
	balance    float64
	balanceErr error
	positions  []ports.ExchangePosition
	orders     []domain.ObservedOrder
	mid        map[string]float64
}

func (g *readOnlyGateway) GetBalance(ctx context.Context) (float64, error) {
	return g.balance, g.balanceErr
}
func (g *readOnlyGateway) GetAvailableBalance(ctx context.Context) (float64, error) {
	return g.balance, nil
}
func (g *readOnlyGateway) GetOpenPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	return g.positions, nil
}
func (g *readOnlyGateway) GetOpenOrders(ctx context.Context, forceRefresh bool) ([]domain.ObservedOrder, error) {
	return g.orders, nil
}
func (g *readOnlyGateway) GetMidPrice(ctx context.Context, symbol string) (float64, error) {
	if p, ok := g.mid[symbol]; ok {
		return p, nil
	}
	return 0, ports.ErrNoPrice
}
func (g *readOnlyGateway) GetInstrumentMeta(ctx context.Context, symbol string) (*domain.InstrumentMeta, error) {
	return nil, ports.ErrUnknownSymbol
}
func (g *readOnlyGateway) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	g.t.Fatalf("report placed an order: %+v", req)
	return nil, nil
}
func (g *readOnlyGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	g.t.Fatalf("report cancelled order %d", orderID)
	return nil
}

// recordStore serves GetOpen and fails the test on any write.
type recordStore struct {
	t       *testing.T
	records []*domain.PositionRecord
}

func (s *recordStore) GetOpen(ctx context.Context, symbol string, dir domain.Direction) (*domain.PositionRecord, error) {
	for _, r := range s.records {
		if r.Symbol == symbol && r.Direction == dir {
			return r, nil
		}
	}
	return nil, nil
}
func (s *recordStore) ListOpen(ctx context.Context) ([]*domain.PositionRecord, error) {
	return s.records, nil
}
func (s *recordStore) ListClosed(ctx context.Context, limit int) ([]*domain.PositionRecord, error) {
	return nil, nil
}
func (s *recordStore) Create(ctx context.Context, rec *domain.PositionRecord) (int64, error) {
	s.t.Fatal("report created a record")
	return 0, nil
}
func (s *recordStore) Update(ctx context.Context, rec *domain.PositionRecord, events ...*domain.TradeEvent) error {
	s.t.Fatal("report updated a record")
	return nil
}
func (s *recordStore) CloseOpen(ctx context.Context, symbol string, dir domain.Direction, reason domain.CloseReason, at time.Time) (int64, error) {
	s.t.Fatal("report closed records")
	return 0, nil
}

func TestReporter_Render(t *testing.T) {
	gw := &readOnlyGateway{
		t:       t,
		balance: 1234.5,
		positions: []ports.ExchangePosition{
			{Symbol: "SOLUSDT", Direction: domain.Short, Size: 10, EntryPrice: 150, MarkPrice: 149},
			{Symbol: "ETHUSDT", Direction: domain.Long, Size: 0.7, EntryPrice: 3000},
		},
		orders: []domain.ObservedOrder{
			{Symbol: "ETHUSDT", OrderID: 2, Side: domain.Sell, Type: domain.OrderTypeTakeProfitMarket, Kind: domain.KindTakeProfit, IsTrigger: true, Size: 0.14, TriggerPrice: 3060},
			{Symbol: "ETHUSDT", OrderID: 1, Side: domain.Sell, Type: domain.OrderTypeStopMarket, Kind: domain.KindStopLoss, IsTrigger: true, Size: 0.7, TriggerPrice: 3000},
			{Symbol: "BTCUSDT", OrderID: 3, Side: domain.Sell, Type: domain.OrderTypeStopMarket, Kind: domain.KindStopLoss, IsTrigger: true, Size: 1, TriggerPrice: 50000},
		},
		mid: map[string]float64{"ETHUSDT": 3050},
	}
	store := &recordStore{t: t, records: []*domain.PositionRecord{
		{Symbol: "ETHUSDT", Direction: domain.Long, Quantity: 0.7, OriginalQuantity: 1, TP1Hit: true, Status: domain.StatusOpen},
	}}
	r, err := NewReporter(gw, store, nopLogger{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(context.Background(), &buf))
	out := buf.String()

	assert.Contains(t, out, "Balance: 1234.50 USDT")
	assert.Contains(t, out, "Open positions: 2")
	assert.Less(t, strings.Index(out, "ETHUSDT"), strings.Index(out, "SOLUSDT"), "positions sorted by symbol")

	ethLine := lineWith(out, "ETHUSDT")
	assert.Contains(t, ethLine, "LONG")
	assert.Contains(t, ethLine, "+35.00", "(3050-3000)*0.7")
	assert.Contains(t, ethLine, "tp1_hit")
	assert.Regexp(t, `\s1$`, strings.TrimRight(ethLine, " "), "original size")

	assert.Less(t, strings.Index(out, "SL"), strings.Index(out, "TP"), "stop listed first")
	assert.Contains(t, lineWith(out, "SL"), "(100%)")
	assert.Contains(t, lineWith(out, "TP"), "(20%)")
	assert.NotContains(t, out, "50000", "orders of other symbols are not shown")

	solLine := lineWith(out, "SOLUSDT")
	assert.Contains(t, solLine, "SHORT")
	assert.Contains(t, solLine, "+10.00", "falls back to mark price: (149-150)*10*-1")
	assert.Contains(t, solLine, " - ", "no record")
}

func TestReporter_RenderFlat(t *testing.T) {
	r, err := NewReporter(&readOnlyGateway{t: t, balance: 50}, &recordStore{t: t}, nopLogger{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(context.Background(), &buf))
	assert.Equal(t, "=== Account ===\nBalance: 50.00 USDT\nOpen positions: 0\n", buf.String())
}

func TestReporter_BalanceError(t *testing.T) {
	gw := &readOnlyGateway{t: t, balanceErr: errors.New("boom")}
	r, err := NewReporter(gw, &recordStore{t: t}, nopLogger{})
	require.NoError(t, err)
	assert.Error(t, r.Render(context.Background(), &bytes.Buffer{}))
}

func TestNewReporter_Validation(t *testing.T) {
	_, err := NewReporter(nil, &recordStore{t: t}, nopLogger{})
	assert.Error(t, err)
}

func lineWith(out, needle string) string {
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(l, needle) {
			return l
		}
	}
	return ""
}
