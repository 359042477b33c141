package binanceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"perpKeeper/internal/domain"
	"perpKeeper/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeFutures answers by path suffix so that endpoint versions do not matter.
type fakeFutures struct {
	mu       sync.Mutex
	routes   map[string][]fakeReply // suffix -> replies, last one repeats
	hits     map[string]int
	lastForm map[string]string
}

type fakeReply struct {
	status int
	body   string
}

func newFakeFutures() *fakeFutures {
	return &fakeFutures{routes: map[string][]fakeReply{}, hits: map[string]int{}}
}

func (f *fakeFutures) on(suffix string, replies ...fakeReply) {
	f.routes[suffix] = replies
}

func (f *fakeFutures) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = r.ParseForm()
	for suffix, replies := range f.routes {
		if !strings.HasSuffix(r.URL.Path, suffix) {
			continue
		}
		n := f.hits[suffix]
		f.hits[suffix] = n + 1
		if n >= len(replies) {
			n = len(replies) - 1
		}
		f.lastForm = map[string]string{}
		for k := range r.Form {
			f.lastForm[k] = r.Form.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(replies[n].status)
		_, _ = w.Write([]byte(replies[n].body))
		return
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`{"code":-1,"msg":"no route"}`))
}

func ok(body string) fakeReply { return fakeReply{status: http.StatusOK, body: body} }

const exchangeInfoJSON = `{"symbols":[{"symbol":"ETHUSDT","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.01","minPrice":"0.01","maxPrice":"100000"},
	{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"10000"}]}]}`

func setupClient(t *testing.T, f *fakeFutures) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIKey:        "key",
		SecretKey:     "secret",
		BaseURL:       srv.URL,
		Logger:        &mockLogger{},
		CacheTTL:      time.Minute,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestClient_GetOpenPositions(t *testing.T) {
	f := newFakeFutures()
	f.on("positionRisk", ok(`[
		{"symbol":"ETHUSDT","positionAmt":"-2.5","entryPrice":"3000","markPrice":"3010","unRealizedProfit":"-25","leverage":"10","positionSide":"BOTH"},
		{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0","markPrice":"60000","positionSide":"BOTH"},
		{"symbol":"SOLUSDT","positionAmt":"4","entryPrice":"150","markPrice":"151","positionSide":"LONG"}]`))
	c := setupClient(t, f)

	positions, err := c.GetOpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "ETHUSDT", positions[0].Symbol)
	assert.Equal(t, domain.Short, positions[0].Direction)
	assert.Equal(t, 2.5, positions[0].Size)
	assert.Equal(t, 3000.0, positions[0].EntryPrice)
	assert.Equal(t, domain.Long, positions[1].Direction)

	// Served from cache.
	_, err = c.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.hits["positionRisk"])
}

func TestClient_Balances(t *testing.T) {
	f := newFakeFutures()
	f.on("account", ok(`{"assets":[
		{"asset":"BNB","walletBalance":"1","availableBalance":"1"},
		{"asset":"USDT","walletBalance":"1000.5","availableBalance":"800.25"}]}`))
	c := setupClient(t, f)

	balance, err := c.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.5, balance)

	available, err := c.GetAvailableBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 800.25, available)
}

func TestClient_GetOpenOrders(t *testing.T) {
	f := newFakeFutures()
	f.on("openOrders", ok(`[
		{"symbol":"ETHUSDT","orderId":11,"clientOrderId":"a","price":"0","origQty":"10","executedQty":"0","status":"NEW","type":"STOP_MARKET","side":"SELL","stopPrice":"2925","reduceOnly":true,"positionSide":"BOTH"},
		{"symbol":"ETHUSDT","orderId":12,"clientOrderId":"b","price":"0","origQty":"3","executedQty":"1","status":"PARTIALLY_FILLED","type":"TAKE_PROFIT_MARKET","side":"SELL","stopPrice":"3030","reduceOnly":true,"positionSide":"BOTH"}]`))
	c := setupClient(t, f)
	ctx := context.Background()

	orders, err := c.GetOpenOrders(ctx, false)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.KindStopLoss, orders[0].Kind)
	assert.Equal(t, 2925.0, orders[0].TriggerPrice)
	assert.Equal(t, domain.Long, orders[0].Direction())
	assert.Equal(t, 2.0, orders[1].Size)

	_, err = c.GetOpenOrders(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.hits["openOrders"])

	_, err = c.GetOpenOrders(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.hits["openOrders"])
}

func TestClient_GetMidPrice(t *testing.T) {
	f := newFakeFutures()
	f.on("bookTicker", ok(`{"symbol":"ETHUSDT","bidPrice":"3009","bidQty":"1","askPrice":"3011","askQty":"1","time":1}`))
	c := setupClient(t, f)

	mid, err := c.GetMidPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3010.0, mid)
}

func TestClient_GetInstrumentMeta(t *testing.T) {
	f := newFakeFutures()
	f.on("exchangeInfo", ok(exchangeInfoJSON))
	c := setupClient(t, f)
	ctx := context.Background()

	meta, err := c.GetInstrumentMeta(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.01, meta.TickSize)
	assert.Equal(t, 0.001, meta.StepSize)
	assert.Equal(t, 0.001, meta.MinQty)

	_, err = c.GetInstrumentMeta(ctx, "DOGEUSDT")
	assert.ErrorIs(t, err, ports.ErrUnknownSymbol)
}

func TestClient_PlaceOrder(t *testing.T) {
	f := newFakeFutures()
	f.on("exchangeInfo", ok(exchangeInfoJSON))
	f.on("/order", ok(`{"orderId":77,"symbol":"ETHUSDT","status":"NEW","clientOrderId":"pk-1","type":"STOP_MARKET","side":"SELL","origQty":"10.000","executedQty":"0","avgPrice":"0","stopPrice":"2925.00","updateTime":1}`))
	c := setupClient(t, f)

	resp, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		Symbol:       "ETHUSDT",
		Side:         domain.Sell,
		Direction:    domain.Long,
		Type:         domain.OrderTypeStopMarket,
		Quantity:     10,
		TriggerPrice: 2925.004,
		ReduceOnly:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), resp.OrderID)
	assert.Equal(t, domain.OrderTypeStopMarket, resp.Type)
	assert.Equal(t, 2925.0, resp.StopPrice)

	assert.Equal(t, "10.000", f.lastForm["quantity"])
	assert.Equal(t, "2925.00", f.lastForm["stopPrice"])
	assert.Equal(t, "true", f.lastForm["reduceOnly"])
	assert.Equal(t, "MARK_PRICE", f.lastForm["workingType"])
	assert.True(t, strings.HasPrefix(f.lastForm["newClientOrderId"], clientOrderPrefix))
	assert.LessOrEqual(t, len(f.lastForm["newClientOrderId"]), 36)
}

func TestClient_PlaceOrderHedgeMode(t *testing.T) {
	f := newFakeFutures()
	f.on("exchangeInfo", ok(exchangeInfoJSON))
	f.on("positionSide/dual", ok(`{"dualSidePosition":true}`))
	f.on("/order", ok(`{"orderId":78,"symbol":"ETHUSDT","status":"NEW","type":"TAKE_PROFIT_MARKET","side":"BUY","origQty":"1.000"}`))
	c := setupClient(t, f)
	ctx := context.Background()

	hedge, err := c.DetectPositionMode(ctx)
	require.NoError(t, err)
	require.True(t, hedge)

	_, err = c.PlaceOrder(ctx, ports.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.Buy, Direction: domain.Short,
		Type: domain.OrderTypeTakeProfitMarket, Quantity: 1, TriggerPrice: 2970, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "SHORT", f.lastForm["positionSide"])
	assert.Empty(t, f.lastForm["reduceOnly"])
}

func TestClient_CancelOrder(t *testing.T) {
	tests := []struct {
		name    string
		reply   fakeReply
		wantErr error
	}{
		{name: "cancelled", reply: ok(`{"orderId":11,"symbol":"ETHUSDT","status":"CANCELED"}`)},
		{name: "cancel rejected", reply: fakeReply{status: http.StatusBadRequest, body: `{"code":-2011,"msg":"Unknown order sent."}`}, wantErr: ports.ErrOrderCancelFailed},
		{name: "does not exist", reply: fakeReply{status: http.StatusBadRequest, body: `{"code":-2013,"msg":"Order does not exist."}`}},
		{name: "rate limited", reply: fakeReply{status: http.StatusTooManyRequests, body: `{"code":-1003,"msg":"Too many requests."}`}, wantErr: ports.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFutures()
			f.on("/order", tt.reply)
			c := setupClient(t, f)

			err := c.CancelOrder(context.Background(), "ETHUSDT", 11)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClient_RetriesTransientReads(t *testing.T) {
	f := newFakeFutures()
	f.on("bookTicker",
		fakeReply{status: http.StatusServiceUnavailable, body: `{"code":-1001,"msg":"Internal error"}`},
		ok(`{"symbol":"ETHUSDT","bidPrice":"100","askPrice":"102"}`))
	c := setupClient(t, f)

	mid, err := c.GetMidPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.0, mid)
	assert.Equal(t, 2, f.hits["bookTicker"])
}

func TestClient_DoesNotRetryPermanentErrors(t *testing.T) {
	f := newFakeFutures()
	f.on("bookTicker", fakeReply{status: http.StatusBadRequest, body: `{"code":-1121,"msg":"Invalid symbol."}`})
	c := setupClient(t, f)

	_, err := c.GetMidPrice(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, ports.ErrUnknownSymbol)
	assert.Equal(t, 1, f.hits["bookTicker"])
}

func TestTranslateOrder(t *testing.T) {
	tests := []struct {
		name       string
		order      futures.Order
		wantDir    domain.Direction
		wantReduce bool
		wantKind   domain.OrderKind
	}{
		{
			name:       "one-way stop",
			order:      futures.Order{Side: futures.SideTypeSell, Type: futures.OrderTypeStopMarket, StopPrice: "2925", ReduceOnly: true, PositionSide: futures.PositionSideTypeBoth},
			wantDir:    domain.Long,
			wantReduce: true,
			wantKind:   domain.KindStopLoss,
		},
		{
			name:       "hedge exit without reduce flag",
			order:      futures.Order{Side: futures.SideTypeBuy, Type: futures.OrderTypeTakeProfitMarket, StopPrice: "2970", PositionSide: futures.PositionSideTypeShort},
			wantDir:    domain.Short,
			wantReduce: true,
			wantKind:   domain.KindTakeProfit,
		},
		{
			name:       "close position stop",
			order:      futures.Order{Side: futures.SideTypeBuy, Type: futures.OrderTypeStopMarket, StopPrice: "3100", ClosePosition: true},
			wantDir:    domain.Short,
			wantReduce: true,
			wantKind:   domain.KindStopLoss,
		},
		{
			name:    "plain limit",
			order:   futures.Order{Side: futures.SideTypeBuy, Type: futures.OrderTypeLimit, Price: "2900"},
			wantDir: domain.Short,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateOrder(&tt.order)
			assert.Equal(t, tt.wantDir, got.Direction())
			assert.Equal(t, tt.wantReduce, got.ReduceOnly)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantKind != "", got.IsTrigger)
		})
	}
}

func TestTTLCache(t *testing.T) {
	now := time.Unix(0, 0)
	c := newTTLCache[int](time.Second)
	c.now = func() time.Time { return now }

	_, ok := c.get()
	assert.False(t, ok)

	c.set(5)
	v, ok := c.get()
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	now = now.Add(2 * time.Second)
	_, ok = c.get()
	assert.False(t, ok)

	c.set(6)
	c.invalidate()
	_, ok = c.get()
	assert.False(t, ok)
}
