package binanceclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"futuresDesk/internal/domain"
	"futuresDesk/internal/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {}

// fakeExchange serves canned futures REST replies and records the requests it saw.
type fakeExchange struct {
	mu       sync.Mutex
	forms    map[string][]map[string]string
	replies  map[string]string // "METHOD path" -> JSON body
	failures map[string]string // "METHOD path" -> JSON API error, sent with status 400
}

func newFakeExchange(t *testing.T) (*fakeExchange, *Client) {
	t.Helper()
	fx := &fakeExchange{
		forms:    map[string][]map[string]string{},
		replies:  map[string]string{},
		failures: map[string]string{},
	}
	srv := httptest.NewServer(fx)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "key", SecretKey: "secret", BaseURL: srv.URL, AccountID: "acc1", Logger: mockLogger{}, RateLimit: 1000})
	require.NoError(t, err)
	return fx, c
}

func (fx *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	route := r.Method + " " + r.URL.Path
	form := map[string]string{}
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}

	fx.mu.Lock()
	fx.forms[route] = append(fx.forms[route], form)
	reply, ok := fx.replies[route]
	failure, failed := fx.failures[route]
	fx.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case failed:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, failure)
	case ok:
		fmt.Fprint(w, reply)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":-5000,"msg":"unexpected route"}`)
	}
}

func (fx *fakeExchange) calls(route string) []map[string]string {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.forms[route]
}

func TestPlaceOrder_MarketReturnsFill(t *testing.T) {
	fx, c := newFakeExchange(t)
	fx.replies["POST /fapi/v1/order"] = `{"orderId":101,"symbol":"BTCUSDT","status":"FILLED","clientOrderId":"em_acc1_BTCUSDT_001",
		"price":"0","avgPrice":"70000.10","origQty":"0.010","executedQty":"0.010","cumQuote":"700.001","timeInForce":"GTC",
		"type":"MARKET","reduceOnly":false,"side":"BUY","stopPrice":"0","updateTime":1700000000000}`

	res, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          domain.Buy,
		Type:          domain.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("0.010"),
		ClientOrderID: "em_acc1_BTCUSDT_001",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(101), res.OrderID)
	assert.Equal(t, domain.StatusFilled, res.Status)
	assert.True(t, res.IsFilled())
	assert.True(t, decimal.RequireFromString("70000.1").Equal(res.FillPrice()))
	assert.True(t, decimal.RequireFromString("0.01").Equal(res.FilledQty()))

	calls := fx.calls("POST /fapi/v1/order")
	require.Len(t, calls, 1)
	assert.Equal(t, "BTCUSDT", calls[0]["symbol"])
	assert.Equal(t, "BUY", calls[0]["side"])
	assert.Equal(t, "MARKET", calls[0]["type"])
	assert.Equal(t, "0.01", calls[0]["quantity"])
	assert.Equal(t, "em_acc1_BTCUSDT_001", calls[0]["newClientOrderId"])
	assert.Equal(t, "RESULT", calls[0]["newOrderRespType"])
	assert.NotEmpty(t, calls[0]["signature"])
}

func TestPlaceOrder_StopMarketIsReduceOnly(t *testing.T) {
	fx, c := newFakeExchange(t)
	fx.replies["POST /fapi/v1/order"] = `{"orderId":102,"symbol":"BTCUSDT","status":"NEW","clientOrderId":"sl_acc1_BTCUSDT_002",
		"origQty":"0.010","executedQty":"0","type":"STOP_MARKET","reduceOnly":true,"side":"SELL","stopPrice":"69000"}`

	res, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       domain.Sell,
		Type:       domain.OrderTypeStopMarket,
		Quantity:   decimal.RequireFromString("0.01"),
		StopPrice:  decimal.RequireFromString("69000"),
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, res.IsOpen())
	assert.True(t, res.ReduceOnly)

	form := fx.calls("POST /fapi/v1/order")[0]
	assert.Equal(t, "69000", form["stopPrice"])
	assert.Equal(t, "true", form["reduceOnly"])
	assert.Equal(t, "MARK_PRICE", form["workingType"])
}

func TestPlaceOrder_RejectsInvalidRequests(t *testing.T) {
	_, c := newFakeExchange(t)
	tests := []struct {
		name string
		req  ports.OrderRequest
	}{
		{"no symbol", ports.OrderRequest{Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1)}},
		{"zero quantity", ports.OrderRequest{Symbol: "BTCUSDT", Type: domain.OrderTypeMarket}},
		{"limit without price", ports.OrderRequest{Symbol: "BTCUSDT", Type: domain.OrderTypeLimit, Quantity: decimal.NewFromInt(1)}},
		{"stop without trigger", ports.OrderRequest{Symbol: "BTCUSDT", Type: domain.OrderTypeStopMarket, Quantity: decimal.NewFromInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.PlaceOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, ports.ErrInvalidRequest)
		})
	}
}

func TestPlaceBatch_RejectsOversizedBatch(t *testing.T) {
	_, c := newFakeExchange(t)
	reqs := make([]ports.OrderRequest, maxBatchOrders+1)
	_, err := c.PlaceBatch(context.Background(), reqs)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = c.CancelBatch(context.Background(), "BTCUSDT", make([]int64, maxBatchCancel+1))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestCancelOrder_MapsAPIErrors(t *testing.T) {
	fx, c := newFakeExchange(t)
	fx.failures["DELETE /fapi/v1/order"] = `{"code":-2013,"msg":"Order does not exist."}`

	_, err := c.CancelOrder(context.Background(), "BTCUSDT", 77)
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
	assert.ErrorIs(t, err, ports.ErrExchangeRejection)
	assert.Len(t, fx.calls("DELETE /fapi/v1/order"), 1)
}

func TestMapAPIError(t *testing.T) {
	tests := []struct {
		code int64
		want error
	}{
		{-1003, ports.ErrRateLimited},
		{-1021, ports.ErrTimeout},
		{-1022, ports.ErrAuthenticationFailed},
		{-1111, ports.ErrInvalidRequest},
		{-2010, ports.ErrOrderPlacementFailed},
		{-2011, ports.ErrOrderCancelFailed},
		{-2013, ports.ErrOrderNotFound},
		{-2015, ports.ErrInvalidAPIKeys},
		{-2019, ports.ErrInsufficientFunds},
		{-2022, ports.ErrReduceOnlyRejected},
		{-4164, ports.ErrInvalidRequest},
		{-9999, ports.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.ErrorIs(t, mapAPIError(tt.code), tt.want)
		})
	}
}

func TestSessionKeys(t *testing.T) {
	fx, c := newFakeExchange(t)
	fx.replies["POST /fapi/v1/listenKey"] = `{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`
	fx.replies["PUT /fapi/v1/listenKey"] = `{}`
	fx.replies["DELETE /fapi/v1/listenKey"] = `{}`
	ctx := context.Background()

	key, err := c.CreateSessionKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1", key)

	require.NoError(t, c.KeepAliveSessionKey(ctx, key))
	require.NoError(t, c.KeepAliveSessionKey(ctx, key))
	require.NoError(t, c.DeleteSessionKey(ctx, key))
	assert.Len(t, fx.calls("PUT /fapi/v1/listenKey"), 2)
	assert.Len(t, fx.calls("DELETE /fapi/v1/listenKey"), 1)
}

func TestSymbolCache(t *testing.T) {
	fx, c := newFakeExchange(t)
	fx.replies["GET /fapi/v1/exchangeInfo"] = `{"timezone":"UTC","serverTime":1700000000000,"symbols":[
		{"symbol":"BTCUSDT","pricePrecision":2,"quantityPrecision":3,"filters":[
			{"filterType":"PRICE_FILTER","minPrice":"556.80","maxPrice":"4529764","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
			{"filterType":"MIN_NOTIONAL","notional":"100"}]},
		{"symbol":"BROKENUSDT","pricePrecision":2,"filters":[]}]}`
	cache := NewSymbolCache(c, 0)
	ctx := context.Background()

	info, err := cache.SymbolInfo(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(2), info.PricePrecision)
	assert.True(t, decimal.RequireFromString("0.1").Equal(info.TickSize))
	assert.True(t, decimal.RequireFromString("0.001").Equal(info.StepSize))
	assert.True(t, decimal.RequireFromString("0.001").Equal(info.MinQty))
	assert.True(t, decimal.RequireFromString("100").Equal(info.MinNotional))

	// served from cache
	_, err = cache.SymbolInfo(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, fx.calls("GET /fapi/v1/exchangeInfo"), 1)

	_, err = cache.SymbolInfo(ctx, "NOPEUSDT")
	assert.ErrorIs(t, err, ports.ErrMissingSymbolInfo)

	_, err = cache.SymbolInfo(ctx, "BROKENUSDT")
	assert.ErrorIs(t, err, ports.ErrMissingSymbolInfo)
}

func TestProviderReusesClients(t *testing.T) {
	p, err := NewProvider(Config{Logger: mockLogger{}, UseTestnet: true})
	require.NoError(t, err)

	a := p.ForAccount(domain.Account{ID: "acc1", APIKey: "k1", SecretKey: "s1"})
	b := p.ForAccount(domain.Account{ID: "acc1", APIKey: "k1", SecretKey: "s1"})
	other := p.ForAccount(domain.Account{ID: "acc2", APIKey: "k2", SecretKey: "s2"})
	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, baseURLTestnet, a.(*Client).futuresClient.BaseURL)

	_, err = NewProvider(Config{})
	assert.Error(t, err)
}
