package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpsim/pkg/account"
	"perpsim/pkg/clock"
	"perpsim/pkg/common"
	"perpsim/pkg/engine"
	"perpsim/pkg/marketdata"
	"perpsim/pkg/pricing"
	"perpsim/pkg/report"
	"perpsim/pkg/state"
	"perpsim/pkg/utility/fixed"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const symbol = "BTC-USDT"

func candle(offsetMinutes int, open, high, low, close float64) common.Candle {
	return common.Candle{
		Symbol:    symbol,
		Timestamp: start.Add(time.Duration(offsetMinutes) * time.Minute),
		Open:      fixed.FromFloat64(open),
		High:      fixed.FromFloat64(high),
		Low:       fixed.FromFloat64(low),
		Close:     fixed.FromFloat64(close),
		Volume:    fixed.Hundred,
	}
}

func newTestServer(t *testing.T) (*Server, *clock.Clock) {
	t.Helper()

	store := marketdata.NewMemory()
	store.Add(
		candle(0, 1, 1, 1, 1),
		candle(1, 1.02, 1.10, 1.01, 1.08),
		candle(2, 1.08, 1.12, 1.05, 1.06),
	)
	clk := clock.New(start)
	eng := engine.New(
		account.NewLedger("USDT", fixed.Thousand),
		account.NewBook(),
		pricing.NewPolicy(pricing.WithSlippageTiers(nil)),
		store, clk, "USDT",
		engine.WithDefaultLeverage(10),
	)
	clk.Subscribe(eng.OnTick)

	srv := NewServer("127.0.0.1:0", eng, store, clk,
		state.NewManager(t.TempDir(), nil), report.NewRecorder(), nil)
	eng.AddFillListener(srv.OnFill)
	eng.AddCloseListener(srv.OnClose)
	return srv, clk
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestServer_CreateOrderWithTriggers(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec, env := doJSON(t, handler, http.MethodPost, "/openApi/swap/v2/trade/order", map[string]any{
		"symbol":     symbol,
		"side":       "BUY",
		"type":       "MARKET",
		"quantity":   100,
		"takeProfit": map[string]any{"stopPrice": 1.05},
		"immediate":  true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 0, env.Code)

	data := env.Data.(map[string]any)
	order := data["order"].(map[string]any)
	assert.Equal(t, "FILLED", order["status"])
	assert.Equal(t, "BUY", order["side"])
	assert.Equal(t, "LONG", order["positionSide"])
	assert.Equal(t, "1.05", *strPtr(order["takeProfit"]))

	execution := data["execution"].(map[string]any)
	assert.Equal(t, true, execution["triggered"])
	assert.Equal(t, "TAKE_PROFIT", execution["trigger_type"])
	assert.Equal(t, "1.05", execution["trigger_price"])
	assert.Equal(t, "50.00", execution["pnl"])
}

func strPtr(v any) *string {
	if v == nil {
		return nil
	}
	s := v.(string)
	return &s
}

func TestServer_CreateOrderStringTrigger(t *testing.T) {
	srv, _ := newTestServer(t)

	// Some clients double-encode the trigger as a JSON string.
	body := fmt.Sprintf(`{"symbol":%q,"side":"BUY","type":"MARKET","quantity":10,"stopLoss":"{\"stopPrice\":0.95}"}`, symbol)
	req := httptest.NewRequest(http.MethodPost, "/openApi/swap/v2/trade/order", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	order := env.Data.(map[string]any)["order"].(map[string]any)
	assert.Equal(t, "0.95", *strPtr(order["stopLoss"]))
}

func TestServer_CreateOrderRejections(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"unknown symbol", map[string]any{"symbol": "NOPE-USDT", "side": "BUY", "type": "MARKET", "quantity": 1}, http.StatusNotFound},
		{"bad side", map[string]any{"symbol": symbol, "side": "HOLD", "type": "MARKET", "quantity": 1}, http.StatusBadRequest},
		{"insufficient balance", map[string]any{"symbol": symbol, "side": "BUY", "type": "MARKET", "quantity": 10000000}, http.StatusBadRequest},
		{"zero quantity", map[string]any{"symbol": symbol, "side": "BUY", "type": "MARKET", "quantity": 0}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := doJSON(t, handler, http.MethodPost, "/openApi/swap/v2/trade/order", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEqual(t, 0, env.Code)
		})
	}
}

func TestServer_OrderLifecycleEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	_, env := doJSON(t, handler, http.MethodPost, "/openApi/swap/v2/trade/order", map[string]any{
		"symbol": symbol, "side": "BUY", "type": "LIMIT", "quantity": 10, "price": 0.9,
	})
	orderID := env.Data.(map[string]any)["order"].(map[string]any)["orderId"].(string)

	rec, env := doJSON(t, handler, http.MethodGet, "/openApi/swap/v2/trade/openOrders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data.([]any), 1)

	rec, env = doJSON(t, handler, http.MethodGet, "/openApi/swap/v2/trade/order?orderId="+orderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING", env.Data.(map[string]any)["status"])

	rec, _ = doJSON(t, handler, http.MethodDelete, "/openApi/swap/v2/trade/order?orderId="+orderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodDelete, "/openApi/swap/v2/trade/order?orderId="+orderID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = doJSON(t, handler, http.MethodGet, "/openApi/swap/v2/trade/allOrders?symbol="+symbol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data.([]any), 1)
}

func TestServer_TimeAdvanceDrivesTheEngine(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	_, _ = doJSON(t, handler, http.MethodPost, "/openApi/swap/v2/trade/order", map[string]any{
		"symbol": symbol, "side": "BUY", "type": "MARKET", "quantity": 100,
		"takeProfit": map[string]any{"stopPrice": 1.05},
	})

	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/time/advance", map[string]any{"steps": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(start.Add(time.Minute).UnixMilli()), env.Data.(map[string]any)["timestamp"])

	// The TP at 1.05 fired during the advance.
	_, env = doJSON(t, handler, http.MethodGet, "/openApi/swap/v2/user/positions", nil)
	assert.Empty(t, env.Data.([]any))

	_, env = doJSON(t, handler, http.MethodGet, "/api/v1/trading/summary", nil)
	summary := env.Data.(map[string]any)
	assert.Equal(t, float64(1), summary["trades"])
	assert.Equal(t, "5.00", summary["totalPnl"])
}

func TestServer_KlinesNeverServeTheFuture(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec, env := doJSON(t, handler, http.MethodGet,
		"/api/v1/time/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(start.UnixMilli()), env.Data.(map[string]any)["timestamp"])

	rec, env = doJSON(t, handler, http.MethodGet,
		"/openApi/swap/v3/quote/klines?symbol="+symbol+"&interval=1m&limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// Only the candle at the current virtual minute is visible.
	assert.Len(t, env.Data.([]any), 1)

	rec, _ = doJSON(t, handler, http.MethodGet,
		"/openApi/swap/v3/quote/klines?symbol=NOPE-USDT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BalanceDepthSymbolsHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec, env := doJSON(t, handler, http.MethodGet, "/openApi/swap/v2/user/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := env.Data.([]any)[0].(map[string]any)
	assert.Equal(t, "USDT", balance["asset"])
	assert.Equal(t, "1000", balance["total"])

	rec, env = doJSON(t, handler, http.MethodGet, "/openApi/swap/v2/quote/depth?symbol="+symbol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	depth := env.Data.(map[string]any)
	assert.Len(t, depth["bids"].([]any), 3)

	rec, env = doJSON(t, handler, http.MethodGet, "/api/v1/symbols", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), env.Data.(map[string]any)["count"])

	rec, _ = doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	handler.ServeHTTP(metricsRec, req)
	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "perpsim_clock_steps_total")
}

func TestServer_SetLeverage(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec, _ := doJSON(t, handler, http.MethodPost, "/openApi/swap/v2/trade/leverage",
		map[string]any{"symbol": symbol, "leverage": 20})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodPost, "/openApi/swap/v2/trade/leverage",
		map[string]any{"symbol": symbol, "leverage": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StateSaveAndClear(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/state/save", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/v1/state/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StreamBroadcastsFills(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := http.Post(ts.URL+"/openApi/swap/v2/trade/order", "application/json",
		strings.NewReader(fmt.Sprintf(`{"symbol":%q,"side":"BUY","type":"MARKET","quantity":10}`, symbol)))
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event StreamEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "ORDER_FILLED", event.Type)
	assert.Equal(t, start.UnixMilli(), event.Time)
}
