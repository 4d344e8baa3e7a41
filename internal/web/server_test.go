package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/paper_signal_engine/internal/domain"
	"github.com/vitos/paper_signal_engine/internal/indicators"
	"github.com/vitos/paper_signal_engine/internal/infrastructure/exchange"
	"github.com/vitos/paper_signal_engine/internal/infrastructure/metrics"
	"github.com/vitos/paper_signal_engine/internal/usecase"
)

func climbingBars(symbol string) []domain.PriceBar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, 60)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.PriceBar{
			Symbol: symbol, Time: start.Add(time.Duration(i) * time.Hour),
			Open: c - 0.5, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100,
		}
	}
	return bars
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bars := climbingBars("BTCUSDT")
	feed := exchange.NewReplayFeed(bars, len(bars))
	lib, err := indicators.New(indicators.BackendWilder, indicators.DefaultConfig())
	require.NoError(t, err)

	engine, err := usecase.NewTradingEngine(context.Background(), usecase.EngineConfig{
		Workers:        2,
		BarPeriod:      "60",
		InitialCapital: 100_000,
		Execution:      usecase.DefaultExecutionConfig(),
	}, usecase.EngineDeps{Market: feed, Indicators: lib})
	require.NoError(t, err)

	rec := metrics.NewRecorder()
	engine.Subscribe(rec.Observe)
	return NewServer(0, engine, []string{"BTCUSDT"}, rec.Handler(), nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) domain.Order {
	t.Helper()
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Order)
	return *resp.Order
}

func TestServer_MarketOrderFlow(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/orders", `{"symbol":"btcusdt","side":"buy","kind":"market","quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeOrder(t, rec)
	assert.Equal(t, domain.StateFilled, o.State)
	assert.Equal(t, 2.0, o.FilledQuantity)

	rec = do(t, s, "GET", "/api/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []domain.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, o.ID, trades[0].OrderID)

	rec = do(t, s, "GET", "/api/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.PortfolioSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	pos, ok := snap.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2.0, pos.Quantity)
	assert.Less(t, snap.Cash, 100_000.0)

	rec = do(t, s, "GET", "/api/orders/"+o.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, "GET", "/api/orders/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "GET", "/metrics", "")
	assert.Contains(t, rec.Body.String(), `paper_trades_total{side="BUY",symbol="BTCUSDT"} 1`)
}

func TestServer_Performance(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	rec := do(t, s, "POST", "/api/orders", `{"symbol":"BTCUSDT","side":"BUY","quantity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, s, "POST", "/api/orders", `{"symbol":"BTCUSDT","side":"SELL","quantity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	s.engine.Tick(ctx, nil)

	rec = do(t, s, "GET", "/api/performance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var perf usecase.Performance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perf))
	assert.Equal(t, 100_000.0, perf.InitialCapital)
	assert.Equal(t, 2, perf.Samples)
	assert.Equal(t, 1, perf.ClosedTrades)
	assert.Equal(t, 1, perf.LosingTrades)
	assert.Less(t, perf.TotalReturnPct, 0.0)
	assert.Less(t, perf.MaxDrawdownPct, 0.0)
}

func TestServer_PlaceOrderErrors(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/orders", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "POST", "/api/orders", `{"symbol":"BTCUSDT","side":"BUY","quantity":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	o := decodeOrder(t, rec)
	assert.Equal(t, domain.StateRejected, o.State)
	assert.Equal(t, domain.RejectInvalidQuantity, o.Reason)
}

func TestServer_CancelOrder(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "POST", "/api/orders", `{"symbol":"BTCUSDT","side":"BUY","kind":"LIMIT","quantity":1,"price":50}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	o := decodeOrder(t, rec)
	require.Equal(t, domain.StatePending, o.State)

	rec = do(t, s, "GET", "/api/orders?state=pending", "")
	var orders []domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)

	rec = do(t, s, "DELETE", "/api/orders/"+o.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StateCancelled, decodeOrder(t, rec).State)

	rec = do(t, s, "DELETE", "/api/orders/"+o.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, s, "DELETE", "/api/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "GET", "/api/orders?state=pending", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestServer_Signals(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, "GET", "/api/signals?symbols=BTCUSDT,NOPE", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var signals []domain.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signals))
	require.Len(t, signals, 1)
	assert.Equal(t, "BTCUSDT", signals[0].Symbol)

	rec = do(t, s, "GET", "/api/signals", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signals))
	assert.Len(t, signals, 1)

	rec = do(t, s, "GET", "/api/signals/recent?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signals))
	assert.Len(t, signals, 1)
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, "GET", "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServer_WebSocketStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	defer s.hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	body := bytes.NewBufferString(`{"symbol":"BTCUSDT","side":"BUY","quantity":1}`)
	resp, err := http.Post(srv.URL+"/api/orders", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, string(usecase.EventTrade), ev.Type)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, string(usecase.EventOrder), ev.Type)
}
