package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ensemble-trader/internal/broker"
	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/resilience"
	"ensemble-trader/internal/store"
	"ensemble-trader/internal/trading"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(models.MarketSnapshot), args.Error(1)
}

func (m *mockPipeline) Analyze(ctx context.Context, snap models.MarketSnapshot) (models.Decision, error) {
	args := m.Called(ctx, snap)
	return args.Get(0).(models.Decision), args.Error(1)
}

func (m *mockPipeline) Trade(ctx context.Context, snap models.MarketSnapshot) (*trading.Result, error) {
	args := m.Called(ctx, snap)
	res, _ := args.Get(0).(*trading.Result)
	return res, args.Error(1)
}

type fakeTrades struct {
	trades []models.TradeRecord
	err    error
	filter store.TradeFilter
}

func (f *fakeTrades) RecentTrades(_ context.Context, filter store.TradeFilter) ([]models.TradeRecord, error) {
	f.filter = filter
	return f.trades, f.err
}

type testServer struct {
	pipeline  *mockPipeline
	settings  *config.Settings
	trades    *fakeTrades
	positions *broker.MemoryPositionStore
	server    *Server
	handler   http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		pipeline:  &mockPipeline{},
		settings:  config.NewSettings(config.NewMemoryStore(), nil),
		trades:    &fakeTrades{},
		positions: broker.NewMemoryPositionStore(),
	}
	srv := NewServer(Deps{
		Pipeline:  ts.pipeline,
		Settings:  ts.settings,
		Trades:    ts.trades,
		Positions: broker.NewVirtualLedger(ts.positions),
	}, ":0", zerolog.Nop())
	ts.server = srv
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

type fixedHealth struct {
	health resilience.SystemHealth
}

func (f fixedHealth) Check(context.Context) resilience.SystemHealth { return f.health }

func TestHealth_Components(t *testing.T) {
	ts := newTestServer(t)
	ts.server.deps.Health = fixedHealth{resilience.SystemHealth{
		Status: resilience.HealthStatusDegraded,
		Uptime: 90 * time.Second,
		Components: []resilience.ComponentHealth{
			{Name: "llm", Status: resilience.HealthStatusDegraded, Message: "circuit breaker open"},
		},
	}}

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status     string                       `json:"status"`
		Uptime     int64                        `json:"uptime_seconds"`
		Components []resilience.ComponentHealth `json:"components"`
	}
	decode(t, w, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, int64(90), body.Uptime)
	require.Len(t, body.Components, 1)
	assert.Equal(t, "circuit breaker open", body.Components[0].Message)

	ts.server.deps.Health = fixedHealth{resilience.SystemHealth{Status: resilience.HealthStatusUnhealthy}}
	w = ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("Analyze", mock.Anything, mock.MatchedBy(func(s models.MarketSnapshot) bool {
		return s.Symbol == "AAPL" && s.CurrentPrice == 190.5 && *s.Volume == 1000
	})).Return(models.Decision{Symbol: "AAPL", Final: models.VoteBuy, Confidence: 0.65, Votes: models.VoteTally{models.VoteBuy: 1}}, nil)

	w := ts.do(http.MethodPost, "/analyze", `{"symbol":"AAPL","current_price":190.5,"volume":1000}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "BUY", body["final_decision"])
	assert.Equal(t, 0.65, body["aggregate_confidence"])

	w = ts.do(http.MethodPost, "/analyze", `{"symbol":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_InvalidSnapshot(t *testing.T) {
	ts := newTestServer(t)
	ts.pipeline.On("Analyze", mock.Anything, mock.Anything).
		Return(models.Decision{}, models.MarketSnapshot{Symbol: "AAPL"}.Validate())

	w := ts.do(http.MethodPost, "/analyze", `{"symbol":"AAPL","current_price":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeSymbol(t *testing.T) {
	ts := newTestServer(t)
	snap := models.MarketSnapshot{Symbol: "INFY", CurrentPrice: 1500}
	ts.pipeline.On("Snapshot", mock.Anything, "INFY").Return(snap, nil)
	ts.pipeline.On("Analyze", mock.Anything, snap).Return(models.Decision{Symbol: "INFY", Final: models.VoteHold}, nil)
	ts.pipeline.On("Snapshot", mock.Anything, "NOPE").
		Return(models.MarketSnapshot{}, apperrors.Wrap(apperrors.ErrSymbolNotFound, "quote for NSE:NOPE"))
	ts.pipeline.On("Snapshot", mock.Anything, "TCS").
		Return(models.MarketSnapshot{}, apperrors.NewConfigError("KITE_API_KEY", "api key is not set", apperrors.ErrMissingCredentials))

	w := ts.do(http.MethodPost, "/analyze/infy", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"final_decision":"HOLD"`)

	w = ts.do(http.MethodPost, "/analyze/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodPost, "/analyze/TCS", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = ts.do(http.MethodPost, "/analyze/IN$FY", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.pipeline.AssertNotCalled(t, "Snapshot", mock.Anything, "IN$FY")
}

func TestTradeSymbol(t *testing.T) {
	ts := newTestServer(t)
	snap := models.MarketSnapshot{Symbol: "INFY", CurrentPrice: 1500}
	ts.pipeline.On("Snapshot", mock.Anything, "INFY").Return(snap, nil)
	ts.pipeline.On("Trade", mock.Anything, snap).Return(&trading.Result{
		Symbol:   "INFY",
		Decision: models.Decision{Symbol: "INFY", Final: models.VoteBuy, PositionSize: models.Float(10000)},
		Receipt:  &models.ExecutionReceipt{Mode: models.ModeVirtual, OrderID: "virtual-INFY-1", Side: models.OrderSideBuy, Quantity: 6, EntryPrice: 1500},
	}, nil).Once()

	w := ts.do(http.MethodPost, "/trade/INFY", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp TradeResponse
	decode(t, w, &resp)
	require.NotNil(t, resp.OrderID)
	assert.Equal(t, "virtual-INFY-1", *resp.OrderID)
	assert.Equal(t, 6, resp.Receipt.Quantity)
	assert.Empty(t, resp.Error)

	ts.pipeline.On("Trade", mock.Anything, snap).Return(&trading.Result{
		Symbol:    "INFY",
		Decision:  models.Decision{Symbol: "INFY", Final: models.VoteSell},
		ExecError: errors.New("kite down"),
	}, nil).Once()

	w = ts.do(http.MethodPost, "/trade/INFY", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Nil(t, body["order_id"])
	assert.Equal(t, "kite down", body["error"])
}

func TestTradingMode(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/config/trading_mode", "")
	assert.JSONEq(t, `{"mode":"virtual"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/config/trading_mode", `{"mode":"PAPER"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"paper"}`, w.Body.String())

	w = ts.do(http.MethodGet, "/config/trading_mode", "")
	assert.JSONEq(t, `{"mode":"paper"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/config/trading_mode", `{"mode":"margin"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"invalid trading mode"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/config/trading_mode", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/config/trading_mode", "")
	assert.JSONEq(t, `{"mode":"paper"}`, w.Body.String())
}

func TestRecentTrades(t *testing.T) {
	ts := newTestServer(t)
	ts.trades.trades = []models.TradeRecord{{ID: 2, Symbol: "INFY", Decision: models.VoteSell, PnL: models.Float(12.5)}}

	w := ts.do(http.MethodGet, "/trades/recent", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.DefaultTradeLimit, ts.trades.filter.Limit)
	var trades []map[string]interface{}
	decode(t, w, &trades)
	require.Len(t, trades, 1)
	assert.Equal(t, 12.5, trades[0]["profit_loss"])

	ts.do(http.MethodGet, "/trades/recent?limit=5", "")
	assert.Equal(t, 5, ts.trades.filter.Limit)

	w = ts.do(http.MethodGet, "/trades/recent?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.trades.err = errors.New("db gone")
	w = ts.do(http.MethodGet, "/trades/recent", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestPositions(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.positions.UpsertPosition(context.Background(), models.VirtualPosition{Symbol: "TCS", Quantity: 3, AverageCost: 3000}))

	w := ts.do(http.MethodGet, "/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var positions []models.VirtualPosition
	decode(t, w, &positions)
	require.Len(t, positions, 1)
	assert.Equal(t, "TCS", positions[0].Symbol)
	assert.Equal(t, 3000.0, positions[0].AverageCost)
}
