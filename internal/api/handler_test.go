package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/internal/strategy"
	"signal-trader/internal/workspace"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
)

const (
	testSecret   = "test-secret"
	testPassword = "hunter2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubConn serves one futures contract with a short history and fills every order.
type stubConn struct{}

func (stubConn) Exchange() common.Exchange { return common.ExchangeBinanceFutures }
func (stubConn) Derivatives() bool         { return true }

func (stubConn) GetContracts(context.Context) (map[string]common.Contract, error) {
	return map[string]common.Contract{"BTCUSDT": {
		Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT", TickSize: 0.1, LotSize: 0.001,
		Exchange: common.ExchangeBinanceFutures,
	}}, nil
}

func (stubConn) GetBalances(context.Context) (map[string]common.Balance, error) {
	return map[string]common.Balance{"USDT": {Asset: "USDT", WalletBalance: 1000, Derivatives: true}}, nil
}

func (stubConn) GetHistoricalCandles(context.Context, common.Contract, common.Timeframe) ([]common.Candle, error) {
	return []common.Candle{{Timestamp: 0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}}, nil
}

func (stubConn) GetBidAsk(_ context.Context, c common.Contract) (common.Quote, error) {
	return common.Quote{Symbol: c.Symbol, Bid: 20000, Ask: 20000.5}, nil
}

func (stubConn) PlaceOrder(context.Context, common.OrderRequest) (common.OrderStatus, error) {
	return common.OrderStatus{OrderID: "1", Status: common.StatusFilled, AvgPrice: 1, ExecutedQty: 1}, nil
}

func (stubConn) CancelOrder(context.Context, common.Contract, string) (common.OrderStatus, error) {
	return common.OrderStatus{Status: common.StatusCanceled}, nil
}

func (stubConn) GetOrderStatus(context.Context, common.Contract, string) (common.OrderStatus, error) {
	return common.OrderStatus{Status: common.StatusFilled, AvgPrice: 1}, nil
}

func (stubConn) TradeSize(context.Context, common.Contract, float64, float64) (float64, error) {
	return 1, nil
}

func (stubConn) Subscribe([]common.Contract, common.Channel) {}

func newTestServer(t *testing.T, password string) *Server {
	t.Helper()

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	bus := events.NewBus()
	journal := events.NewJournal(bus, nil, 50)
	metrics := monitor.NewSystemMetrics()
	tracker := order.NewTracker(stubConn{}, order.TrackerConfig{Interval: time.Millisecond, MaxAttempts: 1}, nil)
	engine := strategy.NewEngine(stubConn{}, strategy.Deps{Tracker: tracker, Journal: journal, Bus: bus, Metrics: metrics})
	require.NoError(t, engine.LoadContracts(context.Background()))
	t.Cleanup(func() {
		engine.Close()
		tracker.Wait()
		bus.Close()
	})

	s, err := NewServer(
		map[common.Exchange]*strategy.Engine{common.ExchangeBinanceFutures: engine},
		workspace.NewStore(database.Queries()),
		bus, journal, metrics,
		Options{JWTSecret: testSecret, APIPassword: password, TokenTTL: time.Hour},
		nil,
	)
	require.NoError(t, err)
	return s
}

func (s *Server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, s *Server) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{"password": testPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var res struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.Code
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, testPassword)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "binance_futures")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, testPassword)

	w := s.do(t, http.MethodGet, "/api/strategies", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_TOKEN", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/strategies", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))

	expired, err := generateToken(operatorSubject, testSecret, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/strategies", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := generateToken(operatorSubject, "other-secret", time.Now().Add(time.Hour))
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/strategies", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := login(t, s)
	w = s.do(t, http.MethodGet, "/api/strategies", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/trades?token="+token, nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginDisabledWithoutPassword(t *testing.T) {
	s := newTestServer(t, "")
	w := s.do(t, http.MethodPost, "/api/auth/token", "", map[string]string{"password": "anything"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "LOGIN_DISABLED", errorCode(t, w))
}

func TestStrategyLifecycle(t *testing.T) {
	s := newTestServer(t, testPassword)
	token := login(t, s)

	cfg := map[string]any{
		"kind":        "breakout",
		"exchange":    "binance_futures",
		"symbol":      "BTCUSDT",
		"timeframe":   "1m",
		"balance_pct": 10,
		"take_profit": 2,
		"stop_loss":   1,
	}
	w := s.do(t, http.MethodPost, "/api/strategies", token, cfg)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var st strategy.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "breakout_BTCUSDT_1m", st.ID)
	assert.Equal(t, "flat", st.Position)
	assert.Equal(t, 1, st.Candles)

	w = s.do(t, http.MethodPost, "/api/strategies", token, cfg)
	assert.Equal(t, http.StatusConflict, w.Code)

	bad := map[string]any{"kind": "breakout", "exchange": "binance_futures", "symbol": "BTCUSDT", "timeframe": "1m"}
	w = s.do(t, http.MethodPost, "/api/strategies", token, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	unknown := map[string]any{"kind": "breakout", "exchange": "binance_futures", "symbol": "DOGEUSDT", "timeframe": "1m", "balance_pct": 1}
	w = s.do(t, http.MethodPost, "/api/strategies", token, unknown)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UNKNOWN_CONTRACT", errorCode(t, w))

	disabled := map[string]any{"kind": "breakout", "exchange": "bitmex", "symbol": "XBTUSD", "timeframe": "1m", "balance_pct": 1}
	w = s.do(t, http.MethodPost, "/api/strategies", token, disabled)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UNKNOWN_EXCHANGE", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/strategies", token, nil)
	var list []strategy.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	w = s.do(t, http.MethodDelete, "/api/strategies/binance_futures/breakout_BTCUSDT_1m", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, "/api/strategies/binance_futures/breakout_BTCUSDT_1m", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_RUNNING", errorCode(t, w))
}

func TestMarketEndpoints(t *testing.T) {
	s := newTestServer(t, testPassword)
	token := login(t, s)

	w := s.do(t, http.MethodGet, "/api/contracts/binance_futures", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var contracts []common.Contract
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &contracts))
	require.Len(t, contracts, 1)
	assert.Equal(t, "BTCUSDT", contracts[0].Symbol)

	w = s.do(t, http.MethodGet, "/api/contracts/kraken", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/prices/binance_futures/BTCUSDT", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var q common.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &q))
	assert.Equal(t, 20000.0, q.Bid)

	w = s.do(t, http.MethodGet, "/api/prices/binance_futures/NOPE", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/balances/binance_futures", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"wallet_balance":1000`)

	w = s.do(t, http.MethodGet, "/api/metrics", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_requests")
}

func TestWorkspaceEndpoints(t *testing.T) {
	s := newTestServer(t, testPassword)
	token := login(t, s)

	items := []workspace.WatchItem{{Symbol: "BTCUSDT", Exchange: common.ExchangeBinanceFutures}}
	w := s.do(t, http.MethodPut, "/api/workspace/watchlist", token, items)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/workspace/watchlist", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []workspace.WatchItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, items, got)

	w = s.do(t, http.MethodPut, "/api/workspace/watchlist", token, []map[string]string{{"exchange": "bitmex"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cfgs := []map[string]any{{
		"kind": "technical", "exchange": "binance_futures", "symbol": "BTCUSDT",
		"timeframe": "1h", "balance_pct": 5, "take_profit": 3, "stop_loss": 1,
	}}
	w = s.do(t, http.MethodPut, "/api/workspace/strategies", token, cfgs)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/workspace/strategies", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var saved []strategy.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	require.Len(t, saved, 1)
	require.NotNil(t, saved[0].Technical)
	assert.Equal(t, strategy.DefaultTechnicalParams(), *saved[0].Technical)

	cfgs[0]["balance_pct"] = 0
	w = s.do(t, http.MethodPut, "/api/workspace/strategies", token, cfgs)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_STRATEGY", errorCode(t, w))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testPassword)
	w := s.do(t, http.MethodOptions, "/api/strategies", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterPerIP(t *testing.T) {
	l := newIPLimiters(1, 2, time.Minute)
	assert.True(t, l.allow("1.1.1.1"))
	assert.True(t, l.allow("1.1.1.1"))
	assert.False(t, l.allow("1.1.1.1"))
	assert.True(t, l.allow("2.2.2.2"))
}
