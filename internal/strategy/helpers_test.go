package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/pkg/exchanges/common"
)

const minute = int64(60_000)

var btc = common.Contract{
	Symbol:     "BTCUSDT",
	BaseAsset:  "BTC",
	QuoteAsset: "USDT",
	TickSize:   0.01,
	LotSize:    0.001,
	Exchange:   common.ExchangeBinanceFutures,
}

// fakeConn is an in-memory connector. Orders are answered from placeResults in
// turn; the last entry repeats.
type fakeConn struct {
	mu           sync.Mutex
	exchange     common.Exchange
	derivatives  bool
	history      []common.Candle
	size         float64
	panicOnSize  bool
	placeResults []placeResult
	status       common.OrderStatus
	balances     map[string]common.Balance
	orders       []common.OrderRequest
	subs         []common.Channel
}

type placeResult struct {
	st  common.OrderStatus
	err error
}

func newFakeConn(derivatives bool) *fakeConn {
	ex := common.ExchangeBinanceFutures
	if !derivatives {
		ex = common.ExchangeBinanceSpot
	}
	return &fakeConn{
		exchange:    ex,
		derivatives: derivatives,
		size:        0.5,
		history:     []common.Candle{{Timestamp: 0, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}},
		placeResults: []placeResult{{st: common.OrderStatus{
			OrderID: "1", Status: common.StatusFilled, AvgPrice: 105, ExecutedQty: 0.5,
		}}},
	}
}

func (f *fakeConn) Exchange() common.Exchange { return f.exchange }
func (f *fakeConn) Derivatives() bool         { return f.derivatives }

func (f *fakeConn) GetContracts(context.Context) (map[string]common.Contract, error) {
	c := btc
	c.Exchange = f.exchange
	return map[string]common.Contract{c.Symbol: c}, nil
}

func (f *fakeConn) GetBalances(context.Context) (map[string]common.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances, nil
}

func (f *fakeConn) GetHistoricalCandles(context.Context, common.Contract, common.Timeframe) ([]common.Candle, error) {
	return f.history, nil
}

func (f *fakeConn) GetBidAsk(_ context.Context, c common.Contract) (common.Quote, error) {
	return common.Quote{Symbol: c.Symbol, Bid: 99, Ask: 101}, nil
}

func (f *fakeConn) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.orders)
	if i >= len(f.placeResults) {
		i = len(f.placeResults) - 1
	}
	f.orders = append(f.orders, req)
	return f.placeResults[i].st, f.placeResults[i].err
}

func (f *fakeConn) CancelOrder(context.Context, common.Contract, string) (common.OrderStatus, error) {
	return common.OrderStatus{Status: common.StatusCanceled}, nil
}

func (f *fakeConn) GetOrderStatus(context.Context, common.Contract, string) (common.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeConn) TradeSize(context.Context, common.Contract, float64, float64) (float64, error) {
	if f.panicOnSize {
		panic("sizing exploded")
	}
	return f.size, nil
}

func (f *fakeConn) Subscribe(_ []common.Contract, ch common.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, ch)
}

func (f *fakeConn) setStatus(st common.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = st
}

func (f *fakeConn) placed() []common.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.OrderRequest(nil), f.orders...)
}

type harness struct {
	conn    *fakeConn
	engine  *Engine
	bus     *events.Bus
	journal *events.Journal
	metrics *monitor.SystemMetrics
}

func newHarness(t *testing.T, conn *fakeConn) *harness {
	t.Helper()
	bus := events.NewBus()
	journal := events.NewJournal(bus, nil, 100)
	metrics := monitor.NewSystemMetrics()
	tracker := order.NewTracker(conn, order.TrackerConfig{Interval: time.Millisecond, MaxAttempts: 50}, nil)

	e := NewEngine(conn, Deps{Tracker: tracker, Journal: journal, Bus: bus, Metrics: metrics})
	require.NoError(t, e.LoadContracts(context.Background()))
	t.Cleanup(func() {
		e.Close()
		tracker.Wait()
		bus.Close()
	})
	return &harness{conn: conn, engine: e, bus: bus, journal: journal, metrics: metrics}
}

func breakoutConfig(ex common.Exchange) Config {
	return Config{
		Kind:       KindBreakout,
		Exchange:   ex,
		Symbol:     "BTCUSDT",
		Timeframe:  "1m",
		BalancePct: 10,
		TakeProfit: 10,
		StopLoss:   1,
		Breakout:   &BreakoutParams{},
	}
}

func (h *harness) start(t *testing.T, cfg Config) *Instance {
	t.Helper()
	in, err := h.engine.Start(context.Background(), cfg)
	require.NoError(t, err)
	return in
}

func (h *harness) trade(price float64, ts int64) {
	h.engine.OnTrade(common.TradeTick{Symbol: "BTCUSDT", Price: price, Size: 1, Timestamp: ts})
}

func position(in *Instance) string { return in.Status().Position }

func pendingPolls(in *Instance) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.polls)
}
