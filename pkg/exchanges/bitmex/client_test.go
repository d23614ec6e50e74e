package bitmex

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/stream"
)

const testSecret = "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"

var fixedNow = time.Unix(1518064236, 0)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "LAqUlngMIQkIUjXMUreyu3qn", APISecret: testSecret, BaseURL: srv.URL}, nil)
	c.now = func() time.Time { return fixedNow }
	return c
}

func assertSigned(t *testing.T, r *http.Request) {
	t.Helper()
	expires := r.Header.Get("api-expires")
	assert.Equal(t, "1518064241", expires)
	assert.Equal(t, "LAqUlngMIQkIUjXMUreyu3qn", r.Header.Get("api-key"))
	assert.Equal(t, signature(testSecret, r.Method, r.URL.Path, r.URL.RawQuery, expires), r.Header.Get("api-signature"))
}

func TestSignatureCoversQuery(t *testing.T) {
	withQuery := signature(testSecret, "GET", "/api/v1/instrument", "filter=%7B%22symbol%22%3A+%22XBTM15%22%7D", "1518064237")
	without := signature(testSecret, "GET", "/api/v1/instrument", "", "1518064237")

	assert.Equal(t, common.Sign("GET/api/v1/instrument?filter=%7B%22symbol%22%3A+%22XBTM15%22%7D1518064237", testSecret), withQuery)
	assert.Equal(t, common.Sign("GET/api/v1/instrument1518064237", testSecret), without)
	assert.NotEqual(t, withQuery, without)
}

func TestContractsCarryMultiplier(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/instrument/active", r.URL.Path)
		assertSigned(t, r)
		io.WriteString(w, `[
			{"symbol":"XBTUSD","rootSymbol":"XBT","quoteCurrency":"USD","tickSize":0.5,"lotSize":100,"isQuanto":false,"isInverse":true,"multiplier":-100000000},
			{"symbol":"ETHUSD","rootSymbol":"ETH","quoteCurrency":"USD","tickSize":0.05,"lotSize":1,"isQuanto":true,"isInverse":false,"multiplier":100},
			{"symbol":"BROKEN","tickSize":0,"lotSize":1}]`)
	})

	contracts, err := c.GetContracts(context.Background())
	require.NoError(t, err)
	require.Len(t, contracts, 2)

	xbt := contracts["XBTUSD"]
	assert.True(t, xbt.Inverse)
	assert.InDelta(t, 1.0, xbt.Multiplier, 1e-12)
	assert.Equal(t, 1, xbt.PriceDecimals)
	assert.Equal(t, 0, xbt.QuantityDecimals)
	assert.Equal(t, common.ExchangeBitmex, xbt.Exchange)

	eth := contracts["ETHUSD"]
	assert.True(t, eth.Quanto)
	assert.InDelta(t, 0.000001, eth.Multiplier, 1e-15)
	assert.Equal(t, 2, eth.PriceDecimals)
}

func TestBalancesConvertSatoshis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/user/margin", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("currency"))
		assertSigned(t, r)
		io.WriteString(w, `[{"currency":"XBt","initMargin":1000,"maintMargin":500,"marginBalance":99000000,"walletBalance":100000000,"unrealisedPnl":-1000000}]`)
	})

	balances, err := c.GetBalances(context.Background())
	require.NoError(t, err)
	b := balances["XBt"]
	assert.True(t, b.Derivatives)
	assert.InDelta(t, 1.0, b.WalletBalance, 1e-12)
	assert.InDelta(t, 0.99, b.MarginBalance, 1e-12)
	assert.InDelta(t, -0.01, b.UnrealizedPnL, 1e-12)
	assert.InDelta(t, 0.00001, b.InitialMargin, 1e-15)
}

func TestTradeSizeInContracts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"currency":"XBt","walletBalance":100000000}]`)
	})
	xbt := common.Contract{Symbol: "XBTUSD", Inverse: true, Multiplier: 1, TickSize: 0.5, LotSize: 100}

	size, err := c.TradeSize(context.Background(), xbt, 20000, 10)
	require.NoError(t, err)
	assert.InDelta(t, 2000, size, 1)
	assert.Equal(t, size, float64(int64(size)))
}

func TestHistoricalCandlesShiftToBucketStart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/v1/trade/bucketed", r.URL.Path)
		assert.Equal(t, "1h", q.Get("binSize"))
		assert.Equal(t, "true", q.Get("partial"))
		assert.Equal(t, "true", q.Get("reverse"))
		io.WriteString(w, `[
			{"timestamp":"2024-01-01T03:00:00.000Z","open":null,"high":0,"low":0,"close":null,"volume":0},
			{"timestamp":"2024-01-01T02:00:00.000Z","open":101,"high":103,"low":100,"close":102,"volume":7},
			{"timestamp":"2024-01-01T01:00:00.000Z","open":100,"high":102,"low":99,"close":101,"volume":5}]`)
	})

	candles, err := c.GetHistoricalCandles(context.Background(), common.Contract{Symbol: "XBTUSD"}, "1h")
	require.NoError(t, err)
	require.Len(t, candles, 2)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, start, candles[0].Timestamp)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, start+time.Hour.Milliseconds(), candles[1].Timestamp)

	_, err = c.GetHistoricalCandles(context.Background(), common.Contract{Symbol: "XBTUSD"}, "4h")
	assert.Error(t, err)
}

func TestBinSizesCoverTimeframes(t *testing.T) {
	for _, tf := range common.TimeframesFor(common.ExchangeBitmex) {
		ms, err := tf.Millis()
		require.NoError(t, err)
		assert.Equal(t, ms, int64(binMinutes[tf])*time.Minute.Milliseconds(), tf)
	}
	assert.Len(t, binMinutes, len(common.TimeframesFor(common.ExchangeBitmex)))
}

func TestBidAskPicksSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"symbol":"XBTUSD","tickSize":0.5,"lotSize":100,"bidPrice":19999.5,"askPrice":20000}]`)
	})

	q, err := c.GetBidAsk(context.Background(), common.Contract{Symbol: "XBTUSD"})
	require.NoError(t, err)
	assert.Equal(t, common.Quote{Symbol: "XBTUSD", Bid: 19999.5, Ask: 20000}, q)

	_, err = c.GetBidAsk(context.Background(), common.Contract{Symbol: "ETHUSD"})
	assert.Error(t, err)
}

func TestPlaceOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assertSigned(t, r)
		q := r.URL.Query()
		assert.Equal(t, "XBTUSD", q.Get("symbol"))
		assert.Equal(t, "Sell", q.Get("side"))
		assert.Equal(t, "Market", q.Get("ordType"))
		assert.Equal(t, "300", q.Get("orderQty"))
		assert.NotEmpty(t, q.Get("clOrdID"))
		io.WriteString(w, `{"orderID":"abc-123","ordStatus":"New","avgPx":null,"cumQty":0}`)
	})

	st, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Contract: common.Contract{Symbol: "XBTUSD", TickSize: 0.5, LotSize: 100},
		Side:     common.SideSell,
		Quantity: 260,
	})
	require.NoError(t, err)
	assert.Equal(t, common.OrderStatus{OrderID: "abc-123", Status: common.StatusNew}, st)
}

func TestOrderStatusAndCancel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, `[
				{"orderID":"other","ordStatus":"New","cumQty":0},
				{"orderID":"abc-123","ordStatus":"Filled","avgPx":20001.5,"cumQty":300}]`)
		case http.MethodDelete:
			assert.Equal(t, "abc-123", r.URL.Query().Get("orderID"))
			io.WriteString(w, `[{"orderID":"abc-123","ordStatus":"Canceled","cumQty":0}]`)
		}
	})
	xbt := common.Contract{Symbol: "XBTUSD", TickSize: 0.5, LotSize: 100}

	st, err := c.GetOrderStatus(context.Background(), xbt, "abc-123")
	require.NoError(t, err)
	assert.True(t, st.Filled())
	assert.Equal(t, 20001.5, st.AvgPrice)
	assert.Equal(t, 300.0, st.ExecutedQty)

	_, err = c.GetOrderStatus(context.Background(), xbt, "missing")
	assert.Error(t, err)

	st, err = c.CancelOrder(context.Background(), xbt, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, common.StatusCanceled, st.Status)
}

func TestServerErrorMatchesNoResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"The system is currently overloaded.","name":"HTTPError"}}`)
	})

	_, err := c.GetBalances(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNoResult))
}

func TestStreamDecode(t *testing.T) {
	p := streamProtocol{}

	b, err := p.Decode([]byte(`{"table":"instrument","action":"update","data":[
		{"symbol":"XBTUSD","bidPrice":20000},
		{"symbol":"ETHUSD","fundingRate":0.0001}]}`))
	require.NoError(t, err)
	assert.Equal(t, []common.Quote{{Symbol: "XBTUSD", Bid: 20000}}, b.Quotes)

	b, err = p.Decode([]byte(`{"table":"trade","action":"insert","data":[
		{"timestamp":"2024-01-01T00:00:01.500Z","symbol":"XBTUSD","side":"Buy","size":200,"price":20000.5}]}`))
	require.NoError(t, err)
	require.Len(t, b.Trades, 1)
	assert.Equal(t, common.TradeTick{
		Symbol:    "XBTUSD",
		Price:     20000.5,
		Size:      200,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 1, 500e6, time.UTC).UnixMilli(),
	}, b.Trades[0])

	b, err = p.Decode([]byte(`{"success":true,"subscribe":"trade"}`))
	require.NoError(t, err)
	assert.Empty(t, b.Quotes)
	assert.Empty(t, b.Trades)

	_, err = p.Decode([]byte(`{"table":"trade","data":{}}`))
	var perr *common.StreamProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestSubscribeMessage(t *testing.T) {
	p := streamProtocol{}
	msg := p.SubscribeMessage(p.DefaultTopics(), 1)
	assert.Equal(t, map[string]any{"op": "subscribe", "args": []string{"instrument", "trade"}}, msg)

	msg = p.SubscribeMessage([]stream.Topic{{Channel: tableTrade, Symbol: "XBTUSD"}}, 2)
	assert.Equal(t, map[string]any{"op": "subscribe", "args": []string{"trade:XBTUSD"}}, msg)
}
