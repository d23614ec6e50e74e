package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"signal-trader/pkg/exchanges/common"
)

// testProto speaks a minimal dialect: subscribe messages list "channel:symbol"
// params, data messages are {"s":symbol,"p":price}.
type testProto struct {
	url      string
	defaults []Topic
}

type testSubscribe struct {
	ID     int64    `json:"id"`
	Params []string `json:"params"`
}

func (p testProto) URL() string { return p.url }

func (p testProto) SubscribeMessage(topics []Topic, id int64) any {
	msg := testSubscribe{ID: id}
	for _, t := range topics {
		msg.Params = append(msg.Params, string(t.Channel)+":"+t.Symbol)
	}
	return msg
}

func (p testProto) DefaultTopics() []Topic { return p.defaults }

func (p testProto) Decode(raw []byte) (Batch, error) {
	var m struct {
		S string  `json:"s"`
		P float64 `json:"p"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Batch{}, &common.StreamProtocolError{Raw: string(raw), Err: err}
	}
	if m.S == "" {
		return Batch{}, errors.New("missing symbol")
	}
	return Batch{Trades: []common.TradeTick{{Symbol: m.S, Price: m.P}}}, nil
}

type recorder struct {
	mu     sync.Mutex
	trades []common.TradeTick
	quotes []common.Quote
	panics bool
}

func (r *recorder) OnQuote(q common.Quote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes = append(r.quotes, q)
}

func (r *recorder) OnTrade(t common.TradeTick) {
	r.mu.Lock()
	r.trades = append(r.trades, t)
	panics := r.panics
	r.mu.Unlock()
	if panics {
		panic("handler failure")
	}
}

func (r *recorder) tradeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

var testUpgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readSubscribe(t *testing.T, ch <-chan testSubscribe) testSubscribe {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscribe message")
		return testSubscribe{}
	}
}

func TestReconnectReassertsSubscriptionsOnce(t *testing.T) {
	subs := make(chan testSubscribe, 10)
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m testSubscribe
			if json.Unmarshal(raw, &m) == nil {
				subs <- m
			}
			if n == 1 {
				// Deliver one trade, then drop the connection.
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCUSDT","p":100}`))
				return
			}
		}
	}))
	defer srv.Close()

	c := NewClient(testProto{url: wsURL(srv)}, Options{ReconnectDelay: 10 * time.Millisecond}, nil)
	c.Subscribe([]string{"BTCUSDT", "ETHUSDT"}, common.ChannelTrades, false)
	c.Subscribe([]string{"BTCUSDT"}, common.ChannelTrades, false)

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, rec)
	}()

	want := []string{"aggTrade:BTCUSDT", "aggTrade:ETHUSDT"}
	first := readSubscribe(t, subs)
	assert.Equal(t, want, first.Params)

	second := readSubscribe(t, subs)
	assert.Equal(t, want, second.Params, "reconnect must replay every topic exactly once")
	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, int32(2), conns.Load())

	// Already recorded symbols are not sent again, new ones are.
	c.Subscribe([]string{"BTCUSDT", "SOLUSDT"}, common.ChannelTrades, false)
	third := readSubscribe(t, subs)
	assert.Equal(t, []string{"aggTrade:SOLUSDT"}, third.Params)

	assert.Len(t, c.Subscriptions().All(), 3)
	assert.Eventually(t, func() bool { return rec.tradeCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDefaultTopicsSubscribedOnce(t *testing.T) {
	subs := make(chan testSubscribe, 10)
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m testSubscribe
		if json.Unmarshal(raw, &m) == nil {
			subs <- m
		}
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	proto := testProto{url: wsURL(srv), defaults: []Topic{{Channel: common.ChannelBookTicker, Symbol: "BTCUSDT"}}}
	c := NewClient(proto, Options{ReconnectDelay: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, &recorder{})
	}()

	assert.Equal(t, []string{"bookTicker:BTCUSDT"}, readSubscribe(t, subs).Params)
	assert.Equal(t, []string{"bookTicker:BTCUSDT"}, readSubscribe(t, subs).Params)
	assert.Len(t, c.Subscriptions().All(), 1)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLargeReplayIsFlagged(t *testing.T) {
	subs := make(chan testSubscribe, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m testSubscribe
			if json.Unmarshal(raw, &m) == nil {
				subs <- m
			}
		}
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	c := NewClient(testProto{url: wsURL(srv)}, Options{ReconnectDelay: 10 * time.Millisecond}, zap.New(core))
	symbols := make([]string, 150)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%dUSDT", i)
	}
	c.Subscribe(symbols, common.ChannelTrades, false)
	c.Subscribe(symbols[:60], common.ChannelBookTicker, false)
	assert.Zero(t, logs.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, &recorder{})
	}()

	assert.Len(t, readSubscribe(t, subs).Params, 210)
	assert.Equal(t, 1, logs.FilterMessage("resubscribing to many topics at once will most likely fail").Len())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubscribeWhileDisconnectedOnlyRecords(t *testing.T) {
	c := NewClient(testProto{url: "ws://127.0.0.1:1"}, Options{}, nil)
	c.Subscribe(nil, common.ChannelTrades, false)
	c.Subscribe([]string{"XBTUSD"}, common.ChannelTrades, true)

	assert.Equal(t, []Topic{
		{Channel: common.ChannelTrades},
		{Channel: common.ChannelTrades, Symbol: "XBTUSD"},
	}, c.Subscriptions().All())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDispatchSurvivesBadMessagesAndPanics(t *testing.T) {
	c := NewClient(testProto{}, Options{}, nil)
	rec := &recorder{panics: true}

	require.NotPanics(t, func() {
		c.dispatch([]byte(`not json`), rec)
		c.dispatch([]byte(`{"p":1}`), rec)
		c.dispatch([]byte(`{"s":"BTCUSDT","p":1}`), rec)
		c.dispatch([]byte(`{"s":"BTCUSDT","p":2}`), rec)
	})
	assert.Equal(t, 2, rec.tradeCount())
}

func TestSubscriptionsKeepOrderWithoutDuplicates(t *testing.T) {
	s := NewSubscriptions()
	a := Topic{Channel: common.ChannelTrades, Symbol: "A"}
	b := Topic{Channel: common.ChannelBookTicker, Symbol: "B"}

	assert.True(t, s.Add(a))
	assert.True(t, s.Add(b))
	assert.False(t, s.Add(a))
	assert.True(t, s.Has(b))
	assert.Equal(t, []Topic{a, b}, s.All())
	assert.Equal(t, []string{"A"}, s.Symbols(common.ChannelTrades))
}
