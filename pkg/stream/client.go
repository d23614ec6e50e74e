// Package stream runs a reconnecting websocket session for one exchange and
// hands decoded quotes and trades to a Handler.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signal-trader/pkg/exchanges/common"
)

// MaxBatchSymbols is the batch size above which exchanges tend to reject a
// subscribe request.
const MaxBatchSymbols = 200

// Batch is what one inbound message decodes to.
type Batch struct {
	Quotes []common.Quote
	Trades []common.TradeTick
}

// Protocol adapts an exchange's websocket dialect.
type Protocol interface {
	URL() string
	// SubscribeMessage builds the control message for topics, tagged with id.
	SubscribeMessage(topics []Topic, id int64) any
	// DefaultTopics are subscribed on every connect when not already recorded.
	DefaultTopics() []Topic
	// Decode returns an empty batch for acks and other control frames.
	Decode(raw []byte) (Batch, error)
}

// Handler consumes decoded messages. Calls come from the read goroutine in
// arrival order.
type Handler interface {
	OnQuote(q common.Quote)
	OnTrade(t common.TradeTick)
}

// State of the session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Options tune the session.
type Options struct {
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Client owns the socket, the subscription record and the reconnect loop.
type Client struct {
	proto  Protocol
	dialer *websocket.Dialer
	log    *zap.Logger
	opts   Options

	subs      *Subscriptions
	reconnect atomic.Bool
	state     atomic.Int32
	nextID    atomic.Int64

	mu   sync.Mutex // guards conn and every write on it
	conn *websocket.Conn
}

// NewClient creates a client; Run starts it.
func NewClient(proto Protocol, opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	c := &Client{
		proto:  proto,
		dialer: websocket.DefaultDialer,
		log:    log,
		opts:   opts,
		subs:   NewSubscriptions(),
	}
	c.reconnect.Store(true)
	return c
}

// State returns the current session state.
func (c *Client) State() State { return State(c.state.Load()) }

// Subscriptions exposes the subscription record.
func (c *Client) Subscriptions() *Subscriptions { return c.subs }

// Run connects and reads until Close is called or ctx is done. A dropped
// connection is retried after ReconnectDelay.
func (c *Client) Run(ctx context.Context, h Handler) {
	defer c.state.Store(int32(StateDisconnected))
	for c.reconnect.Load() && ctx.Err() == nil {
		c.state.Store(int32(StateConnecting))
		if err := c.session(ctx, h); err != nil && c.reconnect.Load() {
			c.log.Warn("stream session ended", zap.String("url", c.proto.URL()), zap.Error(err))
		}
		if !c.reconnect.Load() {
			return
		}
		c.state.Store(int32(StateReconnecting))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// Close stops reconnecting and unblocks the read loop.
func (c *Client) Close() {
	c.reconnect.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

// Subscribe records symbols on ch and sends what is new. With reconnection set,
// recorded symbols are re-sent as well. An empty symbol list subscribes the
// channel as a whole. Nothing is sent while disconnected; the record is
// replayed on the next connect.
func (c *Client) Subscribe(symbols []string, ch common.Channel, reconnection bool) {
	if len(symbols) > MaxBatchSymbols {
		c.log.Warn("subscribing to many symbols at once will most likely fail",
			zap.Int("symbols", len(symbols)), zap.String("channel", string(ch)))
	}
	if len(symbols) == 0 {
		symbols = []string{""}
	}

	var topics []Topic
	for _, s := range symbols {
		t := Topic{Channel: ch, Symbol: s}
		if c.subs.Add(t) || reconnection {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.send(topics); err != nil {
		c.log.Error("stream subscribe failed", zap.Error(err))
	}
}

func (c *Client) session(ctx context.Context, h Handler) error {
	conn, _, err := c.dialer.DialContext(ctx, c.proto.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.proto.URL(), err)
	}

	c.mu.Lock()
	if !c.reconnect.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state.Store(int32(StateConnected))
	c.log.Info("stream connected", zap.String("url", c.proto.URL()))
	c.resubscribe()
	c.mu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	if c.opts.PingInterval > 0 {
		go c.keepAlive(conn, done)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, context.Canceled) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}
		c.dispatch(raw, h)
	}
}

// resubscribe replays every recorded topic once, then the protocol defaults
// that are not recorded yet. Caller holds c.mu.
func (c *Client) resubscribe() {
	topics := c.subs.All()
	for _, t := range c.proto.DefaultTopics() {
		if c.subs.Add(t) {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return
	}
	if len(topics) > MaxBatchSymbols {
		c.log.Warn("resubscribing to many topics at once will most likely fail", zap.Int("topics", len(topics)))
	}
	if err := c.send(topics); err != nil {
		c.log.Error("stream resubscribe failed", zap.Error(err))
	}
}

// send writes one subscribe message. Caller holds c.mu.
func (c *Client) send(topics []Topic) error {
	msg := c.proto.SubscribeMessage(topics, c.nextID.Add(1))
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	c.log.Info("stream subscribing", zap.String("payload", string(payload)))
	return nil
}

func (c *Client) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dispatch decodes and routes one message. A malformed message or a panicking
// handler is logged and the session carries on.
func (c *Client) dispatch(raw []byte, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("stream handler panic", zap.Any("panic", r))
		}
	}()

	batch, err := c.proto.Decode(raw)
	if err != nil {
		c.log.Warn("dropping stream message", zap.Error(err))
		return
	}
	for _, q := range batch.Quotes {
		h.OnQuote(q)
	}
	for _, t := range batch.Trades {
		h.OnTrade(t)
	}
}
