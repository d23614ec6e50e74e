// Package strategy runs signal strategies against one exchange connector.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"signal-trader/internal/candles"
	"signal-trader/internal/events"
	"signal-trader/internal/market"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/pkg/exchanges/common"
)

var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrAlreadyRunning  = errors.New("strategy already running")
	ErrNotRunning      = errors.New("strategy not running")
	ErrNoCandles       = errors.New("no historical candles")
	ErrWrongExchange   = errors.New("strategy targets another exchange")
)

// Engine owns the strategies, contracts and prices of one exchange and
// receives its stream. It implements stream.Handler.
type Engine struct {
	conn    common.Connector
	tracker *order.Tracker
	prices  *market.PriceCache
	journal *events.Journal
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	log     *zap.Logger

	mu        sync.RWMutex
	contracts map[string]common.Contract
	instances map[string]*Instance
}

// Deps are the collaborators shared by every strategy of an engine. Only
// Tracker is required.
type Deps struct {
	Tracker *order.Tracker
	Journal *events.Journal
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Log     *zap.Logger
}

// NewEngine creates an engine for conn.
func NewEngine(conn common.Connector, deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		conn:      conn,
		tracker:   deps.Tracker,
		prices:    market.NewPriceCache(),
		journal:   deps.Journal,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		log:       log.Named("strategy").With(zap.String("exchange", string(conn.Exchange()))),
		contracts: make(map[string]common.Contract),
		instances: make(map[string]*Instance),
	}
}

// Exchange returns the connector's exchange.
func (e *Engine) Exchange() common.Exchange { return e.conn.Exchange() }

// Connector returns the underlying connector.
func (e *Engine) Connector() common.Connector { return e.conn }

// Prices returns the bid/ask cache fed by OnQuote.
func (e *Engine) Prices() *market.PriceCache { return e.prices }

// LoadContracts replaces the contract table with a fresh exchange fetch.
func (e *Engine) LoadContracts(ctx context.Context) error {
	cs, err := e.conn.GetContracts(ctx)
	if err != nil {
		return fmt.Errorf("load contracts: %w", err)
	}
	e.mu.Lock()
	e.contracts = cs
	e.mu.Unlock()
	e.log.Info("contracts loaded", zap.Int("count", len(cs)))
	return nil
}

// Contract looks up a contract by symbol.
func (e *Engine) Contract(symbol string) (common.Contract, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contracts[symbol]
	return c, ok
}

// Contracts returns the contracts ordered by symbol.
func (e *Engine) Contracts() []common.Contract {
	e.mu.RLock()
	out := make([]common.Contract, 0, len(e.contracts))
	for _, c := range e.contracts {
		out = append(out, c)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Quote returns the cached top of book, querying the exchange when the symbol
// has not been streamed yet.
func (e *Engine) Quote(ctx context.Context, symbol string) (common.Quote, error) {
	if q, ok := e.prices.Get(symbol); ok && q.Bid > 0 && q.Ask > 0 {
		return q, nil
	}
	c, ok := e.Contract(symbol)
	if !ok {
		return common.Quote{}, fmt.Errorf("%w: %s", ErrUnknownContract, symbol)
	}
	q, err := e.conn.GetBidAsk(ctx, c)
	if err != nil {
		return common.Quote{}, err
	}
	return e.prices.Update(q), nil
}

// Start fetches history for cfg, subscribes the contract's streams and
// registers the instance.
func (e *Engine) Start(ctx context.Context, cfg Config) (*Instance, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Exchange != e.conn.Exchange() {
		return nil, fmt.Errorf("%w: %s", ErrWrongExchange, cfg.Exchange)
	}
	c, ok := e.Contract(cfg.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, cfg.Symbol)
	}

	id := cfg.ID()
	e.mu.RLock()
	_, running := e.instances[id]
	e.mu.RUnlock()
	if running {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	history, err := e.conn.GetHistoricalCandles(ctx, c, cfg.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("%w for %s %s: %v", ErrNoCandles, c.Symbol, cfg.Timeframe, err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w for %s %s", ErrNoCandles, c.Symbol, cfg.Timeframe)
	}
	series, err := candles.NewSeries(cfg.Timeframe, history, id, e.log)
	if err != nil {
		return nil, err
	}
	in := newInstance(cfg, c, series, e)

	e.mu.Lock()
	if _, running := e.instances[id]; running {
		e.mu.Unlock()
		in.Stop()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	e.instances[id] = in
	e.mu.Unlock()

	e.conn.Subscribe([]common.Contract{c}, common.ChannelTrades)
	e.conn.Subscribe([]common.Contract{c}, common.ChannelBookTicker)

	e.journal.Add(id, "%s strategy started on %s %s with %d candles", cfg.Kind, c.Symbol, cfg.Timeframe, len(history))
	if e.bus != nil {
		e.bus.Publish(events.EventStrategyState, events.StrategyState{ID: id, Running: true})
	}
	return in, nil
}

// Stop unregisters a strategy and cancels its pending polls. Its trades are
// dropped with it.
func (e *Engine) Stop(id string) error {
	e.mu.Lock()
	in, ok := e.instances[id]
	delete(e.instances, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	in.Stop()
	e.journal.Add(id, "strategy stopped")
	if e.bus != nil {
		e.bus.Publish(events.EventStrategyState, events.StrategyState{ID: id, Running: false})
	}
	return nil
}

// Close stops every strategy.
func (e *Engine) Close() {
	e.mu.Lock()
	all := e.instances
	e.instances = make(map[string]*Instance)
	e.mu.Unlock()

	for _, in := range all {
		in.Stop()
	}
}

// OnQuote merges the quote into the price cache and re-marks open trades.
func (e *Engine) OnQuote(q common.Quote) {
	e.metrics.IncrementQuotes()
	merged := e.prices.Update(q)
	if e.bus != nil {
		e.bus.Publish(events.EventQuote, merged)
	}
	for _, in := range e.subscribers(q.Symbol) {
		e.safely(in, "quote", func() { in.OnQuote(merged) })
	}
}

// OnTrade feeds the tick to every strategy on the symbol.
func (e *Engine) OnTrade(t common.TradeTick) {
	e.metrics.IncrementTicks()
	for _, in := range e.subscribers(t.Symbol) {
		e.safely(in, "trade", func() { in.OnTrade(t) })
	}
}

func (e *Engine) subscribers(symbol string) []*Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Instance
	for _, in := range e.instances {
		if in.contract.Symbol == symbol {
			out = append(out, in)
		}
	}
	return out
}

func (e *Engine) safely(in *Instance, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.IncrementErrors()
			e.log.Error("strategy panic", zap.String("strategy", in.id), zap.String("event", what), zap.Any("panic", r))
		}
	}()
	fn()
}

// Strategies returns the running strategies ordered by id.
func (e *Engine) Strategies() []Status {
	e.mu.RLock()
	list := make([]*Instance, 0, len(e.instances))
	for _, in := range e.instances {
		list = append(list, in)
	}
	e.mu.RUnlock()

	out := make([]Status, 0, len(list))
	for _, in := range list {
		out = append(out, in.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Trades returns the trades of every running strategy ordered by open time.
func (e *Engine) Trades() []order.Trade {
	e.mu.RLock()
	list := make([]*Instance, 0, len(e.instances))
	for _, in := range e.instances {
		list = append(list, in)
	}
	e.mu.RUnlock()

	var out []order.Trade
	for _, in := range list {
		out = append(out, in.Trades()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
