package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-trader/internal/candles"
	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/internal/pnl"
	"signal-trader/internal/risk"
	"signal-trader/pkg/exchanges/common"
)

// positionState is the lifecycle of the single position an instance may hold.
type positionState int

const (
	stateFlat positionState = iota
	stateEntering
	stateOpen
	stateExiting
)

func (s positionState) String() string {
	switch s {
	case stateEntering:
		return "entering"
	case stateOpen:
		return "open"
	case stateExiting:
		return "exiting"
	}
	return "flat"
}

// Instance runs one strategy on one contract. Stream callbacks and tracker
// callbacks share mu; it is never held across a REST call.
type Instance struct {
	id       string
	cfg      Config
	contract common.Contract
	conn     common.Connector
	tracker  *order.Tracker
	journal  *events.Journal
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	log      *zap.Logger
	eval     evaluator
	levels   risk.Levels
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	series *candles.Series
	trades []*order.Trade
	state  positionState
	polls  map[int64]*order.Poll
}

func newInstance(cfg Config, c common.Contract, series *candles.Series, e *Engine) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	return &Instance{
		id:       cfg.ID(),
		cfg:      cfg,
		contract: c,
		conn:     e.conn,
		tracker:  e.tracker,
		journal:  e.journal,
		bus:      e.bus,
		metrics:  e.metrics,
		log:      e.log.With(zap.String("strategy", cfg.ID())),
		eval:     newEvaluator(cfg),
		levels:   risk.Levels{TakeProfitPct: cfg.TakeProfit, StopLossPct: cfg.StopLoss},
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		series:   series,
		polls:    make(map[int64]*order.Poll),
	}
}

// ID returns the instance id.
func (in *Instance) ID() string { return in.id }

// Config returns the configuration the instance was started with.
func (in *Instance) Config() Config { return in.cfg }

// Contract returns the traded contract.
func (in *Instance) Contract() common.Contract { return in.contract }

// OnTrade aggregates a tick, then checks take-profit/stop-loss while a
// position is open or evaluates the entry signal while flat.
func (in *Instance) OnTrade(t common.TradeTick) {
	in.mu.Lock()
	res, _ := in.series.Update(t.Price, t.Size, t.Timestamp)

	switch in.state {
	case stateOpen:
		tr := in.openTrade()
		if tr == nil {
			in.mu.Unlock()
			return
		}
		if !tr.Entered() {
			// a poll that gave up is re-armed until the fill price is known
			in.trackEntry(tr)
			in.mu.Unlock()
			return
		}
		d := in.levels.Check(tr.Side == order.Long, tr.EntryPrice, t.Price)
		if d == nil {
			in.mu.Unlock()
			return
		}
		in.state = stateExiting
		snapshot := *tr
		in.mu.Unlock()

		in.journal.Add(in.id, "%s for %s %s", d.Reason, in.contract.Symbol, in.cfg.Timeframe)
		in.exit(snapshot)

	case stateFlat:
		if res != candles.NewCandle && !in.eval.everyTick() {
			in.mu.Unlock()
			return
		}
		sig := in.eval.evaluate(in.series)
		if sig == SignalNone {
			in.mu.Unlock()
			return
		}
		if sig == SignalShort && !in.conn.Derivatives() {
			in.mu.Unlock()
			in.log.Debug("short signal ignored on spot account", zap.String("symbol", in.contract.Symbol))
			return
		}
		in.state = stateEntering
		in.mu.Unlock()

		in.enter(sig, t.Price)

	default:
		in.mu.Unlock()
	}
}

// OnQuote re-marks the open trade against the new top of book.
func (in *Instance) OnQuote(q common.Quote) {
	in.mu.Lock()
	tr := in.openTrade()
	if tr == nil || !tr.Entered() {
		in.mu.Unlock()
		return
	}
	v, ok := pnl.Unrealized(in.contract, tr.Side == order.Long, tr.EntryPrice, tr.Quantity, q)
	if !ok || v == tr.PnL {
		in.mu.Unlock()
		return
	}
	tr.PnL = v
	snapshot := *tr
	in.mu.Unlock()

	in.publish(snapshot)
}

func (in *Instance) enter(sig Signal, price float64) {
	side := order.Long
	if sig == SignalShort {
		side = order.Short
	}

	qty, err := in.conn.TradeSize(in.ctx, in.contract, price, in.cfg.BalancePct)
	if err != nil || qty <= 0 {
		in.journal.Add(in.id, "%s signal on %s %s skipped: no tradable size", side, in.contract.Symbol, in.cfg.Timeframe)
		in.setState(stateFlat)
		return
	}

	in.metrics.IncrementSignals()
	in.journal.Add(in.id, "%s signal on %s %s", side, in.contract.Symbol, in.cfg.Timeframe)
	st, err := in.placeOrder(side.EntrySide(), qty)
	if err != nil {
		in.journal.Add(in.id, "entry order on %s has unknown outcome: %v", in.contract.Symbol, err)
		in.setState(stateFlat)
		return
	}

	tr := &order.Trade{
		Contract: in.contract,
		Strategy: string(in.cfg.Kind),
		Side:     side,
		Status:   order.TradeOpen,
		Quantity: qty,
		EntryID:  st.OrderID,
	}
	if st.ExecutedQty > 0 {
		tr.Quantity = st.ExecutedQty
	}
	if st.Filled() && st.AvgPrice > 0 {
		tr.EntryPrice = st.AvgPrice
	}

	in.mu.Lock()
	tr.Time = in.now().UnixMilli()
	if n := len(in.trades); n > 0 && tr.Time <= in.trades[n-1].Time {
		tr.Time = in.trades[n-1].Time + 1
	}
	in.trades = append(in.trades, tr)
	in.state = stateOpen
	if !tr.Entered() {
		in.trackEntry(tr)
	}
	snapshot := *tr
	in.mu.Unlock()

	if snapshot.Entered() {
		in.journal.Add(in.id, "%s %s entered at %v", snapshot.Side, in.contract.Symbol, snapshot.EntryPrice)
	}
	in.publish(snapshot)
}

// trackEntry polls the entry order of tr unless a poll is already pending.
// Callers hold in.mu.
func (in *Instance) trackEntry(tr *order.Trade) {
	key := tr.Time
	if _, ok := in.polls[key]; ok || in.ctx.Err() != nil {
		return
	}
	in.polls[key] = in.tracker.Track(in.ctx, in.contract, tr.EntryID, func(st common.OrderStatus, err error) {
		in.onEntryFill(key, st, err)
	})
}

func (in *Instance) onEntryFill(key int64, st common.OrderStatus, err error) {
	in.mu.Lock()
	delete(in.polls, key)
	tr := in.tradeAt(key)
	if tr == nil {
		in.mu.Unlock()
		return
	}

	switch {
	case err == nil:
		tr.EntryPrice = st.AvgPrice
		if st.ExecutedQty > 0 {
			tr.Quantity = st.ExecutedQty
		}
	case errors.Is(err, order.ErrNotFilled):
		tr.Status = order.TradeClosed
		if in.state == stateOpen {
			in.state = stateFlat
		}
	}
	snapshot := *tr
	in.mu.Unlock()

	switch {
	case err == nil:
		in.journal.Add(in.id, "%s %s entered at %v", snapshot.Side, in.contract.Symbol, snapshot.EntryPrice)
		in.publish(snapshot)
	case errors.Is(err, order.ErrNotFilled):
		in.journal.Add(in.id, "entry order %s on %s was not filled: %v", snapshot.EntryID, in.contract.Symbol, err)
		in.publish(snapshot)
	case errors.Is(err, context.Canceled):
		in.log.Info("entry poll cancelled", zap.String("order_id", snapshot.EntryID))
	default:
		in.journal.Add(in.id, "entry order %s on %s: %v", snapshot.EntryID, in.contract.Symbol, err)
	}
}

func (in *Instance) exit(tr order.Trade) {
	side := tr.Side.EntrySide().Opposite()
	qty := tr.Quantity

	if !in.conn.Derivatives() && side == common.SideSell {
		balances, err := in.conn.GetBalances(in.ctx)
		if err == nil {
			if b, ok := balances[in.contract.BaseAsset]; ok && b.Usable() < qty {
				qty = common.RoundDownToStep(b.Usable(), in.contract.LotSize)
			}
		}
	}

	if qty <= 0 {
		in.mu.Lock()
		if cur := in.tradeAt(tr.Time); cur != nil {
			cur.Status = order.TradeClosed
			tr = *cur
		}
		in.state = stateFlat
		in.mu.Unlock()
		in.journal.Add(in.id, "no %s balance left to close %s", in.contract.BaseAsset, in.contract.Symbol)
		in.publish(tr)
		return
	}

	_, err := in.placeOrder(side, qty)

	in.mu.Lock()
	if err != nil {
		in.state = stateOpen
		in.mu.Unlock()
		in.journal.Add(in.id, "exit order on %s failed, retrying on next trade: %v", in.contract.Symbol, err)
		return
	}
	if cur := in.tradeAt(tr.Time); cur != nil {
		cur.Status = order.TradeClosed
		tr = *cur
	}
	in.state = stateFlat
	in.mu.Unlock()

	in.journal.Add(in.id, "%s %s closed, pnl %v", tr.Side, in.contract.Symbol, tr.PnL)
	in.publish(tr)
}

func (in *Instance) placeOrder(side common.Side, qty float64) (common.OrderStatus, error) {
	start := time.Now()
	st, err := in.conn.PlaceOrder(in.ctx, common.OrderRequest{
		Contract: in.contract,
		Side:     side,
		Type:     common.OrderTypeMarket,
		Quantity: qty,
	})
	in.metrics.RecordOrder(time.Since(start), err)
	return st, err
}

// openTrade returns the open trade. Only the newest trade can be open.
func (in *Instance) openTrade() *order.Trade {
	if n := len(in.trades); n > 0 && in.trades[n-1].IsOpen() {
		return in.trades[n-1]
	}
	return nil
}

func (in *Instance) tradeAt(ts int64) *order.Trade {
	for i := len(in.trades) - 1; i >= 0; i-- {
		if in.trades[i].Time == ts {
			return in.trades[i]
		}
	}
	return nil
}

func (in *Instance) setState(s positionState) {
	in.mu.Lock()
	in.state = s
	in.mu.Unlock()
}

func (in *Instance) publish(tr order.Trade) {
	if in.bus != nil {
		in.bus.Publish(events.EventTradeUpdate, tr)
	}
}

// Trades returns copies of every trade, oldest first.
func (in *Instance) Trades() []order.Trade {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]order.Trade, len(in.trades))
	for i, tr := range in.trades {
		out[i] = *tr
	}
	return out
}

// Status is a read-only view of an instance.
type Status struct {
	ID       string          `json:"id"`
	Config   Config          `json:"config"`
	Contract common.Contract `json:"contract"`
	Position string          `json:"position"`
	Candles  int             `json:"candles"`
	Trades   int             `json:"trades"`
}

// Status returns a snapshot of the instance.
func (in *Instance) Status() Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return Status{
		ID:       in.id,
		Config:   in.cfg,
		Contract: in.contract,
		Position: in.state.String(),
		Candles:  in.series.Len(),
		Trades:   len(in.trades),
	}
}

// Stop cancels pending fill polls and in-flight requests and waits for the
// poll callbacks to return.
func (in *Instance) Stop() {
	in.cancel()

	in.mu.Lock()
	polls := make([]*order.Poll, 0, len(in.polls))
	for _, p := range in.polls {
		polls = append(polls, p)
	}
	in.mu.Unlock()

	for _, p := range polls {
		<-p.Done()
	}
}
