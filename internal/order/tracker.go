package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-trader/pkg/exchanges/common"
)

var (
	// ErrPollExhausted means the order was not confirmed filled within MaxAttempts polls.
	ErrPollExhausted = errors.New("order fill not confirmed")
	// ErrNotFilled means the order reached a terminal status other than filled.
	ErrNotFilled = errors.New("order closed without fill")
)

// StatusQuerier is the part of a connector the tracker needs.
type StatusQuerier interface {
	GetOrderStatus(ctx context.Context, c common.Contract, orderID string) (common.OrderStatus, error)
}

// TrackerConfig bounds polling. MaxAttempts <= 0 polls until cancelled.
type TrackerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultTrackerConfig polls every 2s for up to 5 minutes.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{Interval: 2 * time.Second, MaxAttempts: 150}
}

// Tracker confirms asynchronous fills by polling order status.
type Tracker struct {
	q   StatusQuerier
	cfg TrackerConfig
	log *zap.Logger
	wg  sync.WaitGroup
}

// NewTracker creates a tracker over q.
func NewTracker(q StatusQuerier, cfg TrackerConfig, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Tracker{q: q, cfg: cfg, log: log}
}

// Poll is one running status poll.
type Poll struct {
	OrderID string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Cancel stops the poll; the completion callback then receives context.Canceled.
func (p *Poll) Cancel() { p.cancel() }

// Done is closed once the poll has finished and its callback has returned.
func (p *Poll) Done() <-chan struct{} { return p.done }

// Track polls orderID until it is filled with a known average price, reaches
// another terminal status, runs out of attempts, or ctx is cancelled. done is
// called exactly once from the polling goroutine.
func (t *Tracker) Track(ctx context.Context, c common.Contract, orderID string, done func(common.OrderStatus, error)) *Poll {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poll{OrderID: orderID, cancel: cancel, done: make(chan struct{})}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(p.done)
		defer cancel()

		st, err := t.poll(ctx, c, orderID)
		done(st, err)
	}()
	return p
}

func (t *Tracker) poll(ctx context.Context, c common.Contract, orderID string) (common.OrderStatus, error) {
	timer := time.NewTimer(t.cfg.Interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return common.OrderStatus{}, ctx.Err()
		case <-timer.C:
		}

		st, err := t.q.GetOrderStatus(ctx, c, orderID)
		if err == nil {
			t.log.Info("order status", zap.String("symbol", c.Symbol),
				zap.String("order_id", orderID), zap.String("status", string(st.Status)))
			switch st.Status {
			case common.StatusFilled:
				if st.AvgPrice > 0 {
					return st, nil
				}
			case common.StatusCanceled, common.StatusRejected, common.StatusExpired:
				return st, fmt.Errorf("%w: %s", ErrNotFilled, st.Status)
			}
		}

		if t.cfg.MaxAttempts > 0 && attempt >= t.cfg.MaxAttempts {
			t.log.Warn("giving up on order", zap.String("order_id", orderID), zap.Int("attempts", attempt))
			return st, ErrPollExhausted
		}
		timer.Reset(t.cfg.Interval)
	}
}

// Wait blocks until every poll has finished.
func (t *Tracker) Wait() { t.wg.Wait() }
