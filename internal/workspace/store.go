// Package workspace persists the operator's watchlist and strategy setups.
package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"signal-trader/internal/strategy"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
)

const (
	TableWatchlist  = "watchlist"
	TableStrategies = "strategies"
)

// Tables is the persistence collaborator: Save overwrites a table and Get
// returns every row as a column-keyed record.
type Tables interface {
	Save(ctx context.Context, table string, rows []db.Row) error
	Get(ctx context.Context, table string) ([]db.Row, error)
}

// WatchItem is one symbol shown to the operator.
type WatchItem struct {
	Symbol   string          `json:"symbol" binding:"required"`
	Exchange common.Exchange `json:"exchange" binding:"required"`
}

// Store maps workspace types onto Tables.
type Store struct {
	t Tables
}

// NewStore wraps t.
func NewStore(t Tables) *Store {
	return &Store{t: t}
}

// Save forwards to the underlying tables.
func (s *Store) Save(ctx context.Context, table string, rows []db.Row) error {
	return s.t.Save(ctx, table, rows)
}

// Get forwards to the underlying tables.
func (s *Store) Get(ctx context.Context, table string) ([]db.Row, error) {
	return s.t.Get(ctx, table)
}

// SaveWatchlist replaces the watchlist.
func (s *Store) SaveWatchlist(ctx context.Context, items []WatchItem) error {
	rows := make([]db.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, db.Row{"symbol": it.Symbol, "exchange": string(it.Exchange)})
	}
	return s.t.Save(ctx, TableWatchlist, rows)
}

// Watchlist loads the watchlist.
func (s *Store) Watchlist(ctx context.Context) ([]WatchItem, error) {
	rows, err := s.t.Get(ctx, TableWatchlist)
	if err != nil {
		return nil, err
	}
	out := make([]WatchItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, WatchItem{
			Symbol:   cast.ToString(r["symbol"]),
			Exchange: common.Exchange(cast.ToString(r["exchange"])),
		})
	}
	return out, nil
}

// SaveStrategies replaces the saved strategy setups.
func (s *Store) SaveStrategies(ctx context.Context, cfgs []strategy.Config) error {
	rows := make([]db.Row, 0, len(cfgs))
	for _, c := range cfgs {
		extra, err := extraParams(c)
		if err != nil {
			return err
		}
		rows = append(rows, db.Row{
			"strategy_type": string(c.Kind),
			"contract":      c.Symbol + "_" + string(c.Exchange),
			"timeframe":     string(c.Timeframe),
			"balance_pct":   c.BalancePct,
			"take_profit":   c.TakeProfit,
			"stop_loss":     c.StopLoss,
			"extra_params":  extra,
		})
	}
	return s.t.Save(ctx, TableStrategies, rows)
}

// Strategies loads the saved strategy setups.
func (s *Store) Strategies(ctx context.Context) ([]strategy.Config, error) {
	rows, err := s.t.Get(ctx, TableStrategies)
	if err != nil {
		return nil, err
	}
	out := make([]strategy.Config, 0, len(rows))
	for i, r := range rows {
		c, err := configFromRow(r)
		if err != nil {
			return nil, fmt.Errorf("strategies row %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func extraParams(c strategy.Config) (string, error) {
	var v any = struct{}{}
	switch c.Kind {
	case strategy.KindTechnical:
		if c.Technical != nil {
			v = c.Technical
		}
	case strategy.KindBreakout:
		if c.Breakout != nil {
			v = c.Breakout
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode extra params: %w", err)
	}
	return string(b), nil
}

// configFromRow splits "SYMBOL_exchange" on the first underscore; exchange
// names contain underscores, symbols do not.
func configFromRow(r db.Row) (strategy.Config, error) {
	contract := cast.ToString(r["contract"])
	symbol, exchange, ok := strings.Cut(contract, "_")
	if !ok || symbol == "" || exchange == "" {
		return strategy.Config{}, fmt.Errorf("malformed contract %q", contract)
	}

	c := strategy.Config{
		Kind:       strategy.Kind(cast.ToString(r["strategy_type"])),
		Exchange:   common.Exchange(exchange),
		Symbol:     symbol,
		Timeframe:  common.Timeframe(cast.ToString(r["timeframe"])),
		BalancePct: cast.ToFloat64(r["balance_pct"]),
		TakeProfit: cast.ToFloat64(r["take_profit"]),
		StopLoss:   cast.ToFloat64(r["stop_loss"]),
	}

	extra := []byte(cast.ToString(r["extra_params"]))
	if len(extra) == 0 {
		return c.WithDefaults(), nil
	}
	switch c.Kind {
	case strategy.KindTechnical:
		p := strategy.DefaultTechnicalParams()
		if err := json.Unmarshal(extra, &p); err != nil {
			return c, fmt.Errorf("decode technical params: %w", err)
		}
		c.Technical = &p
	case strategy.KindBreakout:
		var p strategy.BreakoutParams
		if err := json.Unmarshal(extra, &p); err != nil {
			return c, fmt.Errorf("decode breakout params: %w", err)
		}
		c.Breakout = &p
	}
	return c, nil
}
