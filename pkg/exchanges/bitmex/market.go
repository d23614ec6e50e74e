package bitmex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"signal-trader/pkg/exchanges/common"
)

// bucketed candles are stamped with the bucket end.
var binMinutes = map[common.Timeframe]int{"1m": 1, "5m": 5, "1h": 60}

type instrument struct {
	Symbol        string   `json:"symbol"`
	RootSymbol    string   `json:"rootSymbol"`
	QuoteCurrency string   `json:"quoteCurrency"`
	TickSize      float64  `json:"tickSize"`
	LotSize       float64  `json:"lotSize"`
	IsQuanto      bool     `json:"isQuanto"`
	IsInverse     bool     `json:"isInverse"`
	Multiplier    float64  `json:"multiplier"`
	BidPrice      *float64 `json:"bidPrice"`
	AskPrice      *float64 `json:"askPrice"`
}

func (i instrument) contract() common.Contract {
	mult := i.Multiplier * satoshi
	if i.IsInverse {
		mult = -mult
	}
	return common.Contract{
		Symbol:           i.Symbol,
		BaseAsset:        i.RootSymbol,
		QuoteAsset:       i.QuoteCurrency,
		TickSize:         i.TickSize,
		LotSize:          i.LotSize,
		PriceDecimals:    common.TickToDecimals(i.TickSize),
		QuantityDecimals: common.TickToDecimals(i.LotSize),
		Exchange:         common.ExchangeBitmex,
		Inverse:          i.IsInverse,
		Quanto:           i.IsQuanto,
		Multiplier:       mult,
	}
}

// GetContracts returns the active instruments keyed by symbol.
func (c *Client) GetContracts(ctx context.Context) (map[string]common.Contract, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v1/instrument/active", url.Values{})
	if err != nil {
		return nil, err
	}
	var list []instrument
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	out := make(map[string]common.Contract, len(list))
	for _, i := range list {
		if i.TickSize <= 0 || i.LotSize <= 0 {
			continue
		}
		out[i.Symbol] = i.contract()
	}
	return out, nil
}

// GetBidAsk reads the instrument's current best prices.
func (c *Client) GetBidAsk(ctx context.Context, ct common.Contract) (common.Quote, error) {
	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	body, err := c.request(ctx, http.MethodGet, "/api/v1/instrument", params)
	if err != nil {
		return common.Quote{}, err
	}
	var list []instrument
	if err := json.Unmarshal(body, &list); err != nil {
		return common.Quote{}, fmt.Errorf("decode instrument: %w", err)
	}
	for _, i := range list {
		if i.Symbol != ct.Symbol {
			continue
		}
		q := common.Quote{Symbol: i.Symbol}
		if i.BidPrice != nil {
			q.Bid = *i.BidPrice
		}
		if i.AskPrice != nil {
			q.Ask = *i.AskPrice
		}
		return q, nil
	}
	return common.Quote{}, fmt.Errorf("instrument %s not found", ct.Symbol)
}

// GetBalances returns margin figures per currency, converted from satoshis.
func (c *Client) GetBalances(ctx context.Context) (map[string]common.Balance, error) {
	params := url.Values{}
	params.Set("currency", "all")
	body, err := c.request(ctx, http.MethodGet, "/api/v1/user/margin", params)
	if err != nil {
		return nil, err
	}
	var margins []struct {
		Currency      string  `json:"currency"`
		InitMargin    float64 `json:"initMargin"`
		MaintMargin   float64 `json:"maintMargin"`
		MarginBalance float64 `json:"marginBalance"`
		WalletBalance float64 `json:"walletBalance"`
		UnrealisedPnl float64 `json:"unrealisedPnl"`
	}
	if err := json.Unmarshal(body, &margins); err != nil {
		return nil, fmt.Errorf("decode margin: %w", err)
	}
	out := make(map[string]common.Balance, len(margins))
	for _, m := range margins {
		out[m.Currency] = common.Balance{
			Asset:             m.Currency,
			InitialMargin:     m.InitMargin * satoshi,
			MaintenanceMargin: m.MaintMargin * satoshi,
			MarginBalance:     m.MarginBalance * satoshi,
			WalletBalance:     m.WalletBalance * satoshi,
			UnrealizedPnL:     m.UnrealisedPnl * satoshi,
			Derivatives:       true,
		}
	}
	return out, nil
}

// GetHistoricalCandles returns up to 500 buckets, oldest first. Buckets with
// no open or close are skipped.
func (c *Client) GetHistoricalCandles(ctx context.Context, ct common.Contract, tf common.Timeframe) ([]common.Candle, error) {
	minutes, ok := binMinutes[tf]
	if !ok {
		return nil, fmt.Errorf("bitmex: unsupported timeframe %q", string(tf))
	}
	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	params.Set("partial", "true")
	params.Set("binSize", string(tf))
	params.Set("count", "500")
	params.Set("reverse", "true")

	body, err := c.request(ctx, http.MethodGet, "/api/v1/trade/bucketed", params)
	if err != nil {
		return nil, err
	}
	var buckets []struct {
		Timestamp time.Time `json:"timestamp"`
		Open      *float64  `json:"open"`
		High      float64   `json:"high"`
		Low       float64   `json:"low"`
		Close     *float64  `json:"close"`
		Volume    float64   `json:"volume"`
	}
	if err := json.Unmarshal(body, &buckets); err != nil {
		return nil, fmt.Errorf("decode buckets: %w", err)
	}

	shift := time.Duration(minutes) * time.Minute
	candles := make([]common.Candle, 0, len(buckets))
	for _, b := range buckets {
		if b.Open == nil || b.Close == nil {
			continue
		}
		candles = append(candles, common.Candle{
			Timestamp: b.Timestamp.Add(-shift).UnixMilli(),
			Open:      *b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     *b.Close,
			Volume:    b.Volume,
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	return candles, nil
}

// TradeSize sizes an order in whole contracts from the XBt wallet balance.
func (c *Client) TradeSize(ctx context.Context, ct common.Contract, price, balancePct float64) (float64, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	b, ok := balances["XBt"]
	if !ok {
		return 0, fmt.Errorf("no XBt balance")
	}
	size := common.ContractsSize(b.WalletBalance, balancePct, price, ct)
	c.log.Info("trade size", zap.Float64("xbt", b.WalletBalance), zap.Float64("contracts", size))
	return size, nil
}
