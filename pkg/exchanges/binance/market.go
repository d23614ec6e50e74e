package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"signal-trader/pkg/exchanges/common"
)

const klineLimit = 1000

// GetContracts returns every listed symbol keyed by symbol.
func (c *Client) GetContracts(ctx context.Context) (map[string]common.Contract, error) {
	body, err := c.request(ctx, http.MethodGet, c.fam.pathExchangeInfo, nil, false)
	if err != nil {
		return nil, err
	}
	return c.fam.parseContracts(body)
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol            string           `json:"symbol"`
		BaseAsset         string           `json:"baseAsset"`
		QuoteAsset        string           `json:"quoteAsset"`
		PricePrecision    int              `json:"pricePrecision"`
		QuantityPrecision int              `json:"quantityPrecision"`
		Filters           []map[string]any `json:"filters"`
	} `json:"symbols"`
}

func parseFuturesContracts(body []byte) (map[string]common.Contract, error) {
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	out := make(map[string]common.Contract, len(info.Symbols))
	for _, s := range info.Symbols {
		out[s.Symbol] = common.Contract{
			Symbol:           s.Symbol,
			BaseAsset:        s.BaseAsset,
			QuoteAsset:       s.QuoteAsset,
			PriceDecimals:    s.PricePrecision,
			QuantityDecimals: s.QuantityPrecision,
			TickSize:         1 / math.Pow(10, float64(s.PricePrecision)),
			LotSize:          1 / math.Pow(10, float64(s.QuantityPrecision)),
			Exchange:         common.ExchangeBinanceFutures,
		}
	}
	return out, nil
}

func parseSpotContracts(body []byte) (map[string]common.Contract, error) {
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	out := make(map[string]common.Contract, len(info.Symbols))
	for _, s := range info.Symbols {
		ct := common.Contract{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Exchange:   common.ExchangeBinanceSpot,
		}
		for _, f := range s.Filters {
			switch cast.ToString(f["filterType"]) {
			case "PRICE_FILTER":
				ct.TickSize = cast.ToFloat64(f["tickSize"])
				ct.PriceDecimals = common.TickToDecimals(ct.TickSize)
			case "LOT_SIZE":
				ct.LotSize = cast.ToFloat64(f["stepSize"])
				ct.QuantityDecimals = common.TickToDecimals(ct.LotSize)
			}
		}
		if ct.TickSize <= 0 || ct.LotSize <= 0 {
			continue
		}
		out[s.Symbol] = ct
	}
	return out, nil
}

// GetHistoricalCandles returns up to 1000 klines, oldest first.
func (c *Client) GetHistoricalCandles(ctx context.Context, ct common.Contract, tf common.Timeframe) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	params.Set("interval", string(tf))
	params.Set("limit", fmt.Sprint(klineLimit))

	body, err := c.request(ctx, http.MethodGet, c.fam.pathKlines, params, false)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	candles := make([]common.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		candles = append(candles, common.Candle{
			Timestamp: cast.ToInt64(k[0]),
			Open:      cast.ToFloat64(k[1]),
			High:      cast.ToFloat64(k[2]),
			Low:       cast.ToFloat64(k[3]),
			Close:     cast.ToFloat64(k[4]),
			Volume:    cast.ToFloat64(k[5]),
		})
	}
	return candles, nil
}

// GetBidAsk returns the current best bid and ask.
func (c *Client) GetBidAsk(ctx context.Context, ct common.Contract) (common.Quote, error) {
	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	body, err := c.request(ctx, http.MethodGet, c.fam.pathBookTicker, params, false)
	if err != nil {
		return common.Quote{}, err
	}
	var res struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return common.Quote{}, fmt.Errorf("decode book ticker: %w", err)
	}
	return common.Quote{
		Symbol: strings.ToUpper(res.Symbol),
		Bid:    cast.ToFloat64(res.BidPrice),
		Ask:    cast.ToFloat64(res.AskPrice),
	}, nil
}
