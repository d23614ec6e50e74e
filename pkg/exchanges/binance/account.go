package binance

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"signal-trader/pkg/exchanges/common"
)

// GetBalances returns the account balances keyed by asset.
func (c *Client) GetBalances(ctx context.Context) (map[string]common.Balance, error) {
	body, err := c.request(ctx, http.MethodGet, c.fam.pathAccount, nil, true)
	if err != nil {
		return nil, err
	}
	return c.fam.parseBalances(body)
}

func parseFuturesBalances(body []byte) (map[string]common.Balance, error) {
	var acc struct {
		Assets []struct {
			Asset            string `json:"asset"`
			InitialMargin    string `json:"initialMargin"`
			MaintMargin      string `json:"maintMargin"`
			MarginBalance    string `json:"marginBalance"`
			WalletBalance    string `json:"walletBalance"`
			UnrealizedProfit string `json:"unrealizedProfit"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(body, &acc); err != nil {
		return nil, fmt.Errorf("decode futures account: %w", err)
	}
	out := make(map[string]common.Balance, len(acc.Assets))
	for _, a := range acc.Assets {
		out[a.Asset] = common.Balance{
			Asset:             a.Asset,
			InitialMargin:     cast.ToFloat64(a.InitialMargin),
			MaintenanceMargin: cast.ToFloat64(a.MaintMargin),
			MarginBalance:     cast.ToFloat64(a.MarginBalance),
			WalletBalance:     cast.ToFloat64(a.WalletBalance),
			UnrealizedPnL:     cast.ToFloat64(a.UnrealizedProfit),
			Derivatives:       true,
		}
	}
	return out, nil
}

func parseSpotBalances(body []byte) (map[string]common.Balance, error) {
	var acc struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &acc); err != nil {
		return nil, fmt.Errorf("decode spot account: %w", err)
	}
	out := make(map[string]common.Balance, len(acc.Balances))
	for _, b := range acc.Balances {
		out[b.Asset] = common.Balance{
			Asset:  b.Asset,
			Free:   cast.ToFloat64(b.Free),
			Locked: cast.ToFloat64(b.Locked),
		}
	}
	return out, nil
}

// TradeSize sizes an order from the quote-asset balance.
func (c *Client) TradeSize(ctx context.Context, ct common.Contract, price, balancePct float64) (float64, error) {
	balances, err := c.GetBalances(ctx)
	if err != nil {
		return 0, err
	}
	b, ok := balances[ct.QuoteAsset]
	if !ok {
		return 0, fmt.Errorf("no %s balance", ct.QuoteAsset)
	}
	size := common.LinearSize(b.Usable(), balancePct, price, ct.LotSize)
	c.log.Info("trade size",
		zap.String("asset", ct.QuoteAsset), zap.Float64("balance", b.Usable()), zap.Float64("size", size))
	return size, nil
}
