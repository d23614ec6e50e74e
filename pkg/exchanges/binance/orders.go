package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"signal-trader/pkg/exchanges/common"
)

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
}

// PlaceOrder submits an order. Quantity is rounded to a lot multiple and price
// to a tick multiple.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderStatus, error) {
	ct := req.Contract
	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
	}

	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(ordType))
	params.Set("quantity", common.FormatFloat(common.RoundToStep(req.Quantity, ct.LotSize)))
	params.Set("newClientOrderId", uuid.NewString())
	if req.Price > 0 {
		params.Set("price", common.FormatDecimals(common.RoundToStep(req.Price, ct.TickSize), ct.PriceDecimals))
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", string(req.TimeInForce))
	} else if ordType == common.OrderTypeLimit {
		params.Set("timeInForce", string(common.TIFGTC))
	}

	body, err := c.request(ctx, http.MethodPost, c.fam.pathOrder, params, true)
	if err != nil {
		return common.OrderStatus{}, err
	}
	return c.orderStatus(ctx, ct, body)
}

// CancelOrder cancels an open order by exchange id.
func (c *Client) CancelOrder(ctx context.Context, ct common.Contract, orderID string) (common.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	params.Set("orderId", orderID)

	body, err := c.request(ctx, http.MethodDelete, c.fam.pathOrder, params, true)
	if err != nil {
		return common.OrderStatus{}, err
	}
	return c.orderStatus(ctx, ct, body)
}

// GetOrderStatus queries one order by exchange id.
func (c *Client) GetOrderStatus(ctx context.Context, ct common.Contract, orderID string) (common.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	params.Set("orderId", orderID)

	body, err := c.request(ctx, http.MethodGet, c.fam.pathOrder, params, true)
	if err != nil {
		return common.OrderStatus{}, err
	}
	return c.orderStatus(ctx, ct, body)
}

// orderStatus decodes an order payload. Spot payloads carry no average price,
// so a filled spot order gets the VWAP of its fills.
func (c *Client) orderStatus(ctx context.Context, ct common.Contract, body []byte) (common.OrderStatus, error) {
	var res orderResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return common.OrderStatus{}, fmt.Errorf("decode order: %w", err)
	}
	st := common.OrderStatus{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		Status:      common.NormalizeStatus(res.Status),
		AvgPrice:    cast.ToFloat64(res.AvgPrice),
		ExecutedQty: cast.ToFloat64(res.ExecutedQty),
	}
	if !c.fam.derivatives && st.Filled() {
		// On failure AvgPrice stays 0 and the caller polls again.
		if avg, err := c.executionPrice(ctx, ct, res.OrderID); err == nil {
			st.AvgPrice = avg
		}
	}
	return st, nil
}

// executionPrice is the volume-weighted price of every fill of orderID,
// rounded to the tick size. It is 0 when no fill is found.
func (c *Client) executionPrice(ctx context.Context, ct common.Contract, orderID int64) (float64, error) {
	params := url.Values{}
	params.Set("symbol", ct.Symbol)

	body, err := c.request(ctx, http.MethodGet, pathMyTrades, params, true)
	if err != nil {
		return 0, err
	}
	var fills []fill
	if err := json.Unmarshal(body, &fills); err != nil {
		return 0, fmt.Errorf("decode my trades: %w", err)
	}
	return vwap(fills, orderID, ct.TickSize), nil
}

type fill struct {
	OrderID int64  `json:"orderId"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
}

func vwap(fills []fill, orderID int64, tick float64) float64 {
	var notional, qty float64
	for _, f := range fills {
		if f.OrderID != orderID {
			continue
		}
		q := cast.ToFloat64(f.Qty)
		notional += cast.ToFloat64(f.Price) * q
		qty += q
	}
	if qty == 0 {
		return 0
	}
	return common.RoundToStep(notional/qty, tick)
}
