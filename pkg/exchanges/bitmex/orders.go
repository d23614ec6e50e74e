package bitmex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"signal-trader/pkg/exchanges/common"
)

type order struct {
	OrderID   string   `json:"orderID"`
	OrdStatus string   `json:"ordStatus"`
	AvgPx     *float64 `json:"avgPx"`
	CumQty    float64  `json:"cumQty"`
}

func (o order) status() common.OrderStatus {
	st := common.OrderStatus{
		OrderID:     o.OrderID,
		Status:      common.NormalizeStatus(o.OrdStatus),
		ExecutedQty: o.CumQty,
	}
	if o.AvgPx != nil {
		st.AvgPrice = *o.AvgPx
	}
	return st
}

// capitalize turns BUY/MARKET into Buy/Market.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// PlaceOrder submits an order sized in contracts.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderStatus, error) {
	ct := req.Contract
	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
	}

	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	params.Set("side", capitalize(string(req.Side)))
	params.Set("orderQty", common.FormatFloat(common.RoundToStep(req.Quantity, ct.LotSize)))
	params.Set("ordType", capitalize(string(ordType)))
	params.Set("clOrdID", uuid.NewString())
	if req.Price > 0 {
		params.Set("price", common.FormatFloat(common.RoundToStep(req.Price, ct.TickSize)))
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", string(req.TimeInForce))
	}

	body, err := c.request(ctx, http.MethodPost, "/api/v1/order", params)
	if err != nil {
		return common.OrderStatus{}, err
	}
	var o order
	if err := json.Unmarshal(body, &o); err != nil {
		return common.OrderStatus{}, fmt.Errorf("decode order: %w", err)
	}
	return o.status(), nil
}

// CancelOrder cancels one order. The API answers with an array.
func (c *Client) CancelOrder(ctx context.Context, _ common.Contract, orderID string) (common.OrderStatus, error) {
	params := url.Values{}
	params.Set("orderID", orderID)

	body, err := c.request(ctx, http.MethodDelete, "/api/v1/order", params)
	if err != nil {
		return common.OrderStatus{}, err
	}
	var list []order
	if err := json.Unmarshal(body, &list); err != nil {
		return common.OrderStatus{}, fmt.Errorf("decode cancel: %w", err)
	}
	if len(list) == 0 {
		return common.OrderStatus{}, fmt.Errorf("cancel %s: empty response", orderID)
	}
	return list[0].status(), nil
}

// GetOrderStatus lists the symbol's recent orders and picks orderID.
func (c *Client) GetOrderStatus(ctx context.Context, ct common.Contract, orderID string) (common.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", ct.Symbol)
	params.Set("reverse", "true")

	body, err := c.request(ctx, http.MethodGet, "/api/v1/order", params)
	if err != nil {
		return common.OrderStatus{}, err
	}
	var list []order
	if err := json.Unmarshal(body, &list); err != nil {
		return common.OrderStatus{}, fmt.Errorf("decode orders: %w", err)
	}
	for _, o := range list {
		if o.OrderID == orderID {
			return o.status(), nil
		}
	}
	return common.OrderStatus{}, fmt.Errorf("order %s not found", orderID)
}
