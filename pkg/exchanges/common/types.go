package common

// Exchange tags a connector family.
type Exchange string

const (
	ExchangeBinanceSpot    Exchange = "binance_spot"
	ExchangeBinanceFutures Exchange = "binance_futures"
	ExchangeBitmex         Exchange = "bitmex"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order types the core submits.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// Status is the lower-cased exchange order status.
type Status string

const (
	StatusNew             Status = "new"
	StatusPartiallyFilled Status = "partiallyfilled"
	StatusFilled          Status = "filled"
	StatusCanceled        Status = "canceled"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// Contract is an exchange-agnostic instrument description.
// TickSize and LotSize are always > 0.
type Contract struct {
	Symbol           string   `json:"symbol"`
	BaseAsset        string   `json:"base_asset"`
	QuoteAsset       string   `json:"quote_asset"`
	TickSize         float64  `json:"tick_size"`
	LotSize          float64  `json:"lot_size"`
	PriceDecimals    int      `json:"price_decimals"`
	QuantityDecimals int      `json:"quantity_decimals"`
	Exchange         Exchange `json:"exchange"`

	// PnL math only.
	Inverse    bool    `json:"inverse"`
	Quanto     bool    `json:"quanto"`
	Multiplier float64 `json:"multiplier"`
}

// PnLMultiplier returns the contract multiplier, 1 when the venue has none.
func (c Contract) PnLMultiplier() float64 {
	if c.Multiplier == 0 {
		return 1
	}
	return c.Multiplier
}

// Balance holds per-asset account figures. Derivatives accounts fill the margin
// fields, spot accounts fill Free and Locked.
type Balance struct {
	Asset             string  `json:"asset"`
	InitialMargin     float64 `json:"initial_margin"`
	MaintenanceMargin float64 `json:"maintenance_margin"`
	MarginBalance     float64 `json:"margin_balance"`
	WalletBalance     float64 `json:"wallet_balance"`
	UnrealizedPnL     float64 `json:"unrealized_pnl"`
	Free              float64 `json:"free"`
	Locked            float64 `json:"locked"`
	Derivatives       bool    `json:"derivatives"`
}

// Usable is the figure order sizing reads.
func (b Balance) Usable() float64 {
	if b.Derivatives {
		return b.WalletBalance
	}
	return b.Free
}

// Candle is one OHLCV bucket; Timestamp is the bucket start in ms.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// OrderStatus is a snapshot of one order query.
type OrderStatus struct {
	OrderID     string  `json:"order_id"`
	Status      Status  `json:"status"`
	AvgPrice    float64 `json:"avg_price"`
	ExecutedQty float64 `json:"executed_qty"`
}

// Filled reports whether the order is completely filled.
func (s OrderStatus) Filled() bool { return s.Status == StatusFilled }

// OrderRequest captures an order intent.
type OrderRequest struct {
	Contract    Contract
	Side        Side
	Type        OrderType
	Quantity    float64
	Price       float64 // LIMIT only
	TimeInForce TimeInForce
}

// Quote is a top-of-book update. A zero Bid or Ask means the message did not carry it.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// TradeTick is one public trade.
type TradeTick struct {
	Symbol    string
	Price     float64
	Size      float64
	Timestamp int64 // ms
}
