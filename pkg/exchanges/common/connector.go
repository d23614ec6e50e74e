package common

import "context"

// Channel names a stream topic family.
type Channel string

const (
	ChannelBookTicker Channel = "bookTicker"
	ChannelTrades     Channel = "aggTrade"
)

// Connector is the capability set every exchange implements. Methods that hit
// the REST API return an error satisfying errors.Is(err, ErrNoResult) when the
// outcome is unknown.
type Connector interface {
	Exchange() Exchange
	// Derivatives is false for spot accounts, which cannot short.
	Derivatives() bool

	GetContracts(ctx context.Context) (map[string]Contract, error)
	GetBalances(ctx context.Context) (map[string]Balance, error)
	GetHistoricalCandles(ctx context.Context, c Contract, tf Timeframe) ([]Candle, error)
	GetBidAsk(ctx context.Context, c Contract) (Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatus, error)
	CancelOrder(ctx context.Context, c Contract, orderID string) (OrderStatus, error)
	GetOrderStatus(ctx context.Context, c Contract, orderID string) (OrderStatus, error)
	// TradeSize converts a balance percentage into an order quantity at price.
	TradeSize(ctx context.Context, c Contract, price, balancePct float64) (float64, error)

	// Subscribe records and sends a stream subscription. Channels the exchange
	// streams for every symbol are accepted and ignored.
	Subscribe(contracts []Contract, ch Channel)
}
