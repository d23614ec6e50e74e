package binance

import "signal-trader/pkg/exchanges/common"

// family holds everything that differs between the spot and the USDT-margined
// futures API. It is picked once in New.
type family struct {
	exchange    common.Exchange
	derivatives bool

	restLive, restTest string
	wsLive, wsTest     string

	pathTime         string
	pathExchangeInfo string
	pathKlines       string
	pathBookTicker   string
	pathAccount      string
	pathOrder        string

	weightLimit int

	parseContracts func(body []byte) (map[string]common.Contract, error)
	parseBalances  func(body []byte) (map[string]common.Balance, error)
}

var spotFamily = family{
	exchange:         common.ExchangeBinanceSpot,
	restLive:         "https://api.binance.com",
	restTest:         "https://testnet.binance.vision",
	wsLive:           "wss://stream.binance.com:9443/ws",
	wsTest:           "wss://testnet.binance.vision/ws",
	pathTime:         "/api/v3/time",
	pathExchangeInfo: "/api/v3/exchangeInfo",
	pathKlines:       "/api/v3/klines",
	pathBookTicker:   "/api/v3/ticker/bookTicker",
	pathAccount:      "/api/v3/account",
	pathOrder:        "/api/v3/order",
	weightLimit:      1200,
	parseContracts:   parseSpotContracts,
	parseBalances:    parseSpotBalances,
}

var futuresFamily = family{
	exchange:         common.ExchangeBinanceFutures,
	derivatives:      true,
	restLive:         "https://fapi.binance.com",
	restTest:         "https://testnet.binancefuture.com",
	wsLive:           "wss://fstream.binance.com/ws",
	wsTest:           "wss://stream.binancefuture.com/ws",
	pathTime:         "/fapi/v1/time",
	pathExchangeInfo: "/fapi/v1/exchangeInfo",
	pathKlines:       "/fapi/v1/klines",
	pathBookTicker:   "/fapi/v1/ticker/bookTicker",
	pathAccount:      "/fapi/v1/account",
	pathOrder:        "/fapi/v1/order",
	weightLimit:      2400,
	parseContracts:   parseFuturesContracts,
	parseBalances:    parseFuturesBalances,
}

const pathMyTrades = "/api/v3/myTrades"
