// Package binance implements the Binance spot and USDT futures connector.
package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/stream"
)

// Config holds Binance credentials and endpoint selection.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	Futures    bool
	RecvWindow int64 // ms

	// Overrides, used by tests.
	BaseURL   string
	StreamURL string
}

// Client is a Binance connector. It satisfies common.Connector.
type Client struct {
	cfg         Config
	fam         family
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	stream      *stream.Client
	log         *zap.Logger
}

var _ common.Connector = (*Client)(nil)

// New builds a client. Nothing is fetched until a method is called.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	fam := spotFamily
	if cfg.Futures {
		fam = futuresFamily
	}
	log = log.Named(string(fam.exchange))

	base, ws := fam.restLive, fam.wsLive
	if cfg.Testnet {
		base, ws = fam.restTest, fam.wsTest
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.StreamURL != "" {
		ws = cfg.StreamURL
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}

	c := &Client{
		cfg:        cfg,
		fam:        fam,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
	c.timeSync = common.NewTimeSync(c.serverTime, log)
	c.rateLimiter = common.NewRateLimiter(fam.weightLimit, time.Minute, log)
	c.stream = stream.NewClient(&streamProtocol{url: ws}, stream.Options{}, log)
	return c
}

func (c *Client) Exchange() common.Exchange { return c.fam.exchange }

func (c *Client) Derivatives() bool { return c.fam.derivatives }

// Stream returns the websocket session; Run it on its own goroutine.
func (c *Client) Stream() *stream.Client { return c.stream }

// StartTimeSync keeps request timestamps aligned with the server clock.
func (c *Client) StartTimeSync(ctx context.Context) { c.timeSync.Start(ctx) }

// Subscribe records and sends <symbol>@<channel> subscriptions.
func (c *Client) Subscribe(contracts []common.Contract, ch common.Channel) {
	symbols := make([]string, 0, len(contracts))
	for _, ct := range contracts {
		symbols = append(symbols, ct.Symbol)
	}
	c.stream.Subscribe(symbols, ch, false)
}

// request performs one REST call. Failures are logged and returned as
// *common.TransportError or *common.APIError, both matching common.ErrNoResult.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	body, err := c.do(ctx, method, path, params, signed)
	if err != nil {
		c.log.Error("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
	return body, err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.timeSync.Now(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	}
	encoded := params.Encode()
	if signed {
		// signature must come last
		encoded += "&signature=" + common.Sign(encoded, c.cfg.APISecret)
	}

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		if encoded != "" {
			endpoint += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &common.APIError{Method: method, Path: path, Status: res.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	body, err := c.do(ctx, http.MethodGet, c.fam.pathTime, nil, false)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}
