// Package bitmex implements the BitMEX derivatives connector.
package bitmex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/stream"
)

// satoshi converts XBt amounts to XBT.
const satoshi = 1e-8

// Config holds BitMEX credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool

	// Overrides, used by tests.
	BaseURL   string
	StreamURL string
}

// Client is a BitMEX connector. It satisfies common.Connector.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	stream      *stream.Client
	log         *zap.Logger
	now         func() time.Time
}

var _ common.Connector = (*Client)(nil)

// New builds a client.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named(string(common.ExchangeBitmex))

	base, ws := "https://www.bitmex.com", "wss://www.bitmex.com/realtime"
	if cfg.Testnet {
		base, ws = "https://testnet.bitmex.com", "wss://testnet.bitmex.com/realtime"
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.StreamURL != "" {
		ws = cfg.StreamURL
	}

	return &Client{
		cfg:         cfg,
		baseURL:     base,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: common.NewRateLimiter(120, time.Minute, log),
		stream:      stream.NewClient(streamProtocol{url: ws}, stream.Options{PingInterval: 30 * time.Second}, log),
		log:         log,
		now:         time.Now,
	}
}

func (c *Client) Exchange() common.Exchange { return common.ExchangeBitmex }

func (c *Client) Derivatives() bool { return true }

// Stream returns the websocket session; Run it on its own goroutine.
func (c *Client) Stream() *stream.Client { return c.stream }

// Subscribe is a no-op: the instrument and trade tables already stream every symbol.
func (c *Client) Subscribe([]common.Contract, common.Channel) {}

// signature covers method, path, the query string when present, and expires.
func signature(secret, method, path, query, expires string) string {
	msg := method + path
	if query != "" {
		msg += "?" + query
	}
	return common.Sign(msg+expires, secret)
}

// request performs one signed REST call. Parameters always travel in the query
// string. Failures are logged and match common.ErrNoResult.
func (c *Client) request(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	body, err := c.do(ctx, method, path, params)
	if err != nil {
		c.log.Error("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
	return body, err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}

	query := params.Encode()
	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}

	expires := strconv.FormatInt(c.now().Unix()+5, 10)
	req.Header.Set("api-expires", expires)
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("api-signature", signature(c.cfg.APISecret, method, path, query, expires))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &common.TransportError{Method: method, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &common.APIError{Method: method, Path: path, Status: res.StatusCode, Body: string(body)}
	}
	return body, nil
}
