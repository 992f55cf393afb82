// Package bybit implements the exchange contracts against the Bybit V5 API
// (linear perpetuals). REST calls are signed with HMAC-SHA256, rate limited
// client-side, and retried with exponential backoff on transient failures.
package bybit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/exchange"
)

const category = "linear"

// Client talks to the Bybit V5 REST API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow string
	maxRetries int

	httpClient *http.Client
	limiter    *tokenBucket
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient builds a REST client from the exchange configuration.
func NewClient(cfg config.ExchangeConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: strconv.Itoa(cfg.RecvWindowMs),
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout.Duration},
		limiter:    newTokenBucket(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:     logger.With(slog.String("component", "bybit")),
		now:        time.Now,
	}
}

// PlaceOrder submits o as a market or limit order. The client order id is
// passed through as orderLinkId, which Bybit deduplicates server-side, so a
// retried request cannot create a second order.
func (c *Client) PlaceOrder(ctx context.Context, o domain.Order) (exchange.OrderAck, error) {
	body := map[string]any{
		"category":    category,
		"symbol":      o.Symbol,
		"side":        string(o.Side),
		"orderType":   string(o.Type),
		"qty":         strconv.FormatFloat(o.Quantity, 'f', -1, 64),
		"timeInForce": string(o.TimeInForce),
		"orderLinkId": o.ClientOrderID,
	}
	if o.Type == domain.OrderTypeLimit {
		body["price"] = strconv.FormatFloat(o.Price, 'f', -1, 64)
	}
	if o.StopLoss > 0 {
		body["stopLoss"] = strconv.FormatFloat(o.StopLoss, 'f', -1, 64)
	}
	if o.TakeProfit > 0 {
		body["takeProfit"] = strconv.FormatFloat(o.TakeProfit, 'f', -1, 64)
	}

	var resp bybitResponse[struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}]
	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true, &resp); err != nil {
		return exchange.OrderAck{}, fmt.Errorf("bybit: place order: %w", err)
	}

	c.logger.Info("order placed",
		slog.String("symbol", o.Symbol),
		slog.String("client_order_id", o.ClientOrderID),
		slog.String("exchange_order_id", resp.Result.OrderID),
	)
	return exchange.OrderAck{
		ExchangeOrderID: resp.Result.OrderID,
		ClientOrderID:   resp.Result.OrderLinkID,
	}, nil
}

// CancelOrder cancels an open order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	body := map[string]any{
		"category": category,
		"symbol":   symbol,
		"orderId":  exchangeOrderID,
	}
	var resp bybitResponse[struct{}]
	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/cancel", nil, body, true, &resp); err != nil {
		return fmt.Errorf("bybit: cancel order %s: %w", exchangeOrderID, err)
	}
	return nil
}

// OrderState fetches the venue's view of a single order. Bybit moves filled
// and cancelled orders out of the realtime book, so a miss there falls back
// to order history.
func (c *Client) OrderState(ctx context.Context, symbol, exchangeOrderID string) (exchange.OrderState, error) {
	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		params := url.Values{}
		params.Set("category", category)
		params.Set("symbol", symbol)
		params.Set("orderId", exchangeOrderID)

		var resp bybitResponse[orderListResult]
		if err := c.doRequest(ctx, http.MethodGet, path, params, nil, true, &resp); err != nil {
			return exchange.OrderState{}, fmt.Errorf("bybit: order state %s: %w", exchangeOrderID, err)
		}
		if len(resp.Result.List) > 0 {
			return resp.Result.List[0].toOrderState(symbol), nil
		}
	}
	return exchange.OrderState{}, fmt.Errorf("bybit: order state %s: %w", exchangeOrderID, domain.ErrNotFound)
}

// WalletBalance returns the account's total equity in USD.
func (c *Client) WalletBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var resp bybitResponse[struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, true, &resp); err != nil {
		return 0, fmt.Errorf("bybit: wallet balance: %w", err)
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("bybit: wallet balance: %w", domain.ErrNotFound)
	}

	equity, err := strconv.ParseFloat(resp.Result.List[0].TotalEquity, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: wallet balance: parse %q: %w", resp.Result.List[0].TotalEquity, err)
	}
	return equity, nil
}

// OpenOrders lists the venue's open orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]exchange.OrderState, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	var resp bybitResponse[orderListResult]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("bybit: open orders %s: %w", symbol, err)
	}

	out := make([]exchange.OrderState, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		out = append(out, item.toOrderState(symbol))
	}
	return out, nil
}
