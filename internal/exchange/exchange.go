// Package exchange defines the venue-facing contracts: order placement,
// order-state queries, market data, and the private event stream. The bybit
// subpackage implements them; paper trading bypasses this package entirely.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// OrderAck is the venue's acknowledgement of a placed order.
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
}

// OrderState is the venue's view of an order, used by reconciliation.
type OrderState struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            domain.Side
	Status          domain.OrderStatus
	Quantity        float64
	FilledQuantity  float64
	AvgFillPrice    float64
	UpdatedAt       time.Time
}

// Client is the trading API of a venue.
type Client interface {
	PlaceOrder(ctx context.Context, o domain.Order) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	OrderState(ctx context.Context, symbol, exchangeOrderID string) (OrderState, error)
	OpenOrders(ctx context.Context, symbol string) ([]OrderState, error)
	WalletBalance(ctx context.Context) (float64, error)
}

// EventType tags private stream events.
type EventType string

const (
	EventFill      EventType = "fill"
	EventOrder     EventType = "order"
	EventReconnect EventType = "reconnect"
)

// Event is one message from the private stream.
type Event struct {
	Type  EventType
	Fill  *domain.Fill
	Order *OrderState
}

// Stream is the private order/execution websocket.
type Stream interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// APIError is a venue-level rejection carrying the venue's own code.
type APIError struct {
	Code       int
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: api error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the call may be repeated as-is. Rate limits and
// server-side failures are transient; everything else is a hard rejection.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case 10006, 10018: // rate limit exceeded
		return true
	case 10002: // request time drift, recoverable with a fresh timestamp
		return true
	}
	return e.HTTPStatus >= 500
}

// IsRetryable classifies transport and API errors for the retry loop.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, domain.ErrRateLimited)
}
