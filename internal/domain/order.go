package domain

import "time"

// Side indicates whether this is a buy or sell.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side for a position opened on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TimeInForce is the order's time-in-force policy.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC" // Good-Till-Cancelled
	TimeInForceIOC TimeInForce = "IOC" // Immediate-Or-Cancel
	TimeInForceFOK TimeInForce = "FOK" // Fill-Or-Kill
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status is final: a terminal order never
// transitions again and is skipped by reconciliation.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order is the ledger's record of an order. The client order id is derived
// deterministically from the originating signal's identity; it is the
// idempotency key for the whole submission path.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Quantity        float64
	Price           float64
	Type            OrderType
	TimeInForce     TimeInForce
	Status          OrderStatus
	StopLoss        float64
	TakeProfit      float64
	Strategy        string
	CreatedAt       time.Time
}

// OrderSubmission is the result view returned by the executor. Re-executing
// the same signal identity returns the same submission.
type OrderSubmission struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Quantity        float64
	Price           float64
	Status          OrderStatus
	RejectReason    string
}
