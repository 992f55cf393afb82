package domain

import "time"

// Signal is a candidate trade intent produced by a strategy. ID is the stable
// signal identity: the executor derives the order idempotency key from it, so
// the same logical signal must always carry the same ID.
type Signal struct {
	ID             string
	Strategy       string
	Symbol         string
	Side           Side
	EntryPrice     float64
	StopLoss       float64
	TakeProfit     float64
	Quantity       float64
	Confidence     float64
	BaseConfidence float64
	RegimeWeight   float64
	Reason         string
	CreatedAt      time.Time
}

// RiskApproval is the risk engine's verdict on a signal. When approved, the
// quantity/stop/take echoed back may have been adjusted by the engine and are
// the values the executor must use.
type RiskApproval struct {
	Approved   bool
	Reason     string
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	RiskPct    float64
	RiskAmount float64
	Signal     *Signal
}

// Fill reports an executed quantity for an order, either simulated (paper),
// pushed by the exchange stream, or synthesized by reconciliation.
type Fill struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Quantity        float64
	Price           float64
	StopLoss        float64
	TakeProfit      float64
	Time            time.Time
}
