package domain

import "time"

// Position represents an open trading position. The ledger holds at most one
// position per symbol; entries into an occupied symbol are rejected, not
// merged.
type Position struct {
	Symbol        string
	Side          Side
	Quantity      float64
	EntryPrice    float64
	EntryTime     time.Time
	StopLoss      float64
	TakeProfit    float64
	UnrealizedPnL float64
	PositionID    string
}

// UpdatePnL recomputes the unrealized PnL from the latest price.
func (p *Position) UpdatePnL(currentPrice float64) {
	if p.Side == SideBuy {
		p.UnrealizedPnL = (currentPrice - p.EntryPrice) * p.Quantity
	} else {
		p.UnrealizedPnL = (p.EntryPrice - currentPrice) * p.Quantity
	}
}

// Notional returns the position's entry notional value.
func (p Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// PositionUpdate is pushed by the exchange stream when the venue's view of a
// position changes.
type PositionUpdate struct {
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64
	MarkPrice  float64
	Time       time.Time
}
