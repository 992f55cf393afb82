package executor

import "github.com/alanyoungcy/tradecore/internal/domain"

// SlippageModel estimates execution slippage for simulated fills from order
// size relative to daily volume, with volatility scaling. Output is in price
// units, applied against the taker (buys fill higher, sells fill lower).
type SlippageModel struct {
	baseBuy  float64
	baseSell float64
}

// NewSlippageModel builds a model with per-side base slippage fractions.
func NewSlippageModel(baseBuy, baseSell float64) *SlippageModel {
	if baseBuy <= 0 {
		baseBuy = 0.0001
	}
	if baseSell <= 0 {
		baseSell = 0.0001
	}
	return &SlippageModel{baseBuy: baseBuy, baseSell: baseSell}
}

// MarketImpact returns the impact fraction for an order of orderSizeUSD
// against volume24hUSD. Impact grows in tranches of the order's share of
// daily volume and exponentially past 10%, capped at 1%. Sells carry a 10%
// premium for liquidity asymmetry.
func (m *SlippageModel) MarketImpact(orderSizeUSD, volume24hUSD float64, side domain.Side) float64 {
	if volume24hUSD <= 0 {
		return 0.002 // no volume data, conservative default
	}

	volumePct := orderSizeUSD / volume24hUSD * 100

	var impact float64
	switch {
	case volumePct < 0.1:
		impact = 0.0001
	case volumePct < 1.0:
		impact = 0.0005
	case volumePct < 5.0:
		impact = 0.001
	case volumePct < 10.0:
		impact = 0.002
	default:
		impact = 0.002 + (volumePct-10.0)*0.00005
		if impact > 0.01 {
			impact = 0.01
		}
	}

	if side == domain.SideSell {
		impact *= 1.1
	}
	return impact
}

// Slippage returns the expected slippage in price units for an order at
// price. volatility (e.g. ATR/price) scales the estimate; zero means unknown.
func (m *SlippageModel) Slippage(price, orderSizeUSD, volume24hUSD float64, side domain.Side, volatility float64) float64 {
	base := m.baseBuy
	if side == domain.SideSell {
		base = m.baseSell
	}

	var impact float64
	if volume24hUSD > 0 {
		impact = m.MarketImpact(orderSizeUSD, volume24hUSD, side)
	} else {
		impact = 0.0005
	}

	volAdj := 1.0
	switch {
	case volatility > 0.05:
		volAdj = 1.5
	case volatility > 0.03:
		volAdj = 1.3
	case volatility > 0.02:
		volAdj = 1.1
	}

	return price * (base + impact) * volAdj
}

// FillPrice applies slippage against the taker.
func (m *SlippageModel) FillPrice(price, orderSizeUSD, volume24hUSD float64, side domain.Side, volatility float64) float64 {
	slip := m.Slippage(price, orderSizeUSD, volume24hUSD, side, volatility)
	if side == domain.SideBuy {
		return price + slip
	}
	return price - slip
}
