package risk

import (
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// PositionSizer converts a risk budget into an order quantity. Sizing happens
// before risk evaluation so the engine always sees a concrete quantity.
type PositionSizer struct {
	riskPerTrade        float64 // fraction of equity risked at the stop
	maxExposurePerAsset float64 // fraction of equity per symbol
	minOrderQty         float64
}

// NewPositionSizer builds a sizer from the risk limits it must stay inside.
func NewPositionSizer(riskPerTrade, maxExposurePerAsset, minOrderQty float64) *PositionSizer {
	return &PositionSizer{
		riskPerTrade:        riskPerTrade,
		maxExposurePerAsset: maxExposurePerAsset,
		minOrderQty:         minOrderQty,
	}
}

// Size returns the quantity that risks riskPerTrade of equity between entry
// and stop, clamped so the entry notional stays under the per-asset exposure
// cap. Returns 0 when no valid size exists (caller should drop the signal).
func (ps *PositionSizer) Size(sig domain.Signal, equity float64) float64 {
	if equity <= 0 || sig.EntryPrice <= 0 {
		return 0
	}
	stopWidth := math.Abs(sig.EntryPrice - sig.StopLoss)
	if stopWidth <= 0 {
		return 0
	}

	qty := equity * ps.riskPerTrade / stopWidth

	// Exposure clamp: notional must fit under the per-asset cap.
	maxNotional := equity * ps.maxExposurePerAsset
	if qty*sig.EntryPrice > maxNotional {
		qty = maxNotional / sig.EntryPrice
	}

	if qty < ps.minOrderQty {
		return 0
	}
	return qty
}
