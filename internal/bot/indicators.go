package bot

import (
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// IndicatorEngine computes the named indicator set for one symbol from its
// candle windows. The core only reads values by name; heavier indicator
// pipelines plug in behind this interface.
type IndicatorEngine interface {
	Compute(windows domain.CandleWindows) domain.Indicators
}

// RegimeClassifier labels current market behavior. Regimes bias strategy
// priority, never hard-gate it.
type RegimeClassifier interface {
	Classify(windows domain.CandleWindows, ind domain.Indicators) domain.Regime
}

// BasicIndicatorEngine is the built-in engine: 14-bar ATR from M1 plus the
// EMA21/EMA50 pair on M5 that the trend strategy reads.
type BasicIndicatorEngine struct{}

// Compute returns the indicator map. Missing windows simply leave the
// corresponding keys out.
func (BasicIndicatorEngine) Compute(windows domain.CandleWindows) domain.Indicators {
	ind := make(domain.Indicators, 3)
	if atr := averageTrueRange(windows.M1, 14); atr > 0 {
		ind["atr"] = atr
	}
	if e := ema(closes(windows.M5), 21); e > 0 {
		ind["ema21_m5"] = e
	}
	if e := ema(closes(windows.M5), 50); e > 0 {
		ind["ema50_m5"] = e
	}
	return ind
}

// BasicRegimeClassifier is the built-in classifier: wide ATR means volatile,
// a clear EMA spread means trending, everything else is ranging.
type BasicRegimeClassifier struct {
	// VolatileATRPct is the ATR/price ratio above which the market counts
	// as volatile. Zero selects the default.
	VolatileATRPct float64
	// TrendEMAPct is the EMA21/EMA50 spread (fraction of price) above which
	// the market counts as trending. Zero selects the default.
	TrendEMAPct float64
}

func (c BasicRegimeClassifier) Classify(windows domain.CandleWindows, ind domain.Indicators) domain.Regime {
	volThreshold := c.VolatileATRPct
	if volThreshold == 0 {
		volThreshold = 0.02
	}
	trendThreshold := c.TrendEMAPct
	if trendThreshold == 0 {
		trendThreshold = 0.004
	}

	price := lastClose(windows.M5)
	if price <= 0 {
		price = lastClose(windows.M1)
	}
	if price <= 0 {
		return domain.Regime{Type: domain.RegimeRanging, Confidence: 0.5}
	}

	if atr := ind.ATR(); atr/price >= volThreshold {
		return domain.Regime{
			Type:       domain.RegimeVolatile,
			Confidence: clamp01(atr / price / (2 * volThreshold)),
		}
	}

	ema21, ema50 := ind["ema21_m5"], ind["ema50_m5"]
	if ema21 > 0 && ema50 > 0 {
		spread := math.Abs(ema21-ema50) / price
		if spread >= trendThreshold {
			return domain.Regime{
				Type:       domain.RegimeTrending,
				Confidence: clamp01(spread / (2 * trendThreshold)),
			}
		}
	}
	return domain.Regime{Type: domain.RegimeRanging, Confidence: 0.6}
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func lastClose(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Close
}

// ema computes an exponential moving average seeded with the SMA of the
// first period values. Returns 0 when there is not enough history.
func ema(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	e := sum / float64(period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		e = v*k + e*(1-k)
	}
	return e
}

// averageTrueRange computes a simple-mean ATR over the last period bars.
func averageTrueRange(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	recent := candles[len(candles)-period-1:]
	sum := 0.0
	for i := 1; i < len(recent); i++ {
		tr := recent[i].High - recent[i].Low
		if hc := math.Abs(recent[i].High - recent[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(recent[i].Low - recent[i-1].Close); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(period)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
