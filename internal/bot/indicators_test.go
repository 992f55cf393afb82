package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func trendingCandles(n int, start, step float64) []domain.Candle {
	out := make([]domain.Candle, n)
	price := start
	for i := range out {
		out[i] = domain.Candle{
			Open: price, High: price + step, Low: price - step, Close: price,
			Volume: 10,
		}
		price += step
	}
	return out
}

func TestEMAConvergesOnConstantSeries(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100
	}
	assert.InDelta(t, 100.0, ema(values, 21), 1e-9)
	assert.Zero(t, ema(values[:10], 21), "not enough history")
}

func TestATRReflectsBarRanges(t *testing.T) {
	candles := trendingCandles(30, 100, 0) // flat, range 0
	assert.Zero(t, averageTrueRange(candles, 14))

	wide := make([]domain.Candle, 30)
	for i := range wide {
		wide[i] = domain.Candle{Open: 100, High: 101, Low: 99, Close: 100}
	}
	assert.InDelta(t, 2.0, averageTrueRange(wide, 14), 1e-9)
}

func TestRegimeClassification(t *testing.T) {
	classifier := BasicRegimeClassifier{}

	// A steady climb separates the fast and slow EMAs.
	trending := domain.CandleWindows{M5: trendingCandles(80, 100, 0.5)}
	ind := BasicIndicatorEngine{}.Compute(trending)
	regime := classifier.Classify(trending, ind)
	assert.Equal(t, domain.RegimeTrending, regime.Type)

	// Wide ATR relative to price wins over the trend check.
	volatile := classifier.Classify(trending, domain.Indicators{"atr": 5, "ema21_m5": 100, "ema50_m5": 100})
	assert.Equal(t, domain.RegimeVolatile, volatile.Type)

	// Flat market with tight EMAs is ranging.
	flat := domain.CandleWindows{M5: trendingCandles(80, 100, 0)}
	regime = classifier.Classify(flat, BasicIndicatorEngine{}.Compute(flat))
	assert.Equal(t, domain.RegimeRanging, regime.Type)
}
