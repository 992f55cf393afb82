package domain

import (
	"context"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Indicators is the precomputed technical-indicator set for a symbol at the
// current tick. Indicator math lives outside the core; the core only reads
// named values (e.g. "atr", "rsi", "ema8").
type Indicators map[string]float64

// ATR returns the average true range, or 0 when not present.
func (in Indicators) ATR() float64 { return in["atr"] }

// RegimeType classifies current market behavior. Regimes bias strategy
// priority; they never hard-gate execution.
type RegimeType string

const (
	RegimeTrending RegimeType = "trending"
	RegimeRanging  RegimeType = "ranging"
	RegimeVolatile RegimeType = "volatile"
)

// Regime is the regime classifier's output for a symbol.
type Regime struct {
	Type       RegimeType
	Confidence float64
}

// CandleWindows carries the per-timeframe candle history handed to
// strategies.
type CandleWindows struct {
	M1  []Candle
	M5  []Candle
	M15 []Candle
}

// MarketView bundles everything a strategy evaluation needs for one symbol.
type MarketView struct {
	Symbol     string
	Price      float64
	Indicators Indicators
	Regime     Regime
	Candles    CandleWindows
	Volume24h  float64
}

// MarketDataSource supplies prices, candles and the tradable universe.
// Implemented by the exchange package; consumed by the control loop.
type MarketDataSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	TopSymbols(ctx context.Context, n int, minVolume float64) ([]string, error)
}
