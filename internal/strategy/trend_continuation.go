package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// TrendContinuation buys pullbacks inside a higher-timeframe trend once
// volatility has reset. The higher timeframe (5m) sets direction; the 1m
// chart times the entry. Wider 2-ATR stop, 3R target.
type TrendContinuation struct {
	Base

	pullbackMin float64 // minimum pullback from the recent extreme
	pullbackMax float64 // beyond this the trend is likely broken
	resetRatio  float64 // recent range vs preceding move range
}

// NewTrendContinuation builds the strategy with its standard thresholds.
func NewTrendContinuation(params Params) *TrendContinuation {
	return &TrendContinuation{
		Base:        NewBase("trend_continuation", params),
		pullbackMin: 0.015,
		pullbackMax: 0.05,
		resetRatio:  0.60,
	}
}

// Evaluate requires a higher-timeframe trend, a pullback inside it, and a
// volatility reset before the continuation.
func (s *TrendContinuation) Evaluate(_ context.Context, view domain.MarketView) (*domain.Signal, error) {
	m1 := view.Candles.M1
	m5 := view.Candles.M5
	if len(m1) < 50 || len(m5) < 20 {
		return nil, nil
	}

	// Higher-timeframe trend: close vs stacked EMAs on the 5m chart.
	ema21 := view.Indicators["ema21_m5"]
	ema50 := view.Indicators["ema50_m5"]
	if ema21 <= 0 || ema50 <= 0 {
		return nil, nil
	}
	close5 := m5[len(m5)-1].Close
	bullish := close5 > ema21 && ema21 > ema50
	bearish := close5 < ema21 && ema21 < ema50
	if !bullish && !bearish {
		return nil, nil
	}

	// Pullback against the trend on the 1m chart.
	recentHigh, recentLow := extremes(m1[len(m1)-20:])
	var pullback float64
	if bullish {
		if recentHigh <= 0 {
			return nil, nil
		}
		pullback = (recentHigh - view.Price) / recentHigh
	} else {
		if recentLow <= 0 {
			return nil, nil
		}
		pullback = (view.Price - recentLow) / recentLow
	}
	if pullback < s.pullbackMin || pullback >= s.pullbackMax {
		return nil, nil
	}

	// Volatility reset: the last 5 bars are quiet relative to the move that
	// preceded them.
	recentRange := candleRange(m1[len(m1)-5:])
	var moveRange float64
	if len(m1) >= 25 {
		moveRange = candleRange(m1[len(m1)-25 : len(m1)-5])
	} else {
		moveRange = recentRange * 2
	}
	if moveRange <= 0 || recentRange/moveRange > s.resetRatio {
		return nil, nil
	}

	atr := view.Indicators.ATR()
	if atr <= 0 {
		return nil, nil
	}

	confidence := math.Min(0.90, 0.70+(pullback-s.pullbackMin)*5.0)

	side := domain.SideBuy
	stop := view.Price - atr*2
	take := view.Price + atr*6 // 3R on a 2-ATR stop
	trend := "uptrend"
	if bearish {
		side = domain.SideSell
		stop = view.Price + atr*2
		take = view.Price - atr*6
		trend = "downtrend"
	}

	return &domain.Signal{
		Strategy:   s.Name(),
		Symbol:     view.Symbol,
		Side:       side,
		EntryPrice: view.Price,
		StopLoss:   stop,
		TakeProfit: take,
		Confidence: confidence,
		Reason: fmt.Sprintf("trend continuation: htf %s, pullback %.2f%%, volatility reset %.2f",
			trend, pullback*100, recentRange/moveRange),
	}, nil
}

func extremes(candles []domain.Candle) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	high = candles[0].High
	low = candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}
