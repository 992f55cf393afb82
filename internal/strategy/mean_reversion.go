package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// MeanReversion fades exhausted fast moves: a sharp move on climactic volume
// followed by a volatility collapse tends to retrace. Entries are taken
// against the move with a tight 1-ATR stop and a conservative 1.5R target.
type MeanReversion struct {
	Base

	fastMoveThreshold float64 // minimum 10-bar move, fraction of price
	volumeClimaxRatio float64 // current volume vs 20-bar average
	collapseRatio     float64 // recent 5-bar range vs 10-bar move range
}

// NewMeanReversion builds the strategy with its standard thresholds.
func NewMeanReversion(params Params) *MeanReversion {
	return &MeanReversion{
		Base:              NewBase("mean_reversion", params),
		fastMoveThreshold: 0.03,
		volumeClimaxRatio: 2.0,
		collapseRatio:     0.40,
	}
}

// Evaluate requires a fast move, a volume climax, and a volatility collapse,
// in that order. Any missing precondition returns no signal.
func (s *MeanReversion) Evaluate(_ context.Context, view domain.MarketView) (*domain.Signal, error) {
	m1 := view.Candles.M1
	if len(m1) < 30 {
		return nil, nil
	}

	// Fast move over the last 10 bars.
	ref := m1[len(m1)-10].Close
	if ref <= 0 {
		return nil, nil
	}
	move := math.Abs(view.Price-ref) / ref
	if move < s.fastMoveThreshold {
		return nil, nil
	}

	// Volume climax: last bar's volume against the 20-bar average.
	avgVol := avgVolume(m1[len(m1)-20:])
	if avgVol <= 0 {
		return nil, nil
	}
	lastVol := m1[len(m1)-1].Volume
	if lastVol/avgVol < s.volumeClimaxRatio {
		return nil, nil
	}

	// Volatility collapse: the recent range shrank relative to the move.
	recentRange := candleRange(m1[len(m1)-5:])
	moveRange := candleRange(m1[len(m1)-10:])
	if moveRange <= 0 || recentRange/moveRange >= s.collapseRatio {
		return nil, nil
	}

	atr := view.Indicators.ATR()
	if atr <= 0 {
		return nil, nil
	}

	confidence := math.Min(0.85, 0.60+(move-s.fastMoveThreshold)*2.0)

	// Fade the move: down move -> buy, up move -> sell.
	side := domain.SideBuy
	stop := view.Price - atr
	take := view.Price + atr*1.5
	direction := "down"
	if view.Price > ref {
		side = domain.SideSell
		stop = view.Price + atr
		take = view.Price - atr*1.5
		direction = "up"
	}

	return &domain.Signal{
		Strategy:   s.Name(),
		Symbol:     view.Symbol,
		Side:       side,
		EntryPrice: view.Price,
		StopLoss:   stop,
		TakeProfit: take,
		Confidence: confidence,
		Reason: fmt.Sprintf("mean reversion fade: fast move %s %.2f%%, volume climax %.2fx, volatility collapse",
			direction, move*100, lastVol/avgVol),
	}, nil
}

func avgVolume(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

func candleRange(candles []domain.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	hi := candles[0].High
	lo := candles[0].Low
	for _, c := range candles[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return hi - lo
}
