package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stub is a scripted strategy for orchestrator tests. It records the call
// order into calls and returns its canned signal.
type stub struct {
	Base
	sig   *domain.Signal
	err   error
	panik bool
	calls *[]string
}

func (s *stub) Evaluate(context.Context, domain.MarketView) (*domain.Signal, error) {
	*s.calls = append(*s.calls, s.Name())
	if s.panik {
		panic("strategy bug")
	}
	if s.sig != nil {
		cp := *s.sig
		return &cp, s.err
	}
	return nil, s.err
}

func buySignal(strategyName string, confidence float64) *domain.Signal {
	return &domain.Signal{
		Strategy:   strategyName,
		Symbol:     "BTCUSDT",
		Side:       domain.SideBuy,
		EntryPrice: 50_000,
		StopLoss:   49_500,
		TakeProfit: 51_000,
		Confidence: confidence,
	}
}

func rangingView() domain.MarketView {
	return domain.MarketView{
		Symbol: "BTCUSDT",
		Price:  50_000,
		Regime: domain.Regime{Type: domain.RegimeRanging, Confidence: 0.8},
	}
}

func TestFirstValidStrategyWins(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.Register(&stub{
		Base:  NewBase("alpha", Params{Weight: 1, Regimes: []string{"all"}}),
		sig:   buySignal("alpha", 0.9),
		calls: &calls,
	})
	reg.Register(&stub{
		Base:  NewBase("beta", Params{Weight: 1, Regimes: []string{"all"}}),
		sig:   buySignal("beta", 0.9),
		calls: &calls,
	})

	o := NewOrchestrator(reg, 0.6, testLogger())
	sig := o.Evaluate(context.Background(), rangingView())

	require.NotNil(t, sig)
	assert.Equal(t, "alpha", sig.Strategy)
	assert.Equal(t, []string{"alpha"}, calls, "later strategies must not run after a valid signal")
}

func TestPriorityOrderFollowsRegime(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	// "ranger" prefers the current regime, "trender" does not; despite being
	// registered second, priority runs ranger first.
	reg.Register(&stub{
		Base:  NewBase("trender", Params{Weight: 1, Regimes: []string{"trending"}}),
		calls: &calls,
	})
	reg.Register(&stub{
		Base:  NewBase("ranger", Params{Weight: 1, Regimes: []string{"ranging"}}),
		calls: &calls,
	})

	o := NewOrchestrator(reg, 0.6, testLogger())
	o.Evaluate(context.Background(), rangingView())

	assert.Equal(t, []string{"ranger", "trender"}, calls)
}

func TestEqualPriorityTieBreaksByRegistrationOrder(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	// "zeta" registers first; name order must not override that.
	reg.Register(&stub{
		Base:  NewBase("zeta", Params{Weight: 1, Regimes: []string{"all"}}),
		sig:   buySignal("zeta", 0.9),
		calls: &calls,
	})
	reg.Register(&stub{
		Base:  NewBase("alpha", Params{Weight: 1, Regimes: []string{"all"}}),
		sig:   buySignal("alpha", 0.9),
		calls: &calls,
	})

	o := NewOrchestrator(reg, 0.6, testLogger())
	sig := o.Evaluate(context.Background(), rangingView())

	require.NotNil(t, sig)
	assert.Equal(t, "zeta", sig.Strategy)
	assert.Equal(t, []string{"zeta"}, calls)
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.Register(&stub{Base: NewBase("zeta", Params{Weight: 1}), calls: &calls})
	reg.Register(&stub{Base: NewBase("alpha", Params{Weight: 1}), calls: &calls})
	reg.Register(&stub{Base: NewBase("mid", Params{Weight: 1}), calls: &calls})
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, reg.List())

	// Replacing a strategy keeps its slot.
	reg.Register(&stub{Base: NewBase("alpha", Params{Weight: 0.5}), calls: &calls})
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, reg.List())

	s, err := reg.Get("alpha")
	require.NoError(t, err)
	// 0.3 fallback regime weight * 0.5 weight * 10
	assert.InDelta(t, 1.5, s.PriorityScore(domain.Regime{}), 1e-9)
}

func TestConfidenceReweightedByRegimeFit(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.Register(&stub{
		Base:  NewBase("offregime", Params{Weight: 1, Regimes: []string{"trending"}}),
		sig:   buySignal("offregime", 0.80),
		calls: &calls,
	})

	o := NewOrchestrator(reg, 0.5, testLogger())
	sig := o.Evaluate(context.Background(), rangingView())

	require.NotNil(t, sig)
	assert.InDelta(t, 0.80, sig.BaseConfidence, 1e-9)
	assert.InDelta(t, 0.3, sig.RegimeWeight, 1e-9)
	// 0.80 * (0.7 + 0.3*0.3) = 0.632
	assert.InDelta(t, 0.632, sig.Confidence, 1e-9)
	assert.False(t, sig.CreatedAt.IsZero())
}

func TestLowConfidenceFallsThroughToNext(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.Register(&stub{
		Base:  NewBase("alpha", Params{Weight: 1, Regimes: []string{"all"}}),
		sig:   buySignal("alpha", 0.40), // weighted 0.40 < min
		calls: &calls,
	})
	reg.Register(&stub{
		Base:  NewBase("beta", Params{Weight: 0.5, Regimes: []string{"all"}}),
		sig:   buySignal("beta", 0.90),
		calls: &calls,
	})

	o := NewOrchestrator(reg, 0.6, testLogger())
	sig := o.Evaluate(context.Background(), rangingView())

	require.NotNil(t, sig)
	assert.Equal(t, "beta", sig.Strategy)
	assert.Equal(t, []string{"alpha", "beta"}, calls)
}

func TestInvalidSideDropped(t *testing.T) {
	var calls []string
	bad := buySignal("alpha", 0.9)
	bad.Side = domain.Side("Hold")
	reg := NewRegistry()
	reg.Register(&stub{Base: NewBase("alpha", Params{Weight: 1, Regimes: []string{"all"}}), sig: bad, calls: &calls})

	o := NewOrchestrator(reg, 0.6, testLogger())
	assert.Nil(t, o.Evaluate(context.Background(), rangingView()))
}

func TestPanickingStrategySkipped(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.Register(&stub{
		Base:  NewBase("alpha", Params{Weight: 1, Regimes: []string{"all"}}),
		panik: true,
		calls: &calls,
	})
	reg.Register(&stub{
		Base:  NewBase("beta", Params{Weight: 0.5, Regimes: []string{"all"}}),
		sig:   buySignal("beta", 0.9),
		calls: &calls,
	})

	o := NewOrchestrator(reg, 0.6, testLogger())
	sig := o.Evaluate(context.Background(), rangingView())

	require.NotNil(t, sig)
	assert.Equal(t, "beta", sig.Strategy)
}

func TestNoValidSignalReturnsNil(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.Register(&stub{Base: NewBase("alpha", Params{Weight: 1, Regimes: []string{"all"}}), calls: &calls})

	o := NewOrchestrator(reg, 0.6, testLogger())
	assert.Nil(t, o.Evaluate(context.Background(), rangingView()))
}

// ---------------------------------------------------------------------------
// Concrete strategies
// ---------------------------------------------------------------------------

func flatCandles(n int, price, vol float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: vol}
	}
	return out
}

func TestMeanReversionFadesDownMove(t *testing.T) {
	s := NewMeanReversion(Params{Weight: 1, Regimes: []string{"ranging"}})

	// 20 quiet bars at 100, a 5-bar slide to 96, then 5 tight bars with a
	// volume spike on the last one.
	m1 := flatCandles(20, 100, 100)
	slide := []float64{100, 99, 98, 97, 96}
	for _, c := range slide {
		m1 = append(m1, domain.Candle{Open: c + 1, High: c + 1, Low: c, Close: c, Volume: 100})
	}
	for i := 0; i < 5; i++ {
		v := 100.0
		if i == 4 {
			v = 300 // climax
		}
		m1 = append(m1, domain.Candle{Open: 96.2, High: 96.4, Low: 96.0, Close: 96.1, Volume: v})
	}

	view := domain.MarketView{
		Symbol:     "BTCUSDT",
		Price:      96,
		Indicators: domain.Indicators{"atr": 0.5},
		Regime:     domain.Regime{Type: domain.RegimeRanging},
		Candles:    domain.CandleWindows{M1: m1},
	}

	sig, err := s.Evaluate(context.Background(), view)
	require.NoError(t, err)
	require.NotNil(t, sig, "fast move + climax + collapse should fire")
	assert.Equal(t, domain.SideBuy, sig.Side, "a down move is faded with a buy")
	assert.InDelta(t, 95.5, sig.StopLoss, 1e-9)
	assert.InDelta(t, 96.75, sig.TakeProfit, 1e-9)
	assert.GreaterOrEqual(t, sig.Confidence, 0.60)
}

func TestMeanReversionIgnoresSlowMarkets(t *testing.T) {
	s := NewMeanReversion(Params{Weight: 1})
	view := domain.MarketView{
		Symbol:     "BTCUSDT",
		Price:      100,
		Indicators: domain.Indicators{"atr": 0.5},
		Candles:    domain.CandleWindows{M1: flatCandles(40, 100, 100)},
	}
	sig, err := s.Evaluate(context.Background(), view)
	require.NoError(t, err)
	assert.Nil(t, sig, "no fast move means no signal")
}

func TestTrendContinuationBuysPullback(t *testing.T) {
	s := NewTrendContinuation(Params{Weight: 1, Regimes: []string{"trending"}})

	// 1m: an advance to 112 (bars -25..-5 range wide), then 5 quiet bars near
	// 110. Pullback from the 112 high at price 110 is ~1.8%.
	m1 := flatCandles(25, 100, 100)
	for i := 0; i < 20; i++ {
		c := 104 + float64(i)*0.4 // climbs to ~111.6
		m1 = append(m1, domain.Candle{Open: c - 0.4, High: c + 0.4, Low: c - 0.5, Close: c, Volume: 100})
	}
	m1[len(m1)-6].High = 112 // the swing high sits just before the quiet bars
	for i := 0; i < 5; i++ {
		m1 = append(m1, domain.Candle{Open: 110.1, High: 110.3, Low: 109.9, Close: 110, Volume: 100})
	}

	m5 := flatCandles(20, 108, 500)
	m5[len(m5)-1].Close = 110

	view := domain.MarketView{
		Symbol: "ETHUSDT",
		Price:  110,
		Indicators: domain.Indicators{
			"atr":      1.0,
			"ema21_m5": 107,
			"ema50_m5": 104,
		},
		Regime:  domain.Regime{Type: domain.RegimeTrending},
		Candles: domain.CandleWindows{M1: m1, M5: m5},
	}

	sig, err := s.Evaluate(context.Background(), view)
	require.NoError(t, err)
	require.NotNil(t, sig, "htf trend + pullback + volatility reset should fire")
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.InDelta(t, 108.0, sig.StopLoss, 1e-9)
	assert.InDelta(t, 116.0, sig.TakeProfit, 1e-9)
}

func TestTrendContinuationNeedsHTFTrend(t *testing.T) {
	s := NewTrendContinuation(Params{Weight: 1})
	view := domain.MarketView{
		Symbol:     "ETHUSDT",
		Price:      110,
		Indicators: domain.Indicators{"atr": 1.0, "ema21_m5": 110, "ema50_m5": 110},
		Candles: domain.CandleWindows{
			M1: flatCandles(50, 110, 100),
			M5: flatCandles(20, 110, 500),
		},
	}
	sig, err := s.Evaluate(context.Background(), view)
	require.NoError(t, err)
	assert.Nil(t, sig, "flat EMAs mean no higher-timeframe trend")
}
