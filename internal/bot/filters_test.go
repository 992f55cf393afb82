package bot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/state"
)

func newFilters(t *testing.T, cfg config.FiltersConfig) (*PortfolioFilters, *state.TradingState) {
	t.Helper()
	st := state.New(10_000, testLogger())
	return NewPortfolioFilters(cfg, st), st
}

func buyIntent(symbol string) domain.Signal {
	return domain.Signal{Strategy: "scripted", Symbol: symbol, Side: domain.SideBuy, EntryPrice: 100}
}

func TestSymbolAlreadyHeldBlocks(t *testing.T) {
	f, st := newFilters(t, config.FiltersConfig{})
	require.True(t, st.AddPosition("BTCUSDT", domain.SideBuy, 0.1, 50_000, 49_000, 0, "p1"))

	assert.Contains(t, f.Check(buyIntent("BTCUSDT")), "already held")
	assert.Empty(t, f.Check(buyIntent("ETHUSDT")))
}

func TestSectorHeatBlocks(t *testing.T) {
	f, st := newFilters(t, config.FiltersConfig{MaxPositionsPerSector: 1})
	require.True(t, st.AddPosition("BTCUSDT", domain.SideBuy, 0.1, 50_000, 49_000, 0, "p1"))

	// Another bitcoin-bucket symbol is the same bet.
	assert.Contains(t, f.Check(buyIntent("BTCPERP")), "sector")
	// A different bucket passes.
	assert.Empty(t, f.Check(buyIntent("SOLUSDT")))
}

func TestCorrelationBlocksLookalikes(t *testing.T) {
	f, st := newFilters(t, config.FiltersConfig{MaxCorrelation: 0.70})
	require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 1, 2_000, 1_900, 0, "p1"))

	// Two series with identical return paths: correlation 1.0.
	wave := make([]domain.Candle, 40)
	for i := range wave {
		wave[i].Close = 100 * (1 + 0.01*math.Sin(float64(i)))
	}
	scaled := make([]domain.Candle, 40)
	for i := range scaled {
		scaled[i].Close = wave[i].Close * 20
	}
	f.UpdateHistory("ETHUSDT", wave)
	f.UpdateHistory("SOLUSDT", scaled)

	assert.Contains(t, f.Check(buyIntent("SOLUSDT")), "correlation")
}

func TestCorrelationPassesWithoutHistory(t *testing.T) {
	f, st := newFilters(t, config.FiltersConfig{MaxCorrelation: 0.70})
	require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 1, 2_000, 1_900, 0, "p1"))

	// No close history recorded: missing data never blocks a trade.
	assert.Empty(t, f.Check(buyIntent("SOLUSDT")))
}

func TestReturnsCorrelation(t *testing.T) {
	// Mirror-image returns: every move in a is exactly negated in b.
	a := []float64{100}
	b := []float64{100}
	for i := 1; i < 30; i++ {
		r := 0.01 * math.Sin(float64(i))
		a = append(a, a[i-1]*(1+r))
		b = append(b, b[i-1]*(1-r))
	}

	assert.InDelta(t, 1.0, returnsCorrelation(a, a), 1e-9)
	assert.InDelta(t, -1.0, returnsCorrelation(a, b), 1e-6)
	assert.Zero(t, returnsCorrelation(a[:5], b), "short series returns 0")
}

func TestClassifySector(t *testing.T) {
	assert.Equal(t, "bitcoin", classifySector("BTCUSDT"))
	assert.Equal(t, "ethereum", classifySector("ethusdt"))
	assert.Equal(t, "layer1", classifySector("SOLUSDT"))
	assert.Equal(t, "other", classifySector("DOGEUSDT"))
}
