package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTrade:     0.002,
		MaxDailyLoss:        0.005,
		MaxDrawdown:         0.05,
		MaxTradesPerDay:     10,
		MaxExposurePerAsset: 0.10,
		MaxPositions:        3,
	}
}

// validSignal risks exactly 0.1% of a 10k account: qty 0.01 with a 100-wide
// stop is a 1.0 risk amount.
func validSignal() domain.Signal {
	return domain.Signal{
		Strategy:   "mean_reversion",
		Symbol:     "BTCUSDT",
		Side:       domain.SideBuy,
		EntryPrice: 50_000,
		StopLoss:   49_900,
		TakeProfit: 50_300,
		Quantity:   0.01,
		Confidence: 0.8,
	}
}

func newEngine(t *testing.T, cash float64) (*Engine, *state.TradingState) {
	t.Helper()
	st := state.New(cash, testLogger())
	st.EnableTrading()
	return NewEngine(st, testRiskConfig(), testLogger()), st
}

func TestApprovesValidSignal(t *testing.T) {
	e, _ := newEngine(t, 10_000)

	ap := e.Evaluate(validSignal())
	require.True(t, ap.Approved, "reason: %s", ap.Reason)
	assert.InDelta(t, 1.0, ap.RiskAmount, 1e-9)
	assert.InDelta(t, 0.0001, ap.RiskPct, 1e-9)
	require.NotNil(t, ap.Signal)
	assert.Equal(t, "BTCUSDT", ap.Signal.Symbol)
}

func TestRejectsWhenTradingDisabled(t *testing.T) {
	e, st := newEngine(t, 10_000)
	st.DisableTrading()

	ap := e.Evaluate(validSignal())
	assert.False(t, ap.Approved)
	assert.Equal(t, "trading disabled", ap.Reason)
}

func TestDailyLossKillSwitch(t *testing.T) {
	e, st := newEngine(t, 10_000)

	// Realize a loss past 0.5% of equity.
	require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 1, 3_000, 2_900, 3_100, ""))
	st.RemovePosition("ETHUSDT", -60)

	ap := e.Evaluate(validSignal())
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "daily loss limit")
	assert.False(t, st.TradingEnabled(), "kill switch must disable trading")

	// Stays rejected after the switch trips, now at the first check.
	ap = e.Evaluate(validSignal())
	assert.Equal(t, "trading disabled", ap.Reason)
}

func TestProfitableDayPassesDailyLossCheck(t *testing.T) {
	e, st := newEngine(t, 10_000)
	require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 1, 3_000, 2_900, 3_100, ""))
	st.RemovePosition("ETHUSDT", 500)

	ap := e.Evaluate(validSignal())
	assert.True(t, ap.Approved, "reason: %s", ap.Reason)
}

func TestDrawdownKillSwitch(t *testing.T) {
	e, st := newEngine(t, 10_000)

	// Drive equity 6% under its peak with an open losing position.
	require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 1, 3_000, 2_000, 4_000, ""))
	st.UpdatePositionPnL("ETHUSDT", 2_400)

	ap := e.Evaluate(domain.Signal{
		Strategy: "trend_continuation", Symbol: "SOLUSDT", Side: domain.SideBuy,
		EntryPrice: 150, StopLoss: 149, TakeProfit: 155, Quantity: 0.1,
	})
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "drawdown limit")
	assert.False(t, st.TradingEnabled())
}

func TestRejectsStopOnWrongSide(t *testing.T) {
	e, _ := newEngine(t, 10_000)

	sig := validSignal()
	sig.StopLoss = 50_100 // above entry for a buy
	ap := e.Evaluate(sig)
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "stop loss must be below entry")

	sig = validSignal()
	sig.Side = domain.SideSell
	sig.StopLoss = 49_900 // below entry for a sell
	ap = e.Evaluate(sig)
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "stop loss must be above entry")
}

func TestRejectsStopTooWide(t *testing.T) {
	e, _ := newEngine(t, 10_000)

	sig := validSignal()
	sig.StopLoss = 35_000 // 30% below entry
	ap := e.Evaluate(sig)
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "stop too wide")
}

func TestRejectsExcessiveRiskPerTrade(t *testing.T) {
	e, _ := newEngine(t, 10_000)

	sig := validSignal()
	sig.Quantity = 0.5 // risk amount 50 on 10k equity = 0.5% > 0.2%
	ap := e.Evaluate(sig)
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "risk per trade too high")
}

func TestRejectsAfterMaxTradesPerDay(t *testing.T) {
	e, st := newEngine(t, 10_000)
	for i := 0; i < 10; i++ {
		require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 0.001, 3_000, 2_950, 3_100, ""))
		st.RemovePosition("ETHUSDT", 0.1)
	}

	ap := e.Evaluate(validSignal())
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "max trades per day")
}

func TestRejectsExposureOverCap(t *testing.T) {
	e, _ := newEngine(t, 10_000)

	// Notional 0.03*50000 = 1500 > 10% of 10k. Tight stop keeps risk small so
	// the exposure check is the one that fires.
	sig := validSignal()
	sig.Quantity = 0.03
	sig.StopLoss = 49_999.5
	ap := e.Evaluate(sig)
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "exposure limit")
}

func TestRejectsPositionConflict(t *testing.T) {
	e, st := newEngine(t, 10_000)
	require.True(t, st.AddPosition("BTCUSDT", domain.SideBuy, 0.001, 50_000, 49_900, 50_300, ""))

	ap := e.Evaluate(validSignal())
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "position already open")
}

func TestStackingAllowedWhenConfigured(t *testing.T) {
	st := state.New(100_000, testLogger())
	st.EnableTrading()
	cfg := testRiskConfig()
	cfg.AllowPositionStacking = true
	e := NewEngine(st, cfg, testLogger())

	require.True(t, st.AddPosition("BTCUSDT", domain.SideBuy, 0.001, 50_000, 49_900, 50_300, ""))
	ap := e.Evaluate(validSignal())
	assert.True(t, ap.Approved, "reason: %s", ap.Reason)
}

func TestRejectsAtMaxPositions(t *testing.T) {
	e, st := newEngine(t, 100_000)
	require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 0.01, 3_000, 2_950, 3_100, ""))
	require.True(t, st.AddPosition("SOLUSDT", domain.SideBuy, 0.1, 150, 148, 155, ""))
	require.True(t, st.AddPosition("XRPUSDT", domain.SideBuy, 10, 2, 1.9, 2.2, ""))

	ap := e.Evaluate(validSignal())
	assert.False(t, ap.Approved)
	assert.Contains(t, ap.Reason, "max open positions")
}

func TestUTCRolloverResetsDailyCounters(t *testing.T) {
	e, st := newEngine(t, 10_000)
	require.True(t, st.AddPosition("ETHUSDT", domain.SideBuy, 1, 3_000, 2_900, 3_100, ""))
	st.RemovePosition("ETHUSDT", -40)
	require.Equal(t, 1, st.TradesToday())

	// Simulate the next UTC day.
	e.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }

	ap := e.Evaluate(validSignal())
	assert.True(t, ap.Approved, "reason: %s", ap.Reason)
	assert.Equal(t, 0, st.TradesToday())
	assert.Equal(t, 0.0, st.DailyPnL())
}

func TestPositionSizer(t *testing.T) {
	ps := NewPositionSizer(0.002, 0.10, 0.001)

	sig := domain.Signal{Symbol: "BTCUSDT", Side: domain.SideBuy, EntryPrice: 50_000, StopLoss: 49_000}

	// 10k * 0.002 / 1000 = 0.02, notional 1000 fits under the 10% cap.
	qty := ps.Size(sig, 10_000)
	assert.InDelta(t, 0.02, qty, 1e-9)

	// Tight stop would size past the exposure cap; clamp to notional 1000.
	sig.StopLoss = 49_990
	qty = ps.Size(sig, 10_000)
	assert.InDelta(t, 0.02, qty, 1e-9)

	// Below minimum order quantity returns 0.
	sig.StopLoss = 49_000
	assert.Zero(t, ps.Size(sig, 10))

	// Degenerate inputs return 0.
	assert.Zero(t, ps.Size(domain.Signal{EntryPrice: 0, StopLoss: 1}, 10_000))
	assert.Zero(t, ps.Size(domain.Signal{EntryPrice: 100, StopLoss: 100}, 10_000))
}
