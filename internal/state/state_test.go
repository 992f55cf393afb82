package state

import (
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

func TestEquityEqualsCashWithoutPositions(t *testing.T) {
	s := New(10_000, testLogger())

	assert.Equal(t, 10_000.0, s.Cash())
	assert.Equal(t, 10_000.0, s.Equity())
	assert.Equal(t, 10_000.0, s.PeakEquity())
	assert.Equal(t, 0.0, s.Drawdown())
}

func TestEquityIncludesUnrealizedPnL(t *testing.T) {
	s := New(10_000, testLogger())

	ok := s.AddPosition("BTCUSDT", domain.SideBuy, 0.1, 50_000, 49_000, 52_000, "")
	require.True(t, ok)

	// Long 0.1 @ 50k, mark at 51k: +100 unrealized.
	s.UpdatePositionPnL("BTCUSDT", 51_000)
	assert.InDelta(t, 10_100.0, s.Equity(), 1e-9)

	// Mark below entry: equity drops below cash.
	s.UpdatePositionPnL("BTCUSDT", 49_500)
	assert.InDelta(t, 9_950.0, s.Equity(), 1e-9)
}

func TestPeakEquityNeverDecreases(t *testing.T) {
	s := New(10_000, testLogger())
	require.True(t, s.AddPosition("ETHUSDT", domain.SideBuy, 1, 3_000, 2_900, 3_200, ""))

	s.UpdatePositionPnL("ETHUSDT", 3_500)
	require.InDelta(t, 10_500.0, s.Equity(), 1e-9)
	assert.InDelta(t, 10_500.0, s.PeakEquity(), 1e-9)

	s.UpdatePositionPnL("ETHUSDT", 2_800)
	assert.InDelta(t, 9_800.0, s.Equity(), 1e-9)
	assert.InDelta(t, 10_500.0, s.PeakEquity(), 1e-9, "peak must be monotonic")
	assert.InDelta(t, 700.0, s.Drawdown(), 1e-9)
	assert.InDelta(t, 700.0/10_500.0, s.DrawdownPercent(), 1e-9)
}

func TestDuplicatePositionRejected(t *testing.T) {
	s := New(10_000, testLogger())

	require.True(t, s.AddPosition("BTCUSDT", domain.SideBuy, 0.1, 50_000, 49_000, 52_000, ""))
	assert.False(t, s.AddPosition("BTCUSDT", domain.SideSell, 0.2, 51_000, 52_000, 49_000, ""))

	p := s.Position("BTCUSDT")
	require.NotNil(t, p)
	assert.Equal(t, domain.SideBuy, p.Side)
	assert.Equal(t, 0.1, p.Quantity)
	assert.Equal(t, 1, s.OpenPositionCount())
}

func TestRemovePositionPostsRealizedPnL(t *testing.T) {
	s := New(10_000, testLogger())
	require.True(t, s.AddPosition("SOLUSDT", domain.SideSell, 10, 150, 155, 140, ""))

	removed := s.RemovePosition("SOLUSDT", 85.5)
	require.NotNil(t, removed)
	assert.Equal(t, "SOLUSDT", removed.Symbol)
	assert.Nil(t, s.Position("SOLUSDT"))
	assert.InDelta(t, 85.5, s.DailyPnL(), 1e-9)
	assert.Equal(t, 1, s.TradesToday())
	assert.Empty(t, s.ExposurePerAsset())

	assert.Nil(t, s.RemovePosition("SOLUSDT", 0))
	assert.Equal(t, 1, s.TradesToday(), "missing position must not increment the counter")
}

func TestDebitCashFailsWithoutMutation(t *testing.T) {
	s := New(100, testLogger())

	assert.False(t, s.DebitCash(150))
	assert.Equal(t, 100.0, s.Cash())

	assert.True(t, s.DebitCash(60))
	assert.InDelta(t, 40.0, s.Cash(), 1e-9)

	s.CreditCash(10)
	assert.InDelta(t, 50.0, s.Cash(), 1e-9)
}

func TestOrderLifecycle(t *testing.T) {
	s := New(10_000, testLogger())

	o := domain.Order{
		ClientOrderID: "ORDER_abc",
		Symbol:        "BTCUSDT",
		Side:          domain.SideBuy,
		Quantity:      0.1,
		Price:         50_000,
		Status:        domain.OrderStatusPending,
	}
	require.True(t, s.AddOrder(o))
	assert.False(t, s.AddOrder(o), "duplicate client order id must be rejected")

	st := domain.OrderStatusFilled
	exch := "ex-123"
	require.True(t, s.UpdateOrder("ORDER_abc", OrderUpdate{Status: &st, ExchangeOrderID: &exch}))

	got := s.Order("ORDER_abc")
	require.NotNil(t, got)
	assert.Equal(t, domain.OrderStatusFilled, got.Status)
	assert.Equal(t, "ex-123", got.ExchangeOrderID)

	removed := s.RemoveOrder("ORDER_abc")
	require.NotNil(t, removed)
	assert.Nil(t, s.Order("ORDER_abc"))
	assert.False(t, s.UpdateOrder("ORDER_abc", OrderUpdate{Status: &st}))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New(10_000, testLogger())
	s.EnableTrading()
	require.True(t, s.AddPosition("BTCUSDT", domain.SideBuy, 0.1, 50_000, 49_000, 52_000, "pos-1"))
	s.UpdatePositionPnL("BTCUSDT", 51_000)
	require.True(t, s.AddOrder(domain.Order{ClientOrderID: "ORDER_x", Symbol: "ETHUSDT", Side: domain.SideSell, Status: domain.OrderStatusSubmitted}))
	require.True(t, s.DebitCash(500))

	snap := s.Snapshot()
	require.NotEmpty(t, snap.ID)
	assert.True(t, snap.TradingEnabled)
	assert.Len(t, snap.OpenPositions, 1)
	assert.Len(t, snap.OpenOrders, 1)

	restored := New(1, testLogger())
	restored.RestoreFromSnapshot(snap)

	assert.Equal(t, snap.Cash, restored.Cash())
	assert.Equal(t, snap.TradingEnabled, restored.TradingEnabled())
	assert.Equal(t, snap.DailyPnL, restored.DailyPnL())
	assert.Equal(t, snap.TradesToday, restored.TradesToday())

	p := restored.Position("BTCUSDT")
	require.NotNil(t, p)
	assert.Equal(t, "pos-1", p.PositionID)
	assert.InDelta(t, 100.0, p.UnrealizedPnL, 1e-9)

	o := restored.Order("ORDER_x")
	require.NotNil(t, o)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)

	// Mutating a snapshot copy must not leak into the restored state.
	snap.OpenPositions["BTCUSDT"] = domain.Position{Symbol: "BTCUSDT", Quantity: 99}
	assert.Equal(t, 0.1, restored.Position("BTCUSDT").Quantity)
}

func TestResetDailyStats(t *testing.T) {
	s := New(10_000, testLogger())
	require.True(t, s.AddPosition("BTCUSDT", domain.SideBuy, 0.1, 50_000, 49_000, 52_000, ""))
	s.RemovePosition("BTCUSDT", -120)
	require.InDelta(t, -120.0, s.DailyPnL(), 1e-9)
	require.Equal(t, 1, s.TradesToday())

	s.ResetDailyStats()
	assert.Equal(t, 0.0, s.DailyPnL())
	assert.Equal(t, 0, s.TradesToday())
}

func TestListenerNotifiedAfterMutation(t *testing.T) {
	s := New(10_000, testLogger())

	var snaps []domain.StateSnapshot
	s.RegisterListener(func(snap domain.StateSnapshot) {
		snaps = append(snaps, snap)
	})

	s.EnableTrading()
	require.True(t, s.DebitCash(100))

	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].TradingEnabled)
	assert.InDelta(t, 9_900.0, snaps[1].Cash, 1e-9)
}

func TestPanickingListenerDoesNotPoisonMutators(t *testing.T) {
	s := New(10_000, testLogger())

	s.RegisterListener(func(domain.StateSnapshot) { panic("boom") })
	var called int
	s.RegisterListener(func(domain.StateSnapshot) { called++ })

	assert.NotPanics(t, func() { s.CreditCash(5) })
	assert.InDelta(t, 10_005.0, s.Cash(), 1e-9)
	assert.Equal(t, 1, called, "later listeners still run after a panic")
}
