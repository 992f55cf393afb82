package fsm

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartsIdle(t *testing.T) {
	m := New(3, time.Hour, testLogger())
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, m.CanEvaluate())
	assert.False(t, m.CanEnter(), "entry only allowed out of an evaluation")
}

func TestEvaluationGate(t *testing.T) {
	m := New(3, time.Hour, testLogger())

	require.True(t, m.StartEvaluation())
	assert.Equal(t, StateEvaluating, m.State())
	assert.True(t, m.CanEnter())

	// A second evaluation may not start while one is running.
	assert.False(t, m.StartEvaluation())

	require.True(t, m.CancelEvaluation())
	assert.Equal(t, StateIdle, m.State())
	assert.False(t, m.CancelEvaluation(), "cancel is only valid while evaluating")
}

func TestEnterBelowCapReturnsToIdle(t *testing.T) {
	m := New(3, time.Hour, testLogger())

	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("BTCUSDT"))
	assert.Equal(t, StateIdle, m.State(), "below the cap the bot keeps scanning")

	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("ETHUSDT"))
	assert.Equal(t, StateIdle, m.State())
}

func TestEnterAtCapGoesInPosition(t *testing.T) {
	m := New(2, time.Hour, testLogger())

	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("BTCUSDT"))
	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("ETHUSDT"))

	assert.Equal(t, StateInPosition, m.State())
	assert.False(t, m.CanEvaluate())
	assert.False(t, m.StartEvaluation())
}

func TestEntryRequiresEvaluating(t *testing.T) {
	m := New(3, time.Hour, testLogger())
	assert.False(t, m.EnterPosition("BTCUSDT"))
	assert.Equal(t, StateIdle, m.State())
}

func TestExitLastPositionForcesCooldown(t *testing.T) {
	m := New(3, time.Hour, testLogger())
	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("BTCUSDT"))

	m.ExitPosition("BTCUSDT", true)
	assert.Equal(t, StateCooldown, m.State())
	assert.False(t, m.CanEvaluate())
	assert.False(t, m.StartEvaluation())

	st := m.Status()
	assert.True(t, st.InCooldown)
	require.NotNil(t, st.CooldownEndsAt)
}

func TestExitWithoutCooldownReturnsToIdle(t *testing.T) {
	m := New(3, time.Hour, testLogger())
	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("BTCUSDT"))

	m.ExitPosition("BTCUSDT", false)
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, m.CanEvaluate())
}

func TestExitOneOfManyKeepsTrading(t *testing.T) {
	m := New(3, time.Hour, testLogger())
	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("BTCUSDT"))
	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("ETHUSDT"))

	m.ExitPosition("BTCUSDT", true)
	assert.Equal(t, StateIdle, m.State(), "cooldown only fires when the last position closes")
	assert.Equal(t, 1, m.Status().OpenPositions)
}

func TestCooldownExpiry(t *testing.T) {
	m := New(3, 30*time.Minute, testLogger())
	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("BTCUSDT"))
	m.ExitPosition("BTCUSDT", true)
	require.Equal(t, StateCooldown, m.State())

	// Advance the clock past the cooldown window.
	m.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	assert.True(t, m.CanEvaluate())
	assert.Equal(t, StateIdle, m.State())
	assert.True(t, m.StartEvaluation())
}

func TestExpiredCooldownStillHonorsPositionCap(t *testing.T) {
	m := New(1, 30*time.Minute, testLogger())
	require.True(t, m.StartEvaluation())
	require.True(t, m.EnterPosition("BTCUSDT"))
	m.ExitPosition("BTCUSDT", true)
	require.Equal(t, StateCooldown, m.State())

	// A venue-pushed fill refills the slot while the cooldown runs.
	m.mu.Lock()
	m.openPositions = 1
	m.mu.Unlock()
	m.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	assert.False(t, m.CanEvaluate(), "at the cap nothing may evaluate, expired cooldown or not")
	assert.Equal(t, StateIdle, m.State(), "the expired cooldown still lands in Idle")
	assert.False(t, m.StartEvaluation())
}

func TestErrorStateBlocksEverything(t *testing.T) {
	m := New(3, time.Hour, testLogger())
	m.Fail("exchange unreachable")

	assert.Equal(t, StateError, m.State())
	assert.False(t, m.CanEvaluate())
	assert.False(t, m.StartEvaluation())
	assert.False(t, m.EnterPosition("BTCUSDT"))

	st := m.Status()
	assert.Equal(t, "exchange unreachable", st.ErrorMessage)
	assert.Equal(t, 1, st.ErrorCount)

	require.True(t, m.ClearError())
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Status().ErrorMessage)
	assert.Equal(t, 1, m.Status().ErrorCount, "error count is cumulative")
}

func TestSyncPositionCount(t *testing.T) {
	m := New(2, time.Hour, testLogger())

	// An external fill drove us to the cap.
	m.SyncPositionCount(2)
	assert.Equal(t, StateInPosition, m.State())

	// All positions closed externally.
	m.SyncPositionCount(0)
	assert.Equal(t, StateIdle, m.State())
}

func TestStatusReportsAdmissibility(t *testing.T) {
	m := New(1, time.Hour, testLogger())
	st := m.Status()
	assert.True(t, st.CanEvaluate)
	assert.False(t, st.CanEnter)

	require.True(t, m.StartEvaluation())
	st = m.Status()
	assert.False(t, st.CanEvaluate)
	assert.True(t, st.CanEnter)

	require.True(t, m.EnterPosition("BTCUSDT"))
	st = m.Status()
	assert.Equal(t, StateInPosition, st.State)
	assert.False(t, st.CanEvaluate)
	assert.False(t, st.CanEnter)
}
