// Package risk implements pre-trade risk control. Every entry signal passes
// through a fixed sequence of veto checks; the first failed check rejects the
// signal with a reason and no later check runs. The engine never transforms a
// signal, it only approves or rejects.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/state"
)

// maxStopWidthPct is the widest stop distance accepted, as a fraction of the
// entry price. Wider stops are almost always bad data.
const maxStopWidthPct = 0.20

// Engine evaluates entry signals against account-level limits. Safe for
// concurrent use; all account reads go through the state's own lock.
type Engine struct {
	state  *state.TradingState
	cfg    config.RiskConfig
	logger *slog.Logger

	lastResetDay string // UTC date of the last daily counter reset
	now          func() time.Time
}

// NewEngine builds a risk engine bound to the given ledger.
func NewEngine(st *state.TradingState, cfg config.RiskConfig, logger *slog.Logger) *Engine {
	return &Engine{
		state:        st,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "risk")),
		lastResetDay: time.Now().UTC().Format("2006-01-02"),
		now:          time.Now,
	}
}

// Evaluate runs the veto chain against sig. Any internal panic is converted
// into a rejection so a risk bug can never let a trade through unchecked.
func (e *Engine) Evaluate(sig domain.Signal) (approval domain.RiskApproval) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("risk evaluation panicked",
				slog.String("symbol", sig.Symbol),
				slog.Any("panic", r),
			)
			approval = e.reject(sig, fmt.Sprintf("internal risk error: %v", r))
		}
	}()

	e.maybeResetDaily()

	checks := []func(domain.Signal) (bool, string){
		e.checkTradingEnabled,
		e.checkDailyLoss,
		e.checkDrawdown,
		e.checkRiskPerTrade,
		e.checkTradesPerDay,
		e.checkExposure,
		e.checkPositionConflict,
	}
	for _, check := range checks {
		if ok, reason := check(sig); !ok {
			return e.reject(sig, reason)
		}
	}

	riskAmount := sig.Quantity * math.Abs(sig.EntryPrice-sig.StopLoss)
	equity := e.state.Equity()
	riskPct := 0.0
	if equity > 0 {
		riskPct = riskAmount / equity
	}

	e.logger.Info("signal approved",
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
		slog.String("strategy", sig.Strategy),
		slog.Float64("qty", sig.Quantity),
		slog.Float64("risk_pct", riskPct),
	)
	return domain.RiskApproval{
		Approved:   true,
		Quantity:   sig.Quantity,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		RiskPct:    riskPct,
		RiskAmount: riskAmount,
		Signal:     &sig,
	}
}

func (e *Engine) reject(sig domain.Signal, reason string) domain.RiskApproval {
	e.logger.Warn("signal rejected",
		slog.String("symbol", sig.Symbol),
		slog.String("strategy", sig.Strategy),
		slog.String("reason", reason),
	)
	return domain.RiskApproval{Approved: false, Reason: reason, Signal: &sig}
}

// maybeResetDaily zeroes the daily counters on the first evaluation after a
// UTC day rollover.
func (e *Engine) maybeResetDaily() {
	today := e.now().UTC().Format("2006-01-02")
	if today != e.lastResetDay {
		e.lastResetDay = today
		e.state.ResetDailyStats()
	}
}

// ---------------------------------------------------------------------------
// Veto checks, in evaluation order.
// ---------------------------------------------------------------------------

func (e *Engine) checkTradingEnabled(domain.Signal) (bool, string) {
	if !e.state.TradingEnabled() {
		return false, "trading disabled"
	}
	return true, ""
}

// checkDailyLoss trips the kill switch when the day's realized loss reaches
// the configured fraction of equity. The switch stays tripped until an
// operator re-enables trading.
func (e *Engine) checkDailyLoss(domain.Signal) (bool, string) {
	dailyPnL := e.state.DailyPnL()
	if dailyPnL >= 0 {
		return true, ""
	}
	equity := e.state.Equity()
	if equity <= 0 {
		e.state.DisableTrading()
		return false, "daily loss limit reached: equity exhausted"
	}
	lossPct := math.Abs(dailyPnL) / equity
	if lossPct >= e.cfg.MaxDailyLoss {
		e.state.DisableTrading()
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%", lossPct*100, e.cfg.MaxDailyLoss*100)
	}
	return true, ""
}

func (e *Engine) checkDrawdown(domain.Signal) (bool, string) {
	ddPct := e.state.DrawdownPercent()
	if ddPct >= e.cfg.MaxDrawdown {
		e.state.DisableTrading()
		return false, fmt.Sprintf("drawdown limit reached: %.2f%% >= %.2f%%", ddPct*100, e.cfg.MaxDrawdown*100)
	}
	return true, ""
}

// checkRiskPerTrade validates the stop placement and caps the loss the trade
// can realize at its stop.
func (e *Engine) checkRiskPerTrade(sig domain.Signal) (bool, string) {
	if sig.EntryPrice <= 0 {
		return false, "invalid entry price"
	}
	if sig.StopLoss <= 0 {
		return false, "missing stop loss"
	}
	switch sig.Side {
	case domain.SideBuy:
		if sig.StopLoss >= sig.EntryPrice {
			return false, "stop loss must be below entry for a buy"
		}
	case domain.SideSell:
		if sig.StopLoss <= sig.EntryPrice {
			return false, "stop loss must be above entry for a sell"
		}
	default:
		return false, fmt.Sprintf("unknown side %q", sig.Side)
	}

	stopWidth := math.Abs(sig.EntryPrice - sig.StopLoss)
	if stopWidth/sig.EntryPrice > maxStopWidthPct {
		return false, fmt.Sprintf("stop too wide: %.2f%% of entry", stopWidth/sig.EntryPrice*100)
	}

	if sig.Quantity <= 0 {
		return false, "invalid quantity"
	}
	equity := e.state.Equity()
	if equity <= 0 {
		return false, "no equity"
	}
	riskAmount := sig.Quantity * stopWidth
	if riskAmount/equity > e.cfg.MaxRiskPerTrade {
		return false, fmt.Sprintf("risk per trade too high: %.3f%% > %.3f%%",
			riskAmount/equity*100, e.cfg.MaxRiskPerTrade*100)
	}
	return true, ""
}

func (e *Engine) checkTradesPerDay(domain.Signal) (bool, string) {
	trades := e.state.TradesToday()
	if trades >= e.cfg.MaxTradesPerDay {
		return false, fmt.Sprintf("max trades per day reached: %d", trades)
	}
	return true, ""
}

// checkExposure caps the entry-notional exposure a single asset may carry.
func (e *Engine) checkExposure(sig domain.Signal) (bool, string) {
	equity := e.state.Equity()
	if equity <= 0 {
		return false, "no equity"
	}
	existing := e.state.ExposurePerAsset()[sig.Symbol]
	proposed := existing + sig.Quantity*sig.EntryPrice
	limit := equity * e.cfg.MaxExposurePerAsset
	if proposed > limit {
		return false, fmt.Sprintf("exposure limit for %s: %.2f > %.2f", sig.Symbol, proposed, limit)
	}
	return true, ""
}

func (e *Engine) checkPositionConflict(sig domain.Signal) (bool, string) {
	if e.state.OpenPositionCount() >= e.cfg.MaxPositions {
		return false, fmt.Sprintf("max open positions reached: %d", e.cfg.MaxPositions)
	}
	if e.cfg.AllowPositionStacking {
		return true, ""
	}
	if p := e.state.Position(sig.Symbol); p != nil {
		return false, fmt.Sprintf("position already open for %s", sig.Symbol)
	}
	return true, ""
}
