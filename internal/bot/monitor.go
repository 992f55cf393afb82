package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/strategy"
)

// Exit reasons reported by the monitor.
const (
	ExitReasonStopLoss   = "stop_loss"
	ExitReasonTakeProfit = "take_profit"
	ExitReasonTimeExit   = "time_exit"
)

// PositionExit is one close decision taken by the monitor. In paper mode the
// close settles immediately and Realized is final; in live mode the closing
// order is in flight and Realized is 0 until the fill arrives.
type PositionExit struct {
	Symbol   string
	Reason   string
	Price    float64
	Realized float64
	Settled  bool
}

// PositionMonitor walks open positions each tick and closes any whose stop,
// target, or holding-time limit was hit. Positions that stay open get their
// unrealized PnL refreshed instead.
type PositionMonitor struct {
	state    *state.TradingState
	exec     *executor.Executor
	registry *strategy.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewPositionMonitor builds a monitor over the shared ledger and executor.
func NewPositionMonitor(st *state.TradingState, exec *executor.Executor, registry *strategy.Registry, logger *slog.Logger) *PositionMonitor {
	return &PositionMonitor{
		state:    st,
		exec:     exec,
		registry: registry,
		logger:   logger.With(slog.String("component", "monitor")),
		now:      time.Now,
	}
}

// Check evaluates every open position against the given prices. A missing or
// non-positive price skips that position until the next tick. Returns the
// exits taken; failed closes are logged and retried next tick.
func (pm *PositionMonitor) Check(ctx context.Context, prices map[string]float64, mkts map[string]executor.MarketContext) []PositionExit {
	var exits []PositionExit

	for symbol, pos := range pm.state.OpenPositions() {
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			pm.logger.Warn("no usable price for open position", slog.String("symbol", symbol))
			continue
		}

		reason := pm.exitReason(pos, price)
		if reason == "" {
			pm.state.UpdatePositionPnL(symbol, price)
			continue
		}

		realized, err := pm.exec.ClosePosition(ctx, symbol, price, mkts[symbol], reason)
		if err != nil {
			pm.logger.Error("position close failed",
				slog.String("symbol", symbol),
				slog.String("reason", reason),
				slog.Any("error", err),
			)
			continue
		}

		settled := pm.state.Position(symbol) == nil
		pm.logger.Info("position exit",
			slog.String("symbol", symbol),
			slog.String("reason", reason),
			slog.Float64("price", price),
			slog.Bool("settled", settled),
		)
		exits = append(exits, PositionExit{
			Symbol:   symbol,
			Reason:   reason,
			Price:    price,
			Realized: realized,
			Settled:  settled,
		})
	}
	return exits
}

// exitReason returns the first matching exit condition, stop loss before take
// profit, or "" when the position should stay open.
func (pm *PositionMonitor) exitReason(pos domain.Position, price float64) string {
	if pos.StopLoss > 0 {
		if pos.Side == domain.SideBuy && price <= pos.StopLoss {
			return ExitReasonStopLoss
		}
		if pos.Side == domain.SideSell && price >= pos.StopLoss {
			return ExitReasonStopLoss
		}
	}
	if pos.TakeProfit > 0 {
		if pos.Side == domain.SideBuy && price >= pos.TakeProfit {
			return ExitReasonTakeProfit
		}
		if pos.Side == domain.SideSell && price <= pos.TakeProfit {
			return ExitReasonTakeProfit
		}
	}
	if limit := pm.timeExitLimit(pos); limit > 0 && pm.now().Sub(pos.EntryTime) >= limit {
		return ExitReasonTimeExit
	}
	return ""
}

// timeExitLimit resolves the holding-time limit for a position from the
// strategy that opened it. The entry order carries the strategy name; either
// side missing means no time exit.
func (pm *PositionMonitor) timeExitLimit(pos domain.Position) time.Duration {
	if pm.registry == nil || pos.PositionID == "" {
		return 0
	}
	order := pm.state.Order(pos.PositionID)
	if order == nil || order.Strategy == "" {
		return 0
	}
	s, err := pm.registry.Get(order.Strategy)
	if err != nil {
		return 0
	}
	return time.Duration(s.TimeExitMinutes()) * time.Minute
}
