// Package bot runs the control loop: on each tick it reads the operator's
// desired state, checks the state machine, refreshes market data, monitors
// open positions, and drives the evaluate/risk/filter/size/execute pipeline.
// Exchange-pushed fills are applied as they arrive, outside the tick cadence.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/exchange"
	"github.com/alanyoungcy/tradecore/internal/executor"
	"github.com/alanyoungcy/tradecore/internal/fsm"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/strategy"
)

// Deps bundles the components the loop coordinates. Control and Stream may
// be nil (paper deployments without redis or without a private websocket);
// Indicators and Regimes fall back to the built-ins when nil.
type Deps struct {
	State        *state.TradingState
	Machine      *fsm.Machine
	Orchestrator *strategy.Orchestrator
	Risk         *risk.Engine
	Sizer        *risk.PositionSizer
	Executor     *executor.Executor
	Monitor      *PositionMonitor
	Filters      *PortfolioFilters
	Market       domain.MarketDataSource
	Control      domain.ControlSurface
	Stream       exchange.Stream
	Indicators   IndicatorEngine
	Regimes      RegimeClassifier
}

// Loop is the top-level coordinator. It owns no trading state itself; every
// decision re-reads the ledger after acquiring it, never a value cached from
// before a suspension point.
type Loop struct {
	cfg    config.Config
	d      Deps
	logger *slog.Logger
}

// New builds the control loop.
func New(cfg config.Config, d Deps, logger *slog.Logger) *Loop {
	if d.Indicators == nil {
		d.Indicators = BasicIndicatorEngine{}
	}
	if d.Regimes == nil {
		d.Regimes = BasicRegimeClassifier{}
	}
	return &Loop{
		cfg:    cfg,
		d:      d,
		logger: logger.With(slog.String("component", "loop")),
	}
}

// Run executes the loop until ctx ends or the operator requests stopped.
// Stream events are consumed between ticks so fills apply as soon as they
// arrive.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Trading.EnableOnStart {
		l.d.State.EnableTrading()
	}

	ticker := time.NewTicker(l.cfg.Trading.TickInterval.Duration)
	defer ticker.Stop()

	var events <-chan exchange.Event
	if l.d.Stream != nil {
		events = l.d.Stream.Events()
	}
	var reconcileC <-chan time.Time
	if l.live() && l.cfg.Executor.ReconcileInterval.Duration > 0 {
		rt := time.NewTicker(l.cfg.Executor.ReconcileInterval.Duration)
		defer rt.Stop()
		reconcileC = rt.C
	}

	l.logger.Info("control loop started",
		slog.String("mode", l.cfg.Mode),
		slog.Duration("tick", l.cfg.Trading.TickInterval.Duration),
	)

	for {
		select {
		case <-ctx.Done():
			l.shutdownStream(events)
			l.reportState(context.Background(), "stopped")
			l.logger.Info("control loop stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.handleEvent(ctx, ev)
		case <-reconcileC:
			l.d.Executor.Reconcile(ctx)
		case <-ticker.C:
			if stop := l.tick(ctx); stop {
				l.shutdownStream(events)
				l.reportState(context.Background(), "stopped")
				l.logger.Info("control loop stopped by operator")
				return nil
			}
		}
	}
}

// tick runs one full pass. Returns true when the operator asked for a stop.
func (l *Loop) tick(ctx context.Context) bool {
	status := l.d.Machine.Status()
	l.reportState(ctx, string(status.State))

	desired := l.desiredState(ctx)
	switch desired {
	case domain.DesiredStopped:
		return true
	case domain.DesiredPaused:
		l.logger.Debug("trading paused by operator")
		return false
	}

	symbols, err := l.universe(ctx)
	if err != nil {
		l.logger.Error("universe fetch failed", slog.Any("error", err))
		return false
	}
	views := l.fetchViews(ctx, symbols)

	// Monitor first: exits free capacity and slots before new entries are
	// considered this tick.
	l.checkPositions(ctx, views)

	if !l.d.Machine.CanEvaluate() {
		l.logger.Debug("evaluation gated",
			slog.String("state", string(l.d.Machine.State())),
		)
		return false
	}

	for _, symbol := range symbols {
		view, ok := views[symbol]
		if !ok {
			continue
		}
		if l.d.State.Position(symbol) != nil {
			continue
		}
		if !l.d.Machine.CanEvaluate() {
			break
		}
		l.evaluateSymbol(ctx, view)
	}
	return false
}

// evaluateSymbol runs the entry pipeline for one symbol: orchestrate, filter,
// size, risk-check, execute. Every rejection path cancels the evaluation.
func (l *Loop) evaluateSymbol(ctx context.Context, view domain.MarketView) {
	if !l.d.Machine.StartEvaluation() {
		return
	}

	sig := l.d.Orchestrator.Evaluate(ctx, view)
	if sig == nil {
		l.d.Machine.CancelEvaluation()
		return
	}

	if reason := l.d.Filters.Check(*sig); reason != "" {
		l.logger.Info("entry blocked by portfolio filter",
			slog.String("symbol", sig.Symbol),
			slog.String("reason", reason),
		)
		l.d.Machine.CancelEvaluation()
		return
	}

	// Sizing precedes the risk check: the veto chain needs a concrete
	// quantity to price the risk and exposure limits.
	sig.Quantity = l.d.Sizer.Size(*sig, l.d.State.Equity())
	if sig.Quantity <= 0 {
		l.logger.Debug("signal sized to zero",
			slog.String("symbol", sig.Symbol),
		)
		l.d.Machine.CancelEvaluation()
		return
	}

	approval := l.d.Risk.Evaluate(*sig)
	if !approval.Approved {
		l.d.Machine.CancelEvaluation()
		return
	}

	submission, err := l.d.Executor.Execute(ctx, approval, marketContext(view))
	if err != nil {
		l.logger.Error("order execution failed",
			slog.String("symbol", sig.Symbol),
			slog.Any("error", err),
		)
		l.d.Machine.CancelEvaluation()
		return
	}

	switch submission.Status {
	case domain.OrderStatusFilled:
		l.d.Machine.EnterPosition(submission.Symbol)
	case domain.OrderStatusSubmitted:
		// The fill arrives via the stream; the count syncs then.
		l.logger.Info("order submitted, awaiting fill",
			slog.String("client_order_id", submission.ClientOrderID),
		)
		l.d.Machine.CancelEvaluation()
	default:
		l.logger.Warn("order not placed",
			slog.String("client_order_id", submission.ClientOrderID),
			slog.String("status", string(submission.Status)),
			slog.String("reject_reason", submission.RejectReason),
		)
		l.d.Machine.CancelEvaluation()
	}
}

// checkPositions runs the monitor and feeds settled exits back into the
// state machine. A stop-loss on the last position forces the cooldown.
func (l *Loop) checkPositions(ctx context.Context, views map[string]domain.MarketView) {
	prices := make(map[string]float64, len(views))
	mkts := make(map[string]executor.MarketContext, len(views))
	for sym, v := range views {
		prices[sym] = v.Price
		mkts[sym] = marketContext(v)
	}

	for _, exit := range l.d.Monitor.Check(ctx, prices, mkts) {
		if exit.Settled {
			l.d.Machine.ExitPosition(exit.Symbol, exit.Reason == ExitReasonStopLoss)
		}
	}
}

// shutdownStream closes the stream first, so the venue stops pushing, then
// applies the events that already arrived. Fills buffered at shutdown still
// land in the ledger and make the final snapshot.
func (l *Loop) shutdownStream(events <-chan exchange.Event) {
	if l.d.Stream == nil {
		return
	}
	if err := l.d.Stream.Close(); err != nil {
		l.logger.Warn("stream close failed", slog.Any("error", err))
	}
	if events == nil {
		return
	}

	// Closing the stream unblocks its reader, which closes the channel.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == exchange.EventReconnect {
				continue
			}
			l.handleEvent(context.Background(), ev)
		case <-deadline:
			l.logger.Warn("stream drain timed out")
			return
		}
	}
}

// handleEvent applies one pushed stream event.
func (l *Loop) handleEvent(ctx context.Context, ev exchange.Event) {
	switch ev.Type {
	case exchange.EventFill:
		if ev.Fill == nil {
			return
		}
		res := l.d.Executor.ApplyFill(*ev.Fill)
		if res.Entered || res.Closed != nil {
			l.d.Machine.SyncPositionCount(l.d.State.OpenPositionCount())
		}
	case exchange.EventOrder:
		if ev.Order == nil {
			return
		}
		l.applyOrderEvent(*ev.Order)
	case exchange.EventReconnect:
		// The stream may have dropped events while down; reconcile against
		// the venue as the order of record.
		l.logger.Warn("stream reconnected, reconciling")
		l.d.Executor.Reconcile(ctx)
	}
}

// applyOrderEvent records venue-pushed terminal statuses. Fills carry their
// own event type; anything already terminal locally is left alone.
func (l *Loop) applyOrderEvent(os exchange.OrderState) {
	if os.ClientOrderID == "" {
		return
	}
	order := l.d.State.Order(os.ClientOrderID)
	if order == nil || order.Status.Terminal() || order.Status == os.Status {
		return
	}
	switch os.Status {
	case domain.OrderStatusCancelled, domain.OrderStatusRejected, domain.OrderStatusSubmitted:
		st := os.Status
		upd := state.OrderUpdate{Status: &st}
		if os.ExchangeOrderID != "" {
			upd.ExchangeOrderID = &os.ExchangeOrderID
		}
		l.d.State.UpdateOrder(os.ClientOrderID, upd)
		l.logger.Info("order status pushed by venue",
			slog.String("client_order_id", os.ClientOrderID),
			slog.String("status", string(os.Status)),
		)
	}
}

// universe returns the symbols to scan: the configured static list, or the
// venue's top movers by volume.
func (l *Loop) universe(ctx context.Context) ([]string, error) {
	if len(l.cfg.Trading.Symbols) > 0 {
		return l.cfg.Trading.Symbols, nil
	}
	return l.d.Market.TopSymbols(ctx, l.cfg.Trading.UniverseSize, l.cfg.Trading.MinVolume24h)
}

// fetchViews pulls price and candles for every symbol and assembles the
// per-symbol MarketView. A symbol whose data fetch fails is skipped this
// tick, never fatal.
func (l *Loop) fetchViews(ctx context.Context, symbols []string) map[string]domain.MarketView {
	views := make(map[string]domain.MarketView, len(symbols))
	for _, symbol := range symbols {
		view, err := l.buildView(ctx, symbol)
		if err != nil {
			l.logger.Warn("market data fetch failed",
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
			continue
		}
		l.d.Filters.UpdateHistory(symbol, view.Candles.M1)
		views[symbol] = view
	}
	return views
}

func (l *Loop) buildView(ctx context.Context, symbol string) (domain.MarketView, error) {
	price, err := l.d.Market.Price(ctx, symbol)
	if err != nil {
		return domain.MarketView{}, err
	}

	depth := l.cfg.Trading.CandleDepth
	m1, err := l.d.Market.Candles(ctx, symbol, "1", depth)
	if err != nil {
		return domain.MarketView{}, err
	}
	m5, err := l.d.Market.Candles(ctx, symbol, "5", depth)
	if err != nil {
		return domain.MarketView{}, err
	}

	windows := domain.CandleWindows{M1: m1, M5: m5}
	ind := l.d.Indicators.Compute(windows)
	regime := l.d.Regimes.Classify(windows, ind)

	// 24h quote volume extrapolated from the fetched M1 window; the slippage
	// model only needs the right order of magnitude.
	volume := 0.0
	for _, c := range m1 {
		volume += c.Volume * c.Close
	}
	if len(m1) > 0 {
		volume *= 1440 / float64(len(m1))
	}

	return domain.MarketView{
		Symbol:     symbol,
		Price:      price,
		Indicators: ind,
		Regime:     regime,
		Candles:    windows,
		Volume24h:  volume,
	}, nil
}

func (l *Loop) desiredState(ctx context.Context) domain.DesiredState {
	if l.d.Control == nil {
		return domain.DesiredRunning
	}
	ds, err := l.d.Control.DesiredState(ctx)
	if err != nil {
		// Fail safe: an unreachable control surface must not stop trading,
		// only a deliberate operator command does.
		l.logger.Warn("desired state read failed", slog.Any("error", err))
		return domain.DesiredRunning
	}
	return ds
}

func (l *Loop) reportState(ctx context.Context, actual string) {
	if l.d.Control == nil {
		return
	}
	if err := l.d.Control.ReportActual(ctx, actual, time.Now().UTC()); err != nil {
		l.logger.Warn("heartbeat report failed", slog.Any("error", err))
	}
}

func (l *Loop) live() bool {
	return strings.ToLower(l.cfg.Mode) == "live"
}

func marketContext(view domain.MarketView) executor.MarketContext {
	vol := 0.0
	if atr := view.Indicators.ATR(); atr > 0 && view.Price > 0 {
		vol = atr / view.Price
	}
	return executor.MarketContext{Volume24h: view.Volume24h, Volatility: vol}
}
