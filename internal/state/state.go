// Package state implements the authoritative trading ledger: cash, equity,
// open positions, and open orders. It is the single shared mutable resource
// of the core; every read and write is serialized through one mutex owned by
// the TradingState.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Listener is invoked synchronously, once, after every successful mutation.
// Listeners run under the state lock and must be cheap and non-blocking
// (enqueue work, never perform I/O) and must not call back into the
// TradingState. A panicking listener is recovered and logged; it never
// propagates into the mutator.
type Listener func(snapshot domain.StateSnapshot)

// TradingState is the single source of truth for trading data. All mutators
// enforce the ledger invariants themselves; callers are never trusted to.
type TradingState struct {
	mu sync.Mutex

	cash       float64
	equity     float64
	peakEquity float64
	drawdown   float64

	openPositions    map[string]*domain.Position // symbol -> position
	openOrders       map[string]*domain.Order    // client order id -> order
	exposurePerAsset map[string]float64

	tradingEnabled bool

	dailyPnL         float64
	tradesToday      int
	dailyStartEquity float64
	dailyStartTime   time.Time

	listeners []Listener
	logger    *slog.Logger
}

// New creates a TradingState funded with initialCash. Trading starts
// disabled; the control loop enables it once wiring completes.
func New(initialCash float64, logger *slog.Logger) *TradingState {
	s := &TradingState{
		cash:             initialCash,
		equity:           initialCash,
		peakEquity:       initialCash,
		openPositions:    make(map[string]*domain.Position),
		openOrders:       make(map[string]*domain.Order),
		exposurePerAsset: make(map[string]float64),
		dailyStartEquity: initialCash,
		dailyStartTime:   time.Now().UTC(),
		logger:           logger.With(slog.String("component", "state")),
	}
	s.logger.Info("trading state initialized", slog.Float64("cash", initialCash))
	return s
}

// RegisterListener adds a callback invoked after every successful mutation.
func (s *TradingState) RegisterListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// notifyLocked fans out the post-mutation snapshot. Caller holds the lock.
func (s *TradingState) notifyLocked() {
	if len(s.listeners) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, l := range s.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("state listener panicked", slog.Any("panic", r))
				}
			}()
			l(snap)
		}()
	}
}

// ---------------------------------------------------------------------------
// Read accessors
// ---------------------------------------------------------------------------

// Cash returns the current free cash.
func (s *TradingState) Cash() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Equity returns cash plus the unrealized PnL of all open positions,
// recomputed from the positions' latest marks.
func (s *TradingState) Equity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateEquityLocked()
	return s.equity
}

// PeakEquity returns the highest equity observed; it never decreases.
func (s *TradingState) PeakEquity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakEquity
}

// Drawdown returns peak equity minus current equity (>= 0).
func (s *TradingState) Drawdown() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateEquityLocked()
	s.updateDrawdownLocked()
	return s.drawdown
}

// DrawdownPercent returns the drawdown as a fraction of peak equity.
func (s *TradingState) DrawdownPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateEquityLocked()
	s.updateDrawdownLocked()
	if s.peakEquity <= 0 {
		return 0
	}
	return s.drawdown / s.peakEquity
}

// TradingEnabled reports the kill-switch flag.
func (s *TradingState) TradingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradingEnabled
}

// DailyPnL returns realized PnL accumulated since the last daily reset.
func (s *TradingState) DailyPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyPnL
}

// TradesToday returns the number of closed trades since the last daily reset.
func (s *TradingState) TradesToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesToday
}

// OpenPositionCount returns the number of open positions.
func (s *TradingState) OpenPositionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openPositions)
}

// Position returns a copy of the position for symbol, or nil.
func (s *TradingState) Position(symbol string) *domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.openPositions[symbol]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// OpenPositions returns a copy of all open positions keyed by symbol.
func (s *TradingState) OpenPositions() map[string]domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Position, len(s.openPositions))
	for sym, p := range s.openPositions {
		out[sym] = *p
	}
	return out
}

// Order returns a copy of the order with the given client order id, or nil.
func (s *TradingState) Order(clientOrderID string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.openOrders[clientOrderID]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

// OpenOrders returns a copy of all tracked orders keyed by client order id.
func (s *TradingState) OpenOrders() map[string]domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Order, len(s.openOrders))
	for id, o := range s.openOrders {
		out[id] = *o
	}
	return out
}

// ExposurePerAsset returns a copy of the per-symbol entry-notional exposure.
func (s *TradingState) ExposurePerAsset() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.exposurePerAsset))
	for sym, e := range s.exposurePerAsset {
		out[sym] = e
	}
	return out
}

// ---------------------------------------------------------------------------
// Mutators
// ---------------------------------------------------------------------------

// EnableTrading clears the kill switch. This is an explicit operator action;
// nothing in the core re-enables trading automatically.
func (s *TradingState) EnableTrading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradingEnabled = true
	s.logger.Info("trading enabled")
	s.notifyLocked()
}

// DisableTrading trips the kill switch: no new entries are admitted until an
// operator calls EnableTrading.
func (s *TradingState) DisableTrading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradingEnabled = false
	s.logger.Warn("trading disabled")
	s.notifyLocked()
}

// AddPosition inserts a new position. It fails without mutation when a
// position already exists for the symbol.
func (s *TradingState) AddPosition(symbol string, side domain.Side, qty, entryPrice, stopLoss, takeProfit float64, positionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openPositions[symbol]; exists {
		s.logger.Warn("position already exists", slog.String("symbol", symbol))
		return false
	}

	if positionID == "" {
		positionID = uuid.New().String()
	}
	s.openPositions[symbol] = &domain.Position{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entryPrice,
		EntryTime:  time.Now().UTC(),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		PositionID: positionID,
	}
	s.exposurePerAsset[symbol] = qty * entryPrice

	s.logger.Info("position added",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("qty", qty),
		slog.Float64("entry", entryPrice),
	)
	s.notifyLocked()
	return true
}

// RemovePosition removes the position for symbol, posts realizedPnL to the
// daily PnL, credits nothing (cash movement is the caller's concern), and
// returns the removed position, or nil when no position exists.
func (s *TradingState) RemovePosition(symbol string, realizedPnL float64) *domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.openPositions[symbol]
	if !ok {
		return nil
	}
	delete(s.openPositions, symbol)
	delete(s.exposurePerAsset, symbol)

	s.dailyPnL += realizedPnL
	s.tradesToday++

	s.logger.Info("position removed",
		slog.String("symbol", symbol),
		slog.Float64("realized_pnl", realizedPnL),
	)
	s.notifyLocked()
	cp := *p
	return &cp
}

// UpdatePositionPnL recomputes the unrealized PnL of symbol's position from
// currentPrice. Cash is untouched.
func (s *TradingState) UpdatePositionPnL(symbol string, currentPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.openPositions[symbol]
	if !ok {
		return
	}
	p.UpdatePnL(currentPrice)
	s.updateEquityLocked()
}

// AddOrder inserts an order. It fails when the client order id is already
// present; this is the state-layer idempotency backstop.
func (s *TradingState) AddOrder(o domain.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openOrders[o.ClientOrderID]; exists {
		s.logger.Warn("order already exists", slog.String("client_order_id", o.ClientOrderID))
		return false
	}
	cp := o
	s.openOrders[o.ClientOrderID] = &cp

	s.logger.Info("order added",
		slog.String("client_order_id", o.ClientOrderID),
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
	)
	s.notifyLocked()
	return true
}

// OrderUpdate names the mutable order fields for UpdateOrder. Nil fields are
// left unchanged.
type OrderUpdate struct {
	Status          *domain.OrderStatus
	ExchangeOrderID *string
	Price           *float64
	Quantity        *float64
}

// UpdateOrder applies upd to the order with the given client order id.
func (s *TradingState) UpdateOrder(clientOrderID string, upd OrderUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.openOrders[clientOrderID]
	if !ok {
		return false
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.ExchangeOrderID != nil {
		o.ExchangeOrderID = *upd.ExchangeOrderID
	}
	if upd.Price != nil {
		o.Price = *upd.Price
	}
	if upd.Quantity != nil {
		o.Quantity = *upd.Quantity
	}

	s.logger.Debug("order updated", slog.String("client_order_id", clientOrderID))
	s.notifyLocked()
	return true
}

// RemoveOrder deletes and returns the order, or nil when absent.
func (s *TradingState) RemoveOrder(clientOrderID string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.openOrders[clientOrderID]
	if !ok {
		return nil
	}
	delete(s.openOrders, clientOrderID)
	s.logger.Info("order removed", slog.String("client_order_id", clientOrderID))
	s.notifyLocked()
	cp := *o
	return &cp
}

// DebitCash withdraws amount. It fails without mutation when the balance is
// insufficient; cash never goes negative.
func (s *TradingState) DebitCash(amount float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cash < amount {
		s.logger.Warn("insufficient cash",
			slog.Float64("cash", s.cash),
			slog.Float64("amount", amount),
		)
		return false
	}
	s.cash -= amount
	s.logger.Debug("cash debited", slog.Float64("amount", amount), slog.Float64("remaining", s.cash))
	s.notifyLocked()
	return true
}

// CreditCash deposits amount; it always succeeds.
func (s *TradingState) CreditCash(amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cash += amount
	s.logger.Debug("cash credited", slog.Float64("amount", amount), slog.Float64("balance", s.cash))
	s.notifyLocked()
}

// ResetDailyStats zeroes the daily counters. The risk engine calls this on
// the first evaluation after a UTC day rollover.
func (s *TradingState) ResetDailyStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateEquityLocked()
	s.dailyPnL = 0
	s.tradesToday = 0
	s.dailyStartEquity = s.equity
	s.dailyStartTime = time.Now().UTC()
	s.logger.Info("daily stats reset")
	s.notifyLocked()
}

// ---------------------------------------------------------------------------
// Snapshot / restore
// ---------------------------------------------------------------------------

// Snapshot returns a serializable projection of the full ledger.
func (s *TradingState) Snapshot() domain.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *TradingState) snapshotLocked() domain.StateSnapshot {
	s.updateEquityLocked()
	s.updateDrawdownLocked()

	positions := make(map[string]domain.Position, len(s.openPositions))
	for sym, p := range s.openPositions {
		positions[sym] = *p
	}
	orders := make(map[string]domain.Order, len(s.openOrders))
	for id, o := range s.openOrders {
		orders[id] = *o
	}
	exposure := make(map[string]float64, len(s.exposurePerAsset))
	for sym, e := range s.exposurePerAsset {
		exposure[sym] = e
	}

	ddPct := 0.0
	if s.peakEquity > 0 {
		ddPct = s.drawdown / s.peakEquity
	}

	return domain.StateSnapshot{
		ID:               uuid.New().String(),
		Cash:             s.cash,
		Equity:           s.equity,
		PeakEquity:       s.peakEquity,
		Drawdown:         s.drawdown,
		DrawdownPercent:  ddPct,
		TradingEnabled:   s.tradingEnabled,
		DailyPnL:         s.dailyPnL,
		TradesToday:      s.tradesToday,
		OpenPositions:    positions,
		OpenOrders:       orders,
		ExposurePerAsset: exposure,
		Timestamp:        time.Now().UTC(),
	}
}

// RestoreFromSnapshot replaces the ledger contents with the snapshot's. Used
// once at startup before any goroutine touches the state.
func (s *TradingState) RestoreFromSnapshot(snap domain.StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cash = snap.Cash
	s.equity = snap.Equity
	s.peakEquity = snap.PeakEquity
	s.drawdown = snap.Drawdown
	s.tradingEnabled = snap.TradingEnabled
	s.dailyPnL = snap.DailyPnL
	s.tradesToday = snap.TradesToday

	s.openPositions = make(map[string]*domain.Position, len(snap.OpenPositions))
	for sym, p := range snap.OpenPositions {
		cp := p
		s.openPositions[sym] = &cp
	}
	s.openOrders = make(map[string]*domain.Order, len(snap.OpenOrders))
	for id, o := range snap.OpenOrders {
		cp := o
		s.openOrders[id] = &cp
	}
	s.exposurePerAsset = make(map[string]float64, len(snap.ExposurePerAsset))
	for sym, e := range snap.ExposurePerAsset {
		s.exposurePerAsset[sym] = e
	}

	s.logger.Info("state restored from snapshot",
		slog.Time("taken_at", snap.Timestamp),
		slog.Float64("cash", s.cash),
		slog.Int("positions", len(s.openPositions)),
		slog.Int("orders", len(s.openOrders)),
	)
}

// ---------------------------------------------------------------------------
// Invariant maintenance (callers hold the lock)
// ---------------------------------------------------------------------------

func (s *TradingState) updateEquityLocked() {
	unrealized := 0.0
	for _, p := range s.openPositions {
		unrealized += p.UnrealizedPnL
	}
	s.equity = s.cash + unrealized
	if s.equity > s.peakEquity {
		s.peakEquity = s.equity
	}
}

func (s *TradingState) updateDrawdownLocked() {
	if s.peakEquity > 0 {
		s.drawdown = s.peakEquity - s.equity
	} else {
		s.drawdown = 0
	}
}
