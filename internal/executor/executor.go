// Package executor turns risk-approved signals into orders, idempotently. The
// same logical signal always maps to the same client order id, so retries,
// crashes, and replays cannot double-submit. Paper mode simulates fills with
// a slippage model; live mode submits to the venue and applies fills as they
// arrive from the stream or reconciliation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/exchange"
	"github.com/alanyoungcy/tradecore/internal/state"
)

const dedupTTL = 10 * time.Minute

// FillResult reports what a fill did to the ledger.
type FillResult struct {
	Entered  bool
	Closed   *domain.Position
	Realized float64
}

// Executor owns the order path. Safe for concurrent use; ledger consistency
// is enforced by the state's own locking plus the idempotency key.
type Executor struct {
	mode         string // "paper" or "live"
	state        *state.TradingState
	client       exchange.Client // nil in paper mode
	slippage     *SlippageModel
	dedup        *Dedup
	leverage     float64
	takerFeeRate float64
	logger       *slog.Logger
}

// New builds an executor. client may be nil when mode is "paper".
func New(mode string, st *state.TradingState, client exchange.Client, slippage *SlippageModel, leverage, takerFeeRate float64, logger *slog.Logger) *Executor {
	return &Executor{
		mode:         strings.ToLower(mode),
		state:        st,
		client:       client,
		slippage:     slippage,
		dedup:        NewDedup(dedupTTL),
		leverage:     leverage,
		takerFeeRate: takerFeeRate,
		logger:       logger.With(slog.String("component", "executor")),
	}
}

// MarketContext carries the liquidity inputs for fill simulation.
type MarketContext struct {
	Volume24h  float64
	Volatility float64 // e.g. ATR/price; 0 means unknown
}

// Execute submits the approved signal as a market order. Re-executing the
// same signal identity returns the existing submission instead of creating a
// second order.
func (e *Executor) Execute(ctx context.Context, approval domain.RiskApproval, mkt MarketContext) (domain.OrderSubmission, error) {
	if !approval.Approved || approval.Signal == nil {
		return domain.OrderSubmission{}, fmt.Errorf("executor: execute: %w", domain.ErrInvalidSignal)
	}
	sig := *approval.Signal
	clientOrderID := ClientOrderID(sig)

	// Idempotency: an order for this signal identity already exists.
	if existing := e.state.Order(clientOrderID); existing != nil {
		e.logger.Info("order already exists, returning existing",
			slog.String("client_order_id", clientOrderID),
		)
		return submissionFromOrder(existing), nil
	}
	if e.dedup.IsDuplicate(clientOrderID) {
		return domain.OrderSubmission{}, fmt.Errorf("executor: %s: %w", clientOrderID, domain.ErrDuplicateOrder)
	}

	order := domain.Order{
		ClientOrderID: clientOrderID,
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Quantity:      approval.Quantity,
		Price:         sig.EntryPrice,
		Type:          domain.OrderTypeMarket,
		TimeInForce:   domain.TimeInForceIOC,
		Status:        domain.OrderStatusPending,
		StopLoss:      approval.StopLoss,
		TakeProfit:    approval.TakeProfit,
		Strategy:      sig.Strategy,
		CreatedAt:     time.Now().UTC(),
	}
	if !e.state.AddOrder(order) {
		// Lost a race with a concurrent Execute for the same signal.
		if existing := e.state.Order(clientOrderID); existing != nil {
			return submissionFromOrder(existing), nil
		}
		return domain.OrderSubmission{}, fmt.Errorf("executor: %s: %w", clientOrderID, domain.ErrDuplicateOrder)
	}

	if e.mode == "paper" {
		return e.executePaper(order, mkt), nil
	}
	return e.executeLive(ctx, order)
}

// executePaper simulates an immediate fill with slippage, fees, and margin
// accounting against the ledger.
func (e *Executor) executePaper(order domain.Order, mkt MarketContext) domain.OrderSubmission {
	orderSizeUSD := order.Quantity * order.Price
	fillPrice := e.slippage.FillPrice(order.Price, orderSizeUSD, mkt.Volume24h, order.Side, mkt.Volatility)

	notional := order.Quantity * fillPrice
	fee := notional * e.takerFeeRate
	margin := notional / e.leverage

	if !e.state.DebitCash(margin + fee) {
		st := domain.OrderStatusRejected
		e.state.UpdateOrder(order.ClientOrderID, state.OrderUpdate{Status: &st})
		e.logger.Warn("paper order rejected",
			slog.String("client_order_id", order.ClientOrderID),
			slog.Float64("required", margin+fee),
		)
		return domain.OrderSubmission{
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Quantity:      order.Quantity,
			Status:        domain.OrderStatusRejected,
			RejectReason:  "Insufficient cash",
		}
	}

	st := domain.OrderStatusFilled
	exchangeID := "PAPER_" + order.ClientOrderID
	e.state.UpdateOrder(order.ClientOrderID, state.OrderUpdate{
		Status:          &st,
		ExchangeOrderID: &exchangeID,
		Price:           &fillPrice,
	})
	e.state.AddPosition(order.Symbol, order.Side, order.Quantity, fillPrice, order.StopLoss, order.TakeProfit, order.ClientOrderID)

	e.logger.Info("paper order executed",
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.Float64("qty", order.Quantity),
		slog.Float64("fill_price", fillPrice),
		slog.Float64("margin", margin),
		slog.Float64("fee", fee),
	)
	return domain.OrderSubmission{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: exchangeID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Quantity:        order.Quantity,
		Price:           fillPrice,
		Status:          domain.OrderStatusFilled,
	}
}

// executeLive submits to the venue. The fill arrives asynchronously via the
// private stream or reconciliation; only the submission is recorded here.
func (e *Executor) executeLive(ctx context.Context, order domain.Order) (domain.OrderSubmission, error) {
	ack, err := e.client.PlaceOrder(ctx, order)
	if err != nil {
		st := domain.OrderStatusRejected
		e.state.UpdateOrder(order.ClientOrderID, state.OrderUpdate{Status: &st})
		e.logger.Error("live order rejected",
			slog.String("client_order_id", order.ClientOrderID),
			slog.Any("error", err),
		)
		return domain.OrderSubmission{
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Quantity:      order.Quantity,
			Status:        domain.OrderStatusRejected,
			RejectReason:  err.Error(),
		}, err
	}

	st := domain.OrderStatusSubmitted
	e.state.UpdateOrder(order.ClientOrderID, state.OrderUpdate{
		Status:          &st,
		ExchangeOrderID: &ack.ExchangeOrderID,
	})
	e.logger.Info("live order submitted",
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("exchange_order_id", ack.ExchangeOrderID),
	)
	return domain.OrderSubmission{
		ClientOrderID:   order.ClientOrderID,
		ExchangeOrderID: ack.ExchangeOrderID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Quantity:        order.Quantity,
		Price:           order.Price,
		Status:          domain.OrderStatusSubmitted,
	}, nil
}

// ApplyFill applies a fill to the ledger. A fill on the opposite side of an
// open position closes it; anything else opens one. Fills for orders already
// in a terminal state are ignored, which makes replayed stream events and
// reconciliation-synthesized fills safe.
func (e *Executor) ApplyFill(fill domain.Fill) FillResult {
	if fill.ClientOrderID != "" {
		if o := e.state.Order(fill.ClientOrderID); o != nil && o.Status.Terminal() {
			e.logger.Debug("fill for terminal order ignored",
				slog.String("client_order_id", fill.ClientOrderID),
			)
			return FillResult{}
		}
	}

	pos := e.state.Position(fill.Symbol)
	if pos != nil && pos.Side == fill.Side.Opposite() {
		return e.applyExitFill(fill, pos)
	}
	return e.applyEntryFill(fill)
}

func (e *Executor) applyEntryFill(fill domain.Fill) FillResult {
	notional := fill.Quantity * fill.Price
	fee := notional * e.takerFeeRate
	margin := notional / e.leverage

	stop, take := fill.StopLoss, fill.TakeProfit
	if o := e.state.Order(fill.ClientOrderID); o != nil {
		if stop == 0 {
			stop = o.StopLoss
		}
		if take == 0 {
			take = o.TakeProfit
		}
		st := domain.OrderStatusFilled
		e.state.UpdateOrder(fill.ClientOrderID, state.OrderUpdate{
			Status:          &st,
			ExchangeOrderID: &fill.ExchangeOrderID,
			Price:           &fill.Price,
		})
	}

	if !e.state.DebitCash(margin + fee) {
		// The venue filled an order the ledger cannot fund. The books no
		// longer mirror the venue; stop admitting entries until an operator
		// intervenes.
		e.logger.Error("ledger cannot fund live fill, disabling trading",
			slog.String("client_order_id", fill.ClientOrderID),
			slog.Float64("required", margin+fee),
		)
		e.state.DisableTrading()
		return FillResult{}
	}

	e.state.AddPosition(fill.Symbol, fill.Side, fill.Quantity, fill.Price, stop, take, fill.ClientOrderID)
	e.logger.Info("entry fill applied",
		slog.String("symbol", fill.Symbol),
		slog.String("side", string(fill.Side)),
		slog.Float64("qty", fill.Quantity),
		slog.Float64("price", fill.Price),
	)
	return FillResult{Entered: true}
}

func (e *Executor) applyExitFill(fill domain.Fill, pos *domain.Position) FillResult {
	gross := (fill.Price - pos.EntryPrice) * pos.Quantity
	if pos.Side == domain.SideSell {
		gross = (pos.EntryPrice - fill.Price) * pos.Quantity
	}
	exitFee := fill.Price * pos.Quantity * e.takerFeeRate
	realized := gross - exitFee
	marginReleased := pos.EntryPrice * pos.Quantity / e.leverage

	if fill.ClientOrderID != "" {
		st := domain.OrderStatusFilled
		e.state.UpdateOrder(fill.ClientOrderID, state.OrderUpdate{
			Status: &st,
			Price:  &fill.Price,
		})
	}

	e.state.CreditCash(marginReleased + realized)
	closed := e.state.RemovePosition(pos.Symbol, realized)

	e.logger.Info("exit fill applied",
		slog.String("symbol", fill.Symbol),
		slog.Float64("exit_price", fill.Price),
		slog.Float64("realized", realized),
	)
	return FillResult{Closed: closed, Realized: realized}
}

// ClosePosition exits the open position on symbol at market. Paper mode
// settles immediately and returns the realized PnL; live mode submits a
// closing order whose fill settles asynchronously.
func (e *Executor) ClosePosition(ctx context.Context, symbol string, price float64, mkt MarketContext, reason string) (float64, error) {
	pos := e.state.Position(symbol)
	if pos == nil {
		return 0, fmt.Errorf("executor: close %s: %w", symbol, domain.ErrNotFound)
	}
	closeSide := pos.Side.Opposite()

	e.logger.Info("closing position",
		slog.String("symbol", symbol),
		slog.String("reason", reason),
	)

	if e.mode == "paper" {
		orderSizeUSD := pos.Quantity * price
		fillPrice := e.slippage.FillPrice(price, orderSizeUSD, mkt.Volume24h, closeSide, mkt.Volatility)
		res := e.applyExitFill(domain.Fill{
			Symbol:   symbol,
			Side:     closeSide,
			Quantity: pos.Quantity,
			Price:    fillPrice,
			Time:     time.Now().UTC(),
		}, pos)
		return res.Realized, nil
	}

	// The close id is derived from the position id so a crash between submit
	// and fill cannot produce a second closing order.
	order := domain.Order{
		ClientOrderID: clientOrderIDPrefix + "exit_" + pos.PositionID,
		Symbol:        symbol,
		Side:          closeSide,
		Quantity:      pos.Quantity,
		Price:         price,
		Type:          domain.OrderTypeMarket,
		TimeInForce:   domain.TimeInForceIOC,
		Status:        domain.OrderStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if existing := e.state.Order(order.ClientOrderID); existing != nil {
		return 0, nil // close already in flight
	}
	if !e.state.AddOrder(order) {
		return 0, nil
	}
	if _, err := e.executeLive(ctx, order); err != nil {
		return 0, fmt.Errorf("executor: close %s: %w", symbol, err)
	}
	return 0, nil
}

func submissionFromOrder(o *domain.Order) domain.OrderSubmission {
	return domain.OrderSubmission{
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Quantity:        o.Quantity,
		Price:           o.Price,
		Status:          o.Status,
	}
}
