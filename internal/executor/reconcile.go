package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/state"
)

// Reconcile syncs the ledger's open orders against the venue. The exchange is
// the order of record: whenever the two disagree, the venue's status wins.
// Orders that filled while the stream was down get a synthesized fill. Paper
// mode has nothing to reconcile.
func (e *Executor) Reconcile(ctx context.Context) {
	if e.mode == "paper" || e.client == nil {
		return
	}

	for clientOrderID, order := range e.state.OpenOrders() {
		if order.Status.Terminal() {
			continue
		}
		if order.ExchangeOrderID == "" {
			// Submission never got an ack; the venue may still know the order
			// by its link id, but without an id there is nothing to query.
			// A stale pending order is expired locally after a grace period.
			if time.Since(order.CreatedAt) > 5*time.Minute {
				st := domain.OrderStatusRejected
				e.state.UpdateOrder(clientOrderID, state.OrderUpdate{Status: &st})
				e.logger.Warn("expired unacked order", slog.String("client_order_id", clientOrderID))
			}
			continue
		}

		venueState, err := e.client.OrderState(ctx, order.Symbol, order.ExchangeOrderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				e.logger.Warn("order unknown to venue",
					slog.String("client_order_id", clientOrderID),
					slog.String("exchange_order_id", order.ExchangeOrderID),
				)
				continue
			}
			e.logger.Error("reconcile query failed",
				slog.String("client_order_id", clientOrderID),
				slog.Any("error", err),
			)
			continue
		}

		if venueState.Status == order.Status {
			continue
		}

		e.logger.Info("reconciling order",
			slog.String("client_order_id", clientOrderID),
			slog.String("local_status", string(order.Status)),
			slog.String("venue_status", string(venueState.Status)),
		)

		switch venueState.Status {
		case domain.OrderStatusFilled:
			// Synthesize the fill the stream missed.
			qty := venueState.FilledQuantity
			if qty == 0 {
				qty = order.Quantity
			}
			price := venueState.AvgFillPrice
			if price == 0 {
				price = order.Price
			}
			e.ApplyFill(domain.Fill{
				ClientOrderID:   clientOrderID,
				ExchangeOrderID: order.ExchangeOrderID,
				Symbol:          order.Symbol,
				Side:            order.Side,
				Quantity:        qty,
				Price:           price,
				Time:            venueState.UpdatedAt,
			})
		case domain.OrderStatusCancelled, domain.OrderStatusRejected:
			st := venueState.Status
			e.state.UpdateOrder(clientOrderID, state.OrderUpdate{Status: &st})
		default:
			st := venueState.Status
			e.state.UpdateOrder(clientOrderID, state.OrderUpdate{Status: &st})
		}
	}
}
