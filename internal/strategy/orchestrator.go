package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Orchestrator evaluates registered strategies one at a time in priority
// order and returns the first signal that passes validation. At most one
// signal per evaluation; strategies never run concurrently with each other.
type Orchestrator struct {
	registry      *Registry
	minConfidence float64
	logger        *slog.Logger
}

// NewOrchestrator builds an orchestrator over the given registry.
func NewOrchestrator(registry *Registry, minConfidence float64, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:      registry,
		minConfidence: minConfidence,
		logger:        logger.With(slog.String("component", "orchestrator")),
	}
}

// Evaluate runs the strategies against view in descending priority order.
// Each produced signal gets its confidence reweighted by the regime fit; the
// first signal that validates wins and no further strategy runs. Returns nil
// when no strategy produced a valid signal.
func (o *Orchestrator) Evaluate(ctx context.Context, view domain.MarketView) *domain.Signal {
	ordered := o.byPriority(view.Regime)
	o.logger.Debug("evaluating strategies",
		slog.String("symbol", view.Symbol),
		slog.String("regime", string(view.Regime.Type)),
		slog.Int("count", len(ordered)),
	)

	for _, s := range ordered {
		if err := ctx.Err(); err != nil {
			return nil
		}

		sig, err := o.evaluateOne(ctx, s, view)
		if err != nil {
			o.logger.Error("strategy evaluation failed",
				slog.String("strategy", s.Name()),
				slog.String("symbol", view.Symbol),
				slog.Any("error", err),
			)
			continue
		}
		if sig == nil {
			continue
		}

		// Regime weighting: a poor regime fit dampens confidence but never
		// zeroes it.
		rw := s.RegimeWeight(view.Regime)
		sig.BaseConfidence = sig.Confidence
		sig.RegimeWeight = rw
		sig.Confidence = sig.BaseConfidence * (0.7 + 0.3*rw)
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = time.Now().UTC()
		}

		if reason := o.validate(sig); reason != "" {
			o.logger.Debug("signal dropped",
				slog.String("strategy", s.Name()),
				slog.String("symbol", view.Symbol),
				slog.String("reason", reason),
			)
			continue
		}

		// First valid strategy wins.
		o.logger.Info("signal selected",
			slog.String("strategy", s.Name()),
			slog.String("symbol", sig.Symbol),
			slog.String("side", string(sig.Side)),
			slog.Float64("confidence", sig.Confidence),
			slog.Float64("regime_weight", rw),
		)
		return sig
	}

	return nil
}

// evaluateOne isolates a single strategy call so a panicking strategy is
// contained and reported as an error instead of taking the loop down.
func (o *Orchestrator) evaluateOne(ctx context.Context, s Strategy, view domain.MarketView) (sig *domain.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Evaluate(ctx, view)
}

// byPriority returns the strategies sorted by descending priority score for
// the regime. The sort is stable over registration order, so a tie goes to
// the first-registered strategy and the evaluation order is deterministic.
func (o *Orchestrator) byPriority(regime domain.Regime) []Strategy {
	ordered := o.registry.All()
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PriorityScore(regime) > ordered[j].PriorityScore(regime)
	})
	return ordered
}

// validate returns a non-empty rejection reason for malformed or
// low-confidence signals.
func (o *Orchestrator) validate(sig *domain.Signal) string {
	if sig.Strategy == "" {
		return "missing strategy name"
	}
	if sig.Side != domain.SideBuy && sig.Side != domain.SideSell {
		return fmt.Sprintf("invalid side %q", sig.Side)
	}
	if sig.Confidence < o.minConfidence {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, o.minConfidence)
	}
	return ""
}
