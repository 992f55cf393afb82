// Package strategy defines the strategy contract, a concurrent registry, and
// the orchestrator that evaluates strategies in deterministic priority order.
package strategy

import (
	"context"
	"slices"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Strategy defines the contract for entry-signal generators. Evaluate returns
// nil when the setup is absent; an error means the evaluation itself failed.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, view domain.MarketView) (*domain.Signal, error)
	RegimeWeight(regime domain.Regime) float64
	PriorityScore(regime domain.Regime) float64
	TimeExitMinutes() int
}

// Params holds per-strategy configuration shared by all strategies.
type Params struct {
	Weight          float64  // operator-assigned weight, typically (0,1]
	Regimes         []string // preferred regime types; "all" matches any
	TimeExitMinutes int      // close positions after this many minutes; 0 disables
}

// Base carries the name, weight, and regime preferences common to every
// strategy. Concrete strategies embed it.
type Base struct {
	name   string
	params Params
}

// NewBase builds the shared strategy core.
func NewBase(name string, params Params) Base {
	if len(params.Regimes) == 0 {
		params.Regimes = []string{"all"}
	}
	return Base{name: name, params: params}
}

// Name returns the strategy's registry name.
func (b Base) Name() string { return b.name }

// RegimeWeight returns 1.0 in a preferred regime (or when "all" is preferred)
// and 0.3 otherwise. Non-preferred regimes are dampened, never zeroed, so a
// strategy can still trade at lower priority.
func (b Base) RegimeWeight(regime domain.Regime) float64 {
	if slices.Contains(b.params.Regimes, "all") {
		return 1.0
	}
	if slices.Contains(b.params.Regimes, string(regime.Type)) {
		return 1.0
	}
	return 0.3
}

// TimeExitMinutes returns the maximum holding time in minutes, 0 for none.
func (b Base) TimeExitMinutes() int { return b.params.TimeExitMinutes }

// PriorityScore scores the strategy for the current regime on a 0..10 scale:
// regime weight times config weight times 10, clamped.
func (b Base) PriorityScore(regime domain.Regime) float64 {
	p := b.RegimeWeight(regime) * b.params.Weight * 10.0
	if p < 0 {
		return 0
	}
	if p > 10 {
		return 10
	}
	return p
}
