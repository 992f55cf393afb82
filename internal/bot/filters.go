package bot

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/state"
)

// minCorrelationPeriods is the minimum number of overlapping returns before a
// correlation estimate is trusted; below it the pair passes.
const minCorrelationPeriods = 20

// PortfolioFilters gates approved entries on portfolio shape: a symbol
// already held, too many positions in one sector, or a candidate too
// correlated with an existing position all block the entry. Filters never
// mutate the ledger; a block only cancels the current evaluation.
type PortfolioFilters struct {
	cfg   config.FiltersConfig
	state *state.TradingState

	mu     sync.Mutex
	closes map[string][]float64 // recent closes per symbol, refreshed each tick
}

// NewPortfolioFilters builds the filter set over the shared ledger.
func NewPortfolioFilters(cfg config.FiltersConfig, st *state.TradingState) *PortfolioFilters {
	return &PortfolioFilters{
		cfg:    cfg,
		state:  st,
		closes: make(map[string][]float64),
	}
}

// UpdateHistory records the latest close series for symbol, used by the
// correlation check. Called by the loop as it fetches candles.
func (f *PortfolioFilters) UpdateHistory(symbol string, candles []domain.Candle) {
	closes := make([]float64, 0, len(candles))
	for _, c := range candles {
		closes = append(closes, c.Close)
	}
	f.mu.Lock()
	f.closes[symbol] = closes
	f.mu.Unlock()
}

// Check returns an empty string when the signal may proceed, otherwise the
// reason it was blocked.
func (f *PortfolioFilters) Check(sig domain.Signal) string {
	if f.state.Position(sig.Symbol) != nil {
		return fmt.Sprintf("symbol %s already held", sig.Symbol)
	}

	open := f.state.OpenPositions()

	if f.cfg.MaxPositionsPerSector > 0 {
		sector := classifySector(sig.Symbol)
		held := 0
		for sym := range open {
			if classifySector(sym) == sector {
				held++
			}
		}
		if held >= f.cfg.MaxPositionsPerSector {
			return fmt.Sprintf("sector %s at capacity (%d positions)", sector, held)
		}
	}

	if f.cfg.MaxCorrelation > 0 && f.cfg.MaxCorrelation < 1 {
		f.mu.Lock()
		defer f.mu.Unlock()
		candidate := f.closes[sig.Symbol]
		for sym := range open {
			corr := returnsCorrelation(candidate, f.closes[sym])
			if math.Abs(corr) > f.cfg.MaxCorrelation {
				return fmt.Sprintf("correlation with %s too high (%.2f > %.2f)", sym, corr, f.cfg.MaxCorrelation)
			}
		}
	}

	return ""
}

// classifySector maps a symbol to a coarse sector bucket. Crude on purpose;
// it only has to stop obvious same-bet stacking like BTCUSDT plus WBTCUSDT.
func classifySector(symbol string) string {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BTC"):
		return "bitcoin"
	case strings.Contains(s, "ETH"):
		return "ethereum"
	case containsAny(s, "UNI", "AAVE", "SUSHI", "COMP", "MKR"):
		return "defi"
	case containsAny(s, "SOL", "AVAX", "ATOM", "DOT", "MATIC"):
		return "layer1"
	case containsAny(s, "LINK", "BAND", "TRB"):
		return "oracle"
	default:
		return "other"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// returnsCorrelation computes the Pearson correlation of percentage returns
// of two close series. Series too short or degenerate return 0, which passes
// the filter: missing data never blocks a trade.
func returnsCorrelation(a, b []float64) float64 {
	ra := pctReturns(a)
	rb := pctReturns(b)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < minCorrelationPeriods {
		return 0
	}
	// Align on the most recent n returns.
	ra = ra[len(ra)-n:]
	rb = rb[len(rb)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += ra[i]
		sumB += rb[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := ra[i] - meanA
		db := rb[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func pctReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}
