// Package bias classifies higher timeframe candles into a directional bias
// used to gate strategy entries. Biases are recomputed only when a candle of
// the filter's timeframe closes.
package bias

import (
	"fmt"
	"sync"

	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/pkg/logger"
	"github.com/raykavin/dryrun/pkg/logger/zerolog"

	"github.com/markcheno/go-talib"
)

// Rule selects how a filter reads direction from closed candles
type Rule string

const (
	// RuleCandle reads the last closed candle body against its range
	RuleCandle Rule = "candle"

	// RuleExpanding requires the last closed candle body to expand over the
	// previous one before taking its direction
	RuleExpanding Rule = "expanding"

	// RuleSMA compares the last close against a simple moving average
	RuleSMA Rule = "sma"
)

// ParseRule validates a rule name from configuration
func ParseRule(name string) (Rule, error) {
	switch Rule(name) {
	case RuleCandle, RuleExpanding, RuleSMA:
		return Rule(name), nil
	default:
		return "", fmt.Errorf("unknown bias rule %q", name)
	}
}

// Filter identifies one higher timeframe gate: which symbol and timeframe it
// watches and the rule used to classify it. Period only applies to RuleSMA.
type Filter struct {
	Symbol    string
	Timeframe string
	Rule      Rule
	Period    int
}

func (f Filter) String() string {
	if f.Rule == RuleSMA {
		return fmt.Sprintf("%s %s %s(%d)", f.Symbol, f.Timeframe, f.Rule, f.Period)
	}
	return fmt.Sprintf("%s %s %s", f.Symbol, f.Timeframe, f.Rule)
}

// Evaluator holds the current bias of every registered filter. Reads are
// lock-free of candle history: biases are recomputed on candle close and
// served from memory in between.
type Evaluator struct {
	mu      sync.RWMutex
	filters []Filter
	biases  map[Filter]core.Bias
	log     logger.Logger
}

// NewEvaluator creates an empty evaluator
func NewEvaluator(log logger.Logger) *Evaluator {
	if log == nil {
		log = zerolog.NewNop()
	}

	return &Evaluator{
		biases: make(map[Filter]core.Bias),
		log:    log,
	}
}

// Register adds a filter to be evaluated. Duplicate filters are collapsed.
// Until its first candle close the filter reads neutral.
func (e *Evaluator) Register(filter Filter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.biases[filter]; ok {
		return
	}

	e.filters = append(e.filters, filter)
	e.biases[filter] = core.BiasNeutral
}

// Filters returns the registered filters in registration order
func (e *Evaluator) Filters() []Filter {
	e.mu.RLock()
	defer e.mu.RUnlock()

	filters := make([]Filter, len(e.filters))
	copy(filters, e.filters)
	return filters
}

// OnCandleClose recomputes every filter watching the given symbol and
// timeframe. The closed slice must hold only finished candles in time order,
// newest last.
func (e *Evaluator) OnCandleClose(symbol, timeframe string, closed []core.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, filter := range e.filters {
		if filter.Symbol != symbol || filter.Timeframe != timeframe {
			continue
		}

		current := evaluate(filter, closed)
		if previous := e.biases[filter]; previous != current {
			e.log.Infof("[BIAS] %s: %s -> %s", filter, previous, current)
		}
		e.biases[filter] = current
	}
}

// Bias returns the current reading of a filter, neutral when unknown
func (e *Evaluator) Bias(filter Filter) core.Bias {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if bias, ok := e.biases[filter]; ok {
		return bias
	}
	return core.BiasNeutral
}

// All returns a copy of every filter's current bias
func (e *Evaluator) All() map[Filter]core.Bias {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := make(map[Filter]core.Bias, len(e.biases))
	for filter, bias := range e.biases {
		all[filter] = bias
	}
	return all
}

func evaluate(filter Filter, closed []core.Candle) core.Bias {
	switch filter.Rule {
	case RuleCandle:
		return candleBias(closed)
	case RuleExpanding:
		return expandingBias(closed)
	case RuleSMA:
		return smaBias(closed, filter.Period)
	default:
		return core.BiasNeutral
	}
}

// candleBias takes direction from the last closed candle when its body fills
// at least 30% of the range. Doji candles read neutral.
func candleBias(closed []core.Candle) core.Bias {
	if len(closed) < 1 {
		return core.BiasNeutral
	}

	candle := closed[len(closed)-1]
	totalRange := candle.Range()
	if totalRange == 0 || candle.Body()/totalRange < 0.3 {
		return core.BiasNeutral
	}

	if candle.Bullish() {
		return core.BiasBullish
	}
	return core.BiasBearish
}

// expandingBias takes direction only from a decisive candle: body at least
// half the range, at least 0.5% of the open, and not shrinking below 80% of
// the previous body.
func expandingBias(closed []core.Candle) core.Bias {
	if len(closed) < 2 {
		return core.BiasNeutral
	}

	candle := closed[len(closed)-1]
	previous := closed[len(closed)-2]

	totalRange := candle.Range()
	if totalRange == 0 {
		return core.BiasNeutral
	}

	body := candle.Body()
	if body/totalRange < 0.5 || body/candle.Open < 0.005 {
		return core.BiasNeutral
	}

	if body < previous.Body()*0.8 {
		return core.BiasNeutral
	}

	if candle.Bullish() {
		return core.BiasBullish
	}
	return core.BiasBearish
}

// smaBias compares the last close against the moving average of the window
func smaBias(closed []core.Candle, period int) core.Bias {
	if period <= 0 || len(closed) < period {
		return core.BiasNeutral
	}

	closes := make([]float64, len(closed))
	for i, candle := range closed {
		closes[i] = candle.Close
	}

	sma := talib.Sma(closes, period)
	average := sma[len(sma)-1]
	last := closes[len(closes)-1]

	switch {
	case last > average:
		return core.BiasBullish
	case last < average:
		return core.BiasBearish
	default:
		return core.BiasNeutral
	}
}
