// Package strategy turns closed candles into entry signals. A strategy owns
// its indicator state and proposes a direction; whether a position actually
// opens is decided by the position manager.
package strategy

import (
	"fmt"

	"github.com/raykavin/dryrun/internal/bias"
	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/internal/indicator"
)

// Kind identifies the signal rule of a strategy
type Kind string

const (
	KindRSI           Kind = "rsi"
	KindCCI           Kind = "cci"
	KindVolumeSurge   Kind = "volume_surge"
	KindOBVDivergence Kind = "obv_divergence"
)

// seriesLimit bounds the in-memory history kept per strategy
const seriesLimit = 256

// FilterConfig declares one higher timeframe gate of a strategy
type FilterConfig struct {
	Timeframe string `mapstructure:"timeframe" yaml:"timeframe"`
	Rule      string `mapstructure:"rule" yaml:"rule"`
	Period    int    `mapstructure:"period" yaml:"period"`
}

// Config is the full declaration of one strategy instance
type Config struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Symbol    string `mapstructure:"symbol" yaml:"symbol"`
	Timeframe string `mapstructure:"timeframe" yaml:"timeframe"`
	Kind      Kind   `mapstructure:"kind" yaml:"kind"`

	// Indicator settings. Period drives rsi, cci and volume_surge;
	// Lookback drives obv_divergence.
	Period           int     `mapstructure:"period" yaml:"period"`
	Oversold         float64 `mapstructure:"oversold" yaml:"oversold"`
	Overbought       float64 `mapstructure:"overbought" yaml:"overbought"`
	VolumeMultiplier float64 `mapstructure:"volume_multiplier" yaml:"volume_multiplier"`
	MinPriceChange   float64 `mapstructure:"min_price_change" yaml:"min_price_change"`
	Lookback         int     `mapstructure:"lookback" yaml:"lookback"`

	LongOnly bool `mapstructure:"long_only" yaml:"long_only"`

	// Risk settings
	InitialCapital float64 `mapstructure:"initial_capital" yaml:"initial_capital"`
	RiskPerTrade   float64 `mapstructure:"risk_per_trade" yaml:"risk_per_trade"`
	StopPercent    float64 `mapstructure:"stop_percent" yaml:"stop_percent"`
	TargetPercent  float64 `mapstructure:"target_percent" yaml:"target_percent"`
	TimeStopHours  int     `mapstructure:"time_stop_hours" yaml:"time_stop_hours"`

	Filters []FilterConfig `mapstructure:"filters" yaml:"filters"`
}

// Validate checks the configuration before the engine starts
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy has no name")
	}
	if c.Symbol == "" {
		return fmt.Errorf("strategy %s: symbol is required", c.Name)
	}
	if _, err := core.ParseTimeframe(c.Timeframe); err != nil {
		return fmt.Errorf("strategy %s: %w", c.Name, err)
	}

	switch c.Kind {
	case KindRSI, KindCCI:
		if c.Period <= 1 {
			return fmt.Errorf("strategy %s: period must be greater than 1", c.Name)
		}
		if c.Oversold >= c.Overbought {
			return fmt.Errorf("strategy %s: oversold %.2f must be below overbought %.2f",
				c.Name, c.Oversold, c.Overbought)
		}
	case KindVolumeSurge:
		if c.Period <= 0 {
			return fmt.Errorf("strategy %s: period must be positive", c.Name)
		}
		if c.VolumeMultiplier <= 0 {
			return fmt.Errorf("strategy %s: volume_multiplier must be positive", c.Name)
		}
	case KindOBVDivergence:
		if c.Lookback <= 0 {
			return fmt.Errorf("strategy %s: lookback must be positive", c.Name)
		}
	default:
		return fmt.Errorf("strategy %s: unknown kind %q", c.Name, c.Kind)
	}

	if c.InitialCapital <= 0 {
		return fmt.Errorf("strategy %s: initial_capital must be positive", c.Name)
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("strategy %s: risk_per_trade must be within (0, 1]", c.Name)
	}
	if c.StopPercent <= 0 {
		return fmt.Errorf("strategy %s: stop_percent must be positive", c.Name)
	}
	if c.TargetPercent <= 0 {
		return fmt.Errorf("strategy %s: target_percent must be positive", c.Name)
	}
	if c.TimeStopHours < 0 {
		return fmt.Errorf("strategy %s: time_stop_hours must not be negative", c.Name)
	}

	for _, filter := range c.Filters {
		rule, err := bias.ParseRule(filter.Rule)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", c.Name, err)
		}
		if _, err := core.ParseTimeframe(filter.Timeframe); err != nil {
			return fmt.Errorf("strategy %s: %w", c.Name, err)
		}
		if rule == bias.RuleSMA && filter.Period <= 0 {
			return fmt.Errorf("strategy %s: sma filter requires a positive period", c.Name)
		}
	}

	return nil
}

// WarmupPeriod returns how many closed candles of the strategy timeframe are
// needed before the first live candle can produce a signal
func (c Config) WarmupPeriod() int {
	switch c.Kind {
	case KindOBVDivergence:
		return c.Lookback + 2
	default:
		return c.Period + 2
	}
}

// BiasFilters resolves the configured gates into evaluator filters
func (c Config) BiasFilters() []bias.Filter {
	filters := make([]bias.Filter, 0, len(c.Filters))
	for _, f := range c.Filters {
		filters = append(filters, bias.Filter{
			Symbol:    c.Symbol,
			Timeframe: f.Timeframe,
			Rule:      bias.Rule(f.Rule),
			Period:    f.Period,
		})
	}
	return filters
}

// Strategy evaluates one configured signal rule over a candle stream
type Strategy struct {
	config Config

	rsi   *indicator.RSI
	cci   *indicator.CCI
	obv   *indicator.OBV
	surge *indicator.VolumeSurge

	values core.Series[float64]
	closes core.Series[float64]
	obvs   core.Series[float64]

	started bool
}

// New builds a strategy from a validated configuration
func New(config Config) (*Strategy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Strategy{config: config}
	switch config.Kind {
	case KindRSI:
		s.rsi = indicator.NewRSI(config.Period)
	case KindCCI:
		s.cci = indicator.NewCCI(config.Period)
	case KindVolumeSurge:
		s.surge = indicator.NewVolumeSurge(config.Period)
	case KindOBVDivergence:
		s.obv = indicator.NewOBV()
	}

	return s, nil
}

// Name returns the strategy identifier used across state and alerts
func (s *Strategy) Name() string { return s.config.Name }

// Config returns the strategy configuration
func (s *Strategy) Config() Config { return s.config }

// Start enables signal emission. Candles consumed before Start only warm up
// indicator state, so replaying history cannot open positions.
func (s *Strategy) Start() { s.started = true }

// Started reports whether the strategy emits signals
func (s *Strategy) Started() bool { return s.started }

// OnCandleClose consumes a finished candle of the strategy timeframe and
// returns a proposed entry direction when the rule triggers
func (s *Strategy) OnCandleClose(candle core.Candle) (core.Side, bool) {
	switch s.config.Kind {
	case KindRSI:
		s.rsi.Update(candle)
		if s.rsi.Ready() {
			s.values.Push(s.rsi.Value(), seriesLimit)
		}
		if !s.started {
			return "", false
		}
		return s.thresholdCross()

	case KindCCI:
		s.cci.Update(candle)
		if s.cci.Ready() {
			s.values.Push(s.cci.Value(), seriesLimit)
		}
		if !s.started {
			return "", false
		}
		return s.thresholdCross()

	case KindVolumeSurge:
		s.surge.Update(candle)
		if !s.started || !s.surge.Ready() {
			return "", false
		}
		return s.volumeSurge()

	case KindOBVDivergence:
		s.obv.Update(candle)
		s.closes.Push(candle.Close, seriesLimit)
		s.obvs.Push(s.obv.Value(), seriesLimit)
		if !s.started {
			return "", false
		}
		return s.obvDivergence()
	}

	return "", false
}

// thresholdCross fires long when the indicator crosses up through the lower
// threshold and short when it crosses down through the upper one
func (s *Strategy) thresholdCross() (core.Side, bool) {
	if s.values.CrossoverLevel(s.config.Oversold) {
		return core.SideLong, true
	}
	if !s.config.LongOnly && s.values.CrossunderLevel(s.config.Overbought) {
		return core.SideShort, true
	}
	return "", false
}

// volumeSurge fires when volume spikes over its window average together with
// a price move in the same direction
func (s *Strategy) volumeSurge() (core.Side, bool) {
	if s.surge.Ratio() <= s.config.VolumeMultiplier {
		return "", false
	}
	if s.surge.PriceChange() > s.config.MinPriceChange {
		return core.SideLong, true
	}
	if !s.config.LongOnly && s.surge.PriceChange() < -s.config.MinPriceChange {
		return core.SideShort, true
	}
	return "", false
}

// obvDivergence fires long when price makes a lower close while on-balance
// volume rises over the lookback, and short on the mirror image
func (s *Strategy) obvDivergence() (core.Side, bool) {
	lookback := s.config.Lookback
	if s.closes.Length() <= lookback {
		return "", false
	}

	priceDown := s.closes.Last(0) < s.closes.Last(lookback)
	priceUp := s.closes.Last(0) > s.closes.Last(lookback)
	obvUp := s.obvs.Last(0) > s.obvs.Last(lookback)
	obvDown := s.obvs.Last(0) < s.obvs.Last(lookback)

	if priceDown && obvUp {
		return core.SideLong, true
	}
	if !s.config.LongOnly && priceUp && obvDown {
		return core.SideShort, true
	}
	return "", false
}
