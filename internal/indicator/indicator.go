// Package indicator implements the streaming indicators used by the trading
// strategies. Each indicator consumes finished candles one at a time and
// exposes an explicit readiness flag instead of emitting placeholder values
// during warmup.
package indicator

import "github.com/raykavin/dryrun/internal/core"

// Indicator is the common contract of all streaming indicators
type Indicator interface {
	// Update feeds the next finished candle into the indicator
	Update(candle core.Candle)

	// Ready reports whether Value returns a meaningful number
	Ready() bool

	// Value returns the current indicator value
	Value() float64
}

var (
	_ Indicator = (*RSI)(nil)
	_ Indicator = (*CCI)(nil)
	_ Indicator = (*OBV)(nil)
	_ Indicator = (*VolumeSurge)(nil)
)
