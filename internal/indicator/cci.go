package indicator

import (
	"math"

	"github.com/raykavin/dryrun/internal/core"
)

// CCI maintains a streaming Commodity Channel Index over typical prices.
type CCI struct {
	period  int
	typical core.Series[float64]
}

// NewCCI creates a CCI indicator for the given period
func NewCCI(period int) *CCI {
	return &CCI{period: period}
}

// Update feeds a finished candle into the indicator
func (c *CCI) Update(candle core.Candle) {
	c.typical.Push(candle.TypicalPrice(), c.period)
}

// Ready reports whether enough candles were seen to produce a value
func (c *CCI) Ready() bool {
	return c.typical.Length() >= c.period
}

// Value returns the current CCI. A flat window yields zero.
func (c *CCI) Value() float64 {
	if !c.Ready() {
		return 0
	}

	values := c.typical.Values()

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(c.period)

	var deviation float64
	for _, v := range values {
		deviation += math.Abs(v - mean)
	}
	deviation /= float64(c.period)

	if deviation == 0 {
		return 0
	}

	return (c.typical.Last(0) - mean) / (0.015 * deviation)
}
