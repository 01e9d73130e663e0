package indicator

import "github.com/raykavin/dryrun/internal/core"

// OBV maintains a streaming On-Balance Volume. The first candle seeds the
// total with its own volume, matching the talib convention.
type OBV struct {
	value     float64
	prevClose float64
	count     int
}

// NewOBV creates an OBV indicator
func NewOBV() *OBV {
	return &OBV{}
}

// Update feeds a finished candle into the indicator
func (o *OBV) Update(candle core.Candle) {
	if o.count == 0 {
		o.value = candle.Volume
	} else if candle.Close > o.prevClose {
		o.value += candle.Volume
	} else if candle.Close < o.prevClose {
		o.value -= candle.Volume
	}

	o.prevClose = candle.Close
	o.count++
}

// Ready reports whether the indicator has seen at least one candle
func (o *OBV) Ready() bool {
	return o.count >= 1
}

// Value returns the running on-balance volume
func (o *OBV) Value() float64 {
	return o.value
}
