package indicator

import (
	"github.com/raykavin/dryrun/internal/core"

	"gonum.org/v1/gonum/stat"
)

// VolumeSurge compares each candle's volume against the average of the
// preceding window, excluding the candle itself. It also tracks the close
// to close price change so callers can require both to line up.
type VolumeSurge struct {
	period      int
	volumes     core.Series[float64]
	prevClose   float64
	hasClose    bool
	ratio       float64
	priceChange float64
	ready       bool
}

// NewVolumeSurge creates a volume surge indicator averaging over period candles
func NewVolumeSurge(period int) *VolumeSurge {
	return &VolumeSurge{period: period}
}

// Update feeds a finished candle into the indicator
func (v *VolumeSurge) Update(candle core.Candle) {
	// Evaluate before pushing so the window holds only preceding volumes
	if v.hasClose && v.volumes.Length() >= v.period {
		mean := stat.Mean(v.volumes.Values(), nil)
		if mean > 0 {
			v.ratio = candle.Volume / mean
		} else {
			v.ratio = 0
		}
		if v.prevClose > 0 {
			v.priceChange = candle.Close/v.prevClose - 1
		} else {
			v.priceChange = 0
		}
		v.ready = true
	}

	v.volumes.Push(candle.Volume, v.period)
	v.prevClose = candle.Close
	v.hasClose = true
}

// Ready reports whether a full preceding window was available
func (v *VolumeSurge) Ready() bool {
	return v.ready
}

// Value returns the volume ratio of the last candle against its window
func (v *VolumeSurge) Value() float64 {
	return v.ratio
}

// Ratio is an alias for Value
func (v *VolumeSurge) Ratio() float64 {
	return v.ratio
}

// PriceChange returns the close to close change of the last candle
func (v *VolumeSurge) PriceChange() float64 {
	return v.priceChange
}
