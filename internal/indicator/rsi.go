package indicator

import "github.com/raykavin/dryrun/internal/core"

// RSI maintains a streaming Relative Strength Index over candle closes
// using Wilder smoothing. Values match the batch talib calculation.
type RSI struct {
	period    int
	prevClose float64
	hasClose  bool
	changes   int
	sumGain   float64
	sumLoss   float64
	avgGain   float64
	avgLoss   float64
}

// NewRSI creates an RSI indicator for the given period
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Update feeds the close of a finished candle into the indicator
func (r *RSI) Update(candle core.Candle) {
	close := candle.Close

	if !r.hasClose {
		r.prevClose = close
		r.hasClose = true
		return
	}

	change := close - r.prevClose
	r.prevClose = close

	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	r.changes++
	switch {
	case r.changes < r.period:
		r.sumGain += gain
		r.sumLoss += loss
	case r.changes == r.period:
		// First average is a plain mean of the initial changes
		r.avgGain = (r.sumGain + gain) / float64(r.period)
		r.avgLoss = (r.sumLoss + loss) / float64(r.period)
	default:
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}
}

// Ready reports whether enough candles were seen to produce a value
func (r *RSI) Ready() bool {
	return r.changes >= r.period
}

// Value returns the current RSI between 0 and 100
func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}

	total := r.avgGain + r.avgLoss
	if total == 0 {
		return 50
	}

	return 100 * r.avgGain / total
}
