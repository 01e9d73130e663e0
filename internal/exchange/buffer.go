package exchange

import (
	"sync"
	"time"

	"github.com/raykavin/dryrun/internal/core"
)

// bufferLimit caps how many closed candles a buffer retains
const bufferLimit = 256

// CandleBuffer holds the recent closed candles for one pair and timeframe,
// plus the forming candle currently being updated by the stream. Closed
// candles are kept in time order and bounded to bufferLimit.
type CandleBuffer struct {
	mu         sync.RWMutex
	closed     []core.Candle
	forming    core.Candle
	hasForming bool
}

// NewCandleBuffer creates an empty candle buffer
func NewCandleBuffer() *CandleBuffer {
	return &CandleBuffer{
		closed: make([]core.Candle, 0, bufferLimit),
	}
}

// Update folds a streamed candle into the buffer. Forming candles replace
// the previous forming state in place. A complete candle is appended only
// if it is newer than the last closed one, so duplicate or out of order
// deliveries are ignored. Returns true when a complete candle was accepted.
func (b *CandleBuffer) Update(candle core.Candle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !candle.Complete {
		// A forming update for an interval that already closed is stale
		if n := len(b.closed); n > 0 && !candle.Time.After(b.closed[n-1].Time) {
			return false
		}
		b.forming = candle
		b.hasForming = true
		return false
	}

	if n := len(b.closed); n > 0 && !candle.Time.After(b.closed[n-1].Time) {
		return false
	}

	b.closed = append(b.closed, candle)
	if len(b.closed) > bufferLimit {
		b.closed = b.closed[len(b.closed)-bufferLimit:]
	}

	// The forming slot is stale once its interval closed
	if b.hasForming && !b.forming.Time.After(candle.Time) {
		b.hasForming = false
	}

	return true
}

// Closed returns a copy of the closed candles in time order
func (b *CandleBuffer) Closed() []core.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.Candle, len(b.closed))
	copy(out, b.closed)
	return out
}

// LastClosed returns the most recent closed candle
func (b *CandleBuffer) LastClosed() (core.Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.closed) == 0 {
		return core.Candle{}, false
	}
	return b.closed[len(b.closed)-1], true
}

// Forming returns the candle still being built by the stream
func (b *CandleBuffer) Forming() (core.Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.forming, b.hasForming
}

// LastPrice returns the freshest close known to the buffer, preferring
// the forming candle over the last closed one. Zero when empty.
func (b *CandleBuffer) LastPrice() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.hasForming {
		return b.forming.Close
	}
	if len(b.closed) > 0 {
		return b.closed[len(b.closed)-1].Close
	}
	return 0
}

// LastUpdate returns when the buffer last received data
func (b *CandleBuffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.hasForming {
		return b.forming.UpdatedAt
	}
	if len(b.closed) > 0 {
		return b.closed[len(b.closed)-1].UpdatedAt
	}
	return time.Time{}
}

// Len returns the number of closed candles retained
func (b *CandleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.closed)
}
