package core

import (
	"fmt"
	"time"
)

// Side identifies the direction of a position
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long positions and -1 for short positions
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// ExitReason identifies what closed a position
type ExitReason string

const (
	ExitStop   ExitReason = "stop"
	ExitTarget ExitReason = "target"
	ExitTime   ExitReason = "time"
	ExitManual ExitReason = "manual"
)

// Position is an open paper position held by a single strategy
type Position struct {
	Side        Side      `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	EntryTime   time.Time `json:"entry_time"`
	Size        float64   `json:"size"`
	StopPrice   float64   `json:"stop_price"`
	TargetPrice float64   `json:"target_price"`
}

// UnrealizedPnL returns the mark-to-market profit of the position at price
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Size * p.Side.Sign()
}

func (p Position) String() string {
	return fmt.Sprintf("%s %.8f @ %.8f (stop %.8f, target %.8f)",
		p.Side, p.Size, p.EntryPrice, p.StopPrice, p.TargetPrice)
}

// Trade is a closed round trip recorded against a strategy
type Trade struct {
	Strategy   string     `json:"strategy"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitPrice  float64    `json:"exit_price"`
	ExitTime   time.Time  `json:"exit_time"`
	Size       float64    `json:"size"`
	PnL        float64    `json:"pnl"`
	PnLPercent float64    `json:"pnl_pct"`
	Reason     ExitReason `json:"reason"`
}

// Profitable reports whether the trade closed with a gain
func (t Trade) Profitable() bool { return t.PnL > 0 }
