package core

import (
	"math"
	"time"
)

// Candle represents a trading candle with OHLCV data
type Candle struct {
	Pair      string
	Time      time.Time
	UpdatedAt time.Time
	Open      float64
	Close     float64
	Low       float64
	High      float64
	Volume    float64
	Complete  bool
}

// IsEmpty checks if the candle contains no significant data
func (c Candle) IsEmpty() bool { return c.Pair == "" && c.Close == 0 && c.Open == 0 && c.Volume == 0 }

// Body returns the absolute distance between open and close
func (c Candle) Body() float64 { return math.Abs(c.Close - c.Open) }

// Range returns the distance between high and low
func (c Candle) Range() float64 { return c.High - c.Low }

// Bullish reports whether the candle closed above its open
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open
func (c Candle) Bearish() bool { return c.Close < c.Open }

// TypicalPrice returns the average of high, low and close
func (c Candle) TypicalPrice() float64 { return (c.High + c.Low + c.Close) / 3.0 }
