package core

import (
	"context"
	"time"
)

// Feeder provides market candles from an exchange
type Feeder interface {
	// LastQuote returns the most recent traded price for the pair
	LastQuote(ctx context.Context, pair string) (float64, error)

	// CandlesByPeriod returns closed candles between start and end
	CandlesByPeriod(ctx context.Context, pair, period string, start, end time.Time) ([]Candle, error)

	// CandlesByLimit returns the latest closed candles up to limit
	CandlesByLimit(ctx context.Context, pair, period string, limit int) ([]Candle, error)

	// CandlesSubscription streams candle updates until ctx is done
	CandlesSubscription(ctx context.Context, pair, timeframe string) (chan Candle, chan error)
}

// Notifier receives engine events. Implementations must not block the
// caller; delivery is best effort.
type Notifier interface {
	Notify(text string)
	OnPositionOpened(strategy, symbol string, position Position)
	OnPositionClosed(trade Trade, capital float64)
	OnError(err error)
}

// NotifierWithStart is a notifier that runs its own receive loop
type NotifierWithStart interface {
	Notifier
	Start()
}

// TradeFilter selects trades when querying a journal
type TradeFilter func(trade Trade) bool

// WithStrategy filters trades belonging to the named strategy
func WithStrategy(name string) TradeFilter {
	return func(trade Trade) bool {
		return trade.Strategy == name
	}
}

// WithSymbol filters trades for a trading pair
func WithSymbol(symbol string) TradeFilter {
	return func(trade Trade) bool {
		return trade.Symbol == symbol
	}
}

// Journal is an append-only record of closed trades
type Journal interface {
	Append(trade Trade) error
	Trades(filters ...TradeFilter) ([]Trade, error)
	Close() error
}

// SnapshotStore persists engine state between runs
type SnapshotStore interface {
	// Load returns the stored snapshot, or an empty one when none exists
	Load() (*Snapshot, error)

	// Save durably replaces the stored snapshot
	Save(snapshot *Snapshot) error
}
