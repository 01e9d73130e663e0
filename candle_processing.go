package dryrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raykavin/dryrun/internal/bias"
	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/internal/exchange"
	"github.com/raykavin/dryrun/internal/position"

	"github.com/schollz/progressbar/v3"
)

// eventBufferSize bounds the candle queue between the feed goroutines and
// the engine loop
const eventBufferSize = 512

// candleEvent is one market data update entering the engine loop
type candleEvent struct {
	timeframe string
	candle    core.Candle
}

// closeRequest asks the engine loop for a manual position close
type closeRequest struct {
	name  string
	reply chan closeResult
}

type closeResult struct {
	trade core.Trade
	err   error
}

// onCandle builds the feed consumer for one timeframe. Closed candles block
// until the loop accepts them and are never lost. Forming updates are
// disposable, when the loop is behind they are dropped and the next tick
// supersedes them.
func (bot *Bot) onCandle(timeframe string) exchange.DataFeedConsumer {
	return func(candle core.Candle) {
		event := candleEvent{timeframe: timeframe, candle: candle}

		if candle.Complete {
			bot.candleCh <- event
			return
		}

		select {
		case bot.candleCh <- event:
		default:
			bot.dropped.Add(1)
		}
	}
}

// subscribeFeeds registers every feed the strategy set needs. Strategy
// entry feeds are subscribed first so a feed shared with a filter still
// delivers forming updates.
func (bot *Bot) subscribeFeeds() {
	seen := make(map[feedID]bool)

	subscribe := func(id feedID, onCandleClose bool) {
		if seen[id] {
			return
		}
		seen[id] = true
		bot.feedOrder = append(bot.feedOrder, id)
		bot.dataFeed.Subscribe(id.pair, id.timeframe, bot.onCandle(id.timeframe), onCandleClose)
	}

	for _, cfg := range bot.strategyConfigs {
		subscribe(feedID{pair: cfg.Symbol, timeframe: cfg.Timeframe}, false)
	}

	for _, cfg := range bot.strategyConfigs {
		for _, filter := range cfg.BiasFilters() {
			bot.biases.Register(filter)
			subscribe(feedID{pair: filter.Symbol, timeframe: filter.Timeframe}, true)
		}
	}
}

// preload fetches the warmup history of every feed into its buffer
func (bot *Bot) preload(ctx context.Context) error {
	required := bot.requiredCandles()

	progressBar := progressbar.Default(int64(len(bot.feedOrder)))
	for _, id := range bot.feedOrder {
		candles, err := bot.feeder.CandlesByLimit(ctx, id.pair, id.timeframe, required[id])
		if err != nil {
			return fmt.Errorf("preload %s %s: %w", id.pair, id.timeframe, err)
		}

		bot.dataFeed.Preload(id.pair, id.timeframe, candles)

		if err := progressBar.Add(1); err != nil {
			bot.log.Warnf("update progressbar fail: %v", err)
		}
	}

	return nil
}

// requiredCandles returns how much history every feed needs before its
// first live candle can be judged
func (bot *Bot) requiredCandles() map[feedID]int {
	required := make(map[feedID]int)

	for _, cfg := range bot.strategyConfigs {
		id := feedID{pair: cfg.Symbol, timeframe: cfg.Timeframe}
		if warmup := cfg.WarmupPeriod(); warmup > required[id] {
			required[id] = warmup
		}

		for _, filter := range cfg.BiasFilters() {
			id := feedID{pair: filter.Symbol, timeframe: filter.Timeframe}
			if warmup := biasWarmup(filter); warmup > required[id] {
				required[id] = warmup
			}
		}
	}

	return required
}

// biasWarmup returns how many closed candles a filter needs for its first
// real reading
func biasWarmup(filter bias.Filter) int {
	if filter.Rule == bias.RuleSMA {
		return filter.Period + 2
	}
	return 3
}

// warmup replays the preloaded buffers through strategies and biases.
// Strategies are not started yet, so indicator state fills without a single
// signal being emitted.
func (bot *Bot) warmup() {
	for _, id := range bot.feedOrder {
		buffer := bot.dataFeed.Buffer(id.pair, id.timeframe)
		if buffer == nil {
			continue
		}

		closed := buffer.Closed()
		for _, candle := range closed {
			for _, strat := range bot.strategiesByFeed[id] {
				strat.OnCandleClose(candle)
			}
		}

		bot.biases.OnCandleClose(id.pair, id.timeframe, closed)
	}

	bot.log.Infof("[SETUP] %d strategies warmed up over %d feeds", len(bot.strategies), len(bot.feedOrder))
}

// processEvent runs one market event through exit checks, bias updates and
// entry signals. Any returned error is a persistence failure and fatal.
func (bot *Bot) processEvent(event candleEvent) error {
	candle := event.candle

	// Complete candles are stamped at their interval close, forming ones at
	// stream delivery. Exit timing never depends on the local clock.
	tickTime := candle.UpdatedAt
	if candle.Complete {
		tickTime = candle.Time.Add(bot.intervals[event.timeframe])
	}

	if err := bot.manager.OnTick(candle.Pair, candle.Close, tickTime); err != nil {
		return err
	}

	if !candle.Complete {
		return nil
	}

	if buffer := bot.dataFeed.Buffer(candle.Pair, event.timeframe); buffer != nil {
		bot.biases.OnCandleClose(candle.Pair, event.timeframe, buffer.Closed())
	}

	id := feedID{pair: candle.Pair, timeframe: event.timeframe}
	for _, strat := range bot.strategiesByFeed[id] {
		side, ok := strat.OnCandleClose(candle)
		if !ok {
			continue
		}
		if err := bot.manager.HandleSignal(strat.Name(), side, candle.Close, tickTime); err != nil {
			return err
		}
	}

	return nil
}

// handleClose serves a manual close request inside the loop. Benign
// rejections go back to the requester, a persistence failure stops the
// engine.
func (bot *Bot) handleClose(request closeRequest) error {
	price := bot.dataFeed.LastPrice(bot.StrategySymbol(request.name))
	trade, err := bot.manager.ManualClose(request.name, price, time.Now())

	request.reply <- closeResult{trade: trade, err: err}

	if err == nil ||
		errors.Is(err, position.ErrUnknownStrategy) ||
		errors.Is(err, position.ErrNoPosition) ||
		errors.Is(err, position.ErrNoPrice) {
		return nil
	}

	return err
}
