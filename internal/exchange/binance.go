package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"

	"github.com/raykavin/dryrun/internal/core"
)

// Binance provides public market data from the Binance spot API and
// implements core.Feeder. A dry run only reads klines, so no account
// credentials are required, although supplying them raises the request
// weight limits.
type Binance struct {
	ctx    context.Context
	client *binance.Client
}

// Option allows customizing the Binance feeder
type Option func(*Binance)

// WithCredentials sets the API credentials used for market data requests
func WithCredentials(key, secret string) Option {
	return func(b *Binance) {
		b.client = binance.NewClient(key, secret)
	}
}

// WithTestNet enables the Binance testnet
func WithTestNet() Option {
	return func(_ *Binance) {
		binance.UseTestnet = true
	}
}

// WithCustomEndpoint sets custom endpoints for the Binance API
func WithCustomEndpoint(apiURL, wsURL, combinedURL string) Option {
	return func(_ *Binance) {
		binance.BaseAPIMainURL = apiURL
		binance.BaseWsMainURL = wsURL
		binance.BaseCombinedMainURL = combinedURL
	}
}

// NewBinance creates a new Binance market data feeder
func NewBinance(ctx context.Context, options ...Option) (*Binance, error) {
	binance.WebsocketKeepalive = true

	feeder := &Binance{
		ctx:    ctx,
		client: binance.NewClient("", ""),
	}

	// Apply options
	for _, option := range options {
		option(feeder)
	}

	// Test connection
	if err := feeder.client.NewPingService().Do(ctx); err != nil {
		return nil, fmt.Errorf("binance ping fail: %w", err)
	}

	return feeder, nil
}

// ValidatePairs checks that every pair is listed and currently trading
func (b *Binance) ValidatePairs(ctx context.Context, pairs []string) error {
	exchangeInfo, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance exchange info: %w", err)
	}

	trading := make(map[string]struct{}, len(exchangeInfo.Symbols))
	for _, info := range exchangeInfo.Symbols {
		if info.Status == "TRADING" {
			trading[info.Symbol] = struct{}{}
		}
	}

	for _, pair := range pairs {
		if _, ok := trading[pair]; !ok {
			return fmt.Errorf("pair %s is not trading on binance", pair)
		}
	}

	return nil
}

// LastQuote returns the most recent close price for a pair
func (b *Binance) LastQuote(ctx context.Context, pair string) (float64, error) {
	candles, err := b.CandlesByLimit(ctx, pair, "1m", 1)
	if err != nil || len(candles) < 1 {
		return 0, err
	}
	return candles[0].Close, nil
}

// CandlesByLimit gets the latest closed candles for a pair
func (b *Binance) CandlesByLimit(ctx context.Context, pair, period string, limit int) ([]core.Candle, error) {
	klineService := b.client.NewKlinesService()

	data, err := klineService.Symbol(pair).
		Interval(period).
		Limit(limit + 1). // +1 to discard the last incomplete candle
		Do(ctx)

	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	candles := make([]core.Candle, 0, len(data)-1)
	for i, d := range data {
		// Skip the last candle as it's incomplete
		if i == len(data)-1 {
			break
		}
		candles = append(candles, convertKlineToCandle(pair, *d))
	}

	return candles, nil
}

// CandlesByPeriod gets candles for a pair within a time range
func (b *Binance) CandlesByPeriod(ctx context.Context, pair, period string,
	start, end time.Time) ([]core.Candle, error) {

	klineService := b.client.NewKlinesService()

	data, err := klineService.Symbol(pair).
		Interval(period).
		StartTime(start.UnixNano() / int64(time.Millisecond)).
		EndTime(end.UnixNano() / int64(time.Millisecond)).
		Do(ctx)

	if err != nil {
		return nil, err
	}

	candles := make([]core.Candle, 0, len(data))
	for _, d := range data {
		candles = append(candles, convertKlineToCandle(pair, *d))
	}

	return candles, nil
}

// CandlesSubscription streams candles for a pair over a websocket.
// Partial updates of the forming candle are delivered as they arrive,
// marked complete once the interval closes. The connection is retried
// with exponential backoff until the context is done.
func (b *Binance) CandlesSubscription(ctx context.Context, pair, period string) (chan core.Candle, chan error) {
	candleChan := make(chan core.Candle)
	errChan := make(chan error)
	retry := setupBackoffRetry()

	go func() {
		for {
			done, _, err := binance.WsKlineServe(pair, period, func(event *binance.WsKlineEvent) {
				retry.Reset()
				candleChan <- convertWsKlineToCandle(pair, event.Kline)
			}, func(err error) {
				errChan <- err
			})

			if err != nil {
				errChan <- err
				close(errChan)
				close(candleChan)
				return
			}

			select {
			case <-ctx.Done():
				close(errChan)
				close(candleChan)
				return
			case <-done:
				time.Sleep(retry.Duration())
			}
		}
	}()

	return candleChan, errChan
}

// convertKlineToCandle converts a Binance kline to a core.Candle
func convertKlineToCandle(pair string, k binance.Kline) core.Candle {
	t := time.Unix(0, k.OpenTime*int64(time.Millisecond))
	candle := core.Candle{
		Pair:      pair,
		Time:      t,
		UpdatedAt: t,
		Complete:  true,
	}

	candle.Open, _ = strconv.ParseFloat(k.Open, 64)
	candle.Close, _ = strconv.ParseFloat(k.Close, 64)
	candle.High, _ = strconv.ParseFloat(k.High, 64)
	candle.Low, _ = strconv.ParseFloat(k.Low, 64)
	candle.Volume, _ = strconv.ParseFloat(k.Volume, 64)

	return candle
}

// convertWsKlineToCandle converts a Binance websocket kline to a core.Candle
func convertWsKlineToCandle(pair string, k binance.WsKline) core.Candle {
	t := time.Unix(0, k.StartTime*int64(time.Millisecond))
	candle := core.Candle{
		Pair:      pair,
		Time:      t,
		UpdatedAt: time.Now(),
		Complete:  k.IsFinal,
	}

	candle.Open, _ = strconv.ParseFloat(k.Open, 64)
	candle.Close, _ = strconv.ParseFloat(k.Close, 64)
	candle.High, _ = strconv.ParseFloat(k.High, 64)
	candle.Low, _ = strconv.ParseFloat(k.Low, 64)
	candle.Volume, _ = strconv.ParseFloat(k.Volume, 64)

	return candle
}

// setupBackoffRetry creates a backoff with sensible defaults
func setupBackoffRetry() *backoff.Backoff {
	return &backoff.Backoff{
		Min: 100 * time.Millisecond,
		Max: 1 * time.Second,
	}
}
