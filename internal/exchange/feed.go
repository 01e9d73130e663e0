package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/StudioSol/set"

	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/pkg/logger"
	"github.com/raykavin/dryrun/pkg/logger/zerolog"
)

// Gap watcher tuning. A closed candle is overdue when the slot after the
// last one we saw has also finished and nothing arrived, plus a grace
// period for delivery latency.
const (
	gapCheckEvery = 15 * time.Second
	gapGrace      = 30 * time.Second
	gapRetryEvery = 30 * time.Second
)

// DataFeed carries the candle and error channels of one feed
type DataFeed struct {
	Data chan core.Candle
	Err  chan error
}

// DataFeedConsumer is a function that consumes candles
type DataFeedConsumer func(core.Candle)

// Subscription pairs a consumer with its dispatch policy
type Subscription struct {
	onCandleClose bool
	consumer      DataFeedConsumer
}

// DataFeedSubscription fans streamed candles out to consumers, keeping a
// buffer of recent candles for every pair and timeframe. Feeds whose next
// closed candle is overdue are backfilled over REST, so consumers never
// skip a closed candle even across websocket outages.
type DataFeedSubscription struct {
	feeder                  core.Feeder
	Feeds                   *set.LinkedHashSetString
	DataFeeds               map[string]*DataFeed
	SubscriptionsByDataFeed map[string][]Subscription
	buffers                 map[string]*CandleBuffer
	lastSeen                map[string]time.Time
	lastBackfill            map[string]time.Time
	log                     logger.Logger
	mu                      sync.RWMutex
}

// NewDataFeed creates a new data feed subscription manager
func NewDataFeed(feeder core.Feeder, log logger.Logger) *DataFeedSubscription {
	if log == nil {
		log = zerolog.NewNop()
	}

	return &DataFeedSubscription{
		feeder:                  feeder,
		Feeds:                   set.NewLinkedHashSetString(),
		DataFeeds:               make(map[string]*DataFeed),
		SubscriptionsByDataFeed: make(map[string][]Subscription),
		buffers:                 make(map[string]*CandleBuffer),
		lastSeen:                make(map[string]time.Time),
		lastBackfill:            make(map[string]time.Time),
		log:                     log,
	}
}

// feedKey generates a unique key for a pair and timeframe
func (d *DataFeedSubscription) feedKey(pair, timeframe string) string {
	return fmt.Sprintf("%s--%s", pair, timeframe)
}

// pairTimeframeFromKey extracts the pair and timeframe from a key
func (d *DataFeedSubscription) pairTimeframeFromKey(key string) (pair, timeframe string) {
	parts := strings.Split(key, "--")
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// Subscribe adds a consumer for a pair and timeframe. Consumers registered
// with onCandleClose only receive complete candles, otherwise every update
// of the forming candle is delivered as well.
func (d *DataFeedSubscription) Subscribe(pair, timeframe string, consumer DataFeedConsumer, onCandleClose bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := d.feedKey(pair, timeframe)
	d.Feeds.Add(key)
	d.SubscriptionsByDataFeed[key] = append(d.SubscriptionsByDataFeed[key], Subscription{
		onCandleClose: onCandleClose,
		consumer:      consumer,
	})

	if d.buffers[key] == nil {
		d.buffers[key] = NewCandleBuffer()
	}
}

// Buffer returns the candle buffer for a pair and timeframe, nil when
// nothing subscribed to it
func (d *DataFeedSubscription) Buffer(pair, timeframe string) *CandleBuffer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.buffers[d.feedKey(pair, timeframe)]
}

// Preload seeds the buffer of a feed with historical candles. Nothing is
// dispatched to consumers, warmup happens straight from the buffers.
func (d *DataFeedSubscription) Preload(pair, timeframe string, candles []core.Candle) {
	d.log.Infof("preloading %d candles for %s-%s", len(candles), pair, timeframe)

	key := d.feedKey(pair, timeframe)

	d.mu.Lock()
	buffer := d.buffers[key]
	if buffer == nil {
		buffer = NewCandleBuffer()
		d.buffers[key] = buffer
	}
	d.lastSeen[key] = time.Now()
	d.mu.Unlock()

	for _, candle := range candles {
		if !candle.Complete {
			continue
		}
		buffer.Update(candle)
	}
}

// Connect opens a streaming subscription for every registered feed
func (d *DataFeedSubscription) Connect(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.log.Infof("Connecting to the exchange.")

	for feed := range d.Feeds.Iter() {
		pair, timeframe := d.pairTimeframeFromKey(feed)
		ccandle, cerr := d.feeder.CandlesSubscription(ctx, pair, timeframe)
		d.DataFeeds[feed] = &DataFeed{
			Data: ccandle,
			Err:  cerr,
		}
	}
}

// Start connects and begins processing all feeds. It returns immediately,
// the feed goroutines stop when the context is done and the stream
// channels close.
func (d *DataFeedSubscription) Start(ctx context.Context) {
	d.Connect(ctx)

	var wg sync.WaitGroup

	d.mu.RLock()
	for key, feed := range d.DataFeeds {
		wg.Add(1)
		go d.processFeed(key, feed, &wg)
	}
	d.mu.RUnlock()

	go d.watchGaps(ctx)

	d.log.Infof("Data feed connected.")
}

// processFeed consumes the candles received from one feed
func (d *DataFeedSubscription) processFeed(key string, feed *DataFeed, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case candle, ok := <-feed.Data:
			if !ok {
				return
			}
			d.process(key, candle)

		case err, ok := <-feed.Err:
			if !ok {
				return
			}
			if err != nil {
				d.log.Error("dataFeedSubscription/processFeed: ", err)
			}
		}
	}
}

// process folds a candle into the feed's buffer and dispatches it. A
// complete candle already accepted before is dropped, so every closed
// candle reaches consumers exactly once no matter how it arrived.
func (d *DataFeedSubscription) process(key string, candle core.Candle) {
	d.mu.RLock()
	buffer := d.buffers[key]
	subscriptions := d.SubscriptionsByDataFeed[key]
	d.mu.RUnlock()

	if buffer == nil {
		return
	}

	fresh := buffer.Update(candle)
	d.markSeen(key)

	if candle.Complete && !fresh {
		return
	}

	for _, subscription := range subscriptions {
		if subscription.onCandleClose && !candle.Complete {
			continue
		}
		subscription.consumer(candle)
	}
}

// markSeen records that a feed delivered data
func (d *DataFeedSubscription) markSeen(key string) {
	d.mu.Lock()
	d.lastSeen[key] = time.Now()
	d.mu.Unlock()
}

// watchGaps periodically checks every feed for overdue closed candles
func (d *DataFeedSubscription) watchGaps(ctx context.Context) {
	ticker := time.NewTicker(gapCheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.backfillStale(ctx)
		}
	}
}

// backfillStale fetches missed closed candles over REST and routes them
// through the normal dispatch path
func (d *DataFeedSubscription) backfillStale(ctx context.Context) {
	now := time.Now()

	for key := range d.Feeds.Iter() {
		pair, timeframe := d.pairTimeframeFromKey(key)
		if pair == "" {
			continue
		}

		interval, err := core.ParseTimeframe(timeframe)
		if err != nil {
			continue
		}

		d.mu.RLock()
		buffer := d.buffers[key]
		d.mu.RUnlock()
		if buffer == nil {
			continue
		}

		last, ok := buffer.LastClosed()
		if !ok {
			continue
		}

		// The slot following the last closed candle finishes at
		// last.Time + 2*interval
		if now.Sub(last.Time) < 2*interval+gapGrace {
			continue
		}
		if !d.shouldBackfill(key, now) {
			continue
		}

		d.log.Warnf("[FEED] %s %s: no closed candle since %s, backfilling",
			pair, timeframe, last.Time.Format(time.RFC3339))

		candles, err := d.feeder.CandlesByPeriod(ctx, pair, timeframe, last.Time.Add(interval), now)
		if err != nil {
			d.log.WithError(err).Errorf("[FEED] backfill %s %s failed", pair, timeframe)
			continue
		}

		for _, candle := range candles {
			// The kline range endpoint includes the still open interval
			if candle.Time.Add(interval).After(now) {
				continue
			}
			d.process(key, candle)
		}
	}
}

// shouldBackfill rate limits backfill attempts per feed
func (d *DataFeedSubscription) shouldBackfill(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastBackfill[key]) < gapRetryEvery {
		return false
	}
	d.lastBackfill[key] = now
	return true
}

// LastPrice returns the freshest known price for a pair across all of its
// feeds. Zero when the pair has no data yet.
func (d *DataFeedSubscription) LastPrice(pair string) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var price float64
	var freshest time.Time

	for key, buffer := range d.buffers {
		p, _ := d.pairTimeframeFromKey(key)
		if p != pair {
			continue
		}
		if t := buffer.LastUpdate(); t.After(freshest) {
			freshest = t
			price = buffer.LastPrice()
		}
	}

	return price
}

// LastEventAt returns when any feed last delivered data
func (d *DataFeedSubscription) LastEventAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var latest time.Time
	for _, t := range d.lastSeen {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
