package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raykavin/dryrun/internal/core"
)

// fakeFeeder scripts the candles a test feed delivers
type fakeFeeder struct {
	mu         sync.Mutex
	streams    map[string]chan core.Candle
	errs       map[string]chan error
	history    map[string][]core.Candle
	rangeCalls int
}

func newFakeFeeder() *fakeFeeder {
	return &fakeFeeder{
		streams: make(map[string]chan core.Candle),
		errs:    make(map[string]chan error),
		history: make(map[string][]core.Candle),
	}
}

func (f *fakeFeeder) key(pair, timeframe string) string {
	return pair + "--" + timeframe
}

func (f *fakeFeeder) LastQuote(_ context.Context, _ string) (float64, error) {
	return 0, nil
}

func (f *fakeFeeder) CandlesByLimit(_ context.Context, pair, period string, _ int) ([]core.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.history[f.key(pair, period)], nil
}

func (f *fakeFeeder) CandlesByPeriod(_ context.Context, pair, period string,
	start, end time.Time) ([]core.Candle, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.rangeCalls++

	var out []core.Candle
	for _, candle := range f.history[f.key(pair, period)] {
		if !candle.Time.Before(start) && candle.Time.Before(end) {
			out = append(out, candle)
		}
	}
	return out, nil
}

func (f *fakeFeeder) CandlesSubscription(_ context.Context, pair, timeframe string) (chan core.Candle, chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.key(pair, timeframe)
	if f.streams[key] == nil {
		f.streams[key] = make(chan core.Candle, 16)
		f.errs[key] = make(chan error, 1)
	}
	return f.streams[key], f.errs[key]
}

func (f *fakeFeeder) push(pair, timeframe string, candle core.Candle) {
	f.mu.Lock()
	ch := f.streams[f.key(pair, timeframe)]
	f.mu.Unlock()

	ch <- candle
}

func (f *fakeFeeder) rangeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.rangeCalls
}

func waitCandle(t *testing.T, ch chan core.Candle) core.Candle {
	t.Helper()

	select {
	case candle := <-ch:
		return candle
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for candle")
		return core.Candle{}
	}
}

func requireNoCandle(t *testing.T, ch chan core.Candle) {
	t.Helper()

	select {
	case candle := <-ch:
		t.Fatalf("unexpected candle dispatched: %+v", candle)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDataFeed_DispatchRespectsOnCandleClose(t *testing.T) {
	feeder := newFakeFeeder()
	feed := NewDataFeed(feeder, nil)

	closedOnly := make(chan core.Candle, 16)
	everything := make(chan core.Candle, 16)

	feed.Subscribe("BTCUSDT", "15m", func(c core.Candle) { closedOnly <- c }, true)
	feed.Subscribe("BTCUSDT", "15m", func(c core.Candle) { everything <- c }, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	slot := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	feeder.push("BTCUSDT", "15m", bufCandle(slot, 100, false))
	got := waitCandle(t, everything)
	require.False(t, got.Complete)
	requireNoCandle(t, closedOnly)

	feeder.push("BTCUSDT", "15m", bufCandle(slot, 101, true))
	require.True(t, waitCandle(t, everything).Complete)
	require.True(t, waitCandle(t, closedOnly).Complete)
}

func TestDataFeed_DuplicateCloseDispatchedOnce(t *testing.T) {
	feeder := newFakeFeeder()
	feed := NewDataFeed(feeder, nil)

	received := make(chan core.Candle, 16)
	feed.Subscribe("BTCUSDT", "15m", func(c core.Candle) { received <- c }, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed.Start(ctx)

	slot := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	feeder.push("BTCUSDT", "15m", bufCandle(slot, 100, true))
	feeder.push("BTCUSDT", "15m", bufCandle(slot, 100, true))

	waitCandle(t, received)
	requireNoCandle(t, received)
	require.Equal(t, 1, feed.Buffer("BTCUSDT", "15m").Len())
}

func TestDataFeed_PreloadSeedsBufferWithoutDispatch(t *testing.T) {
	feeder := newFakeFeeder()
	feed := NewDataFeed(feeder, nil)

	received := make(chan core.Candle, 16)
	feed.Subscribe("BTCUSDT", "15m", func(c core.Candle) { received <- c }, true)

	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	history := []core.Candle{
		bufCandle(start, 100, true),
		bufCandle(start.Add(15*time.Minute), 101, true),
		bufCandle(start.Add(30*time.Minute), 102, true),
	}

	feed.Preload("BTCUSDT", "15m", history)

	requireNoCandle(t, received)
	require.Equal(t, 3, feed.Buffer("BTCUSDT", "15m").Len())
	require.Equal(t, 102.0, feed.LastPrice("BTCUSDT"))
}

func TestDataFeed_BackfillDeliversMissedCandles(t *testing.T) {
	feeder := newFakeFeeder()
	feed := NewDataFeed(feeder, nil)

	received := make(chan core.Candle, 16)
	feed.Subscribe("BTCUSDT", "15m", func(c core.Candle) { received <- c }, true)

	now := time.Now()
	last := now.Add(-50 * time.Minute).Truncate(15 * time.Minute)
	feed.Preload("BTCUSDT", "15m", []core.Candle{bufCandle(last, 100, true)})

	// Two closed candles were missed, a third interval is still open
	feeder.mu.Lock()
	feeder.history["BTCUSDT--15m"] = []core.Candle{
		bufCandle(last.Add(15*time.Minute), 101, true),
		bufCandle(last.Add(30*time.Minute), 102, true),
		bufCandle(now.Truncate(15*time.Minute), 103, true),
	}
	feeder.mu.Unlock()

	ctx := context.Background()
	feed.backfillStale(ctx)

	first := waitCandle(t, received)
	second := waitCandle(t, received)
	require.Equal(t, 101.0, first.Close)
	require.Equal(t, 102.0, second.Close)
	requireNoCandle(t, received)

	require.Equal(t, 1, feeder.rangeCallCount())

	// A second sweep inside the retry window is rate limited
	feed.backfillStale(ctx)
	require.Equal(t, 1, feeder.rangeCallCount())
}

func TestDataFeed_BackfillSkipsFreshFeeds(t *testing.T) {
	feeder := newFakeFeeder()
	feed := NewDataFeed(feeder, nil)

	feed.Subscribe("BTCUSDT", "15m", func(core.Candle) {}, true)

	last := time.Now().Add(-16 * time.Minute)
	feed.Preload("BTCUSDT", "15m", []core.Candle{bufCandle(last, 100, true)})

	feed.backfillStale(context.Background())
	require.Equal(t, 0, feeder.rangeCallCount())
}

func TestDataFeed_LastPricePrefersFreshestFeed(t *testing.T) {
	feeder := newFakeFeeder()
	feed := NewDataFeed(feeder, nil)

	feed.Subscribe("BTCUSDT", "15m", func(core.Candle) {}, false)
	feed.Subscribe("BTCUSDT", "1h", func(core.Candle) {}, true)

	old := time.Now().Add(-2 * time.Hour)
	feed.Preload("BTCUSDT", "1h", []core.Candle{bufCandle(old, 100, true)})

	forming := bufCandle(time.Now().Truncate(15*time.Minute), 105, false)
	forming.UpdatedAt = time.Now()
	feed.process("BTCUSDT--15m", forming)

	require.Equal(t, 105.0, feed.LastPrice("BTCUSDT"))
	require.Equal(t, 0.0, feed.LastPrice("ETHUSDT"))
	require.WithinDuration(t, time.Now(), feed.LastEventAt(), time.Second)
}
