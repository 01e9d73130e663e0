// Package dryrun wires the paper trading engine together: market data
// feeds, strategies, the bias evaluator, the position manager and the side
// channels around them (journal, telegram, dashboard).
package dryrun

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/raykavin/dryrun/internal/bias"
	"github.com/raykavin/dryrun/internal/config"
	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/internal/dashboard"
	"github.com/raykavin/dryrun/internal/exchange"
	"github.com/raykavin/dryrun/internal/notification"
	"github.com/raykavin/dryrun/internal/position"
	"github.com/raykavin/dryrun/internal/storage"
	"github.com/raykavin/dryrun/internal/strategy"
	"github.com/raykavin/dryrun/pkg/logger"

	"gorm.io/driver/sqlite"
)

// closeTimeout bounds how long a manual close request waits for the engine
// loop before giving up
const closeTimeout = 5 * time.Second

// feedID identifies one (pair, timeframe) candle feed
type feedID struct {
	pair      string
	timeframe string
}

// Bot represents the main paper trading engine
type Bot struct {
	config   *config.AppConfig
	feeder   core.Feeder
	store    core.SnapshotStore
	journal  core.Journal
	notifier core.Notifier
	telegram core.NotifierWithStart
	log      logger.Logger

	manager   *position.Manager
	biases    *bias.Evaluator
	dataFeed  *exchange.DataFeedSubscription
	dashboard *dashboard.Server

	strategyConfigs  []strategy.Config
	configs          map[string]strategy.Config
	strategies       map[string]*strategy.Strategy
	strategiesByFeed map[feedID][]*strategy.Strategy
	intervals        map[string]time.Duration
	feedOrder        []feedID

	candleCh  chan candleEvent
	controlCh chan closeRequest
	dropped   atomic.Int64
}

// NewBot creates a new engine instance with the provided configuration and
// dependencies
func NewBot(
	cfg *config.AppConfig,
	feeder core.Feeder,
	strategyConfigs []strategy.Config,
	options ...Option,
) (*Bot, error) {

	// Initialize bot with required core components
	bot := &Bot{
		config:           cfg,
		feeder:           feeder,
		strategyConfigs:  strategyConfigs,
		configs:          make(map[string]strategy.Config),
		strategies:       make(map[string]*strategy.Strategy),
		strategiesByFeed: make(map[feedID][]*strategy.Strategy),
		intervals:        make(map[string]time.Duration),
		candleCh:         make(chan candleEvent, eventBufferSize),
		controlCh:        make(chan closeRequest),
		log:              DefaultLog,
	}

	// Compile the strategy set
	if err := bot.buildStrategies(); err != nil {
		return nil, err
	}

	// Apply custom options
	for _, option := range options {
		option(bot)
	}

	// Initialize storage
	if err := initializeStorage(bot); err != nil {
		return nil, err
	}

	if bot.notifier == nil {
		bot.notifier = notification.Noop{}
	}

	// Initialize the engine core
	bot.biases = bias.NewEvaluator(bot.log)
	bot.dataFeed = exchange.NewDataFeed(feeder, bot.log)
	bot.manager = position.NewManager(bot.store, bot.journal, bot.notifier, bot.biases, bot.log)
	for _, sc := range bot.strategyConfigs {
		bot.manager.AddStrategy(sc)
	}

	// Initialize notification systems
	if err := initializeNotifications(bot); err != nil {
		return nil, err
	}

	// Initialize the dashboard
	if cfg.Dashboard.Enabled {
		bot.dashboard = dashboard.NewServer(cfg.Dashboard.Addr, bot, bot.log)
	}

	return bot, nil
}

// buildStrategies compiles every configured strategy and indexes it by name
// and by the feed its candles arrive on
func (bot *Bot) buildStrategies() error {
	if len(bot.strategyConfigs) == 0 {
		return errors.New("no strategies configured")
	}

	for _, cfg := range bot.strategyConfigs {
		if _, ok := bot.configs[cfg.Name]; ok {
			return fmt.Errorf("duplicate strategy name %s", cfg.Name)
		}

		strat, err := strategy.New(cfg)
		if err != nil {
			return err
		}

		bot.configs[cfg.Name] = cfg
		bot.strategies[cfg.Name] = strat

		id := feedID{pair: cfg.Symbol, timeframe: cfg.Timeframe}
		bot.strategiesByFeed[id] = append(bot.strategiesByFeed[id], strat)

		if err := bot.trackInterval(cfg.Timeframe); err != nil {
			return err
		}
		for _, filter := range cfg.Filters {
			if err := bot.trackInterval(filter.Timeframe); err != nil {
				return err
			}
		}
	}

	return nil
}

// trackInterval caches the duration of a timeframe
func (bot *Bot) trackInterval(timeframe string) error {
	if _, ok := bot.intervals[timeframe]; ok {
		return nil
	}

	interval, err := core.ParseTimeframe(timeframe)
	if err != nil {
		return err
	}

	bot.intervals[timeframe] = interval
	return nil
}

// initializeStorage sets up the snapshot store and the trade journal
func initializeStorage(bot *Bot) error {
	if bot.store == nil {
		bot.store = storage.NewFileSnapshotStore(bot.config.SnapshotPath)
	}

	if bot.journal == nil {
		journal, err := OpenJournal(bot.config)
		if err != nil {
			return err
		}
		bot.journal = journal
	}

	return nil
}

// OpenJournal opens the trade journal selected by the configuration
func OpenJournal(cfg *config.AppConfig) (core.Journal, error) {
	switch cfg.JournalDriver {
	case config.JournalSQLite:
		return storage.JournalFromSQL(sqlite.Open(cfg.JournalPath))
	case config.JournalMemory:
		return storage.JournalFromMemory()
	case config.JournalBuntDB:
		return storage.JournalFromFile(cfg.JournalPath)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.JournalDriver)
	}
}

// Run restores persisted state, warms every strategy up from preloaded
// candles and then processes market events until the context is done or a
// persistence failure makes continuing unsafe
func (bot *Bot) Run(ctx context.Context) error {
	snapshot, err := bot.store.Load()
	if err != nil {
		return err
	}
	bot.manager.Restore(snapshot)

	// setup and subscribe every feed the strategy set needs
	bot.subscribeFeeds()

	// preload candles for warmup period
	if err := bot.preload(ctx); err != nil {
		return err
	}

	// warm strategies and biases up from the preloaded buffers
	bot.warmup()

	// start strategies, from here on closed candles may open positions
	for _, strat := range bot.strategies {
		strat.Start()
	}

	if bot.telegram != nil {
		bot.telegram.Start()
	}

	if bot.dashboard != nil {
		go func() {
			if err := bot.dashboard.Start(); err != nil {
				bot.log.WithError(err).Error("dryrun/Run: dashboard stopped")
			}
		}()
	}

	// start data feed and receive new candles
	bot.dataFeed.Start(ctx)

	bot.notifier.Notify(fmt.Sprintf("*DRYRUN* started with `%d` strategies", len(bot.strategies)))

	return bot.loop(ctx)
}

// loop is the single consumer of market and control events. Every state
// mutation happens here, one event at a time.
func (bot *Bot) loop(ctx context.Context) error {
	defer bot.shutdown()

	for {
		select {
		case <-ctx.Done():
			bot.log.Info("Shutting down.")
			return nil

		case request := <-bot.controlCh:
			if err := bot.handleClose(request); err != nil {
				return err
			}

		case event := <-bot.candleCh:
			if err := bot.processEvent(event); err != nil {
				return err
			}
		}
	}
}

// shutdown releases everything the bot owns once the loop has drained its
// last event
func (bot *Bot) shutdown() {
	bot.notifier.Notify("*DRYRUN* stopped")

	if bot.dashboard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := bot.dashboard.Shutdown(ctx); err != nil {
			bot.log.WithError(err).Error("dryrun/shutdown: dashboard")
		}
		cancel()
	}

	if bot.journal != nil {
		if err := bot.journal.Close(); err != nil {
			bot.log.WithError(err).Error("dryrun/shutdown: journal")
		}
	}

	if dropped := bot.dropped.Load(); dropped > 0 {
		bot.log.Warnf("%d forming candle updates dropped under backpressure", dropped)
	}
}

// View returns a copy of the current engine state
func (bot *Bot) View() *core.Snapshot {
	return bot.manager.View()
}

// LastPrice returns the freshest streamed price for a symbol, zero if none
func (bot *Bot) LastPrice(symbol string) float64 {
	return bot.dataFeed.LastPrice(symbol)
}

// StrategySymbol returns the pair a strategy trades, empty when unknown
func (bot *Bot) StrategySymbol(name string) string {
	return bot.configs[name].Symbol
}

// LastEventAt returns when market data last arrived
func (bot *Bot) LastEventAt() time.Time {
	return bot.dataFeed.LastEventAt()
}

// Trades returns every closed trade in the journal
func (bot *Bot) Trades() ([]core.Trade, error) {
	return bot.journal.Trades()
}

// RequestClose asks the engine loop to close the open position of a
// strategy at the freshest market price. Safe to call from notifier
// goroutines.
func (bot *Bot) RequestClose(name string) (core.Trade, error) {
	request := closeRequest{name: name, reply: make(chan closeResult, 1)}

	select {
	case bot.controlCh <- request:
	case <-time.After(closeTimeout):
		return core.Trade{}, fmt.Errorf("close %s: engine not consuming requests", name)
	}

	select {
	case result := <-request.reply:
		return result.trade, result.err
	case <-time.After(closeTimeout):
		return core.Trade{}, fmt.Errorf("close %s: engine not consuming requests", name)
	}
}

var (
	_ notification.Controller = (*Bot)(nil)
	_ dashboard.StateProvider = (*Bot)(nil)
)
