// Package position holds the paper trading state machine. Each strategy is
// either flat or in exactly one position; every transition is persisted
// before it is acknowledged.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raykavin/dryrun/internal/bias"
	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/internal/strategy"
	"github.com/raykavin/dryrun/pkg/logger"
	"github.com/raykavin/dryrun/pkg/logger/zerolog"

	"github.com/jpillora/backoff"
)

var (
	// ErrUnknownStrategy is returned for names outside the configuration
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrNoPosition is returned when a close is requested while flat
	ErrNoPosition = errors.New("no open position")

	// ErrNoPrice is returned when a close is requested before any market
	// data arrived for the symbol
	ErrNoPrice = errors.New("no market price available")
)

// saveAttempts bounds how often a state transition retries persistence
// before the engine gives up
const saveAttempts = 3

// BiasSource provides the current reading of higher timeframe filters
type BiasSource interface {
	Bias(filter bias.Filter) core.Bias
}

// Manager owns capital, positions and trade history for every strategy.
// All transitions run under one lock: strategies never race on state.
type Manager struct {
	mu       sync.Mutex
	names    []string
	configs  map[string]strategy.Config
	states   map[string]*core.StrategyState
	retained map[string]*core.StrategyState
	bias     BiasSource
	store    core.SnapshotStore
	journal  core.Journal
	notifier core.Notifier
	log      logger.Logger
}

// NewManager creates a manager persisting through store. The journal and
// notifier are optional side channels and never block a transition.
func NewManager(
	store core.SnapshotStore,
	journal core.Journal,
	notifier core.Notifier,
	biasSource BiasSource,
	log logger.Logger,
) *Manager {
	if log == nil {
		log = zerolog.NewNop()
	}

	return &Manager{
		configs:  make(map[string]strategy.Config),
		states:   make(map[string]*core.StrategyState),
		retained: make(map[string]*core.StrategyState),
		bias:     biasSource,
		store:    store,
		journal:  journal,
		notifier: notifier,
		log:      log,
	}
}

// SetNotifier replaces the notifier receiving position events
func (m *Manager) SetNotifier(notifier core.Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifier = notifier
}

// AddStrategy registers a strategy with a fresh state at its initial capital
func (m *Manager) AddStrategy(config strategy.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.configs[config.Name]; ok {
		return
	}

	m.names = append(m.names, config.Name)
	m.configs[config.Name] = config
	m.states[config.Name] = &core.StrategyState{Capital: config.InitialCapital}
}

// Restore replaces in-memory state with a persisted snapshot. Strategies
// present in the snapshot but no longer configured are retained so the next
// save does not silently drop their history.
func (m *Manager) Restore(snapshot *core.Snapshot) {
	if snapshot == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, state := range snapshot.Strategies {
		if _, ok := m.configs[name]; ok {
			m.states[name] = state
			continue
		}

		m.retained[name] = state
		m.log.Warnf("[STATE] strategy %s found in snapshot but not configured, keeping its history", name)
	}
}

// HandleSignal runs the entry pipeline for a strategy signal: position
// check, bias gate, sizing, then a persisted transition to in-position.
// A persistence failure rolls the transition back and is fatal.
func (m *Manager) HandleSignal(name string, side core.Side, price float64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, ok := m.configs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	state := m.states[name]

	if state.InPosition() {
		return nil
	}

	if price <= 0 {
		m.log.Warnf("[SIGNAL] %s: ignoring signal at non-positive price %.8f", name, price)
		return nil
	}

	for _, filter := range config.BiasFilters() {
		if current := m.bias.Bias(filter); !current.Allows(side) {
			m.log.Infof("[SIGNAL BLOCKED] %s: %s entry vs %s (%s)", name, side, current, filter)
			return nil
		}
	}

	size := positionSize(state.Capital, config, price)
	if size <= 0 {
		m.log.Warnf("[SIGNAL] %s: no capital left to open a position", name)
		return nil
	}

	stop := price * (1 - config.StopPercent)
	target := price * (1 + config.TargetPercent)
	if side == core.SideShort {
		stop = price * (1 + config.StopPercent)
		target = price * (1 - config.TargetPercent)
	}

	position := &core.Position{
		Side:        side,
		EntryPrice:  price,
		EntryTime:   now,
		Size:        size,
		StopPrice:   stop,
		TargetPrice: target,
	}

	state.Position = position
	if err := m.persist(); err != nil {
		state.Position = nil
		return fmt.Errorf("open %s: %w", name, err)
	}

	m.log.Infof("[POSITION OPENED] %s: %s %s", name, config.Symbol, position)
	if m.notifier != nil {
		m.notifier.OnPositionOpened(name, config.Symbol, *position)
	}

	return nil
}

// positionSize risks a fixed fraction of capital against the stop distance.
// With stop exits filling at the stop price, the loss of a losing trade is
// exactly the risked amount, so capital can never go below zero as long as
// risk_per_trade stays within (0, 1].
func positionSize(capital float64, config strategy.Config, price float64) float64 {
	riskAmount := capital * config.RiskPerTrade
	stopDistance := price * config.StopPercent

	return riskAmount / stopDistance
}

// OnTick checks every open position on the symbol against its exit rules.
// The stop is checked before the target so a candle touching both resolves
// as a loss, and stop and target exits fill at their trigger price.
func (m *Manager) OnTick(symbol string, price float64, now time.Time) error {
	if price <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.names {
		config := m.configs[name]
		if config.Symbol != symbol {
			continue
		}

		state := m.states[name]
		if !state.InPosition() {
			continue
		}

		pos := state.Position
		exitPrice, reason, ok := exitCheck(pos, config, price, now)
		if !ok {
			continue
		}

		if err := m.closeLocked(name, config, state, exitPrice, reason, now); err != nil {
			return err
		}
	}

	return nil
}

func exitCheck(pos *core.Position, config strategy.Config, price float64, now time.Time) (float64, core.ExitReason, bool) {
	if pos.Side == core.SideLong {
		if price <= pos.StopPrice {
			return pos.StopPrice, core.ExitStop, true
		}
		if price >= pos.TargetPrice {
			return pos.TargetPrice, core.ExitTarget, true
		}
	} else {
		if price >= pos.StopPrice {
			return pos.StopPrice, core.ExitStop, true
		}
		if price <= pos.TargetPrice {
			return pos.TargetPrice, core.ExitTarget, true
		}
	}

	if config.TimeStopHours > 0 &&
		now.Sub(pos.EntryTime) >= time.Duration(config.TimeStopHours)*time.Hour {
		return price, core.ExitTime, true
	}

	return 0, "", false
}

// ManualClose exits a position at the given market price on request and
// returns the realized trade
func (m *Manager) ManualClose(name string, price float64, now time.Time) (core.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	config, ok := m.configs[name]
	if !ok {
		return core.Trade{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	state := m.states[name]
	if !state.InPosition() {
		return core.Trade{}, fmt.Errorf("%s: %w", name, ErrNoPosition)
	}
	if price <= 0 {
		return core.Trade{}, fmt.Errorf("%s: %w", name, ErrNoPrice)
	}

	if err := m.closeLocked(name, config, state, price, core.ExitManual, now); err != nil {
		return core.Trade{}, err
	}

	trades := state.Trades
	return trades[len(trades)-1], nil
}

// closeLocked realizes the trade and persists the flat state. The caller
// must hold the lock. A persistence failure rolls everything back.
func (m *Manager) closeLocked(
	name string,
	config strategy.Config,
	state *core.StrategyState,
	exitPrice float64,
	reason core.ExitReason,
	now time.Time,
) error {
	pos := state.Position

	pnl := (exitPrice - pos.EntryPrice) * pos.Size * pos.Side.Sign()
	capitalBefore := state.Capital

	var pnlPercent float64
	if capitalBefore != 0 {
		pnlPercent = pnl / capitalBefore * 100
	}

	trade := core.Trade{
		Strategy:   name,
		Symbol:     config.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		EntryTime:  pos.EntryTime,
		ExitPrice:  exitPrice,
		ExitTime:   now,
		Size:       pos.Size,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Reason:     reason,
	}

	state.Capital += pnl
	state.Position = nil
	state.Trades = append(state.Trades, trade)

	if err := m.persist(); err != nil {
		state.Capital = capitalBefore
		state.Position = pos
		state.Trades = state.Trades[:len(state.Trades)-1]
		return fmt.Errorf("close %s: %w", name, err)
	}

	if m.journal != nil {
		if err := m.journal.Append(trade); err != nil {
			m.log.WithError(err).Errorf("[JOURNAL] failed to record %s trade", name)
		}
	}

	m.log.Infof("[POSITION CLOSED] %s: %s %s @ %.8f (%s) pnl %.2f (%.2f%%), capital %.2f",
		name, config.Symbol, pos.Side, exitPrice, reason, pnl, pnlPercent, state.Capital)
	if m.notifier != nil {
		m.notifier.OnPositionClosed(trade, state.Capital)
	}

	return nil
}

// persist writes the full snapshot, retrying briefly before giving up
func (m *Manager) persist() error {
	snapshot := core.NewSnapshot()
	snapshot.UpdatedAt = time.Now()

	for name, state := range m.states {
		snapshot.Strategies[name] = state
	}
	for name, state := range m.retained {
		snapshot.Strategies[name] = state
	}

	retry := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    500 * time.Millisecond,
		Factor: 2,
	}

	var err error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		if err = m.store.Save(snapshot); err == nil {
			return nil
		}
		time.Sleep(retry.Duration())
	}

	return fmt.Errorf("save snapshot: %w", err)
}

// View returns a deep copy of the current engine state
func (m *Manager) View() *core.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := core.NewSnapshot()
	for name, state := range m.states {
		snapshot.Strategies[name] = state
	}
	for name, state := range m.retained {
		snapshot.Strategies[name] = state
	}

	return snapshot.Clone()
}

// Names returns the configured strategy names in registration order
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}
