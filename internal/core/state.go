package core

import "time"

// SnapshotSchemaVersion is written into every persisted snapshot so older
// files can be migrated on load.
const SnapshotSchemaVersion = 1

// StrategyState is the durable state of one strategy: its paper capital,
// the open position if any, and every trade it has closed.
type StrategyState struct {
	Capital  float64   `json:"capital"`
	Position *Position `json:"position"`
	Trades   []Trade   `json:"trades"`
}

// InPosition reports whether the strategy currently holds a position
func (s *StrategyState) InPosition() bool { return s.Position != nil }

// Snapshot is the full persisted state of the engine across all strategies
type Snapshot struct {
	Schema     int                       `json:"schema"`
	UpdatedAt  time.Time                 `json:"updated_at"`
	Strategies map[string]*StrategyState `json:"strategies"`
}

// NewSnapshot returns an empty snapshot at the current schema version
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Schema:     SnapshotSchemaVersion,
		Strategies: make(map[string]*StrategyState),
	}
}

// Clone returns a deep copy safe to mutate or serialize concurrently
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		Schema:     s.Schema,
		UpdatedAt:  s.UpdatedAt,
		Strategies: make(map[string]*StrategyState, len(s.Strategies)),
	}

	for name, state := range s.Strategies {
		stateCopy := &StrategyState{Capital: state.Capital}
		if state.Position != nil {
			position := *state.Position
			stateCopy.Position = &position
		}
		if len(state.Trades) > 0 {
			stateCopy.Trades = make([]Trade, len(state.Trades))
			copy(stateCopy.Trades, state.Trades)
		}
		clone.Strategies[name] = stateCopy
	}

	return clone
}
