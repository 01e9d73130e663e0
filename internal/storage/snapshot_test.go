package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raykavin/dryrun/internal/core"

	"github.com/stretchr/testify/require"
)

func TestFileSnapshotStore_LoadMissingFile(t *testing.T) {
	store := NewFileSnapshotStore(filepath.Join(t.TempDir(), "state.json"))

	snapshot, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	require.Empty(t, snapshot.Strategies)
	require.Equal(t, core.SnapshotSchemaVersion, snapshot.Schema)
}

func TestFileSnapshotStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileSnapshotStore(path)

	snapshot := core.NewSnapshot()
	snapshot.UpdatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snapshot.Strategies["BTC_RSI"] = &core.StrategyState{
		Capital: 980,
		Position: &core.Position{
			Side:        core.SideLong,
			EntryPrice:  100,
			EntryTime:   time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
			Size:        20,
			StopPrice:   99,
			TargetPrice: 102,
		},
		Trades: []core.Trade{{
			Strategy:   "BTC_RSI",
			Symbol:     "BTCUSDT",
			Side:       core.SideLong,
			EntryPrice: 90,
			ExitPrice:  89.1,
			PnL:        -20,
			PnLPercent: -2,
			Reason:     core.ExitStop,
		}},
	}

	require.NoError(t, store.Save(snapshot))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, snapshot.Strategies, loaded.Strategies)
	require.True(t, snapshot.UpdatedAt.Equal(loaded.UpdatedAt))

	// No temp file may survive a completed save
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFileSnapshotStore_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileSnapshotStore(path)

	first := core.NewSnapshot()
	first.Strategies["A"] = &core.StrategyState{Capital: 1}
	require.NoError(t, store.Save(first))

	second := core.NewSnapshot()
	second.Strategies["B"] = &core.StrategyState{Capital: 2}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotContains(t, loaded.Strategies, "A")
	require.Contains(t, loaded.Strategies, "B")
}

func TestFileSnapshotStore_InterruptedSaveKeepsOldState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileSnapshotStore(path)

	good := core.NewSnapshot()
	good.Strategies["BTC_RSI"] = &core.StrategyState{Capital: 950}
	require.NoError(t, store.Save(good))

	// A crash between the temp write and the rename leaves a half-written
	// temp file beside the snapshot
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`{"schema": 1, "strateg`), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.InDelta(t, 950.0, loaded.Strategies["BTC_RSI"].Capital, 1e-9)

	// The next save replaces the stale temp file and lands cleanly
	next := core.NewSnapshot()
	next.Strategies["BTC_RSI"] = &core.StrategyState{Capital: 900}
	require.NoError(t, store.Save(next))

	loaded, err = store.Load()
	require.NoError(t, err)
	require.InDelta(t, 900.0, loaded.Strategies["BTC_RSI"].Capital, 1e-9)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFileSnapshotStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewFileSnapshotStore(path)
	_, err := store.Load()
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestFileSnapshotStore_MigratesUntaggedFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	legacy := `{"strategies": {"OLD": {"capital": 500, "position": null, "trades": []}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store := NewFileSnapshotStore(path)
	snapshot, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, core.SnapshotSchemaVersion, snapshot.Schema)
	require.InDelta(t, 500.0, snapshot.Strategies["OLD"].Capital, 1e-9)
}

func TestFileSnapshotStore_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema": 99, "strategies": {}}`), 0o644))

	store := NewFileSnapshotStore(path)
	_, err := store.Load()
	require.Error(t, err)
}

func TestFileSnapshotStore_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json")
	store := NewFileSnapshotStore(path)

	require.NoError(t, store.Save(core.NewSnapshot()))

	_, err := os.Stat(path)
	require.NoError(t, err)
}
