package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/raykavin/dryrun/internal/core"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

func sampleTrade(strategy, symbol string, exit time.Time, pnl float64) core.Trade {
	return core.Trade{
		Strategy:   strategy,
		Symbol:     symbol,
		Side:       core.SideLong,
		EntryPrice: 100,
		EntryTime:  exit.Add(-time.Hour),
		ExitPrice:  100 + pnl/20,
		ExitTime:   exit,
		Size:       20,
		PnL:        pnl,
		PnLPercent: pnl / 10,
		Reason:     core.ExitTarget,
	}
}

func TestBuntJournal_AppendAndQuery(t *testing.T) {
	journal, err := JournalFromMemory()
	require.NoError(t, err)
	defer journal.Close()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Append(sampleTrade("BTC_RSI", "BTCUSDT", base.Add(2*time.Hour), 40)))
	require.NoError(t, journal.Append(sampleTrade("ETH_CCI", "ETHUSDT", base.Add(time.Hour), -20)))
	require.NoError(t, journal.Append(sampleTrade("BTC_RSI", "BTCUSDT", base.Add(3*time.Hour), 15)))

	trades, err := journal.Trades()
	require.NoError(t, err)
	require.Len(t, trades, 3)

	// Ordered by exit time, not insertion
	require.Equal(t, "ETH_CCI", trades[0].Strategy)

	btc, err := journal.Trades(core.WithStrategy("BTC_RSI"))
	require.NoError(t, err)
	require.Len(t, btc, 2)

	eth, err := journal.Trades(core.WithSymbol("ETHUSDT"))
	require.NoError(t, err)
	require.Len(t, eth, 1)
	require.InDelta(t, -20.0, eth[0].PnL, 1e-9)

	none, err := journal.Trades(core.WithStrategy("BTC_RSI"), core.WithSymbol("ETHUSDT"))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestBuntJournal_ReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	journal, err := JournalFromFile(path)
	require.NoError(t, err)
	require.NoError(t, journal.Append(sampleTrade("BTC_RSI", "BTCUSDT", base, 10)))
	require.NoError(t, journal.Append(sampleTrade("BTC_RSI", "BTCUSDT", base.Add(time.Hour), 20)))
	require.NoError(t, journal.Close())

	// A reopened journal must append after the stored trades, not on top of them
	journal, err = JournalFromFile(path)
	require.NoError(t, err)
	defer journal.Close()

	require.NoError(t, journal.Append(sampleTrade("BTC_RSI", "BTCUSDT", base.Add(2*time.Hour), 30)))

	trades, err := journal.Trades()
	require.NoError(t, err)
	require.Len(t, trades, 3)
	require.InDelta(t, 10.0, trades[0].PnL, 1e-9)
	require.InDelta(t, 30.0, trades[2].PnL, 1e-9)
}

func TestSQLJournal_AppendAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.sqlite")

	journal, err := JournalFromSQL(sqlite.Open(path))
	require.NoError(t, err)
	defer journal.Close()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Append(sampleTrade("BTC_RSI", "BTCUSDT", base.Add(2*time.Hour), 40)))
	require.NoError(t, journal.Append(sampleTrade("ETH_CCI", "ETHUSDT", base.Add(time.Hour), -20)))

	trades, err := journal.Trades()
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, "ETH_CCI", trades[0].Strategy)
	require.Equal(t, core.SideLong, trades[0].Side)
	require.Equal(t, core.ExitTarget, trades[0].Reason)

	btc, err := journal.Trades(core.WithStrategy("BTC_RSI"))
	require.NoError(t, err)
	require.Len(t, btc, 1)
	require.InDelta(t, 40.0, btc[0].PnL, 1e-9)
}
