package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raykavin/dryrun/internal/strategy"
	"github.com/raykavin/dryrun/pkg/logger/zerolog"
)

func TestLoadStrategies_WritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "strategies.yaml")

	configs, err := LoadStrategies(path, zerolog.NewNop())
	require.NoError(t, err)
	require.Len(t, configs, 8)

	// The file is created so the deployment can edit it
	_, err = os.Stat(path)
	require.NoError(t, err)

	byName := make(map[string]strategy.Config)
	for _, config := range configs {
		byName[config.Name] = config
	}

	btc := byName["BTC_RSI"]
	require.Equal(t, "BTCUSDT", btc.Symbol)
	require.Equal(t, strategy.KindRSI, btc.Kind)
	require.Equal(t, 14, btc.Period)
	require.True(t, btc.LongOnly)
	require.Len(t, btc.Filters, 1)
	require.Equal(t, "candle", btc.Filters[0].Rule)
	require.Equal(t, "4h", btc.Filters[0].Timeframe)

	bnb := byName["BNB_OBV"]
	require.Equal(t, strategy.KindOBVDivergence, bnb.Kind)
	require.Equal(t, 10, bnb.Lookback)
	require.Equal(t, 0, bnb.TimeStopHours)

	// Daily swing strategies commit full capital per trade
	for _, name := range []string{"BTC_VOL", "ETH_VOL", "BNB_OBV"} {
		require.InDelta(t, 1.0, byName[name].RiskPerTrade, 1e-9, name)
	}

	eth := byName["ETH_CCI"]
	require.Len(t, eth.Filters, 2)
	require.Equal(t, "expanding", eth.Filters[1].Rule)

	// A second load reads the created file
	again, err := LoadStrategies(path, zerolog.NewNop())
	require.NoError(t, err)
	require.Len(t, again, 8)
}

func TestLoadStrategies_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("strategies: [broken"), 0o644))

	_, err := LoadStrategies(path, zerolog.NewNop())
	require.Error(t, err)
}

func TestLoadStrategies_DuplicateNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	yaml := `strategies:
  - name: BTC_RSI
    symbol: BTCUSDT
    timeframe: 15m
    kind: rsi
    period: 14
    oversold: 30
    overbought: 70
    initial_capital: 1000
    risk_per_trade: 0.02
    stop_percent: 0.01
    target_percent: 0.02
  - name: BTC_RSI
    symbol: BTCUSDT
    timeframe: 15m
    kind: rsi
    period: 14
    oversold: 30
    overbought: 70
    initial_capital: 1000
    risk_per_trade: 0.02
    stop_percent: 0.01
    target_percent: 0.02
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := LoadStrategies(path, zerolog.NewNop())
	require.ErrorContains(t, err, "duplicate strategy name")
}

func TestLoadStrategies_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	yaml := `strategies:
  - name: BAD
    symbol: BTCUSDT
    timeframe: 15m
    kind: rsi
    period: 14
    oversold: 30
    overbought: 70
    initial_capital: 1000
    risk_per_trade: 1.5
    stop_percent: 0.01
    target_percent: 0.02
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := LoadStrategies(path, zerolog.NewNop())
	require.ErrorContains(t, err, "risk_per_trade")
}

func TestLoadAppConfig_Defaults(t *testing.T) {
	config, err := LoadAppConfig()
	require.NoError(t, err)

	require.Equal(t, JournalBuntDB, config.JournalDriver)
	require.Equal(t, DefaultSnapshotPath, config.SnapshotPath)
	require.Equal(t, DefaultConfigPath, config.ConfigPath)
	require.True(t, config.Dashboard.Enabled)
	require.Equal(t, DefaultDashboard, config.Dashboard.Addr)
	require.False(t, config.Telegram.Enabled)
	require.Equal(t, "info", config.LogLevel)
}

func TestLoadAppConfig_EnvOverrides(t *testing.T) {
	t.Setenv("JOURNAL_DRIVER", "sqlite")
	t.Setenv("JOURNAL_PATH", "/tmp/trades.sqlite")
	t.Setenv("TELEGRAM_ENABLED", "true")
	t.Setenv("TELEGRAM_TOKEN", "secret")
	t.Setenv("TELEGRAM_USERS", "10, 20,30")
	t.Setenv("LOG_LEVEL", "debug")

	config, err := LoadAppConfig()
	require.NoError(t, err)

	require.Equal(t, JournalSQLite, config.JournalDriver)
	require.Equal(t, "/tmp/trades.sqlite", config.JournalPath)
	require.True(t, config.Telegram.Enabled)
	require.Equal(t, []int{10, 20, 30}, config.Telegram.Users)
	require.Equal(t, "debug", config.LogLevel)
}

func TestLoadAppConfig_TelegramRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_ENABLED", "true")
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_USERS", "10")

	_, err := LoadAppConfig()
	require.ErrorContains(t, err, "TELEGRAM_TOKEN")
}

func TestLoadAppConfig_UnknownJournalDriver(t *testing.T) {
	t.Setenv("JOURNAL_DRIVER", "postgres")

	_, err := LoadAppConfig()
	require.ErrorContains(t, err, "JOURNAL_DRIVER")
}

func TestParseTelegramUsers(t *testing.T) {
	users, err := parseTelegramUsers("")
	require.NoError(t, err)
	require.Nil(t, users)

	users, err = parseTelegramUsers("1,2, 3")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, users)

	_, err = parseTelegramUsers("1,abc")
	require.ErrorContains(t, err, "TELEGRAM_USERS")
}
