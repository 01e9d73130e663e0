// Package config handles application configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/raykavin/dryrun/internal/strategy"
	"github.com/raykavin/dryrun/pkg/logger"
)

// Constants for configuration
const (
	DefaultConfigPath   = "./strategies.yaml"
	DefaultSnapshotPath = "./state.json"
	DefaultJournalPath  = "./dryrun.db"
	DefaultDashboard    = "127.0.0.1:8080"
)

// Journal drivers
const (
	JournalBuntDB = "buntdb"
	JournalSQLite = "sqlite"
	JournalMemory = "memory"
)

// AppConfig holds the application configuration
type AppConfig struct {
	Binance   BinanceConfig
	Telegram  TelegramConfig
	Dashboard DashboardConfig

	ConfigPath    string
	SnapshotPath  string
	JournalDriver string
	JournalPath   string
	LogLevel      string
}

// BinanceConfig holds Binance exchange configuration
type BinanceConfig struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled bool
	Token   string
	Users   []int
}

// DashboardConfig holds the web dashboard configuration
type DashboardConfig struct {
	Enabled bool
	Addr    string
}

// LoadAppConfig loads application configuration using Viper
func LoadAppConfig() (*AppConfig, error) {
	// Set up Viper for environment variables
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("CONFIG_PATH", DefaultConfigPath)
	viper.SetDefault("SNAPSHOT_PATH", DefaultSnapshotPath)
	viper.SetDefault("JOURNAL_DRIVER", JournalBuntDB)
	viper.SetDefault("JOURNAL_PATH", DefaultJournalPath)
	viper.SetDefault("BINANCE_USE_TESTNET", false)
	viper.SetDefault("TELEGRAM_ENABLED", false)
	viper.SetDefault("DASHBOARD_ENABLED", true)
	viper.SetDefault("DASHBOARD_ADDR", DefaultDashboard)
	viper.SetDefault("LOG_LEVEL", "info")

	users, err := parseTelegramUsers(viper.GetString("TELEGRAM_USERS"))
	if err != nil {
		return nil, err
	}

	// Create the configuration
	config := &AppConfig{
		Binance: BinanceConfig{
			APIKey:     viper.GetString("BINANCE_API_KEY"),
			SecretKey:  viper.GetString("BINANCE_SECRET_KEY"),
			UseTestnet: viper.GetBool("BINANCE_USE_TESTNET"),
		},
		Telegram: TelegramConfig{
			Enabled: viper.GetBool("TELEGRAM_ENABLED"),
			Token:   viper.GetString("TELEGRAM_TOKEN"),
			Users:   users,
		},
		Dashboard: DashboardConfig{
			Enabled: viper.GetBool("DASHBOARD_ENABLED"),
			Addr:    viper.GetString("DASHBOARD_ADDR"),
		},
		ConfigPath:    viper.GetString("CONFIG_PATH"),
		SnapshotPath:  viper.GetString("SNAPSHOT_PATH"),
		JournalDriver: viper.GetString("JOURNAL_DRIVER"),
		JournalPath:   viper.GetString("JOURNAL_PATH"),
		LogLevel:      viper.GetString("LOG_LEVEL"),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *AppConfig) validate() error {
	switch c.JournalDriver {
	case JournalBuntDB, JournalSQLite, JournalMemory:
	default:
		return fmt.Errorf("unknown JOURNAL_DRIVER %q", c.JournalDriver)
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return fmt.Errorf("TELEGRAM_ENABLED requires TELEGRAM_TOKEN")
		}
		if len(c.Telegram.Users) == 0 {
			return fmt.Errorf("TELEGRAM_ENABLED requires TELEGRAM_USERS")
		}
	}

	return nil
}

// parseTelegramUsers parses a comma separated list of telegram user IDs
func parseTelegramUsers(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	users := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_USERS entry %q", part)
		}
		users = append(users, id)
	}

	return users, nil
}

// LoadStrategies loads the strategy declarations from a YAML file. When the
// file does not exist a default set is written there first, so a fresh
// deployment starts with a complete, editable configuration.
func LoadStrategies(configPath string, log logger.Logger) ([]strategy.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultStrategies(configPath); err != nil {
			return nil, err
		}
		log.Infof("default strategy configuration written to %s", configPath)
	}

	// Set up viper to read from the config file
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration file %s: %w", configPath, err)
	}

	var configs []strategy.Config
	if err := v.UnmarshalKey("strategies", &configs); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if len(configs) == 0 {
		return nil, fmt.Errorf("no strategies declared in %s", configPath)
	}

	seen := make(map[string]bool, len(configs))
	for _, config := range configs {
		if err := config.Validate(); err != nil {
			return nil, err
		}
		if seen[config.Name] {
			return nil, fmt.Errorf("duplicate strategy name %q", config.Name)
		}
		seen[config.Name] = true
	}

	return configs, nil
}

// writeDefaultStrategies creates the default configuration file
func writeDefaultStrategies(configPath string) error {
	configDir := filepath.Dir(configPath)
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("could not create configuration directory: %w", err)
		}
	}

	if err := os.WriteFile(configPath, []byte(defaultStrategiesYAML), 0o644); err != nil {
		return fmt.Errorf("could not save default configuration: %w", err)
	}

	return nil
}

// defaultStrategiesYAML is the strategy set a fresh deployment starts with
const defaultStrategiesYAML = `# Strategy declarations. Every strategy trades an isolated capital pool
# and holds at most one position at a time.
strategies:
  - name: BTC_RSI
    symbol: BTCUSDT
    timeframe: 15m
    kind: rsi
    period: 14
    oversold: 30
    overbought: 70
    long_only: true
    initial_capital: 1000
    risk_per_trade: 0.02
    stop_percent: 0.01
    target_percent: 0.02
    time_stop_hours: 48
    filters:
      - timeframe: 4h
        rule: candle

  - name: ETH_CCI
    symbol: ETHUSDT
    timeframe: 15m
    kind: cci
    period: 20
    oversold: -100
    overbought: 100
    initial_capital: 1000
    risk_per_trade: 0.02
    stop_percent: 0.01
    target_percent: 0.02
    time_stop_hours: 48
    filters:
      - timeframe: 4h
        rule: candle
      - timeframe: 1d
        rule: expanding

  - name: SOL_CCI
    symbol: SOLUSDT
    timeframe: 15m
    kind: cci
    period: 20
    oversold: -100
    overbought: 100
    initial_capital: 1000
    risk_per_trade: 0.02
    stop_percent: 0.01
    target_percent: 0.02
    time_stop_hours: 48
    filters:
      - timeframe: 4h
        rule: candle
      - timeframe: 1d
        rule: expanding

  - name: ADA_CCI
    symbol: ADAUSDT
    timeframe: 15m
    kind: cci
    period: 20
    oversold: -100
    overbought: 100
    initial_capital: 1000
    risk_per_trade: 0.02
    stop_percent: 0.01
    target_percent: 0.02
    time_stop_hours: 48
    filters:
      - timeframe: 4h
        rule: candle
      - timeframe: 1d
        rule: expanding

  - name: AVAX_CCI
    symbol: AVAXUSDT
    timeframe: 15m
    kind: cci
    period: 20
    oversold: -100
    overbought: 100
    initial_capital: 1000
    risk_per_trade: 0.02
    stop_percent: 0.01
    target_percent: 0.02
    time_stop_hours: 48
    filters:
      - timeframe: 4h
        rule: candle
      - timeframe: 1d
        rule: expanding

  - name: BTC_VOL
    symbol: BTCUSDT
    timeframe: 1d
    kind: volume_surge
    period: 20
    volume_multiplier: 2.0
    min_price_change: 0.02
    long_only: true
    initial_capital: 1000
    risk_per_trade: 1.0
    stop_percent: 0.03
    target_percent: 0.10

  - name: ETH_VOL
    symbol: ETHUSDT
    timeframe: 1d
    kind: volume_surge
    period: 20
    volume_multiplier: 2.0
    min_price_change: 0.02
    long_only: true
    initial_capital: 1000
    risk_per_trade: 1.0
    stop_percent: 0.03
    target_percent: 0.10

  - name: BNB_OBV
    symbol: BNBUSDT
    timeframe: 1d
    kind: obv_divergence
    lookback: 10
    long_only: true
    initial_capital: 1000
    risk_per_trade: 1.0
    stop_percent: 0.05
    target_percent: 0.15
`
