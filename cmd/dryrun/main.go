package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/raykavin/dryrun"
	"github.com/raykavin/dryrun/internal/config"
	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/internal/exchange"
	"github.com/raykavin/dryrun/internal/metric"
	"github.com/raykavin/dryrun/internal/storage"
)

// Command line flags
var (
	// Reset command flags
	resetStrategy string
	resetYes      bool
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:     "dryrun",
		Short:   "Multi-strategy paper trading engine",
		Version: "1.0.0",
	}

	// Add commands
	rootCmd.AddCommand(buildRunCmd())
	rootCmd.AddCommand(buildReportCmd())
	rootCmd.AddCommand(buildStatusCmd())
	rootCmd.AddCommand(buildResetCmd())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading engine",
		RunE:  runEngine,
	}
}

func buildReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Render a performance report from the trade journal",
		RunE:  runReport,
	}
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted state of every strategy",
		RunE:  runStatus,
	}
}

func buildResetCmd() *cobra.Command {
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard persisted state, for one strategy or all of them",
		RunE:  runReset,
	}

	resetCmd.Flags().StringVarP(&resetStrategy, "strategy", "s", "", "Reset a single strategy by name")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")

	return resetCmd
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return err
	}

	strategies, err := config.LoadStrategies(cfg.ConfigPath, dryrun.DefaultLog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feeder, err := initializeFeeder(cmd, cfg)
	if err != nil {
		return err
	}

	bot, err := dryrun.NewBot(cfg, feeder, strategies)
	if err != nil {
		return err
	}

	return bot.Run(ctx)
}

func initializeFeeder(cmd *cobra.Command, cfg *config.AppConfig) (core.Feeder, error) {
	var options []exchange.Option

	if cfg.Binance.APIKey != "" {
		options = append(options, exchange.WithCredentials(cfg.Binance.APIKey, cfg.Binance.SecretKey))
	}
	if cfg.Binance.UseTestnet {
		options = append(options, exchange.WithTestNet())
	}

	return exchange.NewBinance(cmd.Context(), options...)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return err
	}

	journal, err := dryrun.OpenJournal(cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	trades, err := journal.Trades()
	if err != nil {
		return err
	}

	metric.WriteReport(os.Stdout, metric.Summarize(trades))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return err
	}

	snapshot, err := storage.NewFileSnapshotStore(cfg.SnapshotPath).Load()
	if err != nil {
		return err
	}

	if len(snapshot.Strategies) == 0 {
		fmt.Println("no persisted state yet")
		return nil
	}

	names := make([]string, 0, len(snapshot.Strategies))
	for name := range snapshot.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Strategy", "Capital", "Position", "Trades"})

	for _, name := range names {
		state := snapshot.Strategies[name]

		position := "-"
		if state.Position != nil {
			position = state.Position.String()
		}

		table.Append([]string{
			name,
			fmt.Sprintf("%.2f", state.Capital),
			position,
			strconv.Itoa(len(state.Trades)),
		})
	}
	table.Render()

	if !snapshot.UpdatedAt.IsZero() {
		fmt.Printf("last updated %s\n", snapshot.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return err
	}

	store := storage.NewFileSnapshotStore(cfg.SnapshotPath)
	snapshot, err := store.Load()
	if err != nil {
		return err
	}

	if !resetYes && !confirmReset() {
		fmt.Println("aborted")
		return nil
	}

	if resetStrategy == "" {
		return store.Save(core.NewSnapshot())
	}

	if _, ok := snapshot.Strategies[resetStrategy]; !ok {
		return fmt.Errorf("strategy %q has no persisted state", resetStrategy)
	}

	delete(snapshot.Strategies, resetStrategy)
	return store.Save(snapshot)
}

func confirmReset() bool {
	target := "ALL strategies"
	if resetStrategy != "" {
		target = fmt.Sprintf("strategy %q", resetStrategy)
	}

	fmt.Printf("This discards capital, positions and trade history of %s. Continue? [y/N] ", target)

	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}
