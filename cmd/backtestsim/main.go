// Command backtestsim drives the deterministic historical portfolio
// strategy simulator from the command line (§6). Argument parsing, output
// file writing, progress printing, and manifest emission are external
// collaborators around the core engine packages (internal/engine,
// internal/portfolio, internal/execution, internal/strategy,
// internal/marketdata) which never import this package.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"backtestsim/internal/config"
	"backtestsim/internal/marketdata"
	"backtestsim/internal/orchestrate"
	"backtestsim/internal/report"
	"backtestsim/internal/simerrors"
	"backtestsim/internal/strategy"
)

// softwareVersion is echoed into run_manifest.json. It is bumped by hand on
// tagged releases; there is no build-time version injection in v1.
const softwareVersion = "0.1.0"

var (
	dataPath              string
	startDate             string
	endDate               string
	initialCapital        float64
	contributionAmount    float64
	contributionFrequency string
	feeBps                float64
	feeFixed              float64
	slippageBps           float64
	maxTradeParticipation float64
	creditDividends       bool
	priceSeriesMode       string
	strategyFile          string
	outputDir             string
	seed                  int64
	engineMode            string
	showProgress          bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "backtestsim",
		Short: "Deterministic historical portfolio strategy simulator",
		Long: `backtestsim replays a shared daily market timeline against one or more
strategy configurations and emits a per-strategy equity curve, trade ledger,
annual summary, and terminal comparative metrics.

Example:
  backtestsim --data-path bars.csv --strategy-file strategies.yaml \
    --start-date 2015-01-01 --end-date 2020-12-31 --initial-capital 10000 \
    --output-dir ./run1`,
		RunE:         run,
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&dataPath, "data-path", "", "path to the input market-bar CSV (required)")
	flags.StringVar(&startDate, "start-date", "", "simulation start date, YYYY-MM-DD (required)")
	flags.StringVar(&endDate, "end-date", "", "simulation end date, YYYY-MM-DD (required)")
	flags.Float64Var(&initialCapital, "initial-capital", 0, "starting cash for every strategy")
	flags.Float64Var(&contributionAmount, "contribution-amount", 0, "default per-contribution cash amount")
	flags.StringVar(&contributionFrequency, "contribution-frequency", "never", "never|daily|monthly|yearly")
	flags.Float64Var(&feeBps, "fee-bps", 0, "per-trade fee in basis points of gross value")
	flags.Float64Var(&feeFixed, "fee-fixed", 0, "per-trade fixed fee")
	flags.Float64Var(&slippageBps, "slippage-bps", 0, "per-trade slippage in basis points")
	flags.Float64Var(&maxTradeParticipation, "max-trade-participation", 0.01, "max fraction of a symbol's daily volume a fill may consume")
	flags.BoolVar(&creditDividends, "credit-dividends", false, "credit held-position dividends to cash before rebalance")
	flags.StringVar(&priceSeriesMode, "price-series-mode", "as_is", "as_is|raw_reconstructed")
	flags.StringVar(&strategyFile, "strategy-file", "", "path to the strategy configuration file, YAML or JSON (required)")
	flags.StringVar(&outputDir, "output-dir", "", "run output directory (required)")
	flags.Int64Var(&seed, "seed", 0, "base random seed")
	flags.StringVar(&engineMode, "engine", "streaming", "streaming|in_memory")
	flags.BoolVar(&showProgress, "progress", false, "show a progress bar while the run advances")

	if err := rootCmd.Execute(); err != nil {
		var se *simerrors.SimError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "error: %v\n", se)
			os.Exit(se.Kind.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if dataPath == "" {
		return simerrors.ConfigError("--data-path is required")
	}
	if strategyFile == "" {
		return simerrors.ConfigError("--strategy-file is required")
	}
	if outputDir == "" {
		return simerrors.ConfigError("--output-dir is required")
	}

	simCfg := &config.SimulationConfig{
		StartDate:             startDate,
		EndDate:                endDate,
		InitialCapital:         initialCapital,
		ContributionAmount:     contributionAmount,
		ContributionFrequency:  config.Frequency(contributionFrequency),
		FeeBps:                 feeBps,
		FeeFixed:               feeFixed,
		SlippageBps:            slippageBps,
		MaxTradeParticipation:  maxTradeParticipation,
		CreditDividends:        creditDividends,
		PriceSeriesMode:        priceSeriesMode,
		Seed:                   seed,
	}
	if err := simCfg.Validate(); err != nil {
		return err
	}

	strategyCfgs, err := config.LoadStrategyConfigs(strategyFile)
	if err != nil {
		return err
	}
	if len(strategyCfgs) == 0 {
		return simerrors.ConfigError("strategy file %s defines no strategies", strategyFile)
	}

	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	registry := strategy.NewRegistry()
	runs, err := orchestrate.Build(simCfg, strategyCfgs, registry)
	if err != nil {
		return err
	}

	var source marketdata.SnapshotSource
	switch engineMode {
	case "streaming", "":
		source, err = marketdata.Open(dataPath, simCfg.StartTime, simCfg.EndTime, simCfg.PriceSeriesMode, log)
	case "in_memory":
		var store *marketdata.Store
		store, err = marketdata.OpenStore(dataPath, simCfg.StartTime, simCfg.EndTime, simCfg.PriceSeriesMode, log)
		if err == nil {
			source, err = store.Cursor()
		}
	default:
		return simerrors.ConfigError("unknown --engine %q, expected streaming or in_memory", engineMode)
	}
	if err != nil {
		return err
	}
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	runStart := time.Now()

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Simulating"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]█[reset]",
				SaucerHead:    "[green]█[reset]",
				SaucerPadding: "░",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	result, err := orchestrate.Run(ctx, simCfg, source, runs, log, func(date time.Time) {
		if bar != nil {
			bar.Add(1)
		}
	})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return simerrors.Wrap(simerrors.KindConfigError, "create output directory", err)
	}
	if err := report.WriteDailyEquity(outputDir, result.Runs); err != nil {
		return err
	}
	if err := report.WriteTrades(outputDir, result.Runs); err != nil {
		return err
	}

	years := simCfg.EndTime.Sub(simCfg.StartTime).Hours() / 24 / 365.25
	var annualAll [][]report.AnnualSummary
	var terminals []report.TerminalSummary
	initialCapitalDec := decimal.NewFromFloat(simCfg.InitialCapital)
	for _, r := range result.Runs {
		annualAll = append(annualAll, report.AnnualSummaries(r.StrategyID, r.Records, initialCapitalDec))
		terminals = append(terminals, report.TerminalMetrics(r.StrategyID, r.Records, r.Fills, initialCapitalDec, years))
	}
	if err := report.WriteAnnualSummary(outputDir, annualAll); err != nil {
		return err
	}
	if err := report.WriteTerminalSummary(outputDir, terminals); err != nil {
		return err
	}

	warnings := append([]simerrors.Warning{}, result.Warnings...)
	if w, ok := simCfg.CrossFieldWarning(); ok {
		warnings = append(warnings, w)
	}

	strategyIDs := make([]string, 0, len(result.Runs))
	for _, r := range result.Runs {
		strategyIDs = append(strategyIDs, r.StrategyID)
	}
	manifest := report.Manifest{
		RunID:           uuid.NewString(),
		GeneratedAt:     time.Now().Format(time.RFC3339),
		SoftwareVersion: softwareVersion,
		WallTimeSeconds: time.Since(runStart).Seconds(),
		DataPath:        dataPath,
		StartDate:       startDate,
		EndDate:         endDate,
		Engine:          engineMode,
		PriceSeriesMode: simCfg.PriceSeriesMode,
		Seed:            simCfg.Seed,
		DatesSeen:       result.DatesSeen,
		Cancelled:       result.Cancelled,
		Strategies:      strategyIDs,
		Warnings:        report.ToManifestWarnings(warnings),
	}
	if err := report.WriteManifest(outputDir, manifest); err != nil {
		return err
	}

	printSummaryTable(terminals)

	if result.Cancelled {
		return simerrors.Cancelled()
	}
	return nil
}

func printSummaryTable(terminals []report.TerminalSummary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Strategy", "Final Equity", "Net Profit", "CAGR", "Max DD", "Sharpe", "Trades"})
	for _, t := range terminals {
		table.Append([]string{
			t.StrategyID,
			t.FinalEquity.StringFixed(2),
			t.NetProfit.StringFixed(2),
			t.CAGR.StringFixed(4),
			t.MaxDrawdown.StringFixed(4),
			t.SharpeProxy.StringFixed(4),
			fmt.Sprintf("%d", t.TotalTrades),
		})
	}
	table.Render()
}
