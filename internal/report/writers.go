package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"backtestsim/internal/engine"
	"backtestsim/internal/execution"
	"backtestsim/internal/simerrors"
)

const dateLayout = "2006-01-02"

// WriteDailyEquity writes daily_equity.csv (§6): one row per
// (strategy, date), in the order records were produced.
func WriteDailyEquity(dir string, runs []*engine.Run) error {
	f, err := createFile(dir, "daily_equity.csv")
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"date", "strategy_id", "cash", "positions_market_value", "total_equity",
		"daily_return", "cumulative_return", "contribution_cumulative",
		"trade_count_day", "turnover_day",
	}
	if err := w.Write(header); err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "write daily_equity.csv header", err)
	}

	for _, r := range runs {
		for _, rec := range r.Records {
			row := []string{
				rec.Date.Format(dateLayout),
				rec.StrategyID,
				rec.Cash.String(),
				rec.PositionsMarketValue.String(),
				rec.TotalEquity.String(),
				optionalDecimal(rec.DailyReturn, rec.DailyReturnValid),
				rec.CumulativeReturn.String(),
				rec.ContributionCumulative.String(),
				itoa(rec.TradeCountDay),
				rec.TurnoverDay.String(),
			}
			if err := w.Write(row); err != nil {
				return simerrors.Wrap(simerrors.KindDataError, "write daily_equity.csv row", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

// WriteTrades writes trades.csv (§6): one row per executed fill across all
// strategies, merged into (date, strategy_id, symbol) order so a
// multi-strategy run's ledger interleaves strategies within a day instead of
// running strategy-major (§5 ordering guarantee).
func WriteTrades(dir string, runs []*engine.Run) error {
	f, err := createFile(dir, "trades.csv")
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"date", "strategy_id", "symbol", "side", "shares", "price",
		"gross_value", "slippage_cost", "fee_cost", "net_cash_impact",
	}
	if err := w.Write(header); err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "write trades.csv header", err)
	}

	fills := FillsFor(runs)
	sort.SliceStable(fills, func(i, j int) bool {
		if !fills[i].Date.Equal(fills[j].Date) {
			return fills[i].Date.Before(fills[j].Date)
		}
		if fills[i].StrategyID != fills[j].StrategyID {
			return fills[i].StrategyID < fills[j].StrategyID
		}
		return fills[i].Symbol < fills[j].Symbol
	})

	for _, t := range fills {
		row := []string{
			t.Date.Format(dateLayout),
			t.StrategyID,
			t.Symbol,
			string(t.Side),
			t.Shares.String(),
			t.ExecutedPrice.String(),
			t.GrossValue.String(),
			t.SlippageCost.String(),
			t.FeeCost.String(),
			t.NetCashImpact.String(),
		}
		if err := w.Write(row); err != nil {
			return simerrors.Wrap(simerrors.KindDataError, "write trades.csv row", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteAnnualSummary writes annual_summary.csv (§6), one row per
// (strategy, year), strategies in the order given (config order) and each
// strategy's years in the order of its summaries.
func WriteAnnualSummary(dir string, allSummaries [][]AnnualSummary) error {
	f, err := createFile(dir, "annual_summary.csv")
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"strategy_id", "year", "start_equity", "end_equity", "net_contributions_year",
		"return_year", "max_drawdown_year", "volatility_year",
	}
	if err := w.Write(header); err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "write annual_summary.csv header", err)
	}

	for _, summaries := range allSummaries {
		for _, s := range summaries {
			row := []string{
				s.StrategyID,
				itoa(s.Year),
				s.StartEquity.String(),
				s.EndEquity.String(),
				s.NetContributionsYear.String(),
				s.ReturnYear.String(),
				s.MaxDrawdownYear.String(),
				s.VolatilityYear.String(),
			}
			if err := w.Write(row); err != nil {
				return simerrors.Wrap(simerrors.KindDataError, "write annual_summary.csv row", err)
			}
		}
	}
	w.Flush()
	return w.Error()
}

// WriteTerminalSummary writes terminal_summary.csv (§6), one row per
// strategy, in config order.
func WriteTerminalSummary(dir string, summaries []TerminalSummary) error {
	f, err := createFile(dir, "terminal_summary.csv")
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"strategy_id", "final_equity", "total_contributions", "net_profit", "cagr",
		"max_drawdown", "annualized_volatility", "sharpe_proxy", "total_trades", "avg_turnover",
	}
	if err := w.Write(header); err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "write terminal_summary.csv header", err)
	}

	for _, s := range summaries {
		row := []string{
			s.StrategyID,
			s.FinalEquity.String(),
			s.TotalContributions.String(),
			s.NetProfit.String(),
			s.CAGR.String(),
			s.MaxDrawdown.String(),
			s.AnnualizedVolatility.String(),
			s.SharpeProxy.String(),
			itoa(s.TotalTrades),
			s.AvgTurnover.String(),
		}
		if err := w.Write(row); err != nil {
			return simerrors.Wrap(simerrors.KindDataError, "write terminal_summary.csv row", err)
		}
	}
	w.Flush()
	return w.Error()
}

// Manifest is run_manifest.json's contents (§6): the resolved configuration
// and every warning accumulated during the run, so a reader can audit
// exactly what produced a given set of CSVs without re-running anything.
type Manifest struct {
	RunID           string            `json:"run_id"`
	GeneratedAt     string            `json:"generated_at"`
	SoftwareVersion string            `json:"software_version"`
	WallTimeSeconds float64           `json:"wall_time_seconds"`
	DataPath        string            `json:"data_path"`
	StartDate       string            `json:"start_date"`
	EndDate         string            `json:"end_date"`
	Engine          string            `json:"engine"`
	PriceSeriesMode string            `json:"price_series_mode"`
	Seed            int64             `json:"seed"`
	DatesSeen       int               `json:"dates_seen"`
	Cancelled       bool              `json:"cancelled"`
	Strategies      []string          `json:"strategies"`
	Warnings        []ManifestWarning `json:"warnings"`
}

// ManifestWarning is the JSON-serializable form of simerrors.Warning.
type ManifestWarning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// WriteManifest writes run_manifest.json. generatedAt must be supplied by
// the caller (not computed here) since package report never calls
// time.Now directly, keeping the package deterministic given its inputs.
func WriteManifest(dir string, m Manifest) error {
	f, err := createFile(dir, "run_manifest.json")
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return simerrors.Wrap(simerrors.KindDataError, "write run_manifest.json", err)
	}
	return nil
}

// ToManifestWarnings converts the engine's warning type to the JSON form.
func ToManifestWarnings(warnings []simerrors.Warning) []ManifestWarning {
	out := make([]ManifestWarning, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, ManifestWarning{Kind: w.Kind.String(), Message: w.Message})
	}
	return out
}

// FillsFor flattens every run's fills in config order, unsorted. Used by
// WriteTrades (which re-sorts into (date, strategy_id, symbol) order) and by
// callers that want the combined ledger directly.
func FillsFor(runs []*engine.Run) []execution.TradeFill {
	var all []execution.TradeFill
	for _, r := range runs {
		all = append(all, r.Fills...)
	}
	return all
}

func createFile(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, simerrors.Wrap(simerrors.KindConfigError, "create output directory "+dir, err)
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, simerrors.Wrap(simerrors.KindDataError, "create "+name, err)
	}
	return f, nil
}

func optionalDecimal(d interface{ String() string }, valid bool) string {
	if !valid {
		return ""
	}
	return d.String()
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
