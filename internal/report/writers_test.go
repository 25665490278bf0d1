package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtestsim/internal/engine"
	"backtestsim/internal/execution"
	"backtestsim/internal/portfolio"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteDailyEquityHeaderAndRowsMatchSchema(t *testing.T) {
	dir := t.TempDir()
	run := &engine.Run{
		StrategyID: "s1",
		Records: []engine.DailyRecord{
			{
				Date: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), StrategyID: "s1",
				Cash: decimal.NewFromInt(100), PositionsMarketValue: decimal.NewFromInt(900),
				TotalEquity: decimal.NewFromInt(1000), DailyReturn: decimal.Zero, DailyReturnValid: true,
				CumulativeReturn: decimal.Zero, ContributionCumulative: decimal.Zero,
				TradeCountDay: 1, TurnoverDay: decimal.NewFromFloat(0.1),
			},
		},
	}
	require.NoError(t, WriteDailyEquity(dir, []*engine.Run{run}))

	rows := readCSV(t, filepath.Join(dir, "daily_equity.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"date", "strategy_id", "cash", "positions_market_value", "total_equity",
		"daily_return", "cumulative_return", "contribution_cumulative",
		"trade_count_day", "turnover_day",
	}, rows[0])
	assert.Equal(t, "2020-01-02", rows[1][0])
	assert.Equal(t, "s1", rows[1][1])
}

func TestWriteDailyEquityOmitsInvalidDailyReturn(t *testing.T) {
	dir := t.TempDir()
	run := &engine.Run{
		Records: []engine.DailyRecord{
			{Date: time.Now(), DailyReturnValid: false},
		},
	}
	require.NoError(t, WriteDailyEquity(dir, []*engine.Run{run}))
	rows := readCSV(t, filepath.Join(dir, "daily_equity.csv"))
	assert.Equal(t, "", rows[1][5], "invalid daily return must be written as empty, not a stray decimal value")
}

func TestWriteTradesHeaderHasTenColumnsNoLiquidityFlag(t *testing.T) {
	dir := t.TempDir()
	run := &engine.Run{
		Fills: []execution.TradeFill{
			{
				Date: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), StrategyID: "s1", Symbol: "AAPL",
				Side: portfolio.Buy, Shares: decimal.NewFromInt(10), ExecutedPrice: decimal.NewFromInt(100),
				GrossValue: decimal.NewFromInt(1000), SlippageCost: decimal.Zero, FeeCost: decimal.Zero,
				NetCashImpact: decimal.NewFromInt(-1000), LiquidityClipped: true,
			},
		},
	}
	require.NoError(t, WriteTrades(dir, []*engine.Run{run}))

	rows := readCSV(t, filepath.Join(dir, "trades.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		"date", "strategy_id", "symbol", "side", "shares", "price",
		"gross_value", "slippage_cost", "fee_cost", "net_cash_impact",
	}, rows[0])
	assert.Len(t, rows[1], 10, "trades.csv rows must have exactly 10 fixed columns")
	assert.Equal(t, "100", rows[1][5], "price column carries the executed price")
}

func TestWriteAnnualSummaryAndTerminalSummaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	annual := [][]AnnualSummary{{{
		StrategyID: "s1", Year: 2020, StartEquity: decimal.NewFromInt(1000), EndEquity: decimal.NewFromInt(1100),
		NetContributionsYear: decimal.Zero, ReturnYear: decimal.NewFromFloat(0.1),
		MaxDrawdownYear: decimal.Zero, VolatilityYear: decimal.Zero,
	}}}
	require.NoError(t, WriteAnnualSummary(dir, annual))
	rows := readCSV(t, filepath.Join(dir, "annual_summary.csv"))
	require.Len(t, rows, 2)
	assert.Equal(t, "2020", rows[1][1])

	terminal := []TerminalSummary{{StrategyID: "s1", FinalEquity: decimal.NewFromInt(1100), TotalTrades: 3}}
	require.NoError(t, WriteTerminalSummary(dir, terminal))
	tRows := readCSV(t, filepath.Join(dir, "terminal_summary.csv"))
	require.Len(t, tRows, 2)
	assert.Equal(t, "3", tRows[1][8])
}

func TestWriteManifestRoundTripsJSON(t *testing.T) {
	dir := t.TempDir()
	m := Manifest{
		RunID: "abc", GeneratedAt: "2020-01-01T00:00:00Z", SoftwareVersion: "0.1.0",
		DataPath: "prices.csv", StartDate: "2020-01-01", EndDate: "2020-12-31",
		Engine: "streaming", PriceSeriesMode: "as_is", Seed: 42, DatesSeen: 252,
		Strategies: []string{"s1"},
		Warnings:   []ManifestWarning{{Kind: "DataWarning", Message: "dropped a bar"}},
	}
	require.NoError(t, WriteManifest(dir, m))

	data, err := os.ReadFile(filepath.Join(dir, "run_manifest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id": "abc"`)
	assert.Contains(t, string(data), `"software_version": "0.1.0"`)
}

func TestWriteTradesMergesMultipleStrategiesByDateThenStrategyThenSymbol(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)
	runA := &engine.Run{Fills: []execution.TradeFill{
		{Date: day2, StrategyID: "s1", Symbol: "MSFT"},
		{Date: day1, StrategyID: "s1", Symbol: "MSFT"},
	}}
	runB := &engine.Run{Fills: []execution.TradeFill{
		{Date: day1, StrategyID: "s2", Symbol: "AAPL"},
		{Date: day1, StrategyID: "s1", Symbol: "AAPL"},
	}}
	require.NoError(t, WriteTrades(dir, []*engine.Run{runA, runB}))

	rows := readCSV(t, filepath.Join(dir, "trades.csv"))
	require.Len(t, rows, 5)
	// day1/s1/AAPL, day1/s1/MSFT, day1/s2/AAPL, day2/s1/MSFT
	assert.Equal(t, []string{"2020-01-02", "s1", "AAPL"}, rows[1][:3])
	assert.Equal(t, []string{"2020-01-02", "s1", "MSFT"}, rows[2][:3])
	assert.Equal(t, []string{"2020-01-02", "s2", "AAPL"}, rows[3][:3])
	assert.Equal(t, []string{"2020-01-03", "s1", "MSFT"}, rows[4][:3])
}

func TestFillsForFlattensAcrossRuns(t *testing.T) {
	run1 := &engine.Run{Fills: []execution.TradeFill{{Symbol: "AAPL"}}}
	run2 := &engine.Run{Fills: []execution.TradeFill{{Symbol: "MSFT"}, {Symbol: "GOOG"}}}
	all := FillsFor([]*engine.Run{run1, run2})
	require.Len(t, all, 3)
	assert.Equal(t, "AAPL", all[0].Symbol)
	assert.Equal(t, "GOOG", all[2].Symbol)
}
