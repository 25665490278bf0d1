package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtestsim/internal/engine"
	"backtestsim/internal/execution"
)

func rec(date time.Time, equity, contribCumulative string, dailyReturn string, valid bool) engine.DailyRecord {
	eq, _ := decimal.NewFromString(equity)
	contrib, _ := decimal.NewFromString(contribCumulative)
	ret, _ := decimal.NewFromString(dailyReturn)
	return engine.DailyRecord{
		Date: date, TotalEquity: eq, ContributionCumulative: contrib,
		DailyReturn: ret, DailyReturnValid: valid,
	}
}

func TestAnnualSummariesBucketsByCalendarYear(t *testing.T) {
	records := []engine.DailyRecord{
		rec(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), "10000", "0", "0", true),
		rec(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), "11000", "0", "0.1", true),
		rec(time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), "11000", "0", "0", true),
		rec(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), "12100", "0", "0.1", true),
	}
	summaries := AnnualSummaries("s1", records, decimal.NewFromInt(10000))
	require.Len(t, summaries, 2)
	assert.Equal(t, 2020, summaries[0].Year)
	assert.True(t, summaries[0].StartEquity.Equal(decimal.NewFromInt(10000)))
	assert.True(t, summaries[0].EndEquity.Equal(decimal.NewFromInt(11000)))
	assert.Equal(t, 2021, summaries[1].Year)
	assert.True(t, summaries[1].StartEquity.Equal(decimal.NewFromInt(11000)), "2021 must start where 2020 ended")
}

func TestAnnualSummariesEmptyRecordsIsNil(t *testing.T) {
	assert.Nil(t, AnnualSummaries("s1", nil, decimal.NewFromInt(1000)))
}

func TestTerminalMetricsComputesNetProfitAndCAGR(t *testing.T) {
	records := []engine.DailyRecord{
		rec(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), "10000", "0", "0", true),
		rec(time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC), "12000", "0", "0.2", true),
	}
	metrics := TerminalMetrics("s1", records, nil, decimal.NewFromInt(10000), 1.0)
	assert.True(t, metrics.FinalEquity.Equal(decimal.NewFromInt(12000)))
	assert.True(t, metrics.NetProfit.Equal(decimal.NewFromInt(2000)), "no contributions: net profit = final - initial, got %s", metrics.NetProfit)
	assert.True(t, metrics.CAGR.GreaterThan(decimal.Zero), "positive one-year return should yield a positive CAGR")
}

func TestTerminalMetricsEmptyRecordsReturnsZeroedSummary(t *testing.T) {
	m := TerminalMetrics("s1", nil, nil, decimal.NewFromInt(1000), 1.0)
	assert.Equal(t, "s1", m.StrategyID)
	assert.True(t, m.FinalEquity.IsZero())
}

func TestTerminalMetricsAggregatesTradeCountsAndTurnover(t *testing.T) {
	records := []engine.DailyRecord{
		{Date: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), TotalEquity: decimal.NewFromInt(10000), TradeCountDay: 2, TurnoverDay: decimal.NewFromFloat(0.5), DailyReturnValid: true},
		{Date: time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC), TotalEquity: decimal.NewFromInt(10000), TradeCountDay: 0, TurnoverDay: decimal.Zero, DailyReturnValid: true},
	}
	m := TerminalMetrics("s1", records, nil, decimal.NewFromInt(10000), 1.0)
	assert.Equal(t, 2, m.TotalTrades)
	assert.True(t, m.AvgTurnover.Equal(decimal.NewFromFloat(0.25)), "got %s", m.AvgTurnover)
}

func TestMaxDrawdownTracksWorstPeakToTroughDrop(t *testing.T) {
	curve := []decimal.Decimal{
		decimal.NewFromInt(100), decimal.NewFromInt(120), decimal.NewFromInt(90), decimal.NewFromInt(110),
	}
	dd := maxDrawdown(curve)
	expected := decimal.NewFromInt(30).Div(decimal.NewFromInt(120))
	assert.True(t, dd.Equal(expected), "drawdown from peak 120 to trough 90 should be 25%%, got %s", dd)
}

func TestTurnoverHelperUnaffectedByZeroDivision(t *testing.T) {
	assert.True(t, execution.Turnover(nil, decimal.Zero).IsZero())
}
