package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtestsim/internal/barmodel"
	"backtestsim/internal/config"
	"backtestsim/internal/execution"
	"backtestsim/internal/scheduler"
	"backtestsim/internal/strategy"
)

func flatSnapshot(date time.Time, prices map[string]string) barmodel.Snapshot {
	bars := make(map[string]barmodel.Bar, len(prices))
	for sym, p := range prices {
		c, _ := decimal.NewFromString(p)
		bars[sym] = barmodel.Bar{Date: date, Symbol: sym, Close: c, Volume: 1_000_000}
	}
	return barmodel.Snapshot{Date: date, Bars: bars, Features: map[string]barmodel.Features{}}
}

func zeroCostExec() execution.Params {
	return execution.Params{
		FeeBps: decimal.Zero, FeeFixed: decimal.Zero, SlippageBps: decimal.Zero,
		MaxTradeParticipation: decimal.NewFromFloat(1),
	}
}

// TestNeverRebalanceHoldsEquityFlatAtConstantPrices exercises the "never"
// rebalance frequency: it fires exactly once, on the first trading date,
// per the scheduler's firesRebalance rule. With zero transaction costs and
// a constant price series thereafter, total equity must stay exactly at
// the initial capital and every daily return after day one must be zero.
func TestNeverRebalanceHoldsEquityFlatAtConstantPrices(t *testing.T) {
	initialCapital := decimal.NewFromInt(10000)
	ew := strategy.EqualWeight{}
	cfg, err := ew.ValidateConfig(strategy.RawConfig{})
	require.NoError(t, err)

	r := NewRun("s1", initialCapital, ew, cfg,
		scheduler.New(config.FrequencyNone, config.FrequencyNone), zeroCostExec(), 1, decimal.Zero, false)
	simCfg := &config.SimulationConfig{CreditDividends: false}

	dates := []time.Time{
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		snap := flatSnapshot(d, map[string]string{"AAPL": "100"})
		require.NoError(t, StepDate(r, d, snap, simCfg, nil))
	}

	require.Len(t, r.Records, 3)
	for i, rec := range r.Records {
		assert.True(t, rec.TotalEquity.Equal(initialCapital), "day %d: equity drifted to %s", i, rec.TotalEquity)
	}
	assert.True(t, r.Records[0].DailyReturn.IsZero())
	assert.True(t, r.Records[1].DailyReturn.IsZero())
	assert.Equal(t, 1, r.Records[0].TradeCountDay, "initial allocation trades once")
	assert.Equal(t, 0, r.Records[1].TradeCountDay, "never-rebalance must not trade again")
	assert.Equal(t, 0, r.Records[2].TradeCountDay)
}

// TestDailyContributionWithoutRebalanceAccumulatesInCashOnly verifies that
// under the "never" cadence (which only makes the initial allocation on the
// first date) with auto-invest off, later contributions stay in cash and
// strictly grow total equity day over day.
func TestDailyContributionWithoutRebalanceAccumulatesInCashOnly(t *testing.T) {
	initialCapital := decimal.NewFromInt(1000)
	ew := strategy.EqualWeight{}
	cfg, err := ew.ValidateConfig(strategy.RawConfig{})
	require.NoError(t, err)

	r := NewRun("s1", initialCapital, ew, cfg,
		scheduler.New(config.FrequencyNone, config.FrequencyDaily), zeroCostExec(), 1, decimal.NewFromInt(100), false)
	simCfg := &config.SimulationConfig{}

	var lastEquity decimal.Decimal
	for i, d := range []time.Time{
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC),
	} {
		snap := flatSnapshot(d, map[string]string{"AAPL": "50"})
		require.NoError(t, StepDate(r, d, snap, simCfg, nil))
		rec := r.Records[i]
		assert.True(t, rec.TotalEquity.GreaterThan(lastEquity) || i == 0 && rec.TotalEquity.Equal(initialCapital.Add(decimal.NewFromInt(100))),
			"day %d equity %s should have grown from %s", i, rec.TotalEquity, lastEquity)
		lastEquity = rec.TotalEquity
	}
	want := decimal.NewFromInt(200)
	assert.True(t, r.State.Cash.Equal(want), "cash should equal the 2 contributions of 100 made after the initial allocation, got %s", r.State.Cash)
	require.Contains(t, r.State.Positions, "AAPL")
	assert.True(t, r.State.Positions["AAPL"].Shares.Equal(decimal.NewFromInt(22)),
		"the first-date allocation invests 1000+100 at 50 and no later rebalance changes it, got %s", r.State.Positions["AAPL"].Shares)
}

// TestAccountingIdentityHoldsAcrossMovingPrices exercises several days of
// price movement after the initial allocation (all dates fall in one month,
// so the monthly cadence rebalances only on the first), asserting StepDate never returns
// the fatal accounting-invariant error (it recomputes and checks the
// identity internally every day).
func TestAccountingIdentityHoldsAcrossMovingPrices(t *testing.T) {
	initialCapital := decimal.NewFromInt(20000)
	ew := strategy.EqualWeight{}
	cfg, err := ew.ValidateConfig(strategy.RawConfig{})
	require.NoError(t, err)

	r := NewRun("s1", initialCapital, ew, cfg,
		scheduler.New(config.FrequencyMonthly, config.FrequencyNone), zeroCostExec(), 7, decimal.Zero, false)
	simCfg := &config.SimulationConfig{}

	prices := []string{"100", "102", "98", "110", "90"}
	for i, p := range prices {
		d := time.Date(2020, 1, 2+i, 0, 0, 0, 0, time.UTC)
		snap := flatSnapshot(d, map[string]string{"AAPL": p, "MSFT": "50"})
		require.NoError(t, StepDate(r, d, snap, simCfg, nil))
	}
	assert.Len(t, r.Records, len(prices))
}

// TestYearlyRebalanceOnlyTradesAtYearBoundary checks a yearly-frequency
// schedule trades once on the first date (the genesis allocation, which the
// scheduler treats as the natural first rebalance) and again only once the
// calendar crosses into the next year. AAPL doubles mid-year, so the
// new-year rebalance has drift to correct and produces fills.
func TestYearlyRebalanceOnlyTradesAtYearBoundary(t *testing.T) {
	initialCapital := decimal.NewFromInt(10000)
	ew := strategy.EqualWeight{}
	cfg, err := ew.ValidateConfig(strategy.RawConfig{})
	require.NoError(t, err)

	r := NewRun("s1", initialCapital, ew, cfg,
		scheduler.New(config.FrequencyYearly, config.FrequencyNone), zeroCostExec(), 3, decimal.Zero, false)
	simCfg := &config.SimulationConfig{}

	days := []struct {
		date   time.Time
		prices map[string]string
	}{
		{time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), map[string]string{"AAPL": "100", "MSFT": "100"}},
		{time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC), map[string]string{"AAPL": "200", "MSFT": "100"}},
		{time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC), map[string]string{"AAPL": "200", "MSFT": "100"}},
	}
	for _, d := range days {
		snap := flatSnapshot(d.date, d.prices)
		require.NoError(t, StepDate(r, d.date, snap, simCfg, nil))
	}
	assert.Equal(t, 2, r.Records[0].TradeCountDay, "first date always establishes the initial allocation (one buy per symbol)")
	assert.Equal(t, 0, r.Records[1].TradeCountDay, "mid-year date must not trigger a yearly rebalance")
	assert.Equal(t, 2, r.Records[2].TradeCountDay, "first trading date of the new year must rebalance (sell AAPL, buy MSFT)")
}
