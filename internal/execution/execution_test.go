package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtestsim/internal/alloc"
	"backtestsim/internal/barmodel"
	"backtestsim/internal/portfolio"
)

func mkSnap(date time.Time, bars map[string]barmodel.Bar) barmodel.Snapshot {
	return barmodel.Snapshot{Date: date, Bars: bars, Features: map[string]barmodel.Features{}}
}

func zeroCostParams() Params {
	return Params{
		FeeBps: decimal.Zero, FeeFixed: decimal.Zero, SlippageBps: decimal.Zero,
		MaxTradeParticipation: decimal.NewFromFloat(1),
	}
}

func TestExecuteInitialAllocationNoCosts(t *testing.T) {
	state := portfolio.New("s1", decimal.NewFromInt(10000))
	date := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := mkSnap(date, map[string]barmodel.Bar{
		"AAPL": {Symbol: "AAPL", Close: decimal.NewFromInt(100), Volume: 1_000_000},
	})
	target := alloc.EqualWeight([]string{"AAPL"})

	fills, warnings, err := Execute(date, "s1", state, snap, target, zeroCostParams())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, fills, 1)
	f := fills[0]
	assert.Equal(t, portfolio.Buy, f.Side)
	assert.True(t, f.Shares.Equal(decimal.NewFromInt(100)), "expected 100 shares, got %s", f.Shares)
	assert.True(t, f.ExecutedPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, f.SlippageCost.IsZero())
	assert.True(t, f.FeeCost.IsZero())
}

func TestExecuteSellsBeforeBuysInSymbolOrder(t *testing.T) {
	state := portfolio.New("s1", decimal.NewFromInt(1000))
	require.NoError(t, state.ApplyFill(portfolio.Fill{
		Symbol: "ZETA", Side: portfolio.Buy, Shares: decimal.NewFromInt(10),
		ExecutedPrice: decimal.NewFromInt(100), GrossValue: decimal.NewFromInt(1000),
		NetCashImpact: decimal.NewFromInt(-1000),
	}))
	date := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := mkSnap(date, map[string]barmodel.Bar{
		"ZETA":  {Symbol: "ZETA", Close: decimal.NewFromInt(100), Volume: 1_000_000},
		"ALPHA": {Symbol: "ALPHA", Close: decimal.NewFromInt(50), Volume: 1_000_000},
	})
	require.NoError(t, state.MarkToMarket(snap))
	// Moving fully out of ZETA into ALPHA requires the ZETA sell to fund the ALPHA buy.
	target := alloc.TargetAllocation{Weights: map[string]decimal.Decimal{"ALPHA": decimal.NewFromInt(1)}}

	fills, _, err := Execute(date, "s1", state, snap, target, zeroCostParams())
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, portfolio.Sell, fills[0].Side)
	assert.Equal(t, "ZETA", fills[0].Symbol)
	assert.Equal(t, portfolio.Buy, fills[1].Side)
	assert.Equal(t, "ALPHA", fills[1].Symbol)
}

func TestExecuteLiquidityCapClipsTrade(t *testing.T) {
	state := portfolio.New("s1", decimal.NewFromInt(1_000_000))
	date := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := mkSnap(date, map[string]barmodel.Bar{
		"X": {Symbol: "X", Close: decimal.NewFromInt(1), Volume: 1000},
	})
	target := alloc.TargetAllocation{Weights: map[string]decimal.Decimal{"X": decimal.NewFromInt(1)}}
	params := Params{
		FeeBps: decimal.Zero, FeeFixed: decimal.Zero, SlippageBps: decimal.Zero,
		MaxTradeParticipation: decimal.NewFromFloat(0.01),
	}

	fills, warnings, err := Execute(date, "s1", state, snap, target, params)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Shares.Equal(decimal.NewFromInt(10)), "expected clip to 10 shares, got %s", fills[0].Shares)
	assert.True(t, fills[0].LiquidityClipped)
	require.Len(t, warnings, 1)
}

func TestExecuteZeroVolumeSymbolNotTraded(t *testing.T) {
	state := portfolio.New("s1", decimal.NewFromInt(10000))
	date := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := mkSnap(date, map[string]barmodel.Bar{
		"X": {Symbol: "X", Close: decimal.NewFromInt(10), Volume: 0},
	})
	target := alloc.TargetAllocation{Weights: map[string]decimal.Decimal{"X": decimal.NewFromInt(1)}}
	params := Params{MaxTradeParticipation: decimal.NewFromFloat(0.5)}

	fills, _, err := Execute(date, "s1", state, snap, target, params)
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestExecuteAppliesSlippageAndFees(t *testing.T) {
	state := portfolio.New("s1", decimal.NewFromInt(10000))
	date := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	snap := mkSnap(date, map[string]barmodel.Bar{
		"X": {Symbol: "X", Close: decimal.NewFromInt(100), Volume: 1_000_000},
	})
	target := alloc.TargetAllocation{Weights: map[string]decimal.Decimal{"X": decimal.NewFromFloat(0.5)}}
	params := Params{
		FeeBps: decimal.NewFromInt(10), FeeFixed: decimal.NewFromFloat(1),
		SlippageBps: decimal.NewFromInt(20), MaxTradeParticipation: decimal.NewFromFloat(1),
	}

	fills, _, err := Execute(date, "s1", state, snap, target, params)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	f := fills[0]
	// Buy: executed price = close * (1 + 20/10000) = 100.2
	assert.True(t, f.ExecutedPrice.Equal(decimal.NewFromFloat(100.2)), "got %s", f.ExecutedPrice)
	expectedFee := f.GrossValue.Mul(decimal.NewFromInt(10)).Div(decimal.NewFromInt(10000)).Add(decimal.NewFromFloat(1))
	assert.True(t, f.FeeCost.Equal(expectedFee))
	assert.True(t, f.NetCashImpact.IsNegative())
}

func TestTurnoverIsGrossTradedOverStartEquity(t *testing.T) {
	fills := []TradeFill{
		{GrossValue: decimal.NewFromInt(100)},
		{GrossValue: decimal.NewFromInt(200)},
	}
	turnover := Turnover(fills, decimal.NewFromInt(1000))
	assert.True(t, turnover.Equal(decimal.NewFromFloat(0.3)))
}

func TestTurnoverZeroStartEquityIsZero(t *testing.T) {
	assert.True(t, Turnover(nil, decimal.Zero).IsZero())
}
