// Package execution implements C3, the cost and execution model: turning a
// TargetAllocation into a deterministic, cost- and liquidity-aware list of
// trade fills against a PortfolioState.
package execution

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"backtestsim/internal/alloc"
	"backtestsim/internal/barmodel"
	"backtestsim/internal/portfolio"
	"backtestsim/internal/simerrors"
)

// Params holds the fee/slippage/liquidity parameters applied uniformly to
// every trade in a run (per-strategy execution overrides layer on top of
// these before being passed in).
type Params struct {
	FeeBps               decimal.Decimal
	FeeFixed             decimal.Decimal
	SlippageBps          decimal.Decimal
	MaxTradeParticipation decimal.Decimal
}

// TradeFill is the full reporting record for one executed trade, matching
// the trades.csv column layout exactly.
type TradeFill struct {
	Date          time.Time
	StrategyID    string
	Symbol        string
	Side          portfolio.Side
	Shares        decimal.Decimal
	ExecutedPrice decimal.Decimal
	GrossValue    decimal.Decimal
	SlippageCost  decimal.Decimal
	FeeCost       decimal.Decimal
	NetCashImpact decimal.Decimal
	LiquidityClipped bool
}

var epsilonTradeFraction = decimal.New(1, -6)

const tenThousand = 10000

// Execute computes the fills that move state toward target, subject to
// slippage, fees, the liquidity participation cap, epsilon trade
// suppression, and cash feasibility, in sell-before-buy, symbol-lexicographic
// order.
func Execute(date time.Time, strategyID string, state *portfolio.State, snap barmodel.Snapshot, target alloc.TargetAllocation, p Params) ([]TradeFill, []simerrors.Warning, error) {
	if err := target.Validate(); err != nil {
		return nil, nil, err
	}

	totalEquity := state.TotalEquity()
	epsilonTrade := totalEquity.Mul(epsilonTradeFraction)

	type delta struct {
		symbol     string
		deltaDollar decimal.Decimal
		close      decimal.Decimal
		volume     int64
	}

	symbols := make(map[string]struct{})
	for s := range target.Weights {
		symbols[s] = struct{}{}
	}
	for s := range state.Positions {
		symbols[s] = struct{}{}
	}

	var deltas []delta
	for symbol := range symbols {
		bar, ok := snap.Bars[symbol]
		if !ok {
			continue // not tradable today; existing position (if any) just carries
		}
		close := bar.Close
		currentShares := decimal.Zero
		if pos, ok := state.Positions[symbol]; ok {
			currentShares = pos.Shares
		}
		currentDollar := currentShares.Mul(close)
		desiredDollar := target.Weights[symbol].Mul(totalEquity)
		deltas = append(deltas, delta{
			symbol:      symbol,
			deltaDollar: desiredDollar.Sub(currentDollar),
			close:       close,
			volume:      bar.Volume,
		})
	}

	var sells, buys []delta
	for _, d := range deltas {
		if d.deltaDollar.IsNegative() {
			sells = append(sells, d)
		} else if d.deltaDollar.IsPositive() {
			buys = append(buys, d)
		}
	}
	sort.Slice(sells, func(i, j int) bool { return sells[i].symbol < sells[j].symbol })
	sort.Slice(buys, func(i, j int) bool { return buys[i].symbol < buys[j].symbol })

	var warnings []simerrors.Warning
	var fills []TradeFill

	buildFill := func(d delta, side portfolio.Side, shares decimal.Decimal, clipped bool) TradeFill {
		sign := decimal.NewFromInt(1)
		if side == portfolio.Sell {
			sign = decimal.NewFromInt(-1)
		}
		executedPrice := d.close.Mul(decimal.NewFromInt(1).Add(sign.Mul(p.SlippageBps).Div(decimal.NewFromInt(tenThousand))))
		grossValue := shares.Mul(d.close)
		slippageCost := executedPrice.Sub(d.close).Abs().Mul(shares)
		feeCost := grossValue.Mul(p.FeeBps).Div(decimal.NewFromInt(tenThousand)).Add(p.FeeFixed)

		var netCashImpact decimal.Decimal
		if side == portfolio.Buy {
			netCashImpact = grossValue.Add(slippageCost).Add(feeCost).Neg()
		} else {
			netCashImpact = grossValue.Sub(slippageCost).Sub(feeCost)
		}

		return TradeFill{
			Date: date, StrategyID: strategyID, Symbol: d.symbol, Side: side,
			Shares: shares, ExecutedPrice: executedPrice, GrossValue: grossValue,
			SlippageCost: slippageCost, FeeCost: feeCost, NetCashImpact: netCashImpact,
			LiquidityClipped: clipped,
		}
	}

	liquidityClip := func(d delta, wantShares decimal.Decimal) (decimal.Decimal, bool) {
		if d.volume <= 0 {
			return decimal.Zero, true
		}
		cap := p.MaxTradeParticipation.Mul(decimal.NewFromInt(d.volume))
		if wantShares.GreaterThan(cap) {
			return cap, true
		}
		return wantShares, false
	}

	for _, d := range sells {
		wantShares := d.deltaDollar.Abs().Div(d.close)
		shares, clipped := liquidityClip(d, wantShares)
		if shares.IsZero() {
			continue
		}
		f := buildFill(d, portfolio.Sell, shares, clipped)
		if f.GrossValue.LessThan(epsilonTrade) {
			continue
		}
		if clipped {
			warnings = append(warnings, simerrors.NewWarning(simerrors.KindLiquidityClip,
				"%s: sell of %s clipped to %s shares by participation cap", date.Format("2006-01-02"), d.symbol, shares))
		}
		fills = append(fills, f)
	}

	runningCash := state.Cash
	for _, f := range fills { // sells credit cash immediately, funding buys
		runningCash = runningCash.Add(f.NetCashImpact)
	}

	for _, d := range buys {
		wantShares := d.deltaDollar.Div(d.close)
		shares, clipped := liquidityClip(d, wantShares)
		if shares.IsZero() {
			continue
		}
		f := buildFill(d, portfolio.Buy, shares, clipped)
		if f.GrossValue.LessThan(epsilonTrade) {
			continue
		}

		cost := f.NetCashImpact.Neg() // positive cash outflow
		if cost.GreaterThan(runningCash) {
			// The fixed fee does not shrink with the trade, so only the
			// cash left after it is available for the scaled portion.
			budget := runningCash.Sub(p.FeeFixed)
			if !budget.IsPositive() {
				continue
			}
			scale := budget.Div(cost.Sub(p.FeeFixed))
			shares = shares.Mul(scale)
			f = buildFill(d, portfolio.Buy, shares, true)
			cost = f.NetCashImpact.Neg()
			clipped = true
		}
		if f.GrossValue.LessThan(epsilonTrade) {
			continue
		}
		runningCash = runningCash.Sub(cost)
		if clipped {
			warnings = append(warnings, simerrors.NewWarning(simerrors.KindLiquidityClip,
				"%s: buy of %s scaled to %s shares for cash feasibility or participation cap", date.Format("2006-01-02"), d.symbol, shares))
		}
		fills = append(fills, f)
	}

	return fills, warnings, nil
}

// Turnover computes turnover_day = sum(|gross_value|) / total_equity_start_of_day.
func Turnover(fills []TradeFill, totalEquityStartOfDay decimal.Decimal) decimal.Decimal {
	if totalEquityStartOfDay.IsZero() {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, f := range fills {
		sum = sum.Add(f.GrossValue.Abs())
	}
	return sum.Div(totalEquityStartOfDay)
}
