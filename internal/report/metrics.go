// Package report implements C7 (metrics aggregation) and the ambient
// "file writing" external collaborator named in §6/§1: annual and terminal
// summaries derived purely from DailyRecords and the trade ledger (never
// raw market data), plus the CSV/JSON artifact writers.
package report

import (
	"math"

	"github.com/shopspring/decimal"

	"backtestsim/internal/engine"
	"backtestsim/internal/execution"
)

const tradingDaysPerYear = 252

// AnnualSummary is one (strategy, year) row of annual_summary.csv.
type AnnualSummary struct {
	StrategyID            string
	Year                  int
	StartEquity           decimal.Decimal
	EndEquity             decimal.Decimal
	NetContributionsYear  decimal.Decimal
	ReturnYear            decimal.Decimal
	MaxDrawdownYear       decimal.Decimal
	VolatilityYear        decimal.Decimal
}

// TerminalSummary is one strategy's terminal_summary.csv row.
type TerminalSummary struct {
	StrategyID           string
	FinalEquity          decimal.Decimal
	TotalContributions   decimal.Decimal
	NetProfit            decimal.Decimal
	CAGR                 decimal.Decimal
	MaxDrawdown          decimal.Decimal
	AnnualizedVolatility decimal.Decimal
	SharpeProxy          decimal.Decimal
	TotalTrades          int
	AvgTurnover          decimal.Decimal
}

// AnnualSummaries derives one AnnualSummary per calendar year spanned by
// records (§4.7), ordered by year. initialCapital seeds start_equity for
// the first year if records begin mid-run relative to it.
func AnnualSummaries(strategyID string, records []engine.DailyRecord, initialCapital decimal.Decimal) []AnnualSummary {
	if len(records) == 0 {
		return nil
	}

	type yearBucket struct {
		year          int
		startEquity   decimal.Decimal
		endEquity     decimal.Decimal
		startContrib  decimal.Decimal
		endContrib    decimal.Decimal
		dailyReturns  []float64
		equityCurve   []decimal.Decimal
	}

	var buckets []*yearBucket
	byYear := make(map[int]*yearBucket)
	prevEquity := initialCapital

	for _, rec := range records {
		year := rec.Date.Year()
		b, ok := byYear[year]
		if !ok {
			b = &yearBucket{year: year, startEquity: prevEquity}
			byYear[year] = b
			buckets = append(buckets, b)
		}
		b.endEquity = rec.TotalEquity
		b.endContrib = rec.ContributionCumulative
		if b.startContrib.IsZero() && len(b.dailyReturns) == 0 {
			b.startContrib = rec.ContributionCumulative.Sub(contributionDeltaForFirstRow(records, rec))
		}
		if rec.DailyReturnValid {
			b.dailyReturns = append(b.dailyReturns, toFloat(rec.DailyReturn))
		}
		b.equityCurve = append(b.equityCurve, rec.TotalEquity)
		prevEquity = rec.TotalEquity
	}

	out := make([]AnnualSummary, 0, len(buckets))
	for _, b := range buckets {
		netContrib := b.endContrib.Sub(b.startContrib)
		returnYear := decimal.Zero
		if b.startEquity.IsPositive() {
			returnYear = compoundReturn(b.dailyReturns)
		}
		out = append(out, AnnualSummary{
			StrategyID:           strategyID,
			Year:                 b.year,
			StartEquity:          b.startEquity,
			EndEquity:            b.endEquity,
			NetContributionsYear: netContrib,
			ReturnYear:           returnYear,
			MaxDrawdownYear:      maxDrawdown(b.equityCurve),
			VolatilityYear:       annualizedVolatility(b.dailyReturns),
		})
	}
	return out
}

// contributionDeltaForFirstRow finds the previous record's cumulative
// contribution so a year's starting contribution baseline excludes that
// year's own first-day contribution.
func contributionDeltaForFirstRow(records []engine.DailyRecord, row engine.DailyRecord) decimal.Decimal {
	for i, r := range records {
		if r.Date.Equal(row.Date) {
			if i == 0 {
				return decimal.Zero
			}
			return records[i].ContributionCumulative.Sub(records[i-1].ContributionCumulative)
		}
	}
	return decimal.Zero
}

// TerminalMetrics derives the full-run terminal summary (§4.7). years is
// the elapsed time in years over the run (calendar days / 365.25) used for
// CAGR.
func TerminalMetrics(strategyID string, records []engine.DailyRecord, fills []execution.TradeFill, initialCapital decimal.Decimal, years float64) TerminalSummary {
	if len(records) == 0 {
		return TerminalSummary{StrategyID: strategyID}
	}
	last := records[len(records)-1]
	finalEquity := last.TotalEquity
	totalContributions := last.ContributionCumulative
	netProfit := finalEquity.Sub(initialCapital).Sub(totalContributions)

	totalInvested := initialCapital.Add(totalContributions)
	cagr := decimal.Zero
	if totalInvested.IsPositive() && years > 0 {
		ratio := toFloat(finalEquity) / toFloat(totalInvested)
		if ratio > 0 {
			cagr = decimal.NewFromFloat(math.Pow(ratio, 1/years) - 1)
		}
	}

	var dailyReturns []float64
	var equityCurve []decimal.Decimal
	for _, r := range records {
		if r.DailyReturnValid {
			dailyReturns = append(dailyReturns, toFloat(r.DailyReturn))
		}
		equityCurve = append(equityCurve, r.TotalEquity)
	}

	mean, stdev := meanStdev(dailyReturns)
	sharpe := decimal.Zero
	if stdev > 0 {
		sharpe = decimal.NewFromFloat(mean / stdev * math.Sqrt(tradingDaysPerYear))
	}

	totalTrades := 0
	turnoverSum := decimal.Zero
	for _, r := range records {
		totalTrades += r.TradeCountDay
		turnoverSum = turnoverSum.Add(r.TurnoverDay)
	}
	avgTurnover := decimal.Zero
	if len(records) > 0 {
		avgTurnover = turnoverSum.Div(decimal.NewFromInt(int64(len(records))))
	}

	return TerminalSummary{
		StrategyID:           strategyID,
		FinalEquity:          finalEquity,
		TotalContributions:   totalContributions,
		NetProfit:            netProfit,
		CAGR:                 cagr,
		MaxDrawdown:          maxDrawdown(equityCurve),
		AnnualizedVolatility: annualizedVolatility(dailyReturns),
		SharpeProxy:          sharpe,
		TotalTrades:          totalTrades,
		AvgTurnover:          avgTurnover,
	}
}

func compoundReturn(dailyReturns []float64) decimal.Decimal {
	product := 1.0
	for _, r := range dailyReturns {
		product *= 1 + r
	}
	return decimal.NewFromFloat(product - 1)
}

func maxDrawdown(equityCurve []decimal.Decimal) decimal.Decimal {
	if len(equityCurve) == 0 {
		return decimal.Zero
	}
	peak := equityCurve[0]
	worst := decimal.Zero
	for _, e := range equityCurve {
		if e.GreaterThan(peak) {
			peak = e
		}
		if peak.IsPositive() {
			drawdown := peak.Sub(e).Div(peak)
			if drawdown.GreaterThan(worst) {
				worst = drawdown
			}
		}
	}
	return worst
}

func annualizedVolatility(dailyReturns []float64) decimal.Decimal {
	_, stdev := meanStdev(dailyReturns)
	return decimal.NewFromFloat(stdev * math.Sqrt(tradingDaysPerYear))
}

func meanStdev(values []float64) (mean, stdev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(len(values)-1)
	return mean, math.Sqrt(variance)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
