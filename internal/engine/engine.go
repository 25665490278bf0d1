// Package engine implements C6, the daily event pipeline: for one strategy
// and one date, apply dividends, contributions, rebalance and execution,
// mark-to-market, and emit a DailyRecord, in the exact sequence of §4.6.
package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtestsim/internal/barmodel"
	"backtestsim/internal/config"
	"backtestsim/internal/execution"
	"backtestsim/internal/portfolio"
	"backtestsim/internal/scheduler"
	"backtestsim/internal/simerrors"
	"backtestsim/internal/strategy"
)

// DailyRecord is the per-(strategy,date) output record, matching the
// daily_equity.csv column layout exactly (§6).
type DailyRecord struct {
	Date                   time.Time
	StrategyID             string
	Cash                   decimal.Decimal
	PositionsMarketValue   decimal.Decimal
	TotalEquity            decimal.Decimal
	DailyReturn            decimal.Decimal
	DailyReturnValid       bool
	CumulativeReturn       decimal.Decimal
	ContributionCumulative decimal.Decimal
	TradeCountDay          int
	TurnoverDay            decimal.Decimal
}

// Run is one strategy's full mutable run state: its owned PortfolioState,
// its plugin and validated plugin config, its schedule, its execution
// parameters (after any per-strategy override), and its accumulated output
// buffers. Each Run is exclusively owned by one strategy, never shared.
type Run struct {
	StrategyID   string
	Plugin       strategy.Plugin
	PluginConfig strategy.Config
	Schedule     scheduler.Schedule
	ExecParams   execution.Params
	Seed         int64

	AutoInvestNewCash  bool
	ContributionAmount decimal.Decimal

	State    *portfolio.State
	calendar scheduler.TradingCalendar

	prevTotalEquity decimal.Decimal
	firstDay        bool

	Records  []DailyRecord
	Fills    []execution.TradeFill
	Warnings []simerrors.Warning
}

// NewRun constructs a Run with a fresh PortfolioState seeded with the run's
// initial capital.
func NewRun(strategyID string, initialCapital decimal.Decimal, plugin strategy.Plugin, pluginCfg strategy.Config,
	sched scheduler.Schedule, execParams execution.Params, seed int64, contributionAmount decimal.Decimal, autoInvest bool) *Run {
	return &Run{
		StrategyID:         strategyID,
		Plugin:             plugin,
		PluginConfig:       pluginCfg,
		Schedule:           sched,
		ExecParams:         execParams,
		Seed:               seed,
		ContributionAmount: contributionAmount,
		AutoInvestNewCash:  autoInvest,
		State:              portfolio.New(strategyID, initialCapital),
		firstDay:           true,
	}
}

// StepDate advances r by exactly one trading date, in the §4.6 sequence:
// observe, credit dividends, credit contribution, rebalance+execute,
// mark-to-market, compute return, append record. A fatal error (accounting
// invariant violation, strategy-infeasible in strict mode) aborts the run;
// the caller decides whether that aborts only this strategy or the whole
// run (§7 propagation: fatal kinds abort everything, non-fatal kinds are
// contained to the failing strategy).
func StepDate(r *Run, date time.Time, snap barmodel.Snapshot, simCfg *config.SimulationConfig, log *zap.Logger) error {
	isFirst, isFirstOfMonth, isFirstOfYear := r.calendar.Observe(date)

	if simCfg.CreditDividends {
		if err := creditDividends(r.State, snap); err != nil {
			return err
		}
	}

	decision := r.Schedule.Evaluate(date, isFirst, isFirstOfMonth, isFirstOfYear)

	contributed := decimal.Zero
	if decision.Contribute {
		amount := r.ContributionAmount
		if amount.IsPositive() {
			if err := r.State.CreditCash(amount); err != nil {
				return err
			}
			r.State.CumulativeContributions = r.State.CumulativeContributions.Add(amount)
			contributed = amount
		}
	}
	if !decision.Rebalance && r.AutoInvestNewCash && contributed.IsPositive() {
		decision.Rebalance = true
	}

	startOfDayEquity := r.State.Cash.Add(r.State.PositionsMarketValue)
	tradeCount := 0
	turnover := decimal.Zero

	if decision.Rebalance {
		rng := strategy.DeriveRNG(r.Seed, date)
		target, err := r.Plugin.OnRebalance(date, r.PluginConfig, r.State, snap, rng)
		if err != nil {
			return err
		}
		fills, warnings, err := execution.Execute(date, r.StrategyID, r.State, snap, target, r.ExecParams)
		if err != nil {
			return err
		}
		r.Warnings = append(r.Warnings, warnings...)
		for _, f := range fills {
			portfolioFill := portfolio.Fill{
				Symbol: f.Symbol, Side: f.Side, Shares: f.Shares, ExecutedPrice: f.ExecutedPrice,
				GrossValue: f.GrossValue, SlippageCost: f.SlippageCost, FeeCost: f.FeeCost, NetCashImpact: f.NetCashImpact,
			}
			if err := r.State.ApplyFill(portfolioFill); err != nil {
				return err
			}
			r.State.CumulativeCosts = r.State.CumulativeCosts.Add(f.SlippageCost).Add(f.FeeCost)
		}
		r.Fills = append(r.Fills, fills...)
		tradeCount = len(fills)
		turnover = execution.Turnover(fills, startOfDayEquity)
		if log != nil {
			log.Debug("rebalanced",
				zap.String("strategy_id", r.StrategyID),
				zap.String("date", date.Format("2006-01-02")),
				zap.Int("trade_count", tradeCount),
				zap.String("turnover", turnover.String()))
		}
	}

	if err := r.State.MarkToMarket(snap); err != nil {
		return err
	}
	if err := r.State.CheckAccountingIdentity(snap, date); err != nil {
		return err
	}

	totalEquity := r.State.TotalEquity()

	var dailyReturn decimal.Decimal
	dailyReturnValid := false
	if r.firstDay {
		dailyReturn = decimal.Zero
		dailyReturnValid = true
	} else if r.prevTotalEquity.IsPositive() {
		dailyReturn = totalEquity.Sub(r.prevTotalEquity).Sub(contributed).Div(r.prevTotalEquity)
		dailyReturnValid = true
	}

	cumulativeReturn := decimal.Zero
	if len(r.Records) > 0 {
		prev := r.Records[len(r.Records)-1].CumulativeReturn
		if dailyReturnValid {
			cumulativeReturn = prev.Add(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(1).Add(dailyReturn)).Sub(decimal.NewFromInt(1))
		} else {
			cumulativeReturn = prev
		}
	} else if dailyReturnValid {
		cumulativeReturn = dailyReturn
	}

	r.Records = append(r.Records, DailyRecord{
		Date:                   date,
		StrategyID:             r.StrategyID,
		Cash:                   r.State.Cash,
		PositionsMarketValue:   r.State.PositionsMarketValue,
		TotalEquity:            totalEquity,
		DailyReturn:            dailyReturn,
		DailyReturnValid:       dailyReturnValid,
		CumulativeReturn:       cumulativeReturn,
		ContributionCumulative: r.State.CumulativeContributions,
		TradeCountDay:          tradeCount,
		TurnoverDay:            turnover,
	})

	r.prevTotalEquity = totalEquity
	r.firstDay = false
	return nil
}

// creditDividends credits shares(sym)*dividend(sym) for every held position
// whose symbol trades today, before contribution/rebalance evaluation
// (§4.3).
func creditDividends(state *portfolio.State, snap barmodel.Snapshot) error {
	total := decimal.Zero
	for symbol, pos := range state.Positions {
		bar, ok := snap.Bars[symbol]
		if !ok || bar.Dividend.IsZero() {
			continue
		}
		total = total.Add(pos.Shares.Mul(bar.Dividend))
	}
	if total.IsZero() {
		return nil
	}
	return state.CreditCash(total)
}
