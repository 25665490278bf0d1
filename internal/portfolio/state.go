// Package portfolio implements C2, the per-strategy accounting state: cash,
// positions, cumulative contributions and costs, and the accounting
// identity invariant that the engine checks after every daily step.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"backtestsim/internal/barmodel"
	"backtestsim/internal/simerrors"
)

// epsilon bounds below which cash/shares/equity comparisons are treated as
// equal, guarding against decimal rounding noise rather than real drift.
var epsilon = decimal.New(1, -8)

// Position is a per-symbol holding. A Position is removed from the state
// once its Shares round to zero within epsilon.
type Position struct {
	Symbol        string
	Shares        decimal.Decimal
	AvgCostBasis  decimal.Decimal
}

// State is the mutable per-strategy accounting aggregate. Side effects are
// confined to the owning State; no state is shared between strategies.
type State struct {
	StrategyID string

	Cash                   decimal.Decimal
	Positions              map[string]Position
	CumulativeContributions decimal.Decimal
	CumulativeCosts        decimal.Decimal
	PositionsMarketValue   decimal.Decimal

	lastClose map[string]decimal.Decimal
}

func New(strategyID string, initialCapital decimal.Decimal) *State {
	return &State{
		StrategyID: strategyID,
		Cash:       initialCapital,
		Positions:  make(map[string]Position),
		lastClose:  make(map[string]decimal.Decimal),
	}
}

// CreditCash adds non-negative cash to the state (contributions, dividends,
// sale proceeds).
func (s *State) CreditCash(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return simerrors.AccountingInvariantViolation("credit_cash called with negative amount %s", amount)
	}
	s.Cash = s.Cash.Add(amount)
	return nil
}

// DebitCash removes non-negative cash, failing if it would drive cash below
// -epsilon.
func (s *State) DebitCash(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return simerrors.AccountingInvariantViolation("debit_cash called with negative amount %s", amount)
	}
	if s.Cash.Sub(amount).LessThan(epsilon.Neg()) {
		return simerrors.AccountingInvariantViolation(
			"debit_cash(%s) would drive cash negative (cash=%s) for strategy %s", amount, s.Cash, s.StrategyID)
	}
	s.Cash = s.Cash.Sub(amount)
	return nil
}

// Fill is the portfolio-side view of a trade execution: the engine builds
// these from execution.TradeFill before applying them.
type Fill struct {
	Symbol        string
	Side          Side
	Shares        decimal.Decimal
	ExecutedPrice decimal.Decimal
	GrossValue    decimal.Decimal
	SlippageCost  decimal.Decimal
	FeeCost       decimal.Decimal
	NetCashImpact decimal.Decimal
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ApplyFill updates cash and the symbol's Position for one executed trade.
func (s *State) ApplyFill(f Fill) error {
	switch f.Side {
	case Buy:
		if err := s.DebitCash(f.NetCashImpact.Neg()); err != nil {
			return err
		}
		pos, ok := s.Positions[f.Symbol]
		if !ok {
			pos = Position{Symbol: f.Symbol}
		}
		newShares := pos.Shares.Add(f.Shares)
		totalCostBefore := pos.AvgCostBasis.Mul(pos.Shares)
		totalCostAdded := f.ExecutedPrice.Mul(f.Shares)
		if newShares.IsPositive() {
			pos.AvgCostBasis = totalCostBefore.Add(totalCostAdded).Div(newShares)
		}
		pos.Shares = newShares
		s.Positions[f.Symbol] = pos
	case Sell:
		if err := s.CreditCash(f.NetCashImpact); err != nil {
			return err
		}
		pos, ok := s.Positions[f.Symbol]
		if !ok {
			return simerrors.AccountingInvariantViolation("sell fill for %s with no position", f.Symbol)
		}
		pos.Shares = pos.Shares.Sub(f.Shares)
		if pos.Shares.Abs().LessThan(epsilon) {
			delete(s.Positions, f.Symbol)
		} else {
			s.Positions[f.Symbol] = pos
		}
	default:
		return simerrors.AccountingInvariantViolation("unknown fill side %q", f.Side)
	}
	return nil
}

// MarkToMarket recomputes PositionsMarketValue using today's close prices.
// A symbol absent from today's snapshot keeps its last known close; if a
// held symbol has never had a close observed, that is a fatal condition.
func (s *State) MarkToMarket(snap barmodel.Snapshot) error {
	total := decimal.Zero
	for symbol, pos := range s.Positions {
		close, ok := snap.Bars[symbol]
		var price decimal.Decimal
		if ok {
			price = close.Close
			s.lastClose[symbol] = price
		} else {
			price, ok = s.lastClose[symbol]
			if !ok {
				return simerrors.AccountingInvariantViolation(
					"held symbol %s has no prior close to mark to market", symbol)
			}
		}
		total = total.Add(pos.Shares.Mul(price))
	}
	s.PositionsMarketValue = total
	return nil
}

// TotalEquity returns cash + positions market value as of the last
// MarkToMarket call.
func (s *State) TotalEquity() decimal.Decimal {
	return s.Cash.Add(s.PositionsMarketValue)
}

// CheckAccountingIdentity verifies total_equity = cash + sum(shares*close)
// against an independently recomputed market value, returning a fatal
// AccountingInvariantViolation if it diverges by more than epsilon.
func (s *State) CheckAccountingIdentity(snap barmodel.Snapshot, date time.Time) error {
	recomputed := decimal.Zero
	for symbol, pos := range s.Positions {
		price, ok := s.lastClose[symbol]
		if !ok {
			return simerrors.AccountingInvariantViolation(
				"%s: held symbol %s missing last close during identity check", date.Format("2006-01-02"), symbol)
		}
		recomputed = recomputed.Add(pos.Shares.Mul(price))
	}
	if recomputed.Sub(s.PositionsMarketValue).Abs().GreaterThan(epsilon) {
		return simerrors.AccountingInvariantViolation(
			"%s: accounting identity diverged for strategy %s: recomputed=%s tracked=%s",
			date.Format("2006-01-02"), s.StrategyID, recomputed, s.PositionsMarketValue)
	}
	return nil
}
