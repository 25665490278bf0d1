// Package alloc defines TargetAllocation, the output of every strategy
// plugin and the input to the cost and execution model.
package alloc

import (
	"sort"

	"github.com/shopspring/decimal"

	"backtestsim/internal/simerrors"
)

var epsilon = decimal.New(1, -8)

// TargetAllocation maps symbol to target weight; weights lie in [0,1] and
// sum to at most 1, with the remainder held as cash. An empty allocation
// (full cash) is legal.
type TargetAllocation struct {
	Weights map[string]decimal.Decimal
}

func Empty() TargetAllocation {
	return TargetAllocation{Weights: map[string]decimal.Decimal{}}
}

// EqualWeight builds a TargetAllocation spreading weight 1/len(symbols)
// equally across symbols. An empty symbol list yields Empty().
func EqualWeight(symbols []string) TargetAllocation {
	if len(symbols) == 0 {
		return Empty()
	}
	w := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(symbols))))
	weights := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		weights[s] = w
	}
	return TargetAllocation{Weights: weights}
}

// Validate enforces the weight-bounds invariant tested throughout §8:
// 0 <= w_i <= 1 and sum(w_i) <= 1 + epsilon.
func (t TargetAllocation) Validate() error {
	total := decimal.Zero
	for symbol, w := range t.Weights {
		if w.IsNegative() || w.GreaterThan(decimal.NewFromInt(1)) {
			return simerrors.New(simerrors.KindConfigError,
				"target weight for "+symbol+" out of [0,1] bounds")
		}
		total = total.Add(w)
	}
	if total.GreaterThan(decimal.NewFromInt(1).Add(epsilon)) {
		return simerrors.New(simerrors.KindConfigError, "target allocation weights sum above 1")
	}
	return nil
}

// Symbols returns the allocation's symbols in deterministic lexicographic order.
func (t TargetAllocation) Symbols() []string {
	out := make([]string, 0, len(t.Weights))
	for s := range t.Weights {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
