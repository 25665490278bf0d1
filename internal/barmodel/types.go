// Package barmodel holds the immutable per-symbol market data types shared
// by the data source, the engine, and the strategy plugins.
package barmodel

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one (date, symbol) observation. All price fields are positive
// decimals when the bar is valid; Volume is non-negative.
type Bar struct {
	Date         time.Time
	Symbol       string
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
	Dividend     decimal.Decimal
	SplitRatio   decimal.Decimal
}

// Valid reports whether the bar satisfies the minimal validity invariant
// used to decide whether a symbol is tradable on its date: a positive close.
func (b Bar) Valid() bool {
	return b.Close.IsPositive()
}

// OHLCConsistent reports the low <= open,close <= high invariant when all
// four fields are present and positive.
func (b Bar) OHLCConsistent() bool {
	if !b.Low.IsPositive() || !b.High.IsPositive() {
		return true
	}
	return b.Low.LessThanOrEqual(b.Open) && b.Open.LessThanOrEqual(b.High) &&
		b.Low.LessThanOrEqual(b.Close) && b.Close.LessThanOrEqual(b.High)
}

// Features holds derived per-symbol rolling values as of a given date.
type Features struct {
	// RollingDollarVolume252 is NaN (represented via Valid252 below) until
	// 252 trading observations have been seen for the symbol.
	RollingDollarVolume252 decimal.Decimal
	Valid252               bool
}

// Snapshot is the set of Bars observed on one date, indexed by symbol, plus
// each symbol's derived rolling features as of that date.
type Snapshot struct {
	Date     time.Time
	Bars     map[string]Bar
	Features map[string]Features
}

// Symbols returns the snapshot's tradable symbols in lexicographic order,
// the deterministic iteration order required throughout the engine.
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Bars))
	for sym := range s.Bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
