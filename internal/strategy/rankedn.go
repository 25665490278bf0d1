package strategy

import (
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"backtestsim/internal/alloc"
	"backtestsim/internal/barmodel"
	"backtestsim/internal/portfolio"
	"backtestsim/internal/simerrors"
)

// RankedN implements both top_n_ranked and bottom_n_ranked: select N
// symbols by a configured rank metric, ties broken by symbol, weighted
// equally (default) or metric-proportionally.
type RankedN struct {
	bottom bool
}

func (r RankedN) Name() string {
	if r.bottom {
		return "bottom_n_ranked"
	}
	return "top_n_ranked"
}

func (r RankedN) ValidateConfig(raw RawConfig) (Config, error) {
	n, err := intField(raw, "n", 0)
	if err != nil {
		return Config{}, err
	}
	if n <= 0 {
		return Config{}, simerrors.ConfigError("%s: n must be positive, got %d", r.Name(), n)
	}
	metric := stringField(raw, "rank_metric", RankRollingDollarVolume252)
	switch metric {
	case RankClosePrice, RankDollarVolume1d, RankRollingDollarVolume252:
	default:
		return Config{}, simerrors.ConfigError("%s: unknown rank metric %q", r.Name(), metric)
	}
	weightMode := stringField(raw, "weight_mode", WeightEqual)
	switch weightMode {
	case WeightEqual, WeightMetricProportional:
	default:
		return Config{}, simerrors.ConfigError("%s: unknown weight mode %q", r.Name(), weightMode)
	}
	strict := boolField(raw, "strict", false)
	return Config{N: n, Strict: strict, RankMetric: metric, WeightMode: weightMode}, nil
}

func (r RankedN) metricValue(symbol string, bar barmodel.Bar, features barmodel.Features, metric string) (decimal.Decimal, bool) {
	switch metric {
	case RankClosePrice:
		return bar.Close, true
	case RankDollarVolume1d:
		return bar.Close.Mul(decimal.NewFromInt(bar.Volume)), true
	case RankRollingDollarVolume252:
		if !features.Valid252 {
			return decimal.Zero, false
		}
		return features.RollingDollarVolume252, true
	default:
		return decimal.Zero, false
	}
}

func (r RankedN) OnRebalance(date time.Time, cfg Config, state *portfolio.State, snap barmodel.Snapshot, rng *rand.Rand) (alloc.TargetAllocation, error) {
	type candidate struct {
		symbol string
		metric decimal.Decimal
	}
	var candidates []candidate
	for _, symbol := range tradableSymbols(snap) {
		bar := snap.Bars[symbol]
		features := snap.Features[symbol]
		metric, ok := r.metricValue(symbol, bar, features, cfg.RankMetric)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{symbol: symbol, metric: metric})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].metric.Equal(candidates[j].metric) {
			if r.bottom {
				return candidates[i].metric.LessThan(candidates[j].metric)
			}
			return candidates[i].metric.GreaterThan(candidates[j].metric)
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	if len(candidates) < cfg.N && cfg.Strict {
		return alloc.TargetAllocation{}, simerrors.StrategyInfeasible(
			"%s: universe size %d below requested N=%d in strict mode", r.Name(), len(candidates), cfg.N)
	}
	if len(candidates) > cfg.N {
		candidates = candidates[:cfg.N]
	}
	if len(candidates) == 0 {
		return alloc.Empty(), nil
	}

	if cfg.WeightMode == WeightMetricProportional {
		total := decimal.Zero
		for _, c := range candidates {
			total = total.Add(c.metric)
		}
		if total.IsPositive() {
			weights := make(map[string]decimal.Decimal, len(candidates))
			for _, c := range candidates {
				weights[c.symbol] = c.metric.Div(total)
			}
			return alloc.TargetAllocation{Weights: weights}, nil
		}
	}

	symbols := make([]string, len(candidates))
	for i, c := range candidates {
		symbols[i] = c.symbol
	}
	return alloc.EqualWeight(symbols), nil
}
