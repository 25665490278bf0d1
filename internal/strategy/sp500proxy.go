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

// SP500Proxy selects the top N symbols by rolling_dollar_volume_252d,
// weighted proportionally to that metric, as a documented stand-in for
// reconstructing an official index from fundamental data (explicitly out of
// scope).
type SP500Proxy struct{}

func (SP500Proxy) Name() string { return "sp500_proxy" }

func (SP500Proxy) ValidateConfig(raw RawConfig) (Config, error) {
	n, err := intField(raw, "n", 500)
	if err != nil {
		return Config{}, err
	}
	if n <= 0 {
		return Config{}, simerrors.ConfigError("sp500_proxy: n must be positive, got %d", n)
	}
	strict := boolField(raw, "strict", false)
	return Config{N: n, Strict: strict, RankMetric: RankRollingDollarVolume252, WeightMode: WeightMetricProportional}, nil
}

func (SP500Proxy) OnRebalance(date time.Time, cfg Config, state *portfolio.State, snap barmodel.Snapshot, rng *rand.Rand) (alloc.TargetAllocation, error) {
	type candidate struct {
		symbol string
		metric decimal.Decimal
	}
	var candidates []candidate
	for _, symbol := range tradableSymbols(snap) {
		f := snap.Features[symbol]
		if !f.Valid252 {
			continue
		}
		candidates = append(candidates, candidate{symbol: symbol, metric: f.RollingDollarVolume252})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].metric.Equal(candidates[j].metric) {
			return candidates[i].metric.GreaterThan(candidates[j].metric)
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	if len(candidates) < cfg.N && cfg.Strict {
		return alloc.TargetAllocation{}, simerrors.StrategyInfeasible(
			"sp500_proxy: universe size %d below requested N=%d in strict mode", len(candidates), cfg.N)
	}
	if len(candidates) > cfg.N {
		candidates = candidates[:cfg.N]
	}
	if len(candidates) == 0 {
		return alloc.Empty(), nil
	}

	total := decimal.Zero
	for _, c := range candidates {
		total = total.Add(c.metric)
	}
	weights := make(map[string]decimal.Decimal, len(candidates))
	for _, c := range candidates {
		weights[c.symbol] = c.metric.Div(total)
	}
	return alloc.TargetAllocation{Weights: weights}, nil
}
