package strategy

import (
	"math/rand"
	"sort"
	"time"

	"backtestsim/internal/alloc"
	"backtestsim/internal/barmodel"
	"backtestsim/internal/portfolio"
	"backtestsim/internal/simerrors"
)

// RandomN samples N symbols from the tradable universe (or a configured
// filter) using the rng the engine derives from (strategy_seed,
// date_ordinal), so reruns with the same seed reproduce the exact selection
// and a different seed diverges.
type RandomN struct{}

func (RandomN) Name() string { return "random_n" }

func (RandomN) ValidateConfig(raw RawConfig) (Config, error) {
	n, err := intField(raw, "n", 0)
	if err != nil {
		return Config{}, err
	}
	if n <= 0 {
		return Config{}, simerrors.ConfigError("random_n: n must be positive, got %d", n)
	}
	strict := boolField(raw, "strict", false)
	filter := stringSliceField(raw, "universe")
	return Config{N: n, Strict: strict, Symbols: filter}, nil
}

func (RandomN) OnRebalance(date time.Time, cfg Config, state *portfolio.State, snap barmodel.Snapshot, rng *rand.Rand) (alloc.TargetAllocation, error) {
	var universe []string
	if len(cfg.Symbols) == 0 {
		universe = tradableSymbols(snap)
	} else {
		allowed := make(map[string]struct{}, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			allowed[s] = struct{}{}
		}
		for _, s := range tradableSymbols(snap) {
			if _, ok := allowed[s]; ok {
				universe = append(universe, s)
			}
		}
	}
	sort.Strings(universe) // tradableSymbols already sorts; keep explicit for the filtered path

	n := cfg.N
	if len(universe) < n {
		if cfg.Strict {
			return alloc.TargetAllocation{}, simerrors.StrategyInfeasible(
				"random_n: universe size %d below requested N=%d in strict mode", len(universe), n)
		}
		n = len(universe)
	}
	if n == 0 {
		return alloc.Empty(), nil
	}

	perm := rng.Perm(len(universe))
	selected := make([]string, n)
	for i := 0; i < n; i++ {
		selected[i] = universe[perm[i]]
	}
	return alloc.EqualWeight(selected), nil
}
