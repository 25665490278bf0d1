package strategy

import (
	"math/rand"
	"time"

	"backtestsim/internal/alloc"
	"backtestsim/internal/barmodel"
	"backtestsim/internal/portfolio"
)

// EqualWeight allocates equally across all tradable symbols, or a
// configured filter list intersected with today's tradable symbols. An
// empty resulting universe yields an empty (full-cash) allocation.
type EqualWeight struct{}

func (EqualWeight) Name() string { return "equal_weight" }

func (EqualWeight) ValidateConfig(raw RawConfig) (Config, error) {
	filter := stringSliceField(raw, "universe")
	return Config{Symbols: filter}, nil
}

func (EqualWeight) OnRebalance(date time.Time, cfg Config, state *portfolio.State, snap barmodel.Snapshot, rng *rand.Rand) (alloc.TargetAllocation, error) {
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
	return alloc.EqualWeight(universe), nil
}
