// Package strategy implements C4: the closed set of strategy plugins, each
// a pure function from (date, portfolio state, market snapshot, rng) to a
// TargetAllocation, registered by name at startup. Dispatch is a closed
// tagged variant, not open dynamic registration, per the design note that
// determinism and validation benefit from a known-closed plugin set.
package strategy

import (
	"math/rand"
	"time"

	"backtestsim/internal/alloc"
	"backtestsim/internal/barmodel"
	"backtestsim/internal/portfolio"
	"backtestsim/internal/simerrors"
)

// RawConfig is the plugin-specific fragment of a StrategyConfig, decoded
// generically from YAML/JSON by internal/config before a Plugin's
// ValidateConfig gives it concrete meaning.
type RawConfig map[string]any

// Config is the validated, plugin-specific configuration produced by
// ValidateConfig and threaded back into every OnRebalance call.
type Config struct {
	N          int
	Strict     bool
	RankMetric string
	Symbols    []string
	WeightMode string // "equal" or "metric_proportional"
}

const (
	RankClosePrice           = "close_price"
	RankDollarVolume1d       = "dollar_volume_1d"
	RankRollingDollarVolume252 = "rolling_dollar_volume_252d"

	WeightEqual             = "equal"
	WeightMetricProportional = "metric_proportional"
)

// Plugin is implemented by every concrete strategy. OnRebalance must be
// pure: no wall clock, file, or network access; all entropy comes from rng.
type Plugin interface {
	Name() string
	ValidateConfig(raw RawConfig) (Config, error)
	OnRebalance(date time.Time, cfg Config, state *portfolio.State, snap barmodel.Snapshot, rng *rand.Rand) (alloc.TargetAllocation, error)
}

// Registry is the closed set of plugins known at startup.
type Registry struct {
	byName map[string]Plugin
}

func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Plugin)}
	for _, p := range []Plugin{
		SP500Proxy{},
		EqualWeight{},
		ExplicitSymbols{},
		RandomN{},
		RankedN{bottom: false},
		RankedN{bottom: true},
	} {
		r.byName[p.Name()] = p
	}
	return r
}

func (r *Registry) Lookup(name string) (Plugin, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, simerrors.ConfigError("unknown strategy plugin %q", name)
	}
	return p, nil
}

// tradableSymbols returns a snapshot's symbols in lexicographic order.
func tradableSymbols(snap barmodel.Snapshot) []string {
	return snap.Symbols()
}

func intField(raw RawConfig, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, simerrors.ConfigError("field %q must be an integer", key)
	}
}

func boolField(raw RawConfig, key string, def bool) bool {
	v, ok := raw[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func stringField(raw RawConfig, key string, def string) string {
	v, ok := raw[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func stringSliceField(raw RawConfig, key string) []string {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
