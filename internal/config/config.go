// Package config loads and validates the simulation-run configuration and
// the strategy-file configuration (§6), accepting either YAML or JSON since
// JSON is a structural subset yaml.Unmarshal already parses. Defaults are
// applied before validation, and validation accumulates every error found
// rather than failing on the first one, mirroring the teacher's
// internal/app/strategy/spec.go validateSpec pattern.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"backtestsim/internal/simerrors"
)

const dateLayout = "2006-01-02"

// Frequency is a rebalance or contribution cadence (§4.5).
type Frequency string

const (
	FrequencyNone    Frequency = "never"
	FrequencyDaily   Frequency = "daily"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

const (
	PriceSeriesAsIs            = "as_is"
	PriceSeriesRawReconstructed = "raw_reconstructed"
)

// StrategyConfig is one strategy's run configuration, decoded from a
// top-level list in the strategy-file (§6). Plugin-specific fields are kept
// as a raw map until the named plugin's ValidateConfig gives them concrete
// meaning, per the closed-dispatch design note in §9.
type StrategyConfig struct {
	StrategyID           string         `yaml:"strategy_id"`
	Plugin               string         `yaml:"plugin"`
	Universe             map[string]any `yaml:"universe"`
	Weights              map[string]any `yaml:"weights"`
	Rebalance            RebalanceSpec  `yaml:"rebalance"`
	Contributions        *Contributions `yaml:"contributions"`
	RandomSeed           *int64         `yaml:"random_seed"`
	Execution            *ExecutionOverride `yaml:"execution"`
	AutoInvestNewCash    bool           `yaml:"auto_invest_new_cash"`
}

type RebalanceSpec struct {
	Frequency Frequency `yaml:"frequency"`
}

type Contributions struct {
	Amount    *float64   `yaml:"amount"`
	Frequency *Frequency `yaml:"frequency"`
}

type ExecutionOverride struct {
	FeeBps               *float64 `yaml:"fee_bps"`
	FeeFixed             *float64 `yaml:"fee_fixed"`
	SlippageBps          *float64 `yaml:"slippage_bps"`
	MaxTradeParticipation *float64 `yaml:"max_trade_participation"`
}

// SimulationConfig is the top-level run configuration (§3, §6).
type SimulationConfig struct {
	StartDate             string    `yaml:"start_date"`
	EndDate               string    `yaml:"end_date"`
	InitialCapital        float64   `yaml:"initial_capital"`
	ContributionAmount    float64   `yaml:"contribution_amount"`
	ContributionFrequency Frequency `yaml:"contribution_frequency"`
	FeeBps                float64   `yaml:"fee_bps"`
	FeeFixed              float64   `yaml:"fee_fixed"`
	SlippageBps           float64   `yaml:"slippage_bps"`
	MaxTradeParticipation float64   `yaml:"max_trade_participation"`
	CreditDividends       bool      `yaml:"credit_dividends"`
	PriceSeriesMode       string    `yaml:"price_series_mode"`
	Seed                  int64     `yaml:"seed"`

	Strategies []StrategyConfig `yaml:"-"`

	// StartTime/EndTime are the parsed forms of StartDate/EndDate, filled in
	// by Validate.
	StartTime time.Time `yaml:"-"`
	EndTime   time.Time `yaml:"-"`
}

func defaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		MaxTradeParticipation: 0.01,
		CreditDividends:       false,
		PriceSeriesMode:       PriceSeriesAsIs,
		ContributionFrequency: FrequencyNone,
	}
}

// LoadSimulationConfig reads path (YAML or JSON, sniffed by content since
// JSON parses as YAML), applies defaults, and validates.
func LoadSimulationConfig(path string) (*SimulationConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, simerrors.ConfigError("read simulation config %s: %v", path, err)
	}
	cfg := defaultSimulationConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, simerrors.ConfigError("parse simulation config %s: %v", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadStrategyConfigs reads a top-level list of StrategyConfig objects (§6).
func LoadStrategyConfigs(path string) ([]StrategyConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, simerrors.ConfigError("read strategy file %s: %v", path, err)
	}
	var list []StrategyConfig
	if err := yaml.Unmarshal(raw, &list); err != nil {
		return nil, simerrors.ConfigError("parse strategy file %s: %v", path, err)
	}
	var errs []string
	seen := make(map[string]bool, len(list))
	for i := range list {
		if list[i].StrategyID == "" {
			errs = append(errs, "strategy at index "+strconv.Itoa(i)+" missing strategy_id")
			continue
		}
		if seen[list[i].StrategyID] {
			errs = append(errs, "duplicate strategy_id "+list[i].StrategyID)
		}
		seen[list[i].StrategyID] = true
		if list[i].Plugin == "" {
			errs = append(errs, "strategy "+list[i].StrategyID+" missing plugin name")
		}
		switch list[i].Rebalance.Frequency {
		case FrequencyNone, FrequencyDaily, FrequencyMonthly, FrequencyYearly, "":
		default:
			errs = append(errs, "strategy "+list[i].StrategyID+" has unknown rebalance frequency "+string(list[i].Rebalance.Frequency))
		}
		if list[i].Rebalance.Frequency == "" {
			list[i].Rebalance.Frequency = FrequencyNone
		}
	}
	if len(errs) > 0 {
		return nil, simerrors.ConfigError("strategy file %s: %s", path, strings.Join(errs, "; "))
	}
	return list, nil
}

// Validate applies the cross-field checks of §9's Open Question and
// collects every problem before returning, per the teacher's validateSpec
// accumulation pattern. Exported so the CLI can validate a SimulationConfig
// it assembled directly from flags, without going through a config file.
func (c *SimulationConfig) Validate() error {
	return c.validate()
}

func (c *SimulationConfig) validate() error {
	var errs []string

	start, err := time.Parse(dateLayout, c.StartDate)
	if err != nil {
		errs = append(errs, "start_date must be YYYY-MM-DD: "+err.Error())
	} else {
		c.StartTime = start
	}
	end, err := time.Parse(dateLayout, c.EndDate)
	if err != nil {
		errs = append(errs, "end_date must be YYYY-MM-DD: "+err.Error())
	} else {
		c.EndTime = end
	}
	if err == nil && c.StartTime.After(c.EndTime) && !c.StartTime.IsZero() {
		errs = append(errs, "start_date must not be after end_date")
	}

	if c.InitialCapital < 0 {
		errs = append(errs, "initial_capital must be non-negative")
	}
	if c.ContributionAmount < 0 {
		errs = append(errs, "contribution_amount must be non-negative")
	}
	switch c.ContributionFrequency {
	case FrequencyNone, FrequencyDaily, FrequencyMonthly, FrequencyYearly:
	default:
		errs = append(errs, "unknown contribution_frequency "+string(c.ContributionFrequency))
	}
	if c.FeeBps < 0 || c.FeeFixed < 0 || c.SlippageBps < 0 {
		errs = append(errs, "fee_bps, fee_fixed, and slippage_bps must be non-negative")
	}
	if c.MaxTradeParticipation < 0 || c.MaxTradeParticipation > 1 {
		errs = append(errs, "max_trade_participation must be in [0,1]")
	}
	switch c.PriceSeriesMode {
	case PriceSeriesAsIs, PriceSeriesRawReconstructed, "":
	default:
		errs = append(errs, "unknown price_series_mode "+c.PriceSeriesMode)
	}
	if c.PriceSeriesMode == "" {
		c.PriceSeriesMode = PriceSeriesAsIs
	}

	if len(errs) > 0 {
		return simerrors.ConfigError("%s", strings.Join(errs, "; "))
	}
	return nil
}

// CrossFieldWarning reports the §9 Open Question advisory: crediting
// dividends against an as_is (already-adjusted, by convention) price series
// risks double-counting total return unless the operator has explicitly
// acknowledged it.
func (c *SimulationConfig) CrossFieldWarning() (simerrors.Warning, bool) {
	if c.CreditDividends && c.PriceSeriesMode == PriceSeriesAsIs {
		return simerrors.NewWarning(simerrors.KindDataWarning,
			"credit_dividends=true with price_series_mode=as_is risks double-counting dividends already reflected in an adjusted close series"), true
	}
	return simerrors.Warning{}, false
}
