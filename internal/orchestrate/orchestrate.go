// Package orchestrate implements C8, the run orchestrator: for one shared
// market timeline, build a Run per configured strategy, drive them in
// lockstep date-by-date over the single shared snapshot stream (§4.6,
// §5), fanning the per-date strategy step out across an errgroup bounded by
// a semaphore the way the teacher's internal/app/agent/executor.go bounds
// parallel tool execution, and collect results deterministically by config
// order regardless of completion order.
package orchestrate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtestsim/internal/config"
	"backtestsim/internal/engine"
	"backtestsim/internal/execution"
	"backtestsim/internal/marketdata"
	"backtestsim/internal/scheduler"
	"backtestsim/internal/simerrors"
	"backtestsim/internal/strategy"
)

// MaxWorkers bounds the per-date strategy fan-out, mirroring the teacher's
// semaphore-bounded errgroup pattern. Strategy count in a realistic run is
// small; this exists to cap goroutine churn, not to express real
// parallelism needs.
const MaxWorkers = 8

// Result is the full output of one orchestrated run: one engine.Run per
// configured strategy (in config order), accumulated warnings, and whether
// the run was cancelled before reaching end_date.
type Result struct {
	Runs      []*engine.Run
	Warnings  []simerrors.Warning
	Cancelled bool
	DatesSeen int
}

// Build constructs one engine.Run per StrategyConfig, resolving its plugin,
// validating its plugin-specific config, and merging simulation-level
// defaults with any per-strategy execution override.
func Build(simCfg *config.SimulationConfig, strategyCfgs []config.StrategyConfig, registry *strategy.Registry) ([]*engine.Run, error) {
	runs := make([]*engine.Run, 0, len(strategyCfgs))
	for _, sc := range strategyCfgs {
		plugin, err := registry.Lookup(sc.Plugin)
		if err != nil {
			return nil, err
		}

		raw := strategy.RawConfig{}
		for k, v := range sc.Universe {
			raw[k] = v
		}
		for k, v := range sc.Weights {
			raw[k] = v
		}
		pluginCfg, err := plugin.ValidateConfig(raw)
		if err != nil {
			return nil, err
		}

		rebalanceFreq := sc.Rebalance.Frequency
		if rebalanceFreq == "" {
			rebalanceFreq = config.FrequencyNone
		}
		contribFreq := simCfg.ContributionFrequency
		contribAmount := decimal.NewFromFloat(simCfg.ContributionAmount)
		if sc.Contributions != nil {
			if sc.Contributions.Frequency != nil {
				contribFreq = *sc.Contributions.Frequency
			}
			if sc.Contributions.Amount != nil {
				contribAmount = decimal.NewFromFloat(*sc.Contributions.Amount)
			}
		}
		sched := scheduler.New(rebalanceFreq, contribFreq)

		execParams := execution.Params{
			FeeBps:                decimal.NewFromFloat(simCfg.FeeBps),
			FeeFixed:              decimal.NewFromFloat(simCfg.FeeFixed),
			SlippageBps:           decimal.NewFromFloat(simCfg.SlippageBps),
			MaxTradeParticipation: decimal.NewFromFloat(simCfg.MaxTradeParticipation),
		}
		if sc.Execution != nil {
			if sc.Execution.FeeBps != nil {
				execParams.FeeBps = decimal.NewFromFloat(*sc.Execution.FeeBps)
			}
			if sc.Execution.FeeFixed != nil {
				execParams.FeeFixed = decimal.NewFromFloat(*sc.Execution.FeeFixed)
			}
			if sc.Execution.SlippageBps != nil {
				execParams.SlippageBps = decimal.NewFromFloat(*sc.Execution.SlippageBps)
			}
			if sc.Execution.MaxTradeParticipation != nil {
				execParams.MaxTradeParticipation = decimal.NewFromFloat(*sc.Execution.MaxTradeParticipation)
			}
		}

		seed := simCfg.Seed
		if sc.RandomSeed != nil {
			seed = *sc.RandomSeed
		}

		run := engine.NewRun(sc.StrategyID, decimal.NewFromFloat(simCfg.InitialCapital), plugin, pluginCfg,
			sched, execParams, seed, contribAmount, sc.AutoInvestNewCash)
		runs = append(runs, run)
	}
	return runs, nil
}

// Run drives every Run in lockstep over the shared snapshot stream: each
// date is observed exactly once, then each strategy's daily step is
// performed, fanned out across a bounded errgroup but collected back into
// run-config order so output ordering never depends on goroutine
// scheduling. A cooperative cancellation signal is checked between dates
// (§5); on cancellation, partial output is returned with Cancelled=true
// rather than an error. A fatal per-strategy error aborts the whole run
// (§7: fatal kinds are not contained).
func Run(ctx context.Context, simCfg *config.SimulationConfig, source marketdata.SnapshotSource, runs []*engine.Run, log *zap.Logger, onDate func(date time.Time)) (*Result, error) {
	result := &Result{Runs: runs}

	for {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.Warnings = append(result.Warnings, simerrors.NewWarning(simerrors.KindCancelled, "run cancelled after %d dates", result.DatesSeen))
			return result, nil
		default:
		}

		snap, ok, err := source.Next()
		if err != nil {
			return result, err
		}
		if !ok {
			break
		}
		result.DatesSeen++
		if onDate != nil {
			onDate(snap.Date)
		}

		if len(runs) == 1 {
			if err := engine.StepDate(runs[0], snap.Date, snap, simCfg, log); err != nil {
				return result, err
			}
			continue
		}

		g, _ := errgroup.WithContext(ctx)
		sem := make(chan struct{}, MaxWorkers)
		errs := make([]error, len(runs))
		for i, r := range runs {
			i, r := i, r
			g.Go(func() error {
				sem <- struct{}{}
				defer func() { <-sem }()
				errs[i] = engine.StepDate(r, snap.Date, snap, simCfg, log)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}
		for _, stepErr := range errs {
			if stepErr != nil {
				return result, stepErr
			}
		}
	}

	result.Warnings = append(result.Warnings, source.Warnings()...)
	for _, r := range runs {
		result.Warnings = append(result.Warnings, r.Warnings...)
	}
	return result, nil
}
