// Package scheduler implements C5: the stateless per-(strategy, date) rule
// deciding whether a contribution, a rebalance, or both fire on a given
// trading date, per §4.5.
package scheduler

import (
	"time"

	"backtestsim/internal/config"
)

// Decision is the result of evaluating a strategy's schedule for one date.
type Decision struct {
	Contribute bool
	Rebalance  bool
}

// Schedule holds one strategy's rebalance and contribution cadences; it is
// evaluated per date from the first-trading-date flags a TradingCalendar
// produces.
type Schedule struct {
	RebalanceFrequency    config.Frequency
	ContributionFrequency config.Frequency
	isFirstTradingDate    bool
}

func New(rebalanceFreq, contributionFreq config.Frequency) Schedule {
	return Schedule{RebalanceFrequency: rebalanceFreq, ContributionFrequency: contributionFreq}
}

// Evaluate returns the Decision for date, given whether date is the first
// trading date of the run, of its month, and of its year (flags computed by
// the caller from the actual trading-date sequence, since calendar gaps —
// weekends, holidays — mean "first calendar day of month" must be resolved
// against the dataset's own dates, not the calendar).
func (s Schedule) Evaluate(date time.Time, isFirstTradingDate, isFirstTradingDateOfMonth, isFirstTradingDateOfYear bool) Decision {
	return Decision{
		Contribute: fires(s.ContributionFrequency, date, isFirstTradingDate, isFirstTradingDateOfMonth, isFirstTradingDateOfYear),
		Rebalance:  firesRebalance(s.RebalanceFrequency, date, isFirstTradingDate, isFirstTradingDateOfMonth, isFirstTradingDateOfYear),
	}
}

func fires(freq config.Frequency, date time.Time, isFirst, isFirstOfMonth, isFirstOfYear bool) bool {
	switch freq {
	case config.FrequencyNone, "":
		return false
	case config.FrequencyDaily:
		return true
	case config.FrequencyMonthly:
		return isFirstOfMonth
	case config.FrequencyYearly:
		return isFirstOfYear
	default:
		return false
	}
}

// firesRebalance adds the "never" cadence's special case: exactly the first
// trading date of the run, never again (§4.5).
func firesRebalance(freq config.Frequency, date time.Time, isFirst, isFirstOfMonth, isFirstOfYear bool) bool {
	if freq == config.FrequencyNone || freq == "" {
		return isFirst
	}
	return fires(freq, date, isFirst, isFirstOfMonth, isFirstOfYear)
}

// TradingCalendar tracks, across the ascending sequence of trading dates
// actually observed in the data, whether each date is the first trading
// date of the run, of its calendar month, or of its calendar year — the
// "first trading date on/after" resolution §4.5 requires since the
// dataset's dates may skip weekends and holidays.
type TradingCalendar struct {
	seenAny   bool
	lastMonth time.Month
	lastYear  int
}

// Observe advances the calendar by one trading date and returns the three
// flags Evaluate needs. Dates must be observed in strictly ascending order.
func (t *TradingCalendar) Observe(date time.Time) (isFirst, isFirstOfMonth, isFirstOfYear bool) {
	isFirst = !t.seenAny
	isFirstOfMonth = !t.seenAny || date.Month() != t.lastMonth || date.Year() != t.lastYear
	isFirstOfYear = !t.seenAny || date.Year() != t.lastYear
	t.seenAny = true
	t.lastMonth = date.Month()
	t.lastYear = date.Year()
	return
}
