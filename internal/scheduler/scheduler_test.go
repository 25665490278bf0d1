package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"backtestsim/internal/config"
)

func TestTradingCalendarFirstFlags(t *testing.T) {
	var cal TradingCalendar
	isFirst, isFirstOfMonth, isFirstOfYear := cal.Observe(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.True(t, isFirst)
	assert.True(t, isFirstOfMonth)
	assert.True(t, isFirstOfYear)

	isFirst, isFirstOfMonth, isFirstOfYear = cal.Observe(time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC))
	assert.False(t, isFirst)
	assert.False(t, isFirstOfMonth)
	assert.False(t, isFirstOfYear)

	// Friday Jan 31 -> Monday Feb 3: first trading date on/after Feb 1 is Feb 3.
	isFirst, isFirstOfMonth, isFirstOfYear = cal.Observe(time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC))
	assert.False(t, isFirst)
	assert.True(t, isFirstOfMonth)
	assert.False(t, isFirstOfYear)

	isFirst, isFirstOfMonth, isFirstOfYear = cal.Observe(time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC))
	assert.False(t, isFirst)
	assert.True(t, isFirstOfMonth)
	assert.True(t, isFirstOfYear)
}

func TestScheduleDailyAlwaysFires(t *testing.T) {
	s := New(config.FrequencyDaily, config.FrequencyDaily)
	d := s.Evaluate(time.Now(), false, false, false)
	assert.True(t, d.Contribute)
	assert.True(t, d.Rebalance)
}

func TestScheduleNeverRebalanceOnlyFiresOnFirstDate(t *testing.T) {
	s := New(config.FrequencyNone, config.FrequencyNone)
	first := s.Evaluate(time.Now(), true, true, true)
	assert.True(t, first.Rebalance)
	later := s.Evaluate(time.Now(), false, false, false)
	assert.False(t, later.Rebalance)
	assert.False(t, later.Contribute)
}

func TestScheduleMonthlyAndYearlyFollowFlags(t *testing.T) {
	s := New(config.FrequencyYearly, config.FrequencyMonthly)
	d := s.Evaluate(time.Now(), false, true, false)
	assert.True(t, d.Contribute, "monthly contribution should fire on first-of-month")
	assert.False(t, d.Rebalance, "yearly rebalance should not fire mid-year")

	d = s.Evaluate(time.Now(), false, true, true)
	assert.True(t, d.Rebalance, "yearly rebalance should fire on first-of-year")
}
