package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryTrigger(t *testing.T) {
	ref := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	tr := Every(15 * time.Minute)
	assert.Equal(t, ref.Add(15*time.Minute), tr.Next(ref))
	assert.Equal(t, "every 15m0s", tr.String())
}

func TestDailyAtSameDay(t *testing.T) {
	ref := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	tr := DailyAt("18:00")
	assert.Equal(t, time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC), tr.Next(ref))
}

func TestDailyAtRollsToTomorrow(t *testing.T) {
	ref := time.Date(2026, 8, 20, 18, 0, 0, 0, time.UTC)
	tr := DailyAt("18:00")
	// A fire exactly at the wall-clock time schedules the next day.
	assert.Equal(t, time.Date(2026, 8, 21, 18, 0, 0, 0, time.UTC), tr.Next(ref))
}

func TestDailyAtPicksEarliestSlot(t *testing.T) {
	ref := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	tr := DailyAt("09:00", "13:00", "18:00")
	assert.Equal(t, time.Date(2026, 8, 20, 13, 0, 0, 0, time.UTC), tr.Next(ref))

	late := time.Date(2026, 8, 20, 19, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC), tr.Next(late))
}

func TestWeeklyAt(t *testing.T) {
	// 2026-08-20 is a Thursday.
	ref := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	tr := WeeklyAt(time.Monday, "08:00")
	assert.Equal(t, time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC), tr.Next(ref))

	// Later the same weekday fires today.
	sameDay := WeeklyAt(time.Thursday, "20:30")
	assert.Equal(t, time.Date(2026, 8, 20, 20, 30, 0, 0, time.UTC), sameDay.Next(ref))

	// Earlier the same weekday rolls a full week.
	passed := WeeklyAt(time.Thursday, "08:00")
	assert.Equal(t, time.Date(2026, 8, 27, 8, 0, 0, 0, time.UTC), passed.Next(ref))
}

func TestParseWeekly(t *testing.T) {
	tr, err := ParseWeekly("Mon 08:00")
	require.NoError(t, err)
	assert.Equal(t, "weekly Monday 08:00", tr.String())

	_, err = ParseWeekly("Monday")
	assert.Error(t, err)

	_, err = ParseWeekly("Xyz 08:00")
	assert.Error(t, err)
}

func TestParseClockFallsBackToMidnight(t *testing.T) {
	assert.Equal(t, clock{}, parseClock("garbage"))
	assert.Equal(t, clock{}, parseClock("25:00"))
	assert.Equal(t, clock{hour: 7, minute: 45}, parseClock(" 07:45 "))
}
