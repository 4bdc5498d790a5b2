package caltime

import (
	"testing"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse("2006-01-02T15:04:05Z", s)
	require.NoError(t, err)
	return tm
}

func TestParseRRule_Daily(t *testing.T) {
	rule, err := ParseRRule("FREQ=DAILY;INTERVAL=1;COUNT=5")
	require.NoError(t, err)
	assert.Equal(t, "DAILY", rule.Freq)
	assert.Equal(t, 1, rule.Interval)
	assert.Equal(t, 5, rule.Count)
}

func TestParseRRule_Weekly_ByDay(t *testing.T) {
	rule, err := ParseRRule("FREQ=WEEKLY;BYDAY=MO,WE,FR")
	require.NoError(t, err)
	assert.Equal(t, "WEEKLY", rule.Freq)
	assert.ElementsMatch(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, rule.ByDay)
}

func TestParseRRule_Until(t *testing.T) {
	rule, err := ParseRRule("FREQ=DAILY;UNTIL=20260815T000000Z")
	require.NoError(t, err)
	require.NotNil(t, rule.Until)
	assert.Equal(t, 2026, rule.Until.Year())
}

func TestParseRRule_InvalidFreq(t *testing.T) {
	_, err := ParseRRule("FREQ=SECONDLY")
	require.Error(t, err)
}

func TestParseRRule_Empty(t *testing.T) {
	_, err := ParseRRule("")
	require.Error(t, err)
}

func TestOccursOnDate_DailyCount(t *testing.T) {
	appt := &models.Appointment{
		StartTime:  mustParse(t, "2026-08-01T09:00:00Z"),
		EndTime:    mustParse(t, "2026-08-01T10:00:00Z"),
		Recurrence: "FREQ=DAILY;COUNT=3",
	}
	occurs, err := OccursOnDate(appt, mustParse(t, "2026-08-01T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, occurs)

	occurs, err = OccursOnDate(appt, mustParse(t, "2026-08-03T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, occurs)

	occurs, err = OccursOnDate(appt, mustParse(t, "2026-08-04T00:00:00Z"))
	require.NoError(t, err)
	assert.False(t, occurs)
}

func TestOccursOnDate_NonRecurring(t *testing.T) {
	appt := &models.Appointment{
		StartTime: mustParse(t, "2026-08-01T09:00:00Z"),
		EndTime:   mustParse(t, "2026-08-01T10:00:00Z"),
	}
	occurs, err := OccursOnDate(appt, mustParse(t, "2026-08-01T00:00:00Z"))
	require.NoError(t, err)
	assert.True(t, occurs)

	occurs, err = OccursOnDate(appt, mustParse(t, "2026-08-02T00:00:00Z"))
	require.NoError(t, err)
	assert.False(t, occurs)
}

func TestOccursOnDate_WeeklyByDay(t *testing.T) {
	appt := &models.Appointment{
		StartTime:  mustParse(t, "2026-08-03T09:00:00Z"), // Monday
		EndTime:    mustParse(t, "2026-08-03T10:00:00Z"),
		Recurrence: "FREQ=WEEKLY;BYDAY=MO,WE",
	}
	occurs, err := OccursOnDate(appt, mustParse(t, "2026-08-05T00:00:00Z")) // Wednesday
	require.NoError(t, err)
	assert.True(t, occurs)

	occurs, err = OccursOnDate(appt, mustParse(t, "2026-08-06T00:00:00Z")) // Thursday
	require.NoError(t, err)
	assert.False(t, occurs)
}

func TestExpandRecurringEventsRange(t *testing.T) {
	appt := &models.Appointment{
		ID:         1,
		StartTime:  mustParse(t, "2026-08-01T09:00:00Z"),
		EndTime:    mustParse(t, "2026-08-01T10:00:00Z"),
		Recurrence: "FREQ=DAILY;COUNT=3",
	}
	instances, err := ExpandRecurringEventsRange([]*models.Appointment{appt}, mustParse(t, "2026-08-01T00:00:00Z"), mustParse(t, "2026-08-05T00:00:00Z"))
	require.NoError(t, err)
	assert.Len(t, instances, 3)
	for _, inst := range instances {
		assert.Empty(t, inst.Recurrence)
		assert.Equal(t, 0, int(inst.ID))
	}
}

func TestCreateNonRecurringInstance(t *testing.T) {
	appt := &models.Appointment{
		ID:         7,
		StartTime:  mustParse(t, "2026-08-01T09:00:00Z"),
		EndTime:    mustParse(t, "2026-08-01T10:00:00Z"),
		Recurrence: "FREQ=DAILY;COUNT=3",
	}
	inst := CreateNonRecurringInstance(appt, mustParse(t, "2026-08-03T00:00:00Z"))
	assert.Empty(t, inst.Recurrence)
	assert.Equal(t, 2026, inst.StartTime.Year())
	assert.Equal(t, time.Month(8), inst.StartTime.Month())
	assert.Equal(t, 3, inst.StartTime.Day())
}
