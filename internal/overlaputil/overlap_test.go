package overlaputil

import (
	"testing"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time {
	return time.Date(2026, 8, 1, h, m, 0, 0, time.UTC)
}

func appt(subject string, startH, startM, endH, endM int) *models.Appointment {
	return &models.Appointment{Subject: subject, StartTime: at(startH, startM), EndTime: at(endH, endM)}
}

func TestMergeDuplicates(t *testing.T) {
	a := appt("Standup", 9, 0, 9, 30)
	b := appt("Standup", 9, 0, 9, 30)
	c := appt("Planning", 10, 0, 11, 0)
	result := MergeDuplicates([]*models.Appointment{a, b, c})
	assert.Len(t, result, 2)
	assert.Same(t, a, result[0])
}

func TestDetectOverlaps_SimplePair(t *testing.T) {
	a := appt("A", 9, 0, 10, 0)
	b := appt("B", 9, 30, 10, 30)
	groups := DetectOverlaps([]*models.Appointment{a, b})
	assert.Len(t, groups, 1)
	assert.Len(t, groups[0], 2)
}

func TestDetectOverlaps_NoOverlap(t *testing.T) {
	a := appt("A", 9, 0, 10, 0)
	b := appt("B", 10, 0, 11, 0)
	groups := DetectOverlaps([]*models.Appointment{a, b})
	assert.Empty(t, groups)
}

func TestDetectOverlaps_RunningMaxEnd(t *testing.T) {
	// A: 09:00-11:00, B: 09:30-09:45 (inside A), C: 10:00-10:30 (inside A,
	// starts after B ends). C starts before the group's running max-end
	// (A's 11:00), so it joins A and B even though B has already ended.
	a := appt("A", 9, 0, 11, 0)
	b := appt("B", 9, 30, 9, 45)
	c := appt("C", 10, 0, 10, 30)
	groups := DetectOverlaps([]*models.Appointment{a, b, c})
	assert.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
	assert.Equal(t, "A", groups[0][0].Subject)
	assert.Equal(t, "B", groups[0][1].Subject)
	assert.Equal(t, "C", groups[0][2].Subject)
}

func TestDetectOverlaps_SkipsZeroTimes(t *testing.T) {
	a := appt("A", 9, 0, 10, 0)
	zero := &models.Appointment{Subject: "Z"}
	groups := DetectOverlaps([]*models.Appointment{a, zero})
	assert.Empty(t, groups)
}

func TestDetectOverlapsWithMetadata(t *testing.T) {
	a := appt("A", 9, 0, 10, 0)
	a.ShowAs = models.ShowAsBusy
	a.Importance = models.ImportanceHigh
	b := appt("B", 9, 30, 10, 30)
	b.ShowAs = models.ShowAsTentative

	groups := DetectOverlapsWithMetadata([]*models.Appointment{a, b})
	assert.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Metadata.GroupSize)
	assert.Contains(t, groups[0].Metadata.ShowAsValues, models.ShowAsBusy)
	assert.Contains(t, groups[0].Metadata.ShowAsValues, models.ShowAsTentative)
}
