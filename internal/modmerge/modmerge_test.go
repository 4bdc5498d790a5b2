package modmerge

import (
	"testing"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func t0(h, m int) time.Time {
	return time.Date(2026, 8, 1, h, m, 0, 0, time.UTC)
}

func TestDetectModificationType(t *testing.T) {
	assert.Equal(t, TypeExtension, DetectModificationType("Extended"))
	assert.Equal(t, TypeShortened, DetectModificationType("Meeting shortened"))
	assert.Equal(t, TypeEarlyStart, DetectModificationType("early start adjustment"))
	assert.Equal(t, TypeLateStart, DetectModificationType("Late Start"))
	assert.Equal(t, "", DetectModificationType("Team Sync"))
	assert.Equal(t, "", DetectModificationType(""))
}

func TestMergeExtension(t *testing.T) {
	original := &models.Appointment{Subject: "Sync", StartTime: t0(9, 0), EndTime: t0(10, 0)}
	extension := &models.Appointment{Subject: "Extended", StartTime: t0(10, 0), EndTime: t0(10, 30)}
	merged := MergeExtension(original, extension)
	assert.Equal(t, t0(10, 30), merged.EndTime)
	assert.Equal(t, t0(9, 0), merged.StartTime)
}

func TestApplyShortening(t *testing.T) {
	original := &models.Appointment{Subject: "Sync", StartTime: t0(9, 0), EndTime: t0(10, 0)}
	shortening := &models.Appointment{Subject: "shortened", StartTime: t0(9, 45), EndTime: t0(10, 0)}
	shortened := ApplyShortening(original, shortening)
	assert.Equal(t, t0(9, 45), shortened.EndTime)
}

func TestApplyShortening_ClampsToMinimum(t *testing.T) {
	original := &models.Appointment{Subject: "Sync", StartTime: t0(9, 0), EndTime: t0(9, 30)}
	shortening := &models.Appointment{Subject: "shortened", StartTime: t0(9, 0), EndTime: t0(10, 0)}
	shortened := ApplyShortening(original, shortening)
	assert.Equal(t, t0(9, 1), shortened.EndTime)
}

func TestAdjustStartTime_Early(t *testing.T) {
	original := &models.Appointment{Subject: "Sync", StartTime: t0(9, 0), EndTime: t0(10, 0)}
	early := &models.Appointment{Subject: "early start", StartTime: t0(8, 45), EndTime: t0(9, 0)}
	adjusted := AdjustStartTime(original, early)
	assert.Equal(t, t0(8, 45), adjusted.StartTime)
}

func TestAdjustStartTime_Late(t *testing.T) {
	original := &models.Appointment{Subject: "Sync", StartTime: t0(9, 0), EndTime: t0(10, 0)}
	late := &models.Appointment{Subject: "late start", StartTime: t0(9, 0), EndTime: t0(9, 15)}
	adjusted := AdjustStartTime(original, late)
	assert.Equal(t, t0(9, 15), adjusted.StartTime)
}

func TestFindOriginalAppointment_Extension(t *testing.T) {
	original := &models.Appointment{Subject: "Sync", StartTime: t0(9, 0), EndTime: t0(10, 0)}
	extension := &models.Appointment{Subject: "Extended", StartTime: t0(10, 0), EndTime: t0(10, 30)}
	found := FindOriginalAppointment(extension, []*models.Appointment{original})
	assert.Same(t, original, found)
}

func TestFindOriginalAppointment_NoMatch(t *testing.T) {
	other := &models.Appointment{Subject: "Unrelated", StartTime: t0(14, 0), EndTime: t0(15, 0)}
	extension := &models.Appointment{Subject: "Extended", StartTime: t0(10, 0), EndTime: t0(10, 30)}
	found := FindOriginalAppointment(extension, []*models.Appointment{other})
	assert.Nil(t, found)
}

func TestProcessModifications_MergesAndLogs(t *testing.T) {
	original := &models.Appointment{Subject: "Sync", StartTime: t0(9, 0), EndTime: t0(10, 0)}
	extension := &models.Appointment{Subject: "Extended", StartTime: t0(10, 0), EndTime: t0(10, 30)}

	processed, log := ProcessModifications([]*models.Appointment{original, extension})
	require.Len(t, processed, 1)
	assert.Equal(t, t0(10, 30), processed[0].EndTime)
	assert.NotEmpty(t, log)
}

func TestProcessModifications_Orphaned(t *testing.T) {
	extension := &models.Appointment{Subject: "Extended", StartTime: t0(10, 0), EndTime: t0(10, 30)}
	processed, log := ProcessModifications([]*models.Appointment{extension})
	assert.Empty(t, processed)
	require.Len(t, log, 1)
	assert.Contains(t, log[0], "Orphaned")
}

func TestProcessModifications_Empty(t *testing.T) {
	processed, log := ProcessModifications(nil)
	assert.Nil(t, processed)
	assert.Nil(t, log)
}
