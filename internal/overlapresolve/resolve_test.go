package overlapresolve

import (
	"testing"

	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAutomaticResolutionRules_FiltersFree(t *testing.T) {
	free := &models.Appointment{Subject: "Free block", ShowAs: models.ShowAsFree}
	busy := &models.Appointment{Subject: "Meeting", ShowAs: models.ShowAsBusy}
	result := ApplyAutomaticResolutionRules([]*models.Appointment{free, busy})
	assert.Equal(t, []*models.Appointment{busy}, result.Resolved)
	assert.Equal(t, []*models.Appointment{free}, result.Filtered)
}

func TestApplyAutomaticResolutionRules_PrefersConfirmedOverTentative(t *testing.T) {
	confirmed := &models.Appointment{Subject: "Confirmed", ShowAs: models.ShowAsBusy}
	tentative := &models.Appointment{Subject: "Tentative", ShowAs: models.ShowAsTentative}
	result := ApplyAutomaticResolutionRules([]*models.Appointment{confirmed, tentative})
	assert.Equal(t, []*models.Appointment{confirmed}, result.Resolved)
	assert.Contains(t, result.Filtered, tentative)
}

func TestApplyAutomaticResolutionRules_ResolvesByPriority(t *testing.T) {
	high := &models.Appointment{Subject: "High", ShowAs: models.ShowAsBusy, Importance: models.ImportanceHigh}
	normal := &models.Appointment{Subject: "Normal", ShowAs: models.ShowAsBusy, Importance: models.ImportanceNormal}
	result := ApplyAutomaticResolutionRules([]*models.Appointment{high, normal})
	assert.Equal(t, []*models.Appointment{high}, result.Resolved)
	assert.Contains(t, result.Filtered, normal)
}

func TestApplyAutomaticResolutionRules_UnresolvableTieIsConflict(t *testing.T) {
	a := &models.Appointment{Subject: "A", ShowAs: models.ShowAsBusy, Importance: models.ImportanceNormal}
	b := &models.Appointment{Subject: "B", ShowAs: models.ShowAsBusy, Importance: models.ImportanceNormal}
	result := ApplyAutomaticResolutionRules([]*models.Appointment{a, b})
	assert.Empty(t, result.Resolved)
	assert.ElementsMatch(t, []*models.Appointment{a, b}, result.Conflicts)
	assert.NotEmpty(t, result.ResolutionLog)
}

func TestApplyAutomaticResolutionRules_Empty(t *testing.T) {
	result := ApplyAutomaticResolutionRules(nil)
	assert.Empty(t, result.Resolved)
	assert.Empty(t, result.Conflicts)
}

func TestFilterFreeAppointments(t *testing.T) {
	free := &models.Appointment{ShowAs: models.ShowAsFree}
	busy := &models.Appointment{ShowAs: models.ShowAsBusy}
	nonFree, filtered := FilterFreeAppointments([]*models.Appointment{free, busy})
	assert.Equal(t, []*models.Appointment{busy}, nonFree)
	assert.Equal(t, []*models.Appointment{free}, filtered)
}

func TestResolveTentativeConflicts_AllTentativeUnchanged(t *testing.T) {
	a := &models.Appointment{ShowAs: models.ShowAsTentative}
	b := &models.Appointment{ShowAs: models.ShowAsTentative}
	kept, discarded := ResolveTentativeConflicts([]*models.Appointment{a, b})
	assert.Equal(t, []*models.Appointment{a, b}, kept)
	assert.Nil(t, discarded)
}

func TestResolveByPriority_Tie(t *testing.T) {
	a := &models.Appointment{Importance: models.ImportanceHigh}
	b := &models.Appointment{Importance: models.ImportanceHigh}
	_, _, err := ResolveByPriority([]*models.Appointment{a, b})
	require.Error(t, err)
}

func TestResolveByPriority_Single(t *testing.T) {
	a := &models.Appointment{Importance: models.ImportanceLow}
	primary, secondary, err := ResolveByPriority([]*models.Appointment{a})
	require.NoError(t, err)
	assert.Same(t, a, primary)
	assert.Empty(t, secondary)
}

func TestAppointmentPriorityScore(t *testing.T) {
	assert.Equal(t, 3, AppointmentPriorityScore(&models.Appointment{Importance: models.ImportanceHigh}))
	assert.Equal(t, 2, AppointmentPriorityScore(&models.Appointment{Importance: models.ImportanceNormal}))
	assert.Equal(t, 1, AppointmentPriorityScore(&models.Appointment{Importance: models.ImportanceLow}))
	assert.Equal(t, 2, AppointmentPriorityScore(&models.Appointment{}))
}
