// Package overlapresolve applies the automatic overlap resolution
// policy to a group of overlapping appointments: filter out Free
// appointments, prefer Confirmed over Tentative, then fall back to
// priority (Importance). Anything still tied after all three stages
// is surfaced as a conflict for manual resolution rather than guessed
// at.
package overlapresolve

import (
	"fmt"

	"github.com/auriora/calendar-archivist/internal/models"
)

// Result is the outcome of resolving one overlap group.
type Result struct {
	Resolved      []*models.Appointment
	Conflicts     []*models.Appointment
	Filtered      []*models.Appointment
	ResolutionLog []string
}

// ApplyAutomaticResolutionRules runs the three-stage policy over a
// group of overlapping appointments.
func ApplyAutomaticResolutionRules(overlapping []*models.Appointment) Result {
	if len(overlapping) == 0 {
		return Result{}
	}

	var result Result

	remaining, free := FilterFreeAppointments(overlapping)
	if len(free) > 0 {
		result.Filtered = append(result.Filtered, free...)
		result.ResolutionLog = append(result.ResolutionLog, fmt.Sprintf("Filtered out %d 'Free' appointments", len(free)))
	}
	if len(remaining) <= 1 {
		result.Resolved = remaining
		return result
	}

	remaining, tentative := ResolveTentativeConflicts(remaining)
	if len(tentative) > 0 {
		result.Filtered = append(result.Filtered, tentative...)
		result.ResolutionLog = append(result.ResolutionLog, fmt.Sprintf("Discarded %d 'Tentative' appointments in favor of confirmed", len(tentative)))
	}
	if len(remaining) <= 1 {
		result.Resolved = remaining
		return result
	}

	primary, secondary, err := ResolveByPriority(remaining)
	if err != nil {
		result.Conflicts = remaining
		result.ResolutionLog = append(result.ResolutionLog, fmt.Sprintf("Unable to resolve by priority: %v", err))
		return result
	}

	if len(secondary) > 0 {
		result.Filtered = append(result.Filtered, secondary...)
		result.ResolutionLog = append(result.ResolutionLog, fmt.Sprintf("Selected highest priority appointment, filtered %d lower priority", len(secondary)))
	}
	result.Resolved = []*models.Appointment{primary}
	return result
}

// FilterFreeAppointments separates appointments marked ShowAsFree
// from the rest.
func FilterFreeAppointments(appointments []*models.Appointment) (nonFree, free []*models.Appointment) {
	for _, appt := range appointments {
		if appt.ShowAs == models.ShowAsFree {
			free = append(free, appt)
		} else {
			nonFree = append(nonFree, appt)
		}
	}
	return nonFree, free
}

// ResolveTentativeConflicts discards Tentative appointments when at
// least one Confirmed (i.e. not explicitly Tentative) appointment is
// also present; otherwise the whole set is returned unchanged, since
// an all-tentative or all-confirmed group has no conflict to resolve
// at this stage.
func ResolveTentativeConflicts(appointments []*models.Appointment) (kept, discardedTentative []*models.Appointment) {
	var confirmed, tentative []*models.Appointment
	for _, appt := range appointments {
		if appt.ShowAs == models.ShowAsTentative {
			tentative = append(tentative, appt)
		} else {
			confirmed = append(confirmed, appt)
		}
	}
	if len(confirmed) > 0 && len(tentative) > 0 {
		return confirmed, tentative
	}
	return appointments, nil
}

// priorityTie is returned by ResolveByPriority when two or more
// appointments share the highest priority score.
type priorityTie struct{ score int }

func (e *priorityTie) Error() string {
	return fmt.Sprintf("Multiple appointments have the same highest priority (%d)", e.score)
}

// ResolveByPriority picks the single highest-Importance appointment
// out of appointments. It returns an error if two or more
// appointments are tied for the highest score — the automatic policy
// has no further tiebreaker, so a tie must go to manual resolution.
func ResolveByPriority(appointments []*models.Appointment) (primary *models.Appointment, secondary []*models.Appointment, err error) {
	if len(appointments) == 0 {
		return nil, nil, fmt.Errorf("no appointments to resolve")
	}
	if len(appointments) == 1 {
		return appointments[0], nil, nil
	}

	highestScore := -1
	for _, appt := range appointments {
		if score := AppointmentPriorityScore(appt); score > highestScore {
			highestScore = score
		}
	}

	var highest, rest []*models.Appointment
	for _, appt := range appointments {
		if AppointmentPriorityScore(appt) == highestScore {
			highest = append(highest, appt)
		} else {
			rest = append(rest, appt)
		}
	}

	if len(highest) != 1 {
		return nil, nil, &priorityTie{score: highestScore}
	}
	return highest[0], rest, nil
}

// AppointmentPriorityScore maps Importance to a resolution score:
// High=3, Normal=2, Low=1. An unset or unrecognized importance
// defaults to Normal.
func AppointmentPriorityScore(appt *models.Appointment) int {
	switch appt.Importance {
	case models.ImportanceHigh:
		return 3
	case models.ImportanceLow:
		return 1
	default:
		return 2
	}
}
