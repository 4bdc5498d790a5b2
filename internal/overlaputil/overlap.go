// Package overlaputil provides pure functions for deduplicating and
// grouping overlapping appointments ahead of resolution (C6).
package overlaputil

import (
	"sort"

	"github.com/auriora/calendar-archivist/internal/models"
)

type dedupeKey struct {
	subject string
	start   int64
	end     int64
}

// MergeDuplicates drops appointments that share the same subject,
// start time, and end time, keeping the first occurrence of each.
func MergeDuplicates(appointments []*models.Appointment) []*models.Appointment {
	seen := make(map[dedupeKey]bool, len(appointments))
	result := make([]*models.Appointment, 0, len(appointments))
	for _, appt := range appointments {
		key := dedupeKey{appt.Subject, appt.StartTime.UnixNano(), appt.EndTime.UnixNano()}
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, appt)
	}
	return result
}

// DetectOverlaps groups appointments whose interval overlaps another
// appointment already in the group.
//
// Appointments are sorted by start time, then swept in order: an
// appointment joins the current group when its start is strictly
// before the group's running max-end (the latest end of any member
// so far), so an appointment nested inside an earlier, longer member
// joins the group even when the immediately preceding member has
// already ended.
func DetectOverlaps(appointments []*models.Appointment) [][]*models.Appointment {
	valid := make([]*models.Appointment, 0, len(appointments))
	for _, a := range appointments {
		if a.StartTime.IsZero() || a.EndTime.IsZero() {
			continue
		}
		valid = append(valid, a)
	}

	sorted := append([]*models.Appointment(nil), valid...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	var overlaps [][]*models.Appointment
	var current []*models.Appointment
	var maxEnd *models.Appointment // member with the latest end so far

	for _, appt := range sorted {
		if len(current) == 0 {
			current = []*models.Appointment{appt}
			maxEnd = appt
			continue
		}
		if appt.StartTime.Before(maxEnd.EndTime) {
			current = append(current, appt)
			if appt.EndTime.After(maxEnd.EndTime) {
				maxEnd = appt
			}
		} else {
			if len(current) > 1 {
				overlaps = append(overlaps, current)
			}
			current = []*models.Appointment{appt}
			maxEnd = appt
		}
	}
	if len(current) > 1 {
		overlaps = append(overlaps, current)
	}
	return overlaps
}

// OverlapMetadata carries the resolution-relevant fields extracted
// from an overlap group, so resolution (C6) doesn't need to re-walk
// the group to find them.
type OverlapMetadata struct {
	ShowAsValues      []models.ShowAs
	ImportanceValues  []models.Importance
	SensitivityValues []models.Sensitivity
	Subjects          []string
	GroupSize         int
}

// OverlapGroup pairs an overlapping set of appointments with its
// resolution metadata.
type OverlapGroup struct {
	Appointments []*models.Appointment
	Metadata     OverlapMetadata
}

// DetectOverlapsWithMetadata is DetectOverlaps enriched with the
// per-group metadata the resolution engine needs.
func DetectOverlapsWithMetadata(appointments []*models.Appointment) []OverlapGroup {
	groups := DetectOverlaps(appointments)
	result := make([]OverlapGroup, 0, len(groups))
	for _, group := range groups {
		meta := OverlapMetadata{GroupSize: len(group)}
		for _, appt := range group {
			meta.ShowAsValues = append(meta.ShowAsValues, appt.ShowAs)
			meta.ImportanceValues = append(meta.ImportanceValues, appt.Importance)
			meta.SensitivityValues = append(meta.SensitivityValues, appt.Sensitivity)
			meta.Subjects = append(meta.Subjects, appt.Subject)
		}
		result = append(result, OverlapGroup{Appointments: group, Metadata: meta})
	}
	return result
}
