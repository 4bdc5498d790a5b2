// Package modmerge detects and merges "meeting modification"
// appointments — synthetic calendar entries some providers create to
// represent an extension, shortening, or start-time shift of an
// existing appointment — back into the appointment they modify.
package modmerge

import (
	"fmt"
	"regexp"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
)

// candidateToleranceSeconds bounds how far a modification's boundary
// may sit from the original appointment's corresponding boundary and
// still be considered a match for it.
const candidateToleranceSeconds = 300

const (
	TypeExtension  = "extension"
	TypeShortened  = "shortened"
	TypeEarlyStart = "early_start"
	TypeLateStart  = "late_start"
)

var modificationPatterns = []struct {
	kind    string
	pattern *regexp.Regexp
}{
	{TypeExtension, regexp.MustCompile(`(?i)^Extended$`)},
	{TypeShortened, regexp.MustCompile(`(?i)\bshortened\b`)},
	{TypeEarlyStart, regexp.MustCompile(`(?i)\bearly\s+start\b`)},
	{TypeLateStart, regexp.MustCompile(`(?i)\blate\s+start\b`)},
}

// DetectModificationType returns the modification kind implied by an
// appointment subject, or "" if the subject doesn't match any known
// modification pattern.
func DetectModificationType(subject string) string {
	if subject == "" {
		return ""
	}
	for _, mp := range modificationPatterns {
		if mp.pattern.MatchString(subject) {
			return mp.kind
		}
	}
	return ""
}

// ProcessModifications separates modification appointments out of
// appointments, merges each one into the original appointment it
// modifies (when one can be found), and returns the resulting set
// together with a human-readable log of what happened.
func ProcessModifications(appointments []*models.Appointment) ([]*models.Appointment, []string) {
	if len(appointments) == 0 {
		return nil, nil
	}

	type pending struct {
		kind string
		appt *models.Appointment
	}

	var modifications []pending
	var regular []*models.Appointment

	for _, appt := range appointments {
		if kind := DetectModificationType(appt.Subject); kind != "" {
			modifications = append(modifications, pending{kind, appt})
		} else {
			regular = append(regular, appt)
		}
	}

	processed := append([]*models.Appointment(nil), regular...)
	var log []string

	for _, mod := range modifications {
		original := FindOriginalAppointment(mod.appt, regular)
		if original == nil {
			log = append(log, fmt.Sprintf("Orphaned %s modification: %s", mod.kind, mod.appt.Subject))
			continue
		}

		var modified *models.Appointment
		switch mod.kind {
		case TypeExtension:
			modified = MergeExtension(original, mod.appt)
		case TypeShortened:
			modified = ApplyShortening(original, mod.appt)
		case TypeEarlyStart, TypeLateStart:
			modified = AdjustStartTime(original, mod.appt)
		default:
			continue
		}

		for i, p := range processed {
			if p == original {
				processed[i] = modified
				log = append(log, fmt.Sprintf("Applied %s to appointment: %s", mod.kind, original.Subject))
				break
			}
		}
	}

	return processed, log
}

// MergeExtension extends original's end time by the extension
// appointment's own duration.
func MergeExtension(original, extension *models.Appointment) *models.Appointment {
	merged := original.Clone()
	extensionDuration := extension.EndTime.Sub(extension.StartTime)
	if extensionDuration > 0 {
		merged.EndTime = original.EndTime.Add(extensionDuration)
	}
	return merged
}

// ApplyShortening reduces original's end time by the shortening
// appointment's duration, clamped to a 1-minute minimum length.
func ApplyShortening(original, shortening *models.Appointment) *models.Appointment {
	shortened := original.Clone()
	shorteningDuration := shortening.EndTime.Sub(shortening.StartTime)
	if shorteningDuration > 0 {
		shortened.EndTime = original.EndTime.Add(-shorteningDuration)
		if !shortened.EndTime.After(original.StartTime) {
			shortened.EndTime = original.StartTime.Add(time.Minute)
		}
	}
	return shortened
}

// AdjustStartTime moves original's start time earlier (early_start)
// or later (late_start), clamped to a 1-minute minimum length.
func AdjustStartTime(original, timingAdjustment *models.Appointment) *models.Appointment {
	adjusted := original.Clone()
	switch DetectModificationType(timingAdjustment.Subject) {
	case TypeEarlyStart:
		adjusted.StartTime = timingAdjustment.StartTime
	case TypeLateStart:
		delay := timingAdjustment.EndTime.Sub(timingAdjustment.StartTime)
		if delay > 0 {
			adjusted.StartTime = original.StartTime.Add(delay)
			if !adjusted.StartTime.Before(original.EndTime) {
				adjusted.StartTime = original.EndTime.Add(-time.Minute)
			}
		}
	}
	return adjusted
}

type candidate struct {
	score float64
	appt  *models.Appointment
}

// FindOriginalAppointment locates the appointment in candidates that
// a modification appointment most plausibly applies to, using a
// modification-type-specific time-proximity or overlap heuristic.
// Returns nil if no candidate qualifies.
func FindOriginalAppointment(modification *models.Appointment, candidates []*models.Appointment) *models.Appointment {
	if len(candidates) == 0 {
		return nil
	}
	modStart, modEnd := modification.StartTime, modification.EndTime
	if modStart.IsZero() || modEnd.IsZero() {
		return nil
	}
	modKind := DetectModificationType(modification.Subject)

	var scored []candidate
	for _, appt := range candidates {
		if DetectModificationType(appt.Subject) != "" {
			continue
		}
		if appt.StartTime.IsZero() || appt.EndTime.IsZero() {
			continue
		}
		if len(modification.Categories) > 0 && len(appt.Categories) > 0 && !sameCategories(modification.Categories, appt.Categories) {
			continue
		}

		switch modKind {
		case TypeExtension:
			diff := absSeconds(modStart.Sub(appt.EndTime))
			if diff <= candidateToleranceSeconds {
				scored = append(scored, candidate{diff, appt})
			}
		case TypeShortened:
			if overlapsInterval(modStart, modEnd, appt.StartTime, appt.EndTime) {
				overlapStart, overlapEnd := maxTime(modStart, appt.StartTime), minTime(modEnd, appt.EndTime)
				overlapDuration := overlapEnd.Sub(overlapStart).Seconds()
				scored = append(scored, candidate{-overlapDuration, appt})
			}
		case TypeEarlyStart:
			if !modStart.After(appt.StartTime) && !modEnd.After(appt.EndTime) {
				diff := absSeconds(modEnd.Sub(appt.StartTime))
				if diff <= candidateToleranceSeconds {
					scored = append(scored, candidate{diff, appt})
				}
			}
		case TypeLateStart:
			diff := absSeconds(modStart.Sub(appt.StartTime))
			if diff <= candidateToleranceSeconds {
				scored = append(scored, candidate{diff, appt})
			}
		}
	}

	if len(scored) == 0 {
		return nil
	}
	best := scored[0]
	for _, c := range scored[1:] {
		if c.score < best.score {
			best = c
		}
	}
	return best.appt
}

func sameCategories(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, c := range a {
		seen[c]++
	}
	for _, c := range b {
		seen[c]--
	}
	for _, count := range seen {
		if count != 0 {
			return false
		}
	}
	return true
}

func overlapsInterval(aStart, aEnd, bStart, bEnd time.Time) bool {
	return (!aStart.Before(bStart) && aStart.Before(bEnd)) || (aEnd.After(bStart) && !aEnd.After(bEnd))
}

func absSeconds(d time.Duration) float64 {
	s := d.Seconds()
	if s < 0 {
		return -s
	}
	return s
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
