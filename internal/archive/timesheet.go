package archive

import (
	"context"
	"strings"

	"github.com/auriora/calendar-archivist/internal/category"
	"github.com/auriora/calendar-archivist/internal/models"
)

// timesheetCategories are the billing types that qualify an
// appointment for a timesheet archive run; "travel" is implied
// separately via subject keyword match rather than a category.
var timesheetCategories = map[string]bool{
	"billable":     true,
	"non-billable": true,
}

// travelKeywords are matched case-insensitively against an
// appointment's subject to recognize travel time that carries no
// billing category of its own.
var travelKeywords = []string{
	"travel", "drive", "driving", "flight", "flying", "commute", "commuting",
	"transit", "transport", "journey", "trip", "departure", "arrival",
	"airport", "station", "highway", "route",
}

// isTravelAppointment reports whether an appointment's subject
// contains a travel keyword.
func isTravelAppointment(appt *models.Appointment) bool {
	subject := strings.ToLower(appt.Subject)
	for _, kw := range travelKeywords {
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}

func isFreeStatus(appt *models.Appointment) bool {
	return appt.ShowAs == models.ShowAsFree
}

// FilterForTimesheet narrows a batch of appointments down to the ones
// a timesheet archive run should keep: non-free, non-personal, with a
// billable/non-billable category, plus travel-keyword matches when
// includeTravel is set. It returns the kept set and the excluded set,
// in no particular order.
func FilterForTimesheet(appointments []*models.Appointment, includeTravel bool) (kept, excluded []*models.Appointment) {
	for _, appt := range appointments {
		if isFreeStatus(appt) {
			excluded = append(excluded, appt)
			continue
		}
		if includeTravel && isTravelAppointment(appt) {
			kept = append(kept, appt)
			continue
		}

		info := category.ExtractCustomerBillingInfo(appt)
		if info.IsPersonal {
			excluded = append(excluded, appt)
			continue
		}
		if timesheetCategories[info.BillingType] {
			kept = append(kept, appt)
		} else {
			excluded = append(excluded, appt)
		}
	}
	return kept, excluded
}

// ArchiveTimesheet runs the timesheet-purpose variant of Archive: the
// same pipeline, narrowed to billable/non-billable (and optionally
// travel) appointments right before overlap resolution, once
// recurrence expansion, category processing, modification merging and
// deduplication have already run, with the overlap engine always
// applied regardless of AllowOverlaps (a timesheet submission can
// never contain overlapping billable time).
func (o *Orchestrator) ArchiveTimesheet(ctx context.Context, p Params) (*Result, error) {
	p.Purpose = models.ArchivePurposeTimesheet
	p.AllowOverlaps = false
	return o.Archive(ctx, p)
}
