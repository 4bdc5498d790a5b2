// Package archive implements the calendar archive orchestrator (C10):
// the single pipeline that pulls appointments from a source calendar,
// classifies and cleans them up, resolves scheduling conflicts, and
// writes the result to a destination calendar under a reversible
// operation, emitting one audit trail and a set of action items for
// anything it could not resolve automatically.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/auriora/calendar-archivist/internal/association"
	"github.com/auriora/calendar-archivist/internal/audit"
	"github.com/auriora/calendar-archivist/internal/caltime"
	"github.com/auriora/calendar-archivist/internal/category"
	"github.com/auriora/calendar-archivist/internal/events"
	"github.com/auriora/calendar-archivist/internal/logger"
	"github.com/auriora/calendar-archivist/internal/modmerge"
	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/auriora/calendar-archivist/internal/overlapresolve"
	"github.com/auriora/calendar-archivist/internal/overlaputil"
	"github.com/auriora/calendar-archivist/internal/repository"
	"github.com/auriora/calendar-archivist/internal/reversible"
)

// maxCategoryIssueActionLogs bounds how many category-validation
// ActionLogs a single run raises, so a calendar with systemically
// broken categories doesn't flood the operator's action queue.
const maxCategoryIssueActionLogs = 10

// Orchestrator wires the category/modification/overlap pipeline (C1,
// C4-C6) together with the audit trail (C8), reversible ledger (C9),
// and entity associations (C11) into one archive run.
type Orchestrator struct {
	Audit       *audit.Service
	Reversible  *reversible.Service
	Association *association.Service
	Events      *events.Publisher
	// RaiseActionLog persists an ActionLog raised during the run. The
	// orchestrator has no direct repository for ActionLogs of its own;
	// the caller supplies one since ActionLog storage is not otherwise
	// part of this package's dependency set.
	RaiseActionLog func(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error)
}

// NewOrchestrator builds an Orchestrator from its collaborators.
func NewOrchestrator(auditSvc *audit.Service, reversibleSvc *reversible.Service, assocSvc *association.Service, pub *events.Publisher, raiseActionLog func(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error)) *Orchestrator {
	return &Orchestrator{Audit: auditSvc, Reversible: reversibleSvc, Association: assocSvc, Events: pub, RaiseActionLog: raiseActionLog}
}

// Params configures a single archive run. SourceRepo and DestRepo are
// already resolved to the concrete backend (msgraph vs local) the
// source/destination URIs name; resolving a URI to a repository
// requires provider credentials this package has no business holding,
// so that resolution happens in the caller (typically the CLI or an
// HTTP handler), which parses each URI and picks the repository by its
// scheme before Archive is invoked.
type Params struct {
	UserID         int64
	CorrelationID  string
	SourceURI      string
	DestinationURI string
	Start, End     time.Time
	Purpose        string // models.ArchivePurposeGeneral or ArchivePurposeTimesheet
	AllowOverlaps  bool
	IncludeTravel  bool
	SourceRepo     repository.AppointmentRepository
	DestRepo       repository.AppointmentRepository
}

// ResolutionStats summarizes overlap resolution across the whole run.
type ResolutionStats struct {
	TotalOverlaps        int `json:"total_overlaps"`
	AutoResolved         int `json:"auto_resolved"`
	RemainingConflicts   int `json:"remaining_conflicts"`
	FilteredAppointments int `json:"filtered_appointments"`
}

// CategoryStatsOut is category.Stats reshaped to the archival result's
// external JSON contract.
type CategoryStatsOut struct {
	ValidCategories   int            `json:"valid_categories"`
	InvalidCategories int            `json:"invalid_categories"`
	Personal          int            `json:"personal_appointments"`
	Customers         []string       `json:"customers"`
	BillingTypes      map[string]int `json:"billing_types"`
	Issues            []string       `json:"issues"`
}

// Result is the appointment archival result returned by a run.
type Result struct {
	Status              string           `json:"status"` // success | partial | error
	ArchiveType         string           `json:"archive_type"`
	ArchivedCount       int              `json:"archived_count"`
	OverlapCount        int              `json:"overlap_count"`
	ResolutionStats     ResolutionStats  `json:"resolution_stats"`
	CategoryStats       CategoryStatsOut `json:"category_stats"`
	CategoryIssueCount  int              `json:"category_issue_count"`
	ModificationCount   int              `json:"modification_count"`
	PrivacyAppliedCount int              `json:"privacy_applied_count"`
	Errors              []string         `json:"errors"`
	CorrelationID       string           `json:"correlation_id"`
}

// Archive runs the full archive pipeline: fetch, expand recurrences,
// classify categories, merge modifications, deduplicate, resolve
// overlaps, write to the destination, seal immutable rows, and record
// everything the ledger and audit trail need to undo or explain the
// run later.
func (o *Orchestrator) Archive(ctx context.Context, p Params) (result *Result, err error) {
	correlationID := p.CorrelationID
	if correlationID == "" {
		correlationID = audit.NewCorrelationID()
	}

	ac := audit.Start(o.Audit, audit.StartParams{
		UserID:       p.UserID,
		ActionType:   "archive",
		Operation:    "calendar_archive_" + p.Purpose,
		ResourceType: "calendar",
		ResourceID:   p.SourceURI,
		CorrelationID: correlationID,
	})
	ac.SetRequestData(map[string]any{
		"source_uri": p.SourceURI, "destination_uri": p.DestinationURI,
		"start": p.Start, "end": p.End, "purpose": p.Purpose,
	})

	result = &Result{ArchiveType: p.Purpose, CorrelationID: correlationID, CategoryStats: CategoryStatsOut{BillingTypes: map[string]int{}}}
	defer func() {
		ac.SetResponseData(map[string]any{"result": result})
		ac.FinishWithStatus(ctx, statusForResult(result), fmt.Sprintf("archive run %s: %d archived", result.Status, result.ArchivedCount))
	}()

	op, err := o.Reversible.Start(ctx, reversible.StartParams{
		UserID: p.UserID, OperationType: "archive", Name: "calendar_archive_" + p.Purpose, CorrelationID: correlationID,
	})
	if err != nil {
		result.Status = "error"
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	// 1. fetch
	appointments, err := p.SourceRepo.ListForUser(ctx, p.UserID, p.Start, p.End)
	if err != nil {
		result.Status = "error"
		result.Errors = append(result.Errors, fmt.Sprintf("fetch appointments: %s", err))
		_ = o.Reversible.Commit(ctx, op, models.AuditStatusFailure, "fetch failed", nil)
		return result, nil
	}

	// 2. expand recurrences
	appointments, err = caltime.ExpandRecurringEventsRange(appointments, p.Start, p.End)
	if err != nil {
		result.Status = "error"
		result.Errors = append(result.Errors, fmt.Sprintf("expand recurrences: %s", err))
		_ = o.Reversible.Commit(ctx, op, models.AuditStatusFailure, "recurrence expansion failed", nil)
		return result, nil
	}

	// 3. category pass: privacy flip + capped needs_user_action ActionLogs
	category.ProcessAppointments(appointments)
	catStats := category.GetCategoryStatistics(appointments)
	result.CategoryStats = CategoryStatsOut{
		ValidCategories:   catStats.ValidCategories,
		InvalidCategories: catStats.InvalidCategories,
		Personal:          catStats.PersonalAppointments,
		Customers:         catStats.Customers,
		BillingTypes:      catStats.BillingTypes,
		Issues:            catStats.Issues,
	}
	result.CategoryIssueCount = len(catStats.Issues)
	result.PrivacyAppliedCount = countPrivate(appointments)
	o.raiseCategoryIssues(ctx, p.UserID, correlationID, catStats.Issues)

	// 4. modification merge
	appointments, modLog := modmerge.ProcessModifications(appointments)
	result.ModificationCount = len(modLog)

	// 5. deduplicate
	appointments = overlaputil.MergeDuplicates(appointments)

	// 5b. timesheet eligibility filter, applied to the merged candidate
	// set so a modification side-record with no category of its own
	// still gets a chance to merge into its original appointment (step
	// 4) before billing eligibility is judged.
	if p.Purpose == models.ArchivePurposeTimesheet {
		appointments, _ = FilterForTimesheet(appointments, p.IncludeTravel)
	}

	// 6. detect-and-resolve overlaps
	nonOverlapping, autoResolved, residualGroups, resStats := o.resolveOverlaps(appointments, p.AllowOverlaps)
	result.ResolutionStats = resStats
	result.OverlapCount = resStats.TotalOverlaps
	final := append(nonOverlapping, autoResolved...)

	// 7. capture before-state and write to destination
	items := make([]*models.Appointment, 0, len(final))
	for _, appt := range final {
		items = append(items, appt)
	}

	writeErrs := o.writeToDestination(ctx, op, p.DestRepo, items)
	result.ArchivedCount = len(items) - len(writeErrs)
	result.Errors = append(result.Errors, writeErrs...)

	// 8. seal immutable rows if the destination supports it
	if immut, ok := p.DestRepo.(repository.ImmutabilityRepository); ok {
		for _, appt := range items {
			if appt.ID == 0 {
				continue
			}
			if err := immut.MakeImmutable(ctx, appt.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("make immutable %d: %s", appt.ID, err))
			}
		}
	}

	// 9. raise one ActionLog per residual conflict group, associated to its appointments
	for _, group := range residualGroups {
		o.raiseOverlapActionLog(ctx, p.UserID, correlationID, group)
	}

	if len(writeErrs) > 0 {
		result.Status = "partial"
		_ = o.Reversible.Commit(ctx, op, models.AuditStatusPartial, "archive completed with errors", map[string]any{"errors": writeErrs})
	} else {
		result.Status = "success"
		_ = o.Reversible.Commit(ctx, op, models.AuditStatusSuccess, "archive completed", nil)
	}

	if o.Events != nil {
		_ = o.Events.PublishArchiveCompleted(events.ArchiveCompletedEvent{
			CorrelationID: correlationID, UserID: p.UserID, Status: result.Status,
			ArchiveType: result.ArchiveType, ArchivedCount: result.ArchivedCount,
		})
	}

	return result, nil
}

func statusForResult(r *Result) string {
	switch r.Status {
	case "success":
		return models.AuditStatusSuccess
	case "partial":
		return models.AuditStatusPartial
	default:
		return models.AuditStatusFailure
	}
}

func countPrivate(appointments []*models.Appointment) int {
	n := 0
	for _, a := range appointments {
		if a.Sensitivity == models.SensitivityPrivate {
			n++
		}
	}
	return n
}

// resolveOverlaps always free-filters and detects/reports overlaps;
// only the narrowing of the archive set to non_overlapping ∪
// auto_resolved is conditional on allowOverlaps. When allowOverlaps is
// set, every non-free appointment is archived regardless of overlap
// status, but overlaps are still detected, counted, and raised as
// residual conflicts for visibility.
func (o *Orchestrator) resolveOverlaps(appointments []*models.Appointment, allowOverlaps bool) (nonOverlapping, autoResolved []*models.Appointment, residualGroups [][]*models.Appointment, stats ResolutionStats) {
	nonFree, free := overlapresolve.FilterFreeAppointments(appointments)
	stats.FilteredAppointments = len(free)

	groups := overlaputil.DetectOverlaps(nonFree)
	stats.TotalOverlaps = len(groups)

	if allowOverlaps {
		for _, group := range groups {
			res := overlapresolve.ApplyAutomaticResolutionRules(group)
			stats.AutoResolved += len(res.Resolved)
			if len(res.Conflicts) > 0 {
				residualGroups = append(residualGroups, res.Conflicts)
				stats.RemainingConflicts += len(res.Conflicts)
			}
		}
		return nonFree, nil, residualGroups, stats
	}

	overlapping := map[*models.Appointment]bool{}
	for _, group := range groups {
		for _, appt := range group {
			overlapping[appt] = true
		}

		res := overlapresolve.ApplyAutomaticResolutionRules(group)
		autoResolved = append(autoResolved, res.Resolved...)
		stats.AutoResolved += len(res.Resolved)
		stats.FilteredAppointments += len(res.Filtered)
		if len(res.Conflicts) > 0 {
			residualGroups = append(residualGroups, res.Conflicts)
			stats.RemainingConflicts += len(res.Conflicts)
		}
	}

	for _, appt := range nonFree {
		if !overlapping[appt] {
			nonOverlapping = append(nonOverlapping, appt)
		}
	}
	return nonOverlapping, autoResolved, residualGroups, stats
}

// writeToDestination writes items to dest, preferring a bulk path
// when the backend offers one, and captures a before-state ledger
// item per successfully-written appointment.
func (o *Orchestrator) writeToDestination(ctx context.Context, op *models.ReversibleOperation, dest repository.AppointmentRepository, items []*models.Appointment) []string {
	var errs []string

	if bulk, ok := dest.(repository.BulkAppointmentRepository); ok {
		perItemErrs := bulk.AddBulk(ctx, items)
		for i, appt := range items {
			if perItemErrs[i] != "" {
				errs = append(errs, fmt.Sprintf("%s: %s", appt.Subject, perItemErrs[i]))
				continue
			}
			o.captureArchivedItem(ctx, op, appt)
		}
		return errs
	}

	for _, appt := range items {
		if err := dest.Add(ctx, appt); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", appt.Subject, err))
			continue
		}
		o.captureArchivedItem(ctx, op, appt)
	}
	return errs
}

func (o *Orchestrator) captureArchivedItem(ctx context.Context, op *models.ReversibleOperation, appt *models.Appointment) {
	_, _ = o.Reversible.CaptureItem(ctx, op, reversible.CaptureItemParams{
		ItemType:      "appointment",
		ItemID:        appt.ID,
		ExternalID:    appt.MSEventID,
		BeforeState:   nil,
		ReverseAction: models.ReverseActionDelete,
	})
}

func (o *Orchestrator) raiseCategoryIssues(ctx context.Context, userID int64, correlationID string, issues []string) {
	if o.RaiseActionLog == nil {
		return
	}
	capped := issues
	if len(capped) > maxCategoryIssueActionLogs {
		capped = capped[:maxCategoryIssueActionLogs]
	}
	for _, issue := range capped {
		log, err := o.RaiseActionLog(ctx, &models.ActionLog{
			UserID:      userID,
			EventType:   "category_validation",
			State:       models.ActionLogStateNeedsUserAction,
			Description: issue,
		})
		if err != nil || log == nil {
			continue
		}
		if o.Events != nil {
			_ = o.Events.PublishTaskCreated(events.TaskCreatedEvent{
				CorrelationID: correlationID, UserID: userID, ActionLogID: log.ID, EventType: log.EventType,
			})
		}
	}
}

func (o *Orchestrator) raiseOverlapActionLog(ctx context.Context, userID int64, correlationID string, group []*models.Appointment) {
	if o.RaiseActionLog == nil {
		return
	}
	subjects := make([]string, len(group))
	for i, appt := range group {
		subjects[i] = appt.Subject
	}
	log, err := o.RaiseActionLog(ctx, &models.ActionLog{
		UserID:      userID,
		EventType:   "overlap",
		State:       models.ActionLogStateNeedsUserAction,
		Description: fmt.Sprintf("%d appointments still conflict after automatic resolution", len(group)),
		Details:     map[string]any{"subjects": subjects},
	})
	if err != nil || log == nil {
		return
	}
	if o.Association != nil {
		for _, appt := range group {
			if appt.ID == 0 {
				continue
			}
			_, err := o.Association.Associate(ctx, "action_log", log.ID, "appointment", appt.ID, "overlap")
			if err != nil {
				logger.Archive().Warn().Err(err).Int64("action_log_id", log.ID).Int64("appointment_id", appt.ID).Msg("failed to associate overlap action log")
			}
		}
	}
	if o.Events != nil {
		_ = o.Events.PublishTaskCreated(events.TaskCreatedEvent{
			CorrelationID: correlationID, UserID: userID, ActionLogID: log.ID, EventType: log.EventType,
		})
	}
}
