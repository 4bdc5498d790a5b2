package reversible

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/auriora/calendar-archivist/internal/audit"
	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/auriora/calendar-archivist/internal/repository"
)

// ItemReverser executes the three reverse actions an item can carry.
// Implementations are looked up by item_type; "appointment" is the
// only type the archive pipeline currently produces.
type ItemReverser interface {
	// Restore recreates an item that was deleted, from before_state.
	Restore(ctx context.Context, item *models.ReversibleOperationItem) error
	// Delete removes an item that was created.
	Delete(ctx context.Context, item *models.ReversibleOperationItem) error
	// Update writes before_state back over the item's current state.
	Update(ctx context.Context, item *models.ReversibleOperationItem) error
}

// AppointmentReverser implements ItemReverser against a single
// appointment repository. The composition roots (cmd/main.go and
// cmd/archivist) wire it against the local repository.
type AppointmentReverser struct {
	Repo repository.AppointmentRepository
}

func (r *AppointmentReverser) Restore(ctx context.Context, item *models.ReversibleOperationItem) error {
	if len(item.BeforeState) == 0 {
		return fmt.Errorf("no before_state available for restoration")
	}
	appt, err := appointmentFromState(item.BeforeState)
	if err != nil {
		return fmt.Errorf("reconstruct appointment from before_state: %w", err)
	}
	appt.ID = 0
	appt.IsArchived = false
	return r.Repo.Add(ctx, appt)
}

func (r *AppointmentReverser) Delete(ctx context.Context, item *models.ReversibleOperationItem) error {
	return r.Repo.Delete(ctx, item.ItemID)
}

func (r *AppointmentReverser) Update(ctx context.Context, item *models.ReversibleOperationItem) error {
	if len(item.BeforeState) == 0 {
		return fmt.Errorf("no before_state available for update reversal")
	}
	appt, err := appointmentFromState(item.BeforeState)
	if err != nil {
		return fmt.Errorf("reconstruct appointment from before_state: %w", err)
	}
	appt.ID = item.ItemID
	return r.Repo.Update(ctx, appt)
}

// AppointmentBeforeState snapshots an appointment into the JSON-safe
// form CaptureItem expects, round-trippable back via
// appointmentFromState for restore/update reversal.
func AppointmentBeforeState(appt *models.Appointment) map[string]any {
	return audit.Sanitize(appt).(map[string]any)
}

func appointmentFromState(state map[string]any) (*models.Appointment, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var appt models.Appointment
	if err := json.Unmarshal(raw, &appt); err != nil {
		return nil, err
	}
	return &appt, nil
}

// ReverseResult mirrors the CLI-facing reverse response shape.
type ReverseResult struct {
	Success        bool     `json:"success"`
	DryRun         bool     `json:"dry_run,omitempty"`
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	Reasons        []string `json:"reasons,omitempty"`
	ItemsToReverse int      `json:"items_to_reverse,omitempty"`
	ReverseActions []string `json:"reverse_actions,omitempty"`
	ReversedItems  int      `json:"reversed_items,omitempty"`
	FailedItems    int      `json:"failed_items,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// CheckDependencies reports whether op can be reversed right now:
// not already reversed, still marked reversible, and every operation
// it blocks already reversed.
func (s *Service) CheckDependencies(ctx context.Context, op *models.ReversibleOperation) (bool, []string) {
	var reasons []string

	if op.IsReversed {
		reasons = append(reasons, "Operation has already been reversed")
	}
	if !op.IsReversible {
		reasons = append(reasons, fmt.Sprintf("Operation is not reversible: %s", op.ReverseReason))
	}

	for _, blockedID := range op.Blocks {
		blocked, err := s.GetOperation(ctx, blockedID)
		if err != nil {
			continue
		}
		if !blocked.IsReversed {
			reasons = append(reasons, fmt.Sprintf("Dependent operations must be reversed first: %s", blocked.Name))
		}
	}

	return len(reasons) == 0, reasons
}

// Reverse undoes a completed operation. Only the operation's own
// owning user may reverse it; a mismatched user is rejected before
// the operation's dependency state is even inspected. dry_run
// previews the reversal without mutating anything. reversers maps
// item_type to the handler that knows how to restore/delete/update
// that kind of item — the caller (the HTTP handler or the CLI)
// supplies it. Per-item reverse failures are
// captured and never abort the remaining items; the operation is
// marked reversed only if every item succeeded, otherwise partial —
// never failure unless this call itself errors.
func (s *Service) Reverse(ctx context.Context, operationID, reversedByUserID int64, reason string, dryRun bool, reversers map[string]ItemReverser) (*ReverseResult, error) {
	op, err := s.GetOperation(ctx, operationID)
	if err != nil {
		if _, ok := err.(*NotFoundError); ok {
			return &ReverseResult{Success: false, Error: "Operation not found"}, nil
		}
		return nil, err
	}

	if op.UserID != reversedByUserID {
		return nil, &UnauthorizedError{OperationID: operationID, UserID: reversedByUserID}
	}

	canReverse, reasons := s.CheckDependencies(ctx, op)
	if !canReverse {
		return &ReverseResult{Success: false, Error: "Cannot reverse operation", Reasons: reasons}, nil
	}

	items, err := s.listItems(ctx, op.ID)
	if err != nil {
		return nil, err
	}

	if dryRun {
		actions := make([]string, len(items))
		for i, item := range items {
			actions[i] = item.ReverseAction
		}
		return &ReverseResult{
			Success:        true,
			DryRun:         true,
			Message:        "Operation can be safely reversed",
			ItemsToReverse: len(items),
			ReverseActions: actions,
		}, nil
	}

	var reversalAuditID *int64
	if op.AuditLogID != nil {
		record, logErr := s.audit.LogOperation(ctx, audit.LogParams{
			UserID:        reversedByUserID,
			ActionType:    "reverse",
			Operation:     "reverse_" + op.Name,
			Status:        models.AuditStatusStarted,
			Message:       fmt.Sprintf("Started reversal of operation %d: %s", op.ID, reason),
			CorrelationID: op.CorrelationID,
			ParentAuditID: op.AuditLogID,
		})
		if logErr == nil {
			reversalAuditID = &record.ID
		}
	}

	result := &ReverseResult{Success: true}
	for _, item := range items {
		reverser, ok := reversers[item.ItemType]
		if !ok {
			reverseErr := fmt.Errorf("no reverser registered for item type %q", item.ItemType)
			_ = s.markItemReversed(ctx, item, reverseErr)
			result.FailedItems++
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to reverse %s %d: %s", item.ItemType, item.ItemID, reverseErr))
			continue
		}

		reverseErr := dispatchReverseAction(ctx, reverser, item)
		if markErr := s.markItemReversed(ctx, item, reverseErr); markErr != nil {
			return nil, fmt.Errorf("record item reversal: %w", markErr)
		}
		if reverseErr != nil {
			result.FailedItems++
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to reverse %s %d: %s", item.ItemType, item.ItemID, reverseErr))
			continue
		}
		result.ReversedItems++
	}

	status := models.AuditStatusSuccess
	message := fmt.Sprintf("Successfully reversed operation %d", op.ID)
	if result.FailedItems > 0 {
		status = models.AuditStatusPartial
		message = fmt.Sprintf("Partially reversed operation %d: %d items failed", op.ID, result.FailedItems)
	} else if err := s.markOperationReversed(ctx, op, reversedByUserID, reason); err != nil {
		return nil, fmt.Errorf("mark operation reversed: %w", err)
	}

	if reversalAuditID != nil {
		responseData := map[string]any{
			"reversed_items": result.ReversedItems,
			"failed_items":   result.FailedItems,
			"errors":         result.Errors,
		}
		if _, err := s.audit.LogOperation(ctx, audit.LogParams{
			UserID:        reversedByUserID,
			ActionType:    "reverse",
			Operation:     "reverse_" + op.Name,
			Status:        status,
			Message:       message,
			ResponseData:  responseData,
			CorrelationID: op.CorrelationID,
			ParentAuditID: reversalAuditID,
		}); err != nil {
			return nil, fmt.Errorf("log reversal completion: %w", err)
		}
	}

	return result, nil
}

func dispatchReverseAction(ctx context.Context, reverser ItemReverser, item *models.ReversibleOperationItem) error {
	switch item.ReverseAction {
	case models.ReverseActionRestore:
		return reverser.Restore(ctx, item)
	case models.ReverseActionDelete:
		return reverser.Delete(ctx, item)
	case models.ReverseActionUpdate:
		return reverser.Update(ctx, item)
	default:
		return fmt.Errorf("unknown reverse action: %s", item.ReverseAction)
	}
}
