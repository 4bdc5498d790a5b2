// Package reversible implements the reversible-operation ledger (C9):
// every mutating archive run captures enough before/after state per
// item to be undone, and Reverse replays that state to roll the run
// back.
package reversible

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/auriora/calendar-archivist/internal/audit"
	"github.com/auriora/calendar-archivist/internal/models"
)

// Service persists the reversible-operation ledger and coordinates
// reversal. A nil db degrades the same way audit.Service does: writes
// are skipped and reads return not-found, which is adequate for
// tooling and tests that never reverse anything.
type Service struct {
	db    *sql.DB
	audit *audit.Service
}

// NewService wraps a connection pool and the audit service used to
// record the start/reverse audit trail.
func NewService(sqlDB *sql.DB, auditSvc *audit.Service) *Service {
	return &Service{db: sqlDB, audit: auditSvc}
}

// NotFoundError indicates no ReversibleOperation exists with the given id.
type NotFoundError struct{ ID int64 }

func (e *NotFoundError) Error() string { return fmt.Sprintf("reversible operation %d not found", e.ID) }

// CycleError indicates the requested depends_on edges would introduce
// a cycle into the ledger's dependency graph.
type CycleError struct{ OperationID int64 }

func (e *CycleError) Error() string {
	return fmt.Sprintf("depends_on edge through operation %d would introduce a cycle", e.OperationID)
}

// UnauthorizedError indicates a user other than the operation's owner
// attempted to reverse it.
type UnauthorizedError struct{ OperationID, UserID int64 }

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %d is not authorized to reverse operation %d", e.UserID, e.OperationID)
}

// StartParams configures a new ReversibleOperation.
type StartParams struct {
	UserID        int64
	OperationType string
	Name          string
	CorrelationID string
	DependsOn     []int64
}

// Start allocates a correlation id if none is given, writes a
// "started" audit record, and creates the operation header with an
// empty item set. depends_on is checked against the existing ledger
// for cycles before the operation is persisted.
func (s *Service) Start(ctx context.Context, p StartParams) (*models.ReversibleOperation, error) {
	correlationID := p.CorrelationID
	if correlationID == "" {
		correlationID = audit.NewCorrelationID()
	}

	if err := s.checkAcyclic(ctx, p.DependsOn); err != nil {
		return nil, err
	}

	auditRecord, err := s.audit.LogOperation(ctx, audit.LogParams{
		UserID:        p.UserID,
		ActionType:    p.OperationType,
		Operation:     p.Name,
		Status:        models.AuditStatusStarted,
		Message:       fmt.Sprintf("Started reversible operation: %s", p.Name),
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, fmt.Errorf("log reversible operation start: %w", err)
	}

	op := &models.ReversibleOperation{
		UserID:        p.UserID,
		OperationType: p.OperationType,
		Name:          p.Name,
		CorrelationID: correlationID,
		DependsOn:     p.DependsOn,
		Blocks:        []int64{},
		IsReversible:  true,
		CreatedAt:     time.Now().UTC(),
	}
	if auditRecord.ID != 0 {
		id := auditRecord.ID
		op.AuditLogID = &id
	}

	if s.db == nil {
		return op, nil
	}

	err = s.db.QueryRowContext(ctx, `INSERT INTO reversible_operations
		(audit_log_id, user_id, operation_type, name, correlation_id, depends_on, blocks, is_reversible)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at`,
		op.AuditLogID, op.UserID, op.OperationType, op.Name, op.CorrelationID,
		pq.Array(op.DependsOn), pq.Array(op.Blocks), op.IsReversible,
	).Scan(&op.ID, &op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reversible operation: %w", err)
	}
	return op, nil
}

// checkAcyclic walks each dependency's own depends_on chain (as
// currently persisted) to confirm none of them already sits on a
// cycle; a new operation can only ever add edges pointing at earlier,
// already-persisted operations, so the one case worth guarding is
// inconsistent data already in the ledger.
func (s *Service) checkAcyclic(ctx context.Context, dependsOn []int64) error {
	if s.db == nil {
		return nil
	}
	visited := make(map[int64]bool)

	var dfs func(id int64, stack map[int64]bool) error
	dfs = func(id int64, stack map[int64]bool) error {
		if stack[id] {
			return &CycleError{OperationID: id}
		}
		if visited[id] {
			return nil
		}
		stack[id] = true
		op, err := s.GetOperation(ctx, id)
		if err != nil {
			if _, ok := err.(*NotFoundError); ok {
				delete(stack, id)
				return nil
			}
			return err
		}
		for _, dep := range op.DependsOn {
			if err := dfs(dep, stack); err != nil {
				return err
			}
		}
		visited[id] = true
		delete(stack, id)
		return nil
	}

	for _, id := range dependsOn {
		if err := dfs(id, make(map[int64]bool)); err != nil {
			return err
		}
	}
	return nil
}

// CaptureItemParams describes one item's pre-mutation snapshot.
type CaptureItemParams struct {
	ItemType      string
	ItemID        int64
	ExternalID    string
	BeforeState   map[string]any
	ReverseAction string
	ReverseData   map[string]any
}

// CaptureItem snapshots an item's state before it is mutated, so
// Reverse can later undo the mutation. Must be called before the
// mutation it describes.
func (s *Service) CaptureItem(ctx context.Context, op *models.ReversibleOperation, p CaptureItemParams) (*models.ReversibleOperationItem, error) {
	item := &models.ReversibleOperationItem{
		OperationID:   op.ID,
		ItemType:      p.ItemType,
		ItemID:        p.ItemID,
		ExternalID:    p.ExternalID,
		BeforeState:   audit.Sanitize(p.BeforeState).(map[string]any),
		ReverseAction: p.ReverseAction,
		ReverseData:   audit.Sanitize(p.ReverseData).(map[string]any),
	}

	if s.db == nil {
		return item, nil
	}

	before, err := json.Marshal(item.BeforeState)
	if err != nil {
		return nil, fmt.Errorf("marshal before_state: %w", err)
	}
	reverseData, err := json.Marshal(item.ReverseData)
	if err != nil {
		return nil, fmt.Errorf("marshal reverse_data: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `INSERT INTO reversible_operation_items
		(operation_id, item_type, item_id, external_id, before_state, reverse_action, reverse_data)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		item.OperationID, item.ItemType, item.ItemID, item.ExternalID, before, item.ReverseAction, reverseData,
	).Scan(&item.ID)
	if err != nil {
		return nil, fmt.Errorf("insert reversible operation item: %w", err)
	}
	return item, nil
}

// UpdateItemAfterState records an item's state once the operation
// that mutated it has completed.
func (s *Service) UpdateItemAfterState(ctx context.Context, item *models.ReversibleOperationItem, afterState map[string]any) error {
	item.AfterState = audit.Sanitize(afterState).(map[string]any)
	if s.db == nil {
		return nil
	}
	after, err := json.Marshal(item.AfterState)
	if err != nil {
		return fmt.Errorf("marshal after_state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE reversible_operation_items SET after_state = $1 WHERE id = $2`, after, item.ID)
	if err != nil {
		return fmt.Errorf("update reversible operation item: %w", err)
	}
	return nil
}

// Commit finalizes the operation's audit record with the wrapping
// operation's own terminal status. A failure status also marks the
// operation permanently non-reversible, matching the source system's
// behavior that a failed write leaves no coherent state to undo.
func (s *Service) Commit(ctx context.Context, op *models.ReversibleOperation, status, message string, responseData map[string]any) error {
	if op.AuditLogID != nil {
		duration := time.Since(op.CreatedAt).Milliseconds()
		if _, err := s.audit.LogOperation(ctx, audit.LogParams{
			UserID:        op.UserID,
			ActionType:    op.OperationType,
			Operation:     op.Name,
			Status:        status,
			Message:       message,
			ResponseData:  responseData,
			DurationMs:    &duration,
			CorrelationID: op.CorrelationID,
			ParentAuditID: op.AuditLogID,
		}); err != nil {
			return fmt.Errorf("log reversible operation commit: %w", err)
		}
	}

	if status == models.AuditStatusFailure {
		op.IsReversible = false
		op.ReverseReason = "Operation failed - cannot reverse"
	}

	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE reversible_operations
		SET is_reversible = $1, reverse_reason = $2 WHERE id = $3`,
		op.IsReversible, op.ReverseReason, op.ID)
	if err != nil {
		return fmt.Errorf("update reversible operation on commit: %w", err)
	}
	return nil
}

// GetOperation loads a single operation by id.
func (s *Service) GetOperation(ctx context.Context, id int64) (*models.ReversibleOperation, error) {
	if s.db == nil {
		return nil, &NotFoundError{ID: id}
	}
	op := &models.ReversibleOperation{}
	var dependsOn, blocks pq.Int64Array
	err := s.db.QueryRowContext(ctx, `SELECT id, audit_log_id, user_id, operation_type, name, correlation_id,
		depends_on, blocks, is_reversible, is_reversed, reverse_reason, created_at, reversed_at, reversed_by_user_id
		FROM reversible_operations WHERE id = $1`, id).Scan(
		&op.ID, &op.AuditLogID, &op.UserID, &op.OperationType, &op.Name, &op.CorrelationID,
		&dependsOn, &blocks, &op.IsReversible, &op.IsReversed, &op.ReverseReason,
		&op.CreatedAt, &op.ReversedAt, &op.ReversedByUserID,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("select reversible operation: %w", err)
	}
	op.DependsOn = []int64(dependsOn)
	op.Blocks = []int64(blocks)
	return op, nil
}

// GetOperationsByCorrelationID returns every operation sharing one
// correlation id, oldest first.
func (s *Service) GetOperationsByCorrelationID(ctx context.Context, correlationID string) ([]*models.ReversibleOperation, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM reversible_operations
		WHERE correlation_id = $1 ORDER BY created_at ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("select reversible operations by correlation id: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reversible operation id: %w", err)
		}
		ids = append(ids, id)
	}
	ops := make([]*models.ReversibleOperation, 0, len(ids))
	for _, id := range ids {
		op, err := s.GetOperation(ctx, id)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ListFilter narrows ListOperations' results. Zero values are
// treated as "no filter" for that field.
type ListFilter struct {
	UserID        int64
	OperationType string
	IsReversed    *bool
	Limit         int
}

// ListOperations returns operations matching filter, newest first.
func (s *Service) ListOperations(ctx context.Context, filter ListFilter) ([]*models.ReversibleOperation, error) {
	if s.db == nil {
		return nil, nil
	}
	query := `SELECT id FROM reversible_operations WHERE 1=1`
	var args []any
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.OperationType != "" {
		args = append(args, filter.OperationType)
		query += fmt.Sprintf(" AND operation_type = $%d", len(args))
	}
	if filter.IsReversed != nil {
		args = append(args, *filter.IsReversed)
		query += fmt.Sprintf(" AND is_reversed = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select reversible operations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reversible operation id: %w", err)
		}
		ids = append(ids, id)
	}
	ops := make([]*models.ReversibleOperation, 0, len(ids))
	for _, id := range ids {
		op, err := s.GetOperation(ctx, id)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// listItems loads every item captured under an operation.
func (s *Service) listItems(ctx context.Context, operationID int64) ([]*models.ReversibleOperationItem, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, operation_id, item_type, item_id, external_id,
		before_state, after_state, reverse_action, reverse_data, is_reversed, reverse_error
		FROM reversible_operation_items WHERE operation_id = $1`, operationID)
	if err != nil {
		return nil, fmt.Errorf("select reversible operation items: %w", err)
	}
	defer rows.Close()

	var items []*models.ReversibleOperationItem
	for rows.Next() {
		item := &models.ReversibleOperationItem{}
		var before, after, reverseData []byte
		if err := rows.Scan(&item.ID, &item.OperationID, &item.ItemType, &item.ItemID, &item.ExternalID,
			&before, &after, &item.ReverseAction, &reverseData, &item.IsReversed, &item.ReverseError); err != nil {
			return nil, fmt.Errorf("scan reversible operation item: %w", err)
		}
		if len(before) > 0 {
			_ = json.Unmarshal(before, &item.BeforeState)
		}
		if len(after) > 0 {
			_ = json.Unmarshal(after, &item.AfterState)
		}
		if len(reverseData) > 0 {
			_ = json.Unmarshal(reverseData, &item.ReverseData)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) markItemReversed(ctx context.Context, item *models.ReversibleOperationItem, reverseErr error) error {
	item.IsReversed = reverseErr == nil
	if reverseErr != nil {
		item.ReverseError = reverseErr.Error()
	}
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE reversible_operation_items
		SET is_reversed = $1, reverse_error = $2 WHERE id = $3`, item.IsReversed, item.ReverseError, item.ID)
	return err
}

func (s *Service) markOperationReversed(ctx context.Context, op *models.ReversibleOperation, reversedByUserID int64, reason string) error {
	now := time.Now().UTC()
	op.IsReversed = true
	op.ReversedAt = &now
	op.ReversedByUserID = &reversedByUserID
	op.ReverseReason = reason
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE reversible_operations
		SET is_reversed = true, reversed_at = $1, reversed_by_user_id = $2, reverse_reason = $3 WHERE id = $4`,
		now, reversedByUserID, reason, op.ID)
	return err
}
