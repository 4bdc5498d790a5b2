// Package audit implements the hierarchical audit trail (C8): every
// orchestrated unit of work writes one terminal record under a shared
// correlation id, and nested units attach beneath it via parent_audit_id.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/auriora/calendar-archivist/internal/models"
)

// Service persists audit records to the local store.
type Service struct {
	db        *sql.DB
	sanitizer *bluemonday.Policy
}

// NewService wraps a connection pool. A nil db is accepted so audit
// logging can be disabled in tests and tooling that has no database.
func NewService(sqlDB *sql.DB) *Service {
	return &Service{db: sqlDB, sanitizer: bluemonday.StrictPolicy()}
}

// NewCorrelationID generates a fresh root correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// LogParams is the full set of fields a single audit record may carry.
type LogParams struct {
	UserID        int64
	ActionType    string
	Operation     string
	ResourceType  string
	ResourceID    string
	Status        string
	Message       string
	Details       map[string]any
	RequestData   map[string]any
	ResponseData  map[string]any
	DurationMs    *int64
	CorrelationID string
	ParentAuditID *int64
}

// LogOperation writes one audit record and returns it with its
// assigned id. A nil Service silently no-ops, returning a record that
// was never persisted (id 0) — callers needing the id for
// ReversibleOperation.AuditLogID must check for that case.
func (s *Service) LogOperation(ctx context.Context, p LogParams) (*models.AuditLog, error) {
	record := &models.AuditLog{
		UserID:        p.UserID,
		ActionType:    p.ActionType,
		Operation:     p.Operation,
		ResourceType:  p.ResourceType,
		ResourceID:    p.ResourceID,
		Status:        p.Status,
		Message:       s.sanitizeText(p.Message),
		Details:       Sanitize(p.Details).(map[string]any),
		RequestData:   Sanitize(p.RequestData).(map[string]any),
		ResponseData:  Sanitize(p.ResponseData).(map[string]any),
		DurationMs:    p.DurationMs,
		CorrelationID: p.CorrelationID,
		ParentAuditID: p.ParentAuditID,
		CreatedAt:     time.Now().UTC(),
	}

	if s == nil || s.db == nil {
		return record, nil
	}

	details, err := json.Marshal(record.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal audit details: %w", err)
	}
	request, err := json.Marshal(record.RequestData)
	if err != nil {
		return nil, fmt.Errorf("marshal audit request data: %w", err)
	}
	response, err := json.Marshal(record.ResponseData)
	if err != nil {
		return nil, fmt.Errorf("marshal audit response data: %w", err)
	}

	query := `INSERT INTO audit_logs
		(user_id, action_type, operation, resource_type, resource_id, status, message,
		 details, request_data, response_data, duration_ms, correlation_id, parent_audit_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id, created_at`
	err = s.db.QueryRowContext(ctx, query,
		record.UserID, record.ActionType, record.Operation, record.ResourceType, record.ResourceID,
		record.Status, record.Message, details, request, response, record.DurationMs,
		record.CorrelationID, record.ParentAuditID,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert audit log: %w", err)
	}
	return record, nil
}

func (s *Service) sanitizeText(text string) string {
	if s == nil || s.sanitizer == nil || text == "" {
		return text
	}
	return s.sanitizer.Sanitize(text)
}

// LogBatchOperationStart records the beginning of a batch operation
// and returns its audit log id, to be threaded through as the parent
// of every per-item record and of the matching End call.
func (s *Service) LogBatchOperationStart(ctx context.Context, userID int64, operation string, batchSize int, correlationID string) (int64, error) {
	record, err := s.LogOperation(ctx, LogParams{
		UserID:        userID,
		ActionType:    "batch_operation",
		Operation:     operation + "_batch_start",
		Status:        models.AuditStatusInProgress,
		Message:       fmt.Sprintf("Started batch operation %s with %d items", operation, batchSize),
		Details:       map[string]any{"batch_size": batchSize, "phase": "start"},
		CorrelationID: correlationID,
	})
	if err != nil {
		return 0, err
	}
	return record.ID, nil
}

// LogBatchOperationEnd records the completion of a batch operation.
// Status is success when every item succeeded, partial when some did,
// and failure only when none did.
func (s *Service) LogBatchOperationEnd(ctx context.Context, userID int64, operation string, parentAuditID int64, successCount, failureCount int, correlationID string) error {
	total := successCount + failureCount
	status := models.AuditStatusSuccess
	if failureCount > 0 {
		if successCount > 0 {
			status = models.AuditStatusPartial
		} else {
			status = models.AuditStatusFailure
		}
	}
	parent := parentAuditID
	_, err := s.LogOperation(ctx, LogParams{
		UserID:     userID,
		ActionType: "batch_operation",
		Operation:  operation + "_batch_end",
		Status:     status,
		Message:    fmt.Sprintf("Completed batch operation %s: %d/%d successful", operation, successCount, total),
		Details: map[string]any{
			"success_count": successCount,
			"failure_count": failureCount,
			"total_count":   total,
			"phase":         "end",
		},
		CorrelationID: correlationID,
		ParentAuditID: &parent,
	})
	return err
}

// LogDataModification records a data modification with a computed
// before/after diff over the union of both field sets.
func (s *Service) LogDataModification(ctx context.Context, userID int64, operation, resourceType, resourceID string, oldValues, newValues map[string]any, correlationID string) error {
	changes := make(map[string]any)
	fields := make(map[string]bool)
	for k := range oldValues {
		fields[k] = true
	}
	for k := range newValues {
		fields[k] = true
	}
	changedFields := make([]string, 0, len(fields))
	for key := range fields {
		oldVal, newVal := oldValues[key], newValues[key]
		if !valuesEqual(oldVal, newVal) {
			changes[key] = map[string]any{"old": oldVal, "new": newVal}
			changedFields = append(changedFields, key)
		}
	}

	_, err := s.LogOperation(ctx, LogParams{
		UserID:       userID,
		ActionType:   "data_modification",
		Operation:    operation,
		Status:       models.AuditStatusSuccess,
		Message:      fmt.Sprintf("Modified %s %s: %d fields changed", resourceType, resourceID, len(changedFields)),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details: map[string]any{
			"changes":         changes,
			"fields_modified": changedFields,
		},
		CorrelationID: correlationID,
	})
	return err
}

// GetByID loads a single audit record.
func (s *Service) GetByID(ctx context.Context, id int64) (*models.AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, &NotFoundError{ID: id}
	}
	return s.scanOne(s.db.QueryRowContext(ctx, auditSelectQuery+` WHERE id = $1`, id), id)
}

// ListByCorrelationID returns every audit record sharing correlationID,
// oldest first, so a full operation's nested trail reads top-down.
func (s *Service) ListByCorrelationID(ctx context.Context, correlationID string) ([]*models.AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, auditSelectQuery+` WHERE correlation_id = $1 ORDER BY created_at ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// ListForUser returns a user's most recent audit records, newest
// first, capped at limit.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit int) ([]*models.AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, auditSelectQuery+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

const auditSelectQuery = `SELECT id, user_id, action_type, operation, resource_type, resource_id, status,
	message, details, request_data, response_data, duration_ms, correlation_id, parent_audit_id, created_at
	FROM audit_logs`

// NotFoundError indicates GetByID targeted a nonexistent audit record.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string { return "audit log not found" }

func (s *Service) scanOne(row *sql.Row, id int64) (*models.AuditLog, error) {
	var l models.AuditLog
	var details, request, response []byte
	err := row.Scan(&l.ID, &l.UserID, &l.ActionType, &l.Operation, &l.ResourceType, &l.ResourceID, &l.Status,
		&l.Message, &details, &request, &response, &l.DurationMs, &l.CorrelationID, &l.ParentAuditID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get audit log: %w", err)
	}
	_ = json.Unmarshal(details, &l.Details)
	_ = json.Unmarshal(request, &l.RequestData)
	_ = json.Unmarshal(response, &l.ResponseData)
	return &l, nil
}

func (s *Service) scanAll(rows *sql.Rows) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		var details, request, response []byte
		if err := rows.Scan(&l.ID, &l.UserID, &l.ActionType, &l.Operation, &l.ResourceType, &l.ResourceID, &l.Status,
			&l.Message, &details, &request, &response, &l.DurationMs, &l.CorrelationID, &l.ParentAuditID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		_ = json.Unmarshal(details, &l.Details)
		_ = json.Unmarshal(request, &l.RequestData)
		_ = json.Unmarshal(response, &l.ResponseData)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func valuesEqual(a, b any) bool {
	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(aj) == string(bj)
}
