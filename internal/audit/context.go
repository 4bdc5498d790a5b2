package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
)

// Context is a scoped handle around a unit of work: acquire it with
// Start, accumulate detail via AddDetail/SetRequestData/SetResponseData
// as the operation proceeds, and call Finish exactly once when the
// scope ends. Finish writes exactly one terminal audit record: status
// success on a nil error, failure otherwise. Go has no destructor, so
// callers are expected to defer Finish with a named return error:
//
//	func run(ctx context.Context, svc *audit.Service) (err error) {
//		ac := audit.Start(svc, audit.StartParams{...})
//		defer func() { ac.Finish(ctx, err) }()
//		...
//		return nil
//	}
type Context struct {
	svc           *Service
	userID        int64
	actionType    string
	operation     string
	resourceType  string
	resourceID    string
	correlationID string
	parentAuditID *int64
	startTime     time.Time
	details       map[string]any
	requestData   map[string]any
	responseData  map[string]any
	record        *models.AuditLog
}

// StartParams configures a new Context.
type StartParams struct {
	UserID        int64
	ActionType    string
	Operation     string
	ResourceType  string
	ResourceID    string
	CorrelationID string
	ParentAuditID *int64
}

// Start acquires a scoped audit context. If CorrelationID is empty, a
// fresh root correlation id is generated.
func Start(svc *Service, p StartParams) *Context {
	correlationID := p.CorrelationID
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return &Context{
		svc:           svc,
		userID:        p.UserID,
		actionType:    p.ActionType,
		operation:     p.Operation,
		resourceType:  p.ResourceType,
		resourceID:    p.ResourceID,
		correlationID: correlationID,
		parentAuditID: p.ParentAuditID,
		startTime:     time.Now(),
		details:       make(map[string]any),
	}
}

// CorrelationID returns the id shared by this scope and every audit
// record written beneath it.
func (c *Context) CorrelationID() string { return c.correlationID }

// AddDetail accumulates one key into the record's details payload.
func (c *Context) AddDetail(key string, value any) {
	c.details[key] = value
}

// SetRequestData attaches the request payload for the terminal record.
func (c *Context) SetRequestData(data map[string]any) {
	c.requestData = data
}

// SetResponseData attaches the response payload for the terminal record.
func (c *Context) SetResponseData(data map[string]any) {
	c.responseData = data
}

// UpdateResource rebinds the resource this context is scoped to,
// for operations that only learn their target partway through.
func (c *Context) UpdateResource(resourceType, resourceID string) {
	c.resourceType = resourceType
	c.resourceID = resourceID
}

// ChildParams configures a nested Context sharing this one's
// correlation id, rooted at this context's own (eventual) record.
type ChildParams struct {
	ActionType   string
	Operation    string
	ResourceType string
	ResourceID   string
}

// Child starts a nested scope under the same correlation id. Call
// Finish on the child before the parent's Finish runs, so the child's
// parent_audit_id is already resolved.
func (c *Context) Child(p ChildParams) *Context {
	var parentID *int64
	if c.record != nil {
		id := c.record.ID
		parentID = &id
	}
	return Start(c.svc, StartParams{
		UserID:        c.userID,
		ActionType:    p.ActionType,
		Operation:     p.Operation,
		ResourceType:  p.ResourceType,
		ResourceID:    p.ResourceID,
		CorrelationID: c.correlationID,
		ParentAuditID: parentID,
	})
}

// Finish writes the terminal audit record for this scope. Pass the
// error the wrapped operation returned (nil for success); the error is
// never suppressed or altered, only recorded. Finish is safe to call
// at most once per Context.
func (c *Context) Finish(ctx context.Context, opErr error) *models.AuditLog {
	duration := time.Since(c.startTime).Milliseconds()

	status := models.AuditStatusSuccess
	message := fmt.Sprintf("Operation %s completed successfully", c.operation)
	if opErr != nil {
		status = models.AuditStatusFailure
		message = fmt.Sprintf("Operation %s failed: %s", c.operation, opErr.Error())
		c.details["error"] = map[string]any{
			"type":    fmt.Sprintf("%T", opErr),
			"message": opErr.Error(),
		}
	}

	record, err := c.svc.LogOperation(ctx, LogParams{
		UserID:        c.userID,
		ActionType:    c.actionType,
		Operation:     c.operation,
		ResourceType:  c.resourceType,
		ResourceID:    c.resourceID,
		Status:        status,
		Message:       message,
		Details:       c.details,
		RequestData:   c.requestData,
		ResponseData:  c.responseData,
		DurationMs:    &duration,
		CorrelationID: c.correlationID,
		ParentAuditID: c.parentAuditID,
	})
	if err != nil {
		// Audit persistence failing must never mask the operation's own
		// result; the caller already has opErr (or nil) to act on.
		record = &models.AuditLog{Status: status, Message: message, CorrelationID: c.correlationID}
	}
	c.record = record
	return record
}

// FinishWithStatus overrides the terminal status instead of inferring
// it from opErr — used by callers whose result can be "partial"
// (neither a clean success nor an outright failure), e.g. the archive
// orchestrator after a bulk write with some per-item errors.
func (c *Context) FinishWithStatus(ctx context.Context, status, message string) *models.AuditLog {
	duration := time.Since(c.startTime).Milliseconds()
	record, err := c.svc.LogOperation(ctx, LogParams{
		UserID:        c.userID,
		ActionType:    c.actionType,
		Operation:     c.operation,
		ResourceType:  c.resourceType,
		ResourceID:    c.resourceID,
		Status:        status,
		Message:       message,
		Details:       c.details,
		RequestData:   c.requestData,
		ResponseData:  c.responseData,
		DurationMs:    &duration,
		CorrelationID: c.correlationID,
		ParentAuditID: c.parentAuditID,
	})
	if err != nil {
		record = &models.AuditLog{Status: status, Message: message, CorrelationID: c.correlationID}
	}
	c.record = record
	return record
}
