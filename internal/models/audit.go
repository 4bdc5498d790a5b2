package models

import "time"

// Audit status vocabulary (spec: started, in_progress, success, partial, failure).
const (
	AuditStatusStarted    = "started"
	AuditStatusInProgress = "in_progress"
	AuditStatusSuccess    = "success"
	AuditStatusPartial    = "partial"
	AuditStatusFailure    = "failure"
)

// AuditLog is a single entry in the hierarchical audit trail (C8).
// Entries form a tree via ParentAuditID: a unit of work writes one
// root entry on entry and exit, and every nested operation attaches
// its own entries beneath it, all sharing CorrelationID.
type AuditLog struct {
	ID            int64
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
	CreatedAt     time.Time
}

// ReversibleOperation is the ledger header for a single reversible
// unit of work (typically one archive run). Items hold the per-entity
// before/after snapshots needed to undo it (C9).
type ReversibleOperation struct {
	ID               int64
	AuditLogID       *int64
	UserID           int64
	OperationType    string
	Name             string
	CorrelationID    string
	DependsOn        []int64
	Blocks           []int64
	IsReversible     bool
	IsReversed       bool
	ReverseReason    string
	CreatedAt        time.Time
	ReversedAt       *time.Time
	ReversedByUserID *int64
}

const (
	ReverseActionRestore = "restore"
	ReverseActionDelete  = "delete"
	ReverseActionUpdate  = "update"
)

// ReversibleOperationItem captures one entity's state transition
// within a ReversibleOperation: enough of a before/after snapshot to
// restore, delete, or update the entity on reversal.
type ReversibleOperationItem struct {
	ID            int64
	OperationID   int64
	ItemType      string
	ItemID        int64
	ExternalID    string
	BeforeState   map[string]any
	AfterState    map[string]any
	ReverseAction string // "restore", "delete", "update"
	ReverseData   map[string]any
	IsReversed    bool
	ReverseError  string
}
