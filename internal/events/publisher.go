// Package events publishes calendar archive lifecycle events to NATS.
// Format: calendar.<domain>.<action>
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectArchiveCompleted = "calendar.archive.completed"
	SubjectArchiveFailed    = "calendar.archive.failed"
	SubjectTaskCreated      = "calendar.task.created"
	SubjectReversalComplete = "calendar.reversal.completed"
)

// Config holds configuration for the NATS publisher.
type Config struct {
	URL      string
	User     string
	Password string
}

// Publisher publishes calendar archive events to NATS. A Publisher
// with a nil conn is a graceful no-op: every Publish call logs and
// returns nil instead of failing the archive run it's reporting on.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS at cfg.URL. When cfg.URL is empty
// (NATS_URL unset), it returns a no-op Publisher instead of erroring,
// since event publication is a side channel the archive pipeline must
// never depend on to complete a run.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		log.Printf("events: NATS_URL not set, publisher running in no-op mode")
		return &Publisher{}, nil
	}

	opts := []nats.Option{
		nats.Name("calendar-archivist"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

// Close drains and closes the underlying connection, if any.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) publish(subject string, payload any) error {
	if p.conn == nil {
		log.Printf("events: no-op publish to %s", subject)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload for %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// ArchiveCompletedEvent is published once an archive run finishes,
// successfully or partially.
type ArchiveCompletedEvent struct {
	CorrelationID string `json:"correlation_id"`
	UserID        int64  `json:"user_id"`
	Status        string `json:"status"`
	ArchiveType   string `json:"archive_type"`
	ArchivedCount int    `json:"archived_count"`
}

func (p *Publisher) PublishArchiveCompleted(evt ArchiveCompletedEvent) error {
	subject := SubjectArchiveCompleted
	if evt.Status == "error" {
		subject = SubjectArchiveFailed
	}
	return p.publish(subject, evt)
}

// TaskCreatedEvent is published whenever the archive pipeline raises
// an ActionLog that requires manual operator resolution.
type TaskCreatedEvent struct {
	CorrelationID string `json:"correlation_id"`
	UserID        int64  `json:"user_id"`
	ActionLogID   int64  `json:"action_log_id"`
	EventType     string `json:"event_type"`
}

func (p *Publisher) PublishTaskCreated(evt TaskCreatedEvent) error {
	return p.publish(SubjectTaskCreated, evt)
}

// ReversalCompletedEvent is published once a reversible operation has
// been reversed (fully or partially).
type ReversalCompletedEvent struct {
	CorrelationID string `json:"correlation_id"`
	OperationID   int64  `json:"operation_id"`
	Success       bool   `json:"success"`
	FailedItems   int    `json:"failed_items"`
}

func (p *Publisher) PublishReversalCompleted(evt ReversalCompletedEvent) error {
	return p.publish(SubjectReversalComplete, evt)
}
