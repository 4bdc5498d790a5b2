package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
)

// ActionLogRepository persists action_logs: manual-resolution tasks
// the archive pipeline raises when it can't resolve something itself
// (an overlap conflict, a malformed category). A nil db degrades to
// an in-memory store, so orchestrator tests never need a live
// database to exercise ActionLog creation.
type ActionLogRepository struct {
	db     *sql.DB
	memory []*models.ActionLog
	nextID int64
}

func NewActionLogRepository(sqlDB *sql.DB) *ActionLogRepository {
	return &ActionLogRepository{db: sqlDB}
}

func (r *ActionLogRepository) Create(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error) {
	if log.State == "" {
		log.State = models.ActionLogStateOpen
	}

	if r.db == nil {
		r.nextID++
		log.ID = r.nextID
		r.memory = append(r.memory, log)
		return log, nil
	}

	details, err := json.Marshal(log.Details)
	if err != nil {
		return nil, fmt.Errorf("marshal action log details: %w", err)
	}
	query := `INSERT INTO action_logs (user_id, event_type, state, description, details, ai_recommendation)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, log.UserID, log.EventType, log.State, log.Description, details, log.AIRecommendation).
		Scan(&log.ID, &log.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert action log: %w", err)
	}
	return log, nil
}

func (r *ActionLogRepository) GetByID(ctx context.Context, id int64) (*models.ActionLog, error) {
	if r.db == nil {
		for _, l := range r.memory {
			if l.ID == id {
				return l, nil
			}
		}
		return nil, &NotFoundError{ID: id}
	}

	var l models.ActionLog
	var details []byte
	query := `SELECT id, user_id, event_type, state, description, details, ai_recommendation, created_at, resolved_at
		FROM action_logs WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.UserID, &l.EventType, &l.State, &l.Description, &details, &l.AIRecommendation, &l.CreatedAt, &l.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get action log: %w", err)
	}
	if len(details) > 0 {
		_ = json.Unmarshal(details, &l.Details)
	}
	return &l, nil
}

// ListForUser lists action logs for userID, optionally narrowed by
// state (empty string = all states).
func (r *ActionLogRepository) ListForUser(ctx context.Context, userID int64, state string) ([]*models.ActionLog, error) {
	if r.db == nil {
		var out []*models.ActionLog
		for _, l := range r.memory {
			if l.UserID == userID && (state == "" || l.State == state) {
				out = append(out, l)
			}
		}
		return out, nil
	}

	query := `SELECT id, user_id, event_type, state, description, details, ai_recommendation, created_at, resolved_at
		FROM action_logs WHERE user_id = $1`
	args := []any{userID}
	if state != "" {
		query += ` AND state = $2`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	defer rows.Close()

	var out []*models.ActionLog
	for rows.Next() {
		var l models.ActionLog
		var details []byte
		if err := rows.Scan(&l.ID, &l.UserID, &l.EventType, &l.State, &l.Description, &details, &l.AIRecommendation, &l.CreatedAt, &l.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &l.Details)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// Resolve transitions an action log to resolved, stamping resolved_at.
func (r *ActionLogRepository) Resolve(ctx context.Context, id int64) error {
	if r.db == nil {
		for _, l := range r.memory {
			if l.ID == id {
				l.State = models.ActionLogStateResolved
				now := time.Now()
				l.ResolvedAt = &now
				return nil
			}
		}
		return &NotFoundError{ID: id}
	}

	result, err := r.db.ExecContext(ctx, `UPDATE action_logs SET state = $2, resolved_at = now() WHERE id = $1`,
		id, models.ActionLogStateResolved)
	if err != nil {
		return fmt.Errorf("resolve action log: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}
