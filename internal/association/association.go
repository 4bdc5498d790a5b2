// Package association implements the entity-association store (C11):
// a generic (source_type, source_id, target_type, target_id,
// association_type) link table used to relate domain entities — most
// commonly an ActionLog to the appointments it concerns — without
// introducing foreign keys across otherwise-unrelated tables.
package association

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/auriora/calendar-archivist/internal/models"
)

// Service persists entity associations. A nil db degrades to an
// in-memory store backed by the same duplicate/no-op semantics, so
// callers in tests and tooling never need a live database.
type Service struct {
	db     *sql.DB
	memory []*models.EntityAssociation
	nextID int64
}

// NewService wraps a connection pool. Pass nil to use an in-process
// fallback store.
func NewService(sqlDB *sql.DB) *Service {
	return &Service{db: sqlDB}
}

// DuplicateError indicates the exact (source, target, association_type)
// tuple is already recorded.
type DuplicateError struct {
	SourceType, TargetType, AssociationType string
	SourceID, TargetID                     int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate association: %s:%d -> %s:%d (%s)",
		e.SourceType, e.SourceID, e.TargetType, e.TargetID, e.AssociationType)
}

// Associate links source to target under association_type. Re-linking
// the exact same tuple is rejected as a duplicate.
func (s *Service) Associate(ctx context.Context, sourceType string, sourceID int64, targetType string, targetID int64, associationType string) (*models.EntityAssociation, error) {
	existing, err := s.ListBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.TargetType == targetType && a.TargetID == targetID && a.AssociationType == associationType {
			return nil, &DuplicateError{SourceType: sourceType, SourceID: sourceID, TargetType: targetType, TargetID: targetID, AssociationType: associationType}
		}
	}

	assoc := &models.EntityAssociation{
		SourceType:      sourceType,
		SourceID:        sourceID,
		TargetType:      targetType,
		TargetID:        targetID,
		AssociationType: associationType,
	}

	if s.db == nil {
		s.nextID++
		assoc.ID = s.nextID
		s.memory = append(s.memory, assoc)
		return assoc, nil
	}

	err = s.db.QueryRowContext(ctx, `INSERT INTO entity_associations
		(source_type, source_id, target_type, target_id, association_type)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		sourceType, sourceID, targetType, targetID, associationType,
	).Scan(&assoc.ID, &assoc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert entity association: %w", err)
	}
	return assoc, nil
}

// Dissociate removes every association matching the tuple. Dissociating
// a tuple that was never associated is a no-op, not an error.
func (s *Service) Dissociate(ctx context.Context, sourceType string, sourceID int64, targetType string, targetID int64, associationType string) error {
	if s.db == nil {
		kept := s.memory[:0]
		for _, a := range s.memory {
			if a.SourceType == sourceType && a.SourceID == sourceID &&
				a.TargetType == targetType && a.TargetID == targetID && a.AssociationType == associationType {
				continue
			}
			kept = append(kept, a)
		}
		s.memory = kept
		return nil
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM entity_associations
		WHERE source_type = $1 AND source_id = $2 AND target_type = $3 AND target_id = $4 AND association_type = $5`,
		sourceType, sourceID, targetType, targetID, associationType)
	if err != nil {
		return fmt.Errorf("delete entity association: %w", err)
	}
	return nil
}

// ListBySource returns every association rooted at the given source entity.
func (s *Service) ListBySource(ctx context.Context, sourceType string, sourceID int64) ([]*models.EntityAssociation, error) {
	if s.db == nil {
		var out []*models.EntityAssociation
		for _, a := range s.memory {
			if a.SourceType == sourceType && a.SourceID == sourceID {
				out = append(out, a)
			}
		}
		return out, nil
	}
	return s.query(ctx, `SELECT id, source_type, source_id, target_type, target_id, association_type, created_at
		FROM entity_associations WHERE source_type = $1 AND source_id = $2`, sourceType, sourceID)
}

// ListByTarget returns every association pointing at the given target entity.
func (s *Service) ListByTarget(ctx context.Context, targetType string, targetID int64) ([]*models.EntityAssociation, error) {
	if s.db == nil {
		var out []*models.EntityAssociation
		for _, a := range s.memory {
			if a.TargetType == targetType && a.TargetID == targetID {
				out = append(out, a)
			}
		}
		return out, nil
	}
	return s.query(ctx, `SELECT id, source_type, source_id, target_type, target_id, association_type, created_at
		FROM entity_associations WHERE target_type = $1 AND target_id = $2`, targetType, targetID)
}

// RelatedEntity identifies one entity related to a source, carrying
// just enough to look it up: its type and id.
type RelatedEntity struct {
	TargetType string
	TargetID   int64
}

// GetRelatedEntities returns the (type, id) pairs associated with a
// source entity, optionally narrowed to one association_type.
func (s *Service) GetRelatedEntities(ctx context.Context, sourceType string, sourceID int64, associationType string) ([]RelatedEntity, error) {
	assocs, err := s.ListBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	related := make([]RelatedEntity, 0, len(assocs))
	for _, a := range assocs {
		if associationType != "" && a.AssociationType != associationType {
			continue
		}
		related = append(related, RelatedEntity{TargetType: a.TargetType, TargetID: a.TargetID})
	}
	return related, nil
}

func (s *Service) query(ctx context.Context, query string, args ...any) ([]*models.EntityAssociation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entity associations: %w", err)
	}
	defer rows.Close()

	var out []*models.EntityAssociation
	for rows.Next() {
		a := &models.EntityAssociation{}
		if err := rows.Scan(&a.ID, &a.SourceType, &a.SourceID, &a.TargetType, &a.TargetID, &a.AssociationType, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity association: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
