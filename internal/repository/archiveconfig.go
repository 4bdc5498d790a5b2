package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/auriora/calendar-archivist/internal/models"
)

// ArchiveConfigRepository persists archive_configurations: recurring
// archive job definitions bound to a source/destination URI pair.
type ArchiveConfigRepository struct {
	db *sql.DB
}

func NewArchiveConfigRepository(sqlDB *sql.DB) *ArchiveConfigRepository {
	return &ArchiveConfigRepository{db: sqlDB}
}

const archiveConfigColumns = `id, user_id, name, source_uri, destination_uri, is_active, timezone,
	allow_overlaps, archive_purpose, include_travel, created_at, updated_at`

func scanArchiveConfig(row interface{ Scan(...any) error }) (*models.ArchiveConfiguration, error) {
	var c models.ArchiveConfiguration
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.SourceURI, &c.DestinationURI, &c.IsActive,
		&c.Timezone, &c.AllowOverlaps, &c.ArchivePurpose, &c.IncludeTravel, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ArchiveConfigRepository) Create(ctx context.Context, c *models.ArchiveConfiguration) error {
	query := `INSERT INTO archive_configurations
		(user_id, name, source_uri, destination_uri, is_active, timezone, allow_overlaps, archive_purpose, include_travel)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		c.UserID, c.Name, c.SourceURI, c.DestinationURI, c.IsActive, c.Timezone, c.AllowOverlaps, c.ArchivePurpose, c.IncludeTravel,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *ArchiveConfigRepository) GetByID(ctx context.Context, id int64) (*models.ArchiveConfiguration, error) {
	query := fmt.Sprintf(`SELECT %s FROM archive_configurations WHERE id = $1`, archiveConfigColumns)
	c, err := scanArchiveConfig(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get archive configuration: %w", err)
	}
	return c, nil
}

func (r *ArchiveConfigRepository) ListForUser(ctx context.Context, userID int64) ([]*models.ArchiveConfiguration, error) {
	query := fmt.Sprintf(`SELECT %s FROM archive_configurations WHERE user_id = $1 ORDER BY created_at DESC`, archiveConfigColumns)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list archive configurations: %w", err)
	}
	defer rows.Close()

	var out []*models.ArchiveConfiguration
	for rows.Next() {
		c, err := scanArchiveConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive configuration: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ArchiveConfigRepository) Update(ctx context.Context, c *models.ArchiveConfiguration) error {
	query := `UPDATE archive_configurations SET name=$2, source_uri=$3, destination_uri=$4, is_active=$5,
		timezone=$6, allow_overlaps=$7, archive_purpose=$8, include_travel=$9, updated_at=now()
		WHERE id=$1`
	result, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.SourceURI, c.DestinationURI, c.IsActive,
		c.Timezone, c.AllowOverlaps, c.ArchivePurpose, c.IncludeTravel)
	if err != nil {
		return fmt.Errorf("update archive configuration: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return &NotFoundError{ID: c.ID}
	}
	return nil
}

func (r *ArchiveConfigRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM archive_configurations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete archive configuration: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}
