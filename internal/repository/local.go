package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/auriora/calendar-archivist/internal/logger"
	"github.com/auriora/calendar-archivist/internal/models"
)

// LocalRepository is the transactional PostgreSQL-backed destination
// repository. Once an appointment's is_archived flag is set, Update
// and Delete both refuse further writes.
type LocalRepository struct {
	db *sql.DB
}

// NewLocalRepository wraps an existing connection pool.
func NewLocalRepository(sqlDB *sql.DB) *LocalRepository {
	return &LocalRepository{db: sqlDB}
}

var _ AppointmentRepository = (*LocalRepository)(nil)
var _ BulkAppointmentRepository = (*LocalRepository)(nil)
var _ ImmutabilityRepository = (*LocalRepository)(nil)

const selectColumns = `id, user_id, calendar_uri, ms_event_id, subject, start_time, end_time,
	location_id, location, category_id, categories, timesheet_id, recurrence,
	show_as, sensitivity, importance, is_archived, created_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (*models.Appointment, error) {
	var a models.Appointment
	var locationID, categoryID, timesheetID sql.NullInt64
	var categories pq.StringArray
	if err := row.Scan(
		&a.ID, &a.UserID, &a.CalendarURI, &a.MSEventID, &a.Subject, &a.StartTime, &a.EndTime,
		&locationID, &a.Location, &categoryID, &categories, &timesheetID, &a.Recurrence,
		&a.ShowAs, &a.Sensitivity, &a.Importance, &a.IsArchived, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if locationID.Valid {
		a.LocationID = &locationID.Int64
	}
	if categoryID.Valid {
		a.CategoryID = &categoryID.Int64
	}
	if timesheetID.Valid {
		a.TimesheetID = &timesheetID.Int64
	}
	a.Categories = []string(categories)
	return &a, nil
}

// ListForUser returns appointments for userID whose interval overlaps [start, end].
func (r *LocalRepository) ListForUser(ctx context.Context, userID int64, start, end time.Time) ([]*models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE user_id = $1 AND start_time < $3 AND end_time > $2 ORDER BY start_time`, selectColumns)
	rows, err := r.db.QueryContext(ctx, query, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []*models.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		result = append(result, appt)
	}
	return result, rows.Err()
}

// Add inserts a new appointment. New rows are never archived.
func (r *LocalRepository) Add(ctx context.Context, appt *models.Appointment) error {
	query := `INSERT INTO appointments
		(user_id, calendar_uri, ms_event_id, subject, start_time, end_time, location_id, location,
		 category_id, categories, timesheet_id, recurrence, show_as, sensitivity, importance, is_archived)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,false)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		appt.UserID, appt.CalendarURI, appt.MSEventID, appt.Subject, appt.StartTime, appt.EndTime,
		appt.LocationID, appt.Location, appt.CategoryID, pq.Array(appt.Categories), appt.TimesheetID,
		appt.Recurrence, appt.ShowAs, appt.Sensitivity, appt.Importance,
	).Scan(&appt.ID, &appt.CreatedAt, &appt.UpdatedAt)
}

// AddBulk inserts appointments one at a time inside a single
// transaction boundary per item, collecting a string error per
// failure rather than aborting the whole batch.
func (r *LocalRepository) AddBulk(ctx context.Context, appts []*models.Appointment) []string {
	errs := make([]string, len(appts))
	for i, appt := range appts {
		if err := r.Add(ctx, appt); err != nil {
			errs[i] = err.Error()
			logger.Database().Error().Err(err).Str("subject", appt.Subject).Msg("bulk insert failed for appointment")
		}
	}
	return errs
}

// GetByID loads a single appointment.
func (r *LocalRepository) GetByID(ctx context.Context, id int64) (*models.Appointment, error) {
	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE id = $1`, selectColumns)
	appt, err := scanAppointment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// Update rewrites an appointment's mutable fields. Rejected if the
// row is already archived.
func (r *LocalRepository) Update(ctx context.Context, appt *models.Appointment) error {
	existing, err := r.GetByID(ctx, appt.ID)
	if err != nil {
		return err
	}
	if existing.IsArchived {
		return &ImmutableError{ID: appt.ID}
	}

	query := `UPDATE appointments SET start_time=$2, end_time=$3, location=$4, category_id=$5,
		categories=$6, timesheet_id=$7, show_as=$8, sensitivity=$9, importance=$10, updated_at=now()
		WHERE id=$1`
	result, err := r.db.ExecContext(ctx, query,
		appt.ID, appt.StartTime, appt.EndTime, appt.Location, appt.CategoryID,
		pq.Array(appt.Categories), appt.TimesheetID, appt.ShowAs, appt.Sensitivity, appt.Importance)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return &NotFoundError{ID: appt.ID}
	}
	return nil
}

// Delete removes an appointment. Rejected if already archived.
func (r *LocalRepository) Delete(ctx context.Context, id int64) error {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsArchived {
		return &ImmutableError{ID: id}
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// MakeImmutable sets is_archived=true, sealing the row against
// further Update/Delete calls.
func (r *LocalRepository) MakeImmutable(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE appointments SET is_archived = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("make immutable: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// CheckForDuplicates returns the subset of candidates that do not
// already exist in [start, end] for the candidate's user, matched on
// (subject, start_time, end_time). Duplicates are skipped silently by
// the caller rather than treated as an error, per this system's
// duplicate-handling contract.
func (r *LocalRepository) CheckForDuplicates(ctx context.Context, candidates []*models.Appointment, start, end time.Time) ([]*models.Appointment, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	userID := candidates[0].UserID
	existing, err := r.ListForUser(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	type key struct {
		subject string
		start   int64
		end     int64
	}
	seen := make(map[key]bool, len(existing))
	for _, e := range existing {
		seen[key{e.Subject, e.StartTime.UnixNano(), e.EndTime.UnixNano()}] = true
	}

	var nonDuplicates []*models.Appointment
	for _, c := range candidates {
		k := key{c.Subject, c.StartTime.UnixNano(), c.EndTime.UnixNano()}
		if !seen[k] {
			nonDuplicates = append(nonDuplicates, c)
		}
	}
	return nonDuplicates, nil
}
