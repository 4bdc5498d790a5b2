package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/calendar-archivist/internal/models"
)

func newAppointmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "calendar_uri", "ms_event_id", "subject", "start_time", "end_time",
		"location_id", "location", "category_id", "categories", "timesheet_id", "recurrence",
		"show_as", "sensitivity", "importance", "is_archived", "created_at", "updated_at",
	})
}

func TestLocalRepository_Add(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalRepository(db)
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	appt := &models.Appointment{UserID: 1, Subject: "Standup", StartTime: start, EndTime: end}

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(appt.UserID, appt.CalendarURI, appt.MSEventID, appt.Subject, appt.StartTime, appt.EndTime,
			appt.LocationID, appt.Location, appt.CategoryID, sqlmock.AnyArg(), appt.TimesheetID,
			appt.Recurrence, appt.ShowAs, appt.Sensitivity, appt.Importance).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(42), start, start))

	err = repo.Add(context.Background(), appt)
	require.NoError(t, err)
	assert.Equal(t, int64(42), appt.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalRepository_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalRepository(db)
	mock.ExpectQuery("SELECT (.|\n)* FROM appointments WHERE id = \\$1").
		WithArgs(int64(99)).
		WillReturnRows(newAppointmentRows())

	_, err = repo.GetByID(context.Background(), 99)
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLocalRepository_Update_RejectsArchived(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalRepository(db)
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT (.|\n)* FROM appointments WHERE id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(newAppointmentRows().AddRow(
			int64(7), int64(1), "legacy://calendar/u", "", "Standup", start, end,
			nil, "", nil, []byte("{}"), nil, "",
			"busy", "normal", "normal", true, start, start,
		))

	err = repo.Update(context.Background(), &models.Appointment{ID: 7, StartTime: start, EndTime: end})
	require.Error(t, err)
	var immutable *ImmutableError
	assert.ErrorAs(t, err, &immutable)
}

func TestLocalRepository_Delete_RejectsArchived(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalRepository(db)
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT (.|\n)* FROM appointments WHERE id = \\$1").
		WithArgs(int64(7)).
		WillReturnRows(newAppointmentRows().AddRow(
			int64(7), int64(1), "legacy://calendar/u", "", "Standup", start, end,
			nil, "", nil, []byte("{}"), nil, "",
			"busy", "normal", "normal", true, start, start,
		))

	err = repo.Delete(context.Background(), 7)
	require.Error(t, err)
	var immutable *ImmutableError
	assert.ErrorAs(t, err, &immutable)
}

func TestLocalRepository_MakeImmutable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalRepository(db)
	mock.ExpectExec("UPDATE appointments SET is_archived = true").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.MakeImmutable(context.Background(), 7)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalRepository_MakeImmutable_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalRepository(db)
	mock.ExpectExec("UPDATE appointments SET is_archived = true").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.MakeImmutable(context.Background(), 9)
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLocalRepository_AddBulk_CollectsPerItemErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalRepository(db)
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	appts := []*models.Appointment{
		{UserID: 1, Subject: "ok", StartTime: start, EndTime: end},
		{UserID: 1, Subject: "fails", StartTime: start, EndTime: end},
	}

	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(1), start, start))
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(assertErr{"duplicate key"})

	errs := repo.AddBulk(context.Background(), appts)
	require.Len(t, errs, 2)
	assert.Empty(t, errs[0])
	assert.NotEmpty(t, errs[1])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
