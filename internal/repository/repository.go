// Package repository abstracts appointment storage over two
// interchangeable backends: a remote calendar provider (MS Graph) with
// no local persistence, and a local PostgreSQL store that supports the
// is_archived immutability gate. The callers of the orchestrator (C10)
// select which variant to use from each URI's scheme and pass the
// chosen repositories in.
package repository

import (
	"context"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
)

// AppointmentRepository is the capability set every backend exposes.
// add_bulk is optional: a backend with no efficient bulk path can
// leave it unimplemented, in which case callers fall back to add.
type AppointmentRepository interface {
	ListForUser(ctx context.Context, userID int64, start, end time.Time) ([]*models.Appointment, error)
	Add(ctx context.Context, appt *models.Appointment) error
	GetByID(ctx context.Context, id int64) (*models.Appointment, error)
	Update(ctx context.Context, appt *models.Appointment) error
	Delete(ctx context.Context, id int64) error
	CheckForDuplicates(ctx context.Context, candidates []*models.Appointment, start, end time.Time) ([]*models.Appointment, error)
}

// BulkAppointmentRepository is implemented by backends with an
// efficient multi-item write path. AddBulk returns one error string
// per failed item, in input order, and never raises for partial
// failure — the caller decides whether partial success is acceptable.
type BulkAppointmentRepository interface {
	AppointmentRepository
	AddBulk(ctx context.Context, appts []*models.Appointment) []string
}

// ImmutabilityRepository is implemented only by backends that persist
// an is_archived flag locally; a remote calendar has no such flag
// because everything written there is inherently immutable once sent.
type ImmutabilityRepository interface {
	MakeImmutable(ctx context.Context, id int64) error
}

// NotFoundError indicates GetByID/Update/Delete targeted a
// nonexistent appointment.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return "appointment not found"
}

// ImmutableError indicates a write was rejected because the target
// appointment has already been archived.
type ImmutableError struct {
	ID int64
}

func (e *ImmutableError) Error() string {
	return "appointment is immutable: already archived"
}
