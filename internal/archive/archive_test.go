package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/calendar-archivist/internal/association"
	"github.com/auriora/calendar-archivist/internal/audit"
	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/auriora/calendar-archivist/internal/reversible"
)

// fakeRepo is a hand-rolled in-memory AppointmentRepository, not a
// sqlmock-backed one: the orchestrator never touches SQL directly, so
// its tests exercise it purely through this interface.
type fakeRepo struct {
	toReturn []*models.Appointment
	added    []*models.Appointment
	nextID   int64
	failAt   int // index into Add calls to fail, -1 for never
	immutable map[int64]bool
}

func newFakeRepo(appointments ...*models.Appointment) *fakeRepo {
	return &fakeRepo{toReturn: appointments, failAt: -1, immutable: map[int64]bool{}}
}

func (f *fakeRepo) ListForUser(ctx context.Context, userID int64, start, end time.Time) ([]*models.Appointment, error) {
	return f.toReturn, nil
}

func (f *fakeRepo) Add(ctx context.Context, appt *models.Appointment) error {
	if len(f.added) == f.failAt {
		f.added = append(f.added, appt)
		return assertErr{"forced add failure"}
	}
	f.nextID++
	appt.ID = f.nextID
	f.added = append(f.added, appt)
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id int64) (*models.Appointment, error) { return nil, nil }
func (f *fakeRepo) Update(ctx context.Context, appt *models.Appointment) error         { return nil }
func (f *fakeRepo) Delete(ctx context.Context, id int64) error                         { return nil }
func (f *fakeRepo) CheckForDuplicates(ctx context.Context, candidates []*models.Appointment, start, end time.Time) ([]*models.Appointment, error) {
	return nil, nil
}
func (f *fakeRepo) MakeImmutable(ctx context.Context, id int64) error {
	f.immutable[id] = true
	return nil
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func newOrchestrator() *Orchestrator {
	auditSvc := audit.NewService(nil)
	reversibleSvc := reversible.NewService(nil, auditSvc)
	assocSvc := association.NewService(nil)
	raised := []*models.ActionLog{}
	nextID := int64(0)
	raise := func(ctx context.Context, log *models.ActionLog) (*models.ActionLog, error) {
		nextID++
		log.ID = nextID
		raised = append(raised, log)
		return log, nil
	}
	return NewOrchestrator(auditSvc, reversibleSvc, assocSvc, nil, raise)
}

func TestArchive_SimpleNonOverlappingSuccess(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	appt := &models.Appointment{UserID: 1, Subject: "Acme - billable", StartTime: start, EndTime: start.Add(time.Hour), Categories: []string{"Acme - billable"}}
	source := newFakeRepo(appt)
	dest := newFakeRepo()

	orch := newOrchestrator()
	result, err := orch.Archive(context.Background(), Params{
		UserID: 1, SourceURI: "local://calendars/1", DestinationURI: "local://calendars/2",
		Start: start, End: start.Add(24 * time.Hour), Purpose: models.ArchivePurposeGeneral,
		SourceRepo: source, DestRepo: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 1, result.ArchivedCount)
	assert.Len(t, dest.added, 1)
	assert.NotEmpty(t, result.CorrelationID)
}

func TestArchive_PartialOnWriteFailure(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	appt := &models.Appointment{UserID: 1, Subject: "Acme - billable", StartTime: start, EndTime: start.Add(time.Hour), Categories: []string{"Acme - billable"}}
	source := newFakeRepo(appt)
	dest := newFakeRepo()
	dest.failAt = 0

	orch := newOrchestrator()
	result, err := orch.Archive(context.Background(), Params{
		UserID: 1, SourceURI: "local://calendars/1", DestinationURI: "local://calendars/2",
		Start: start, End: start.Add(24 * time.Hour), Purpose: models.ArchivePurposeGeneral,
		SourceRepo: source, DestRepo: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", result.Status)
	assert.Equal(t, 0, result.ArchivedCount)
	assert.NotEmpty(t, result.Errors)
}

func TestArchive_OverlapResolutionReducesCount(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	confirmed := &models.Appointment{UserID: 1, Subject: "Acme - billable", StartTime: start, EndTime: start.Add(time.Hour),
		Categories: []string{"Acme - billable"}, ShowAs: models.ShowAsBusy}
	tentative := &models.Appointment{UserID: 1, Subject: "Acme - billable tentative", StartTime: start.Add(15 * time.Minute), EndTime: start.Add(45 * time.Minute),
		Categories: []string{"Acme - billable"}, ShowAs: models.ShowAsTentative}
	source := newFakeRepo(confirmed, tentative)
	dest := newFakeRepo()

	orch := newOrchestrator()
	result, err := orch.Archive(context.Background(), Params{
		UserID: 1, SourceURI: "local://calendars/1", DestinationURI: "local://calendars/2",
		Start: start, End: start.Add(24 * time.Hour), Purpose: models.ArchivePurposeGeneral,
		SourceRepo: source, DestRepo: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 1, result.ArchivedCount)
	assert.Equal(t, 1, result.ResolutionStats.TotalOverlaps)
	assert.Equal(t, 1, result.ResolutionStats.AutoResolved)
}

func TestArchive_AllowOverlapsKeepsAllNonFreeAppointmentsButStillReportsOverlaps(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	confirmed := &models.Appointment{UserID: 1, Subject: "Acme - billable", StartTime: start, EndTime: start.Add(time.Hour),
		Categories: []string{"Acme - billable"}, ShowAs: models.ShowAsBusy}
	tentative := &models.Appointment{UserID: 1, Subject: "Acme - billable tentative", StartTime: start.Add(15 * time.Minute), EndTime: start.Add(45 * time.Minute),
		Categories: []string{"Acme - billable"}, ShowAs: models.ShowAsTentative}
	free := &models.Appointment{UserID: 1, Subject: "Free slot", StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour), ShowAs: models.ShowAsFree}
	source := newFakeRepo(confirmed, tentative, free)
	dest := newFakeRepo()

	orch := newOrchestrator()
	result, err := orch.Archive(context.Background(), Params{
		UserID: 1, SourceURI: "local://calendars/1", DestinationURI: "local://calendars/2",
		Start: start, End: start.Add(24 * time.Hour), Purpose: models.ArchivePurposeGeneral,
		AllowOverlaps: true, SourceRepo: source, DestRepo: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	// Both overlapping appointments are archived (overlap suppression
	// skipped), the free one is still excluded, and the overlap is
	// still counted for visibility.
	assert.Equal(t, 2, result.ArchivedCount)
	assert.Equal(t, 1, result.ResolutionStats.TotalOverlaps)
	assert.Equal(t, 1, result.ResolutionStats.FilteredAppointments)
}

func TestArchiveTimesheet_MergesModificationBeforeEligibilityFilter(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	billable := &models.Appointment{UserID: 1, Subject: "Acme - billable", StartTime: start, EndTime: start.Add(time.Hour),
		Categories: []string{"Acme - billable"}, ShowAs: models.ShowAsBusy}
	// "Extended" modification records carry no category of their own,
	// so if the timesheet filter ran before modmerge it would be
	// dropped as personal before it ever got a chance to merge.
	extension := &models.Appointment{UserID: 1, Subject: "Extended", StartTime: start.Add(time.Hour), EndTime: start.Add(time.Hour + 30*time.Minute), ShowAs: models.ShowAsBusy}
	source := newFakeRepo(billable, extension)
	dest := newFakeRepo()

	orch := newOrchestrator()
	result, err := orch.ArchiveTimesheet(context.Background(), Params{
		UserID: 1, SourceURI: "local://calendars/1", DestinationURI: "local://calendars/2",
		Start: start, End: start.Add(24 * time.Hour), SourceRepo: source, DestRepo: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 1, result.ModificationCount)
	require.Len(t, dest.added, 1)
	assert.Equal(t, start.Add(time.Hour+30*time.Minute), dest.added[0].EndTime)
}

func TestArchiveTimesheet_ExcludesPersonalAndFree(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	billable := &models.Appointment{UserID: 1, Subject: "Acme - billable", StartTime: start, EndTime: start.Add(time.Hour),
		Categories: []string{"Acme - billable"}, ShowAs: models.ShowAsBusy}
	personal := &models.Appointment{UserID: 1, Subject: "Dentist", StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour), ShowAs: models.ShowAsBusy}
	free := &models.Appointment{UserID: 1, Subject: "Acme - billable but free", StartTime: start.Add(4 * time.Hour), EndTime: start.Add(5 * time.Hour),
		Categories: []string{"Acme - billable"}, ShowAs: models.ShowAsFree}
	source := newFakeRepo(billable, personal, free)
	dest := newFakeRepo()

	orch := newOrchestrator()
	result, err := orch.ArchiveTimesheet(context.Background(), Params{
		UserID: 1, SourceURI: "local://calendars/1", DestinationURI: "local://calendars/2",
		Start: start, End: start.Add(24 * time.Hour), SourceRepo: source, DestRepo: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 1, result.ArchivedCount)
	assert.Len(t, dest.added, 1)
	assert.Equal(t, "Acme - billable", dest.added[0].Subject)
}

func TestFilterForTimesheet_IncludesTravelKeyword(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	travel := &models.Appointment{Subject: "Drive to client site", StartTime: start, EndTime: start.Add(time.Hour), ShowAs: models.ShowAsBusy}

	kept, excluded := FilterForTimesheet([]*models.Appointment{travel}, true)
	assert.Len(t, kept, 1)
	assert.Empty(t, excluded)

	keptNoTravel, excludedNoTravel := FilterForTimesheet([]*models.Appointment{travel}, false)
	assert.Empty(t, keptNoTravel)
	assert.Len(t, excludedNoTravel, 1)
}

func TestArchive_FetchFailureReturnsErrorStatus(t *testing.T) {
	source := &failingListRepo{}
	dest := newFakeRepo()
	orch := newOrchestrator()

	result, err := orch.Archive(context.Background(), Params{
		UserID: 1, SourceURI: "local://calendars/1", DestinationURI: "local://calendars/2",
		Start: time.Now(), End: time.Now().Add(time.Hour), Purpose: models.ArchivePurposeGeneral,
		SourceRepo: source, DestRepo: dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "error", result.Status)
	assert.NotEmpty(t, result.Errors)
}

type failingListRepo struct{ fakeRepo }

func (f *failingListRepo) ListForUser(ctx context.Context, userID int64, start, end time.Time) ([]*models.Appointment, error) {
	return nil, assertErr{"db unavailable"}
}
