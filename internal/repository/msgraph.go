package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/auriora/calendar-archivist/internal/logger"
	"github.com/auriora/calendar-archivist/internal/models"
)

// MSGraphRepository is the remote calendar backend: every write goes
// straight to the provider over HTTPS, with no local persistence.
// Everything sent there is inherently immutable once accepted, so
// this type does not implement ImmutabilityRepository.
type MSGraphRepository struct {
	client      *http.Client
	baseURL     string
	accessToken string
	calendarID  string
}

var _ AppointmentRepository = (*MSGraphRepository)(nil)
var _ BulkAppointmentRepository = (*MSGraphRepository)(nil)

// NewMSGraphRepository builds a client bound to one calendar, using
// accessToken as a bearer credential for every request.
func NewMSGraphRepository(baseURL, accessToken, calendarID string) *MSGraphRepository {
	return &MSGraphRepository{
		client:      &http.Client{Timeout: 15 * time.Second},
		baseURL:     baseURL,
		accessToken: accessToken,
		calendarID:  calendarID,
	}
}

type graphEvent struct {
	ID        string `json:"id,omitempty"`
	Subject   string `json:"subject"`
	Start     graphDateTime `json:"start"`
	End       graphDateTime `json:"end"`
	ShowAs    string `json:"showAs,omitempty"`
	Importance string `json:"importance,omitempty"`
	Sensitivity string `json:"sensitivity,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Location  graphLocation `json:"location,omitempty"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphLocation struct {
	DisplayName string `json:"displayName,omitempty"`
}

type graphEventList struct {
	Value []graphEvent `json:"value"`
}

func (r *MSGraphRepository) eventsURL() string {
	if r.calendarID == "" || r.calendarID == "primary" {
		return r.baseURL + "/me/calendar/events"
	}
	return fmt.Sprintf("%s/me/calendars/%s/events", r.baseURL, r.calendarID)
}

func (r *MSGraphRepository) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.accessToken)
	req.Header.Set("Content-Type", "application/json")
	return r.client.Do(req)
}

func toGraphEvent(appt *models.Appointment) graphEvent {
	return graphEvent{
		ID:          appt.MSEventID,
		Subject:     appt.Subject,
		Start:       graphDateTime{DateTime: appt.StartTime.Format("2006-01-02T15:04:05.0000000"), TimeZone: "UTC"},
		End:         graphDateTime{DateTime: appt.EndTime.Format("2006-01-02T15:04:05.0000000"), TimeZone: "UTC"},
		ShowAs:      string(appt.ShowAs),
		Importance:  string(appt.Importance),
		Sensitivity: string(appt.Sensitivity),
		Categories:  appt.Categories,
		Location:    graphLocation{DisplayName: appt.Location},
	}
}

func fromGraphEvent(userID int64, calendarURI string, ev graphEvent) (*models.Appointment, error) {
	start, err := time.Parse("2006-01-02T15:04:05.0000000", ev.Start.DateTime)
	if err != nil {
		start, err = time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			return nil, fmt.Errorf("parse event start: %w", err)
		}
	}
	end, err := time.Parse("2006-01-02T15:04:05.0000000", ev.End.DateTime)
	if err != nil {
		end, err = time.Parse(time.RFC3339, ev.End.DateTime)
		if err != nil {
			return nil, fmt.Errorf("parse event end: %w", err)
		}
	}
	return &models.Appointment{
		UserID:      userID,
		CalendarURI: calendarURI,
		MSEventID:   ev.ID,
		Subject:     ev.Subject,
		StartTime:   start,
		EndTime:     end,
		Location:    ev.Location.DisplayName,
		Categories:  ev.Categories,
		ShowAs:      models.ShowAs(ev.ShowAs),
		Importance:  models.Importance(ev.Importance),
		Sensitivity: models.Sensitivity(ev.Sensitivity),
	}, nil
}

// ListForUser fetches events whose interval overlaps [start, end]
// using Graph's calendarView endpoint filter semantics.
func (r *MSGraphRepository) ListForUser(ctx context.Context, userID int64, start, end time.Time) ([]*models.Appointment, error) {
	url := fmt.Sprintf("%s/calendarView?startDateTime=%s&endDateTime=%s",
		strings.TrimSuffix(r.eventsURL(), "/events"), start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	resp, err := r.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar service request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar service returned status %d", resp.StatusCode)
	}

	var list graphEventList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode calendar response: %w", err)
	}

	result := make([]*models.Appointment, 0, len(list.Value))
	for _, ev := range list.Value {
		appt, err := fromGraphEvent(userID, r.calendarID, ev)
		if err != nil {
			logger.Database().Warn().Err(err).Msg("skipping unparseable remote event")
			continue
		}
		result = append(result, appt)
	}
	return result, nil
}

// Add creates a single event on the remote calendar.
func (r *MSGraphRepository) Add(ctx context.Context, appt *models.Appointment) error {
	resp, err := r.do(ctx, http.MethodPost, r.eventsURL(), toGraphEvent(appt))
	if err != nil {
		return fmt.Errorf("add appointment failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("calendar service rejected add with status %d", resp.StatusCode)
	}
	var created graphEvent
	if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
		appt.MSEventID = created.ID
	}
	appt.IsArchived = true
	return nil
}

// AddBulk has no efficient remote batch endpoint, so it degrades to
// per-item Add and collects errors the same way the local backend
// does.
func (r *MSGraphRepository) AddBulk(ctx context.Context, appts []*models.Appointment) []string {
	errs := make([]string, len(appts))
	for i, appt := range appts {
		if err := r.Add(ctx, appt); err != nil {
			errs[i] = err.Error()
		}
	}
	return errs
}

// GetByID always returns an error: remote events have no numeric id.
// Use GetByEventID to fetch a remote event by its provider id.
func (r *MSGraphRepository) GetByID(ctx context.Context, id int64) (*models.Appointment, error) {
	return nil, fmt.Errorf("GetByID is not meaningful for the remote calendar repository; use GetByEventID")
}

// GetByEventID fetches a single remote event by its MS Graph event id.
func (r *MSGraphRepository) GetByEventID(ctx context.Context, userID int64, eventID string) (*models.Appointment, error) {
	url := fmt.Sprintf("%s/%s", r.eventsURL(), eventID)
	resp, err := r.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch event failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar service returned status %d", resp.StatusCode)
	}
	var ev graphEvent
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return fromGraphEvent(userID, r.calendarID, ev)
}

// Update patches an existing remote event. Since a remote event is
// immutable once archived in this system's model, callers must not
// call Update after Add has set IsArchived.
func (r *MSGraphRepository) Update(ctx context.Context, appt *models.Appointment) error {
	if appt.IsArchived {
		return &ImmutableError{ID: appt.ID}
	}
	url := fmt.Sprintf("%s/%s", r.eventsURL(), appt.MSEventID)
	resp, err := r.do(ctx, http.MethodPatch, url, toGraphEvent(appt))
	if err != nil {
		return fmt.Errorf("update appointment failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calendar service rejected update with status %d", resp.StatusCode)
	}
	return nil
}

// Delete always returns an error: remote events have no numeric id.
// Use DeleteByEventID to remove a remote event.
func (r *MSGraphRepository) Delete(ctx context.Context, id int64) error {
	return fmt.Errorf("Delete is not meaningful for the remote calendar repository; use DeleteByEventID")
}

// DeleteByEventID removes a remote event by its MS Graph event id.
func (r *MSGraphRepository) DeleteByEventID(ctx context.Context, eventID string) error {
	url := fmt.Sprintf("%s/%s", r.eventsURL(), eventID)
	resp, err := r.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("delete appointment failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("calendar service rejected delete with status %d", resp.StatusCode)
	}
	return nil
}

// CheckForDuplicates matches candidates against events already on the
// remote calendar within [start, end], keyed on (subject, start, end)
// the same way the local repository does.
func (r *MSGraphRepository) CheckForDuplicates(ctx context.Context, candidates []*models.Appointment, start, end time.Time) ([]*models.Appointment, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	existing, err := r.ListForUser(ctx, candidates[0].UserID, start, end)
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
