package repository

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/calendar-archivist/internal/models"
)

func TestMSGraphRepository_Add(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(graphEvent{ID: "evt-1"})
	}))
	defer server.Close()

	repo := NewMSGraphRepository(server.URL, "test-token", "")
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	appt := &models.Appointment{UserID: 1, Subject: "Standup", StartTime: start, EndTime: start.Add(time.Hour)}

	err := repo.Add(t.Context(), appt)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", appt.MSEventID)
	assert.True(t, appt.IsArchived)
}

func TestMSGraphRepository_Update_RejectsArchived(t *testing.T) {
	repo := NewMSGraphRepository("http://example.invalid", "test-token", "")
	appt := &models.Appointment{ID: 1, IsArchived: true}

	err := repo.Update(t.Context(), appt)
	require.Error(t, err)
	var immutable *ImmutableError
	assert.ErrorAs(t, err, &immutable)
}

func TestMSGraphRepository_ListForUser(t *testing.T) {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(graphEventList{Value: []graphEvent{
			{
				ID:      "evt-1",
				Subject: "Standup",
				Start:   graphDateTime{DateTime: start.Format("2006-01-02T15:04:05.0000000")},
				End:     graphDateTime{DateTime: start.Add(time.Hour).Format("2006-01-02T15:04:05.0000000")},
			},
			{
				ID:      "evt-2",
				Subject: "Broken",
				Start:   graphDateTime{DateTime: "not-a-time"},
				End:     graphDateTime{DateTime: "not-a-time"},
			},
		}})
	}))
	defer server.Close()

	repo := NewMSGraphRepository(server.URL, "test-token", "")
	appts, err := repo.ListForUser(t.Context(), 1, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "Standup", appts[0].Subject)
}

func TestMSGraphRepository_GetByEventID_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	repo := NewMSGraphRepository(server.URL, "test-token", "")
	_, err := repo.GetByEventID(t.Context(), 1, "missing")
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMSGraphRepository_CheckForDuplicates(t *testing.T) {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(graphEventList{Value: []graphEvent{
			{
				ID:      "evt-1",
				Subject: "Standup",
				Start:   graphDateTime{DateTime: start.Format("2006-01-02T15:04:05.0000000")},
				End:     graphDateTime{DateTime: end.Format("2006-01-02T15:04:05.0000000")},
			},
		}})
	}))
	defer server.Close()

	repo := NewMSGraphRepository(server.URL, "test-token", "")
	candidates := []*models.Appointment{
		{UserID: 1, Subject: "Standup", StartTime: start, EndTime: end},
		{UserID: 1, Subject: "New Meeting", StartTime: start, EndTime: end},
	}

	nonDuplicates, err := repo.CheckForDuplicates(t.Context(), candidates, start, end.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, nonDuplicates, 1)
	assert.Equal(t, "New Meeting", nonDuplicates[0].Subject)
}
