package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/models"
)

func TestGetSession(t *testing.T) {
	f := newAPIFixture(t)
	f.addSession("sess-1", "proj-1", models.SessionStatusRunning)

	rec := f.request(t, http.MethodGet, "/api/v1/sessions/sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "sess-1", session.ID)
	assert.Equal(t, models.SessionStatusRunning, session.Status)

	rec = f.request(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/sessions/sess-1/pause",
		PauseSessionRequest{Reason: "looping on a broken migration"})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp PauseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "pause requested", resp.Message)

	require.Len(t, f.orch.paused, 1)
	assert.Equal(t, pauseCall{sessionID: "sess-1", reason: "looping on a broken migration"}, f.orch.paused[0])
}

func TestPauseSessionDefaultsReason(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/sessions/sess-1/pause", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.orch.paused, 1)
	assert.Equal(t, defaultPauseReason, f.orch.paused[0].reason)
}

func TestResumeSessionPassesOperatorNotes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/sessions/sess-1/resume",
		ResumeSessionRequest{ResolvedBy: "maya", Notes: "Restarted postgres by hand."})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "sess-2", session.ID)
	require.NotNil(t, session.ParentSessionID)
	assert.Equal(t, "sess-1", *session.ParentSessionID)

	require.Len(t, f.orch.resumed, 1)
	assert.Equal(t, resumeCall{
		sessionID:  "sess-1",
		resolvedBy: "maya",
		notes:      "Restarted postgres by hand.",
	}, f.orch.resumed[0])
}

func TestResumeSessionAcceptsEmptyBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/sessions/sess-1/resume", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.orch.resumed, 1)
	assert.Empty(t, f.orch.resumed[0].resolvedBy)
	assert.Empty(t, f.orch.resumed[0].notes)
}

func TestCancelSession(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/sessions/sess-1/cancel", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "cancel requested", resp.Message)
	assert.Equal(t, []string{"sess-1"}, f.orch.cancelled)
}

func TestListInterventionsFilters(t *testing.T) {
	f := newAPIFixture(t)
	f.store.interventions = []models.PausedSession{
		{ID: 7, SessionID: "sess-1", ProjectID: "proj-1", PauseType: models.PauseTypeCriticalError},
	}

	rec := f.request(t, http.MethodGet, "/api/v1/interventions?project=proj-1&resolved=false&limit=10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var interventions []models.PausedSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &interventions))
	require.Len(t, interventions, 1)
	assert.Equal(t, int64(7), interventions[0].ID)

	require.Len(t, f.store.interventionFilters, 1)
	filter := f.store.interventionFilters[0]
	assert.Equal(t, "proj-1", filter.ProjectID)
	require.NotNil(t, filter.Resolved)
	assert.False(t, *filter.Resolved)
	assert.Equal(t, 10, filter.Limit)
}

func TestListInterventionsDefaultsToUnfiltered(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/interventions", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.store.interventionFilters, 1)
	filter := f.store.interventionFilters[0]
	assert.Empty(t, filter.ProjectID)
	assert.Nil(t, filter.Resolved)
	assert.Zero(t, filter.Limit)
}

func TestListInterventionsValidatesQueryParams(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/interventions?resolved=maybe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "resolved")

	rec = f.request(t, http.MethodGet, "/api/v1/interventions?limit=-3", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "limit")

	assert.Empty(t, f.store.interventionFilters)
}
