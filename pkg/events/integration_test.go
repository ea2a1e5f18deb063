package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/redact"
	"github.com/yokeflow/yokeflow/pkg/store"
	testdb "github.com/yokeflow/yokeflow/test/database"
)

// Integration tests drive the full notification plane against a real
// PostgreSQL: publisher transaction, NOTIFY wire, dedicated LISTEN
// connection, and hub fan-out, the same path the server process runs.

type eventsFixture struct {
	publisher *Publisher
	hub       *Hub
	store     *store.Store
}

func newEventsFixture(t *testing.T) *eventsFixture {
	t.Helper()
	shared := testdb.NewSharedTestDB(t)
	client := shared.NewClient(t)

	hub := NewHub(8)
	listener := NewNotifyListener(shared.BaseConnString(), hub)
	require.NoError(t, listener.Start(context.Background()))
	t.Cleanup(func() { listener.Stop(context.Background()) })
	hub.SetListener(listener)

	return &eventsFixture{
		publisher: NewPublisher(client, redact.NewService()),
		hub:       hub,
		store:     store.New(client),
	}
}

func waitForNotified(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C:
		require.True(t, ok, "subscription closed before an envelope arrived")
		return env
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for an envelope")
		return Envelope{}
	}
}

func TestIntegrationPublishDeliverRoundtrip(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	projectID := uuid.NewString()
	sessionID := uuid.NewString()

	sub, err := f.hub.Subscribe(ProjectChannel(projectID))
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	require.NoError(t, f.publisher.PublishSessionStatus(ctx, SessionStatusPayload{
		BasePayload:   NewBasePayload(EventTypeSessionStatus, projectID, sessionID),
		SessionNumber: 1,
		SessionType:   models.SessionTypeCoding,
		Status:        models.SessionStatusRunning,
	}))

	env := waitForNotified(t, sub)
	require.Positive(t, env.ID, "persisted events carry their row id")

	var wire struct {
		Type      string `json:"type"`
		ProjectID string `json:"project_id"`
		DBEventID int64  `json:"db_event_id"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &wire))
	assert.Equal(t, EventTypeSessionStatus, wire.Type)
	assert.Equal(t, projectID, wire.ProjectID)
	assert.Equal(t, env.ID, wire.DBEventID)

	// The same event is in the table for catch-up reads.
	rows, err := f.store.ListEvents(ctx, store.EventFilter{Channel: ProjectChannel(projectID)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, env.ID, rows[0].ID)
}

func TestIntegrationTransientProgressSkipsTheTable(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	projectID := uuid.NewString()

	sub, err := f.hub.Subscribe(ProjectChannel(projectID))
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	require.NoError(t, f.publisher.PublishSessionProgress(ctx, SessionProgressPayload{
		BasePayload: NewBasePayload(EventTypeSessionProgress, projectID, uuid.NewString()),
		StatusText:  "running migrations",
	}))

	env := waitForNotified(t, sub)
	assert.Zero(t, env.ID, "transient events carry no row id")
	assert.Contains(t, string(env.Payload), "running migrations")

	rows, err := f.store.ListEvents(ctx, store.EventFilter{Channel: ProjectChannel(projectID)})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIntegrationGlobalChannelGetsTransientCopy(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	projectID := uuid.NewString()

	globalSub, err := f.hub.Subscribe(GlobalProjectsChannel)
	require.NoError(t, err)
	t.Cleanup(globalSub.Close)

	require.NoError(t, f.publisher.PublishProjectStatus(ctx, ProjectStatusPayload{
		BasePayload: NewBasePayload(EventTypeProjectStatus, projectID, ""),
		Name:        "todo-service",
		Status:      models.ProjectStatusActive,
	}))

	env := waitForNotified(t, globalSub)
	assert.Zero(t, env.ID, "the global copy is broadcast without persistence")
	assert.Contains(t, string(env.Payload), projectID)
	assert.NotContains(t, string(env.Payload), "db_event_id")
}

func TestIntegrationOversizePayloadTruncatesOnTheWire(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	projectID := uuid.NewString()
	sessionID := uuid.NewString()

	sub, err := f.hub.Subscribe(ProjectChannel(projectID))
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	hugeError := strings.Repeat("the build exploded. ", 500)
	require.NoError(t, f.publisher.PublishSessionStatus(ctx, SessionStatusPayload{
		BasePayload:   NewBasePayload(EventTypeSessionStatus, projectID, sessionID),
		SessionNumber: 3,
		SessionType:   models.SessionTypeCoding,
		Status:        models.SessionStatusError,
		Error:         hugeError,
	}))

	env := waitForNotified(t, sub)
	require.Positive(t, env.ID)

	var wire struct {
		Truncated bool   `json:"truncated"`
		DBEventID int64  `json:"db_event_id"`
		ProjectID string `json:"project_id"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &wire))
	assert.True(t, wire.Truncated, "oversize payloads ship a truncation envelope")
	assert.Equal(t, env.ID, wire.DBEventID)
	assert.Equal(t, projectID, wire.ProjectID)

	// The full payload is intact in the table.
	rows, err := f.store.ListEvents(ctx, store.EventFilter{Channel: ProjectChannel(projectID)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, string(rows[0].Payload), "the build exploded")
}

func TestIntegrationSecretsAreRedactedBeforePersistAndNotify(t *testing.T) {
	f := newEventsFixture(t)
	ctx := context.Background()
	projectID := uuid.NewString()

	sub, err := f.hub.Subscribe(ProjectChannel(projectID))
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	require.NoError(t, f.publisher.PublishSessionStatus(ctx, SessionStatusPayload{
		BasePayload:   NewBasePayload(EventTypeSessionStatus, projectID, uuid.NewString()),
		SessionNumber: 1,
		SessionType:   models.SessionTypeCoding,
		Status:        models.SessionStatusError,
		Error:         "request failed: api_key=sk-abcdef1234567890abcdef1234567890",
	}))

	env := waitForNotified(t, sub)
	assert.NotContains(t, string(env.Payload), "sk-abcdef1234567890abcdef1234567890")

	rows, err := f.store.ListEvents(ctx, store.EventFilter{Channel: ProjectChannel(projectID)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotContains(t, string(rows[0].Payload), "sk-abcdef1234567890abcdef1234567890")
}
