package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// streamKeepalive is how often a comment line is written to an idle stream
// so intermediate proxies do not time the connection out.
const streamKeepalive = 30 * time.Second

// catchUpPageSize bounds one replay page read from the events table.
const catchUpPageSize = 500

// streamProjectEventsHandler handles GET /api/v1/projects/:id/events/stream.
// Reconnecting clients send Last-Event-ID; the handler replays persisted
// rows past that id before switching to live delivery.
func (s *Server) streamProjectEventsHandler(c *gin.Context) {
	projectID := c.Param("id")
	if _, err := s.store.GetProject(c.Request.Context(), projectID); err != nil {
		s.writeError(c, err)
		return
	}

	var lastID int64
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			badRequest(c, "invalid Last-Event-ID: must be a non-negative integer")
			return
		}
		lastID = id
	}

	s.streamChannel(c, events.ProjectChannel(projectID), lastID, true)
}

// streamGlobalEventsHandler handles GET /api/v1/events/stream, the
// cross-project feed dashboards use for list updates. Global copies are
// broadcast without persistence, so there is no replay; clients reload list
// state over the REST endpoints after a disconnect.
func (s *Server) streamGlobalEventsHandler(c *gin.Context) {
	s.streamChannel(c, events.GlobalProjectsChannel, 0, false)
}

// streamChannel is the shared SSE loop. Subscribing before the replay read
// is what makes the stream gapless: LISTEN is active before the snapshot is
// taken, so anything newer arrives live and the id check dedupes overlap.
func (s *Server) streamChannel(c *gin.Context, channel string, lastID int64, replay bool) {
	ctx := c.Request.Context()

	sub, err := s.hub.Subscribe(channel)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer sub.Close()

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	if replay {
		var ok bool
		lastID, ok = s.replayEvents(ctx, c, channel, lastID)
		if !ok {
			return
		}
	}

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-sub.C:
			if !open {
				// Dropped as a slow consumer. Ending the response makes the
				// client reconnect and replay the gap from the events table.
				return
			}
			if env.ID > 0 && env.ID <= lastID {
				continue
			}
			writeSSEFrame(c.Writer, env.ID, s.resolveTruncated(ctx, env))
			c.Writer.Flush()
			if env.ID > lastID {
				lastID = env.ID
			}
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}

// replayEvents writes persisted rows newer than afterID and returns the last
// id sent. Pages keep going until a short page signals the end.
func (s *Server) replayEvents(ctx context.Context, c *gin.Context, channel string, afterID int64) (int64, bool) {
	for {
		rows, err := s.store.ListEvents(ctx, store.EventFilter{
			Channel: channel,
			AfterID: afterID,
			Limit:   catchUpPageSize,
		})
		if err != nil {
			s.logger.Error("Event replay failed", "channel", channel, "error", err)
			return afterID, false
		}

		for _, ev := range rows {
			writeSSEFrame(c.Writer, ev.ID, ev.Payload)
			afterID = ev.ID
		}
		c.Writer.Flush()

		if len(rows) < catchUpPageSize {
			return afterID, true
		}
	}
}

// resolveTruncated swaps a truncation envelope for the full payload. NOTIFY
// payloads over the wire limit carry only routing fields plus
// truncated=true; the events row always holds the full payload.
func (s *Server) resolveTruncated(ctx context.Context, env events.Envelope) []byte {
	if env.ID == 0 {
		return env.Payload
	}

	var probe struct {
		Truncated bool `json:"truncated"`
	}
	if err := json.Unmarshal(env.Payload, &probe); err != nil || !probe.Truncated {
		return env.Payload
	}

	rows, err := s.store.ListEvents(ctx, store.EventFilter{AfterID: env.ID - 1, Limit: 1})
	if err != nil || len(rows) == 0 || rows[0].ID != env.ID {
		s.logger.Warn("Failed to fetch full payload for truncated event",
			"event_id", env.ID, "error", err)
		return env.Payload
	}
	return rows[0].Payload
}

// writeSSEFrame writes one event frame. Persisted events carry their row id
// so clients can resume with Last-Event-ID; transient events (id 0) are
// sent without one.
func writeSSEFrame(w io.Writer, id int64, payload []byte) {
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
