package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/runner"
)

// AgentReviewer implements Reviewer by running the agent once out-of-band
// with the review model. The run carries no tool access; the report is the
// assistant text the agent streams back.
type AgentReviewer struct {
	logger *slog.Logger
	agents runner.AgentRunner
}

func NewAgentReviewer(logger *slog.Logger, agents runner.AgentRunner) *AgentReviewer {
	return &AgentReviewer{
		logger: logger.With("component", "reviewer"),
		agents: agents,
	}
}

// Review spawns the reviewing agent and collects its assistant text into one
// report. The run's stream events stay local to the reviewer: a review is not
// a session, so nothing here reaches the events tables or the dashboards.
func (r *AgentReviewer) Review(ctx context.Context, req ReviewRequest) (string, error) {
	bus := events.NewStreamBus()
	sub := bus.Subscribe(64)

	done := make(chan struct{})
	var report strings.Builder
	go func() {
		defer close(done)
		for ev := range sub {
			if ev.Kind != events.StreamAssistantText {
				continue
			}
			if report.Len() > 0 {
				report.WriteString("\n")
			}
			report.WriteString(ev.Text)
		}
	}()

	r.logger.Info("Starting deep review run",
		"session_id", req.SessionID,
		"project_id", req.ProjectID,
		"model", req.Model)

	result, err := r.agents.Run(ctx, runner.RunRequest{
		SessionID: req.SessionID,
		ProjectID: req.ProjectID,
		Model:     req.Model,
		Prompt:    reviewPrompt(req),
		Bus:       bus,
		Tools:     noTools{},
	})
	<-done
	if err != nil {
		return "", fmt.Errorf("review run for session %s: %w", req.SessionID, err)
	}
	if strings.TrimSpace(report.String()) == "" {
		return "", fmt.Errorf("review run for session %s ended %q with an empty report", req.SessionID, result.Reason)
	}
	return report.String(), nil
}

// noTools rejects every tool call. The review prompt tells the agent it has
// no tools; a model that tries one anyway gets a clean error instead of a
// silent hang.
type noTools struct{}

func (noTools) Handle(_ context.Context, call *runner.Request, _ func(runner.PartialChunk)) (json.RawMessage, *runner.WireError) {
	return nil, runner.NewWireError(runner.ErrorKindValidation, "tool %s is not available during review", call.Method)
}

func reviewPrompt(req ReviewRequest) string {
	var b strings.Builder
	b.WriteString("You are reviewing a finished coding session. You have no tools for this run; " +
		"work from the metrics below and write a markdown quality report.\n\n")
	if len(req.Reasons) > 0 {
		b.WriteString("The review was triggered because:\n")
		for _, reason := range req.Reasons {
			fmt.Fprintf(&b, "- %s\n", reason)
		}
		b.WriteString("\n")
	}
	if req.Summary != nil {
		if raw, err := json.MarshalIndent(req.Summary, "", "  "); err == nil {
			b.WriteString("Session metrics:\n\n```json\n")
			b.Write(raw)
			b.WriteString("\n```\n\n")
		}
	}
	b.WriteString("Assess what the session got done, where it struggled, and whether the project " +
		"is drifting. End the report with a fenced ```json block of the form " +
		`{"recommendations": [{"title": "...", "priority": "high|medium|low", "theme": "...", ` +
		`"problem": "...", "proposed_change": "...", "confidence": 0.0}]}` +
		" listing the concrete follow-ups the next session should act on.\n")
	return b.String()
}
