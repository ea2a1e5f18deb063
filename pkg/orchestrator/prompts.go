package orchestrator

import (
	"fmt"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// Prompts are assembled here rather than loaded from files: the agent binary
// carries its own system prompt, the orchestrator supplies the per-session
// goal and project context.

func initializerPrompt(project *models.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are initializing the project %q.\n\n", project.Name)
	if project.ProjectType == models.ProjectTypeBrownfield {
		b.WriteString("The workspace already contains the imported codebase. Survey it before planning; the backlog should cover the gap between what exists and what the specification asks for.\n\n")
	}
	b.WriteString("Read the specification below and build the full backlog: " +
		"create epics with create_epic, break each one into tasks with create_task or expand_epic, " +
		"and attach test requirements with create_test. Mark foundation and high-dependency epics " +
		"with the matching tier. When the backlog is complete, set up the workspace with bash so " +
		"coding sessions can build and run the project, then end the session.\n\n")
	b.WriteString("Specification:\n\n")
	b.WriteString(project.SourceSpec)
	return b.String()
}

func codingPrompt(project *models.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are continuing work on the project %q.\n\n", project.Name)
	b.WriteString("Work the backlog one task at a time: call get_next_task, claim it with start_task, " +
		"implement it in the workspace with bash, record test outcomes with update_task_test_result, " +
		"and close it with update_task_status done=true. Completions are vetted; when one is rejected, " +
		"fix what the rejection names before retrying. Call log_session with a short summary before you finish.\n\n")
	if notes := headLines(project.ProgressNotes, 20); notes != "" {
		b.WriteString("Recent progress notes (newest first):\n")
		b.WriteString(notes)
		b.WriteString("\n\n")
	}
	b.WriteString("Specification:\n\n")
	b.WriteString(project.SourceSpec)
	return b.String()
}

// resumePrompt rebuilds a coding prompt around the paused session's last
// checkpoint. The history entries replay verbatim; the operator's resolution
// notes lead so the agent addresses the blocker first.
func resumePrompt(project *models.Project, cp *models.Checkpoint, resolutionNotes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are resuming work on the project %q after an intervention.\n\n", project.Name)
	if resolutionNotes != "" {
		b.WriteString("The operator resolved the blocker and says:\n")
		b.WriteString(resolutionNotes)
		b.WriteString("\n\n")
	}
	if cp != nil {
		if len(cp.Payload.ConversationHistory) > 0 {
			b.WriteString("Where the previous session left off:\n\n")
			for _, entry := range cp.Payload.ConversationHistory {
				b.WriteString(entry)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
		if cp.LastTaskID != nil {
			fmt.Fprintf(&b, "The last task worked was task %d; check its state with get_task before continuing.\n\n", *cp.LastTaskID)
		}
	}
	b.WriteString("Continue the backlog as usual: get_next_task, start_task, implement, update_task_status.\n\n")
	b.WriteString("Specification:\n\n")
	b.WriteString(project.SourceSpec)
	return b.String()
}

func retestPrompt(project *models.Project, candidates []models.RetestCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are re-verifying completed epics of the project %q.\n\n", project.Name)
	b.WriteString("For each epic below: list its tests with list_tests, rerun them in the workspace, " +
		"and record the outcome with record_epic_retest_result, including failure details when tests fail. " +
		"Do not implement new work in this session; regressions become follow-up tasks on their own.\n\n")
	b.WriteString("Epics to re-test:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- epic %d (%s, tier %s, trigger %s)\n", c.EpicID, c.Name, c.Tier, c.TriggerReason)
	}
	return b.String()
}

// headLines returns the first n lines of s. Progress notes are stored newest
// first, so the head is the recent activity.
func headLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
