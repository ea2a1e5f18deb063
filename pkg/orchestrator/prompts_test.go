package orchestrator

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yokeflow/yokeflow/pkg/models"
)

func TestInitializerPrompt(t *testing.T) {
	project := &models.Project{
		Name:        "todo-app",
		SourceSpec:  "Build a todo app with projects and due dates.",
		ProjectType: models.ProjectTypeGreenfield,
	}

	prompt := initializerPrompt(project)
	assert.Contains(t, prompt, `initializing the project "todo-app"`)
	assert.Contains(t, prompt, "create_epic")
	assert.Contains(t, prompt, "expand_epic")
	assert.Contains(t, prompt, "create_test")
	assert.Contains(t, prompt, "Build a todo app with projects and due dates.")
	assert.NotContains(t, prompt, "imported codebase")

	project.ProjectType = models.ProjectTypeBrownfield
	prompt = initializerPrompt(project)
	assert.Contains(t, prompt, "imported codebase")
	assert.Contains(t, prompt, "Survey it before planning")
}

func TestCodingPromptIncludesRecentNotes(t *testing.T) {
	project := &models.Project{
		Name:       "todo-app",
		SourceSpec: "Build a todo app.",
	}

	prompt := codingPrompt(project)
	assert.Contains(t, prompt, `continuing work on the project "todo-app"`)
	assert.Contains(t, prompt, "get_next_task")
	assert.Contains(t, prompt, "update_task_status done=true")
	assert.NotContains(t, prompt, "progress notes")

	var notes []string
	for i := 0; i < 30; i++ {
		notes = append(notes, fmt.Sprintf("note %d", i))
	}
	project.ProgressNotes = strings.Join(notes, "\n")

	prompt = codingPrompt(project)
	assert.Contains(t, prompt, "Recent progress notes (newest first):")
	assert.Contains(t, prompt, "note 0")
	assert.Contains(t, prompt, "note 19")
	assert.NotContains(t, prompt, "note 20", "notes are capped to the newest twenty lines")
}

func TestResumePrompt(t *testing.T) {
	project := &models.Project{Name: "todo-app", SourceSpec: "Build a todo app."}
	cp := &models.Checkpoint{
		Payload: models.CheckpointPayload{
			ConversationHistory: []string{"Finished the schema.", "Started on the handlers."},
		},
		LastTaskID: intp(7),
	}

	prompt := resumePrompt(project, cp, "Bumped the DB container memory.")
	assert.Contains(t, prompt, `resuming work on the project "todo-app"`)
	assert.Contains(t, prompt, "The operator resolved the blocker and says:\nBumped the DB container memory.")
	assert.Contains(t, prompt, "Where the previous session left off:")
	assert.Contains(t, prompt, "Finished the schema.")
	assert.Contains(t, prompt, "The last task worked was task 7")
	assert.Contains(t, prompt, "Build a todo app.")
}

func TestResumePromptWithoutCheckpoint(t *testing.T) {
	project := &models.Project{Name: "todo-app", SourceSpec: "Build a todo app."}

	prompt := resumePrompt(project, nil, "")
	assert.Contains(t, prompt, "resuming work")
	assert.NotContains(t, prompt, "left off")
	assert.NotContains(t, prompt, "The operator resolved")
	assert.Contains(t, prompt, "get_next_task")
}

func TestRetestPromptListsCandidates(t *testing.T) {
	project := &models.Project{Name: "todo-app", SourceSpec: "Build a todo app."}
	candidates := []models.RetestCandidate{
		{EpicID: 1, Name: "Schema", Tier: models.EpicTierFoundation, TriggerReason: models.RetestTriggerFoundationStale},
		{EpicID: 4, Name: "Billing", Tier: models.EpicTierStandard, TriggerReason: models.RetestTriggerEpicInterval},
	}

	prompt := retestPrompt(project, candidates)
	assert.Contains(t, prompt, `re-verifying completed epics of the project "todo-app"`)
	assert.Contains(t, prompt, "record_epic_retest_result")
	assert.Contains(t, prompt, "Do not implement new work")
	assert.Contains(t, prompt, "- epic 1 (Schema, tier foundation, trigger foundation_stale)")
	assert.Contains(t, prompt, "- epic 4 (Billing, tier standard, trigger epic_interval)")
}

func TestHeadLines(t *testing.T) {
	assert.Empty(t, headLines("", 5))
	assert.Empty(t, headLines("   \n  ", 5))
	assert.Equal(t, "a\nb", headLines("a\nb", 5))
	assert.Equal(t, "a\nb", headLines("a\nb\nc\nd", 2))
}
