package metrics

import (
	"strings"
	"unicode"

	"github.com/yokeflow/yokeflow/pkg/models"
)

// Task types inferred from task text. The type picks which verification
// method a task is expected to use.
const (
	TaskTypeUI          = "ui"
	TaskTypeAPI         = "api"
	TaskTypeConfig      = "config"
	TaskTypeDatabase    = "database"
	TaskTypeIntegration = "integration"
	TaskTypeGeneral     = "general"
)

// typeMarkers maps task types to the tokens that identify them. The first
// type with a matching token wins, so more specific types sit earlier.
var typeMarkers = []struct {
	taskType string
	tokens   []string
}{
	{TaskTypeUI, []string{
		"ui", "frontend", "front-end", "component", "page", "button", "form",
		"modal", "css", "style", "styling", "layout", "navbar", "render", "responsive",
	}},
	{TaskTypeAPI, []string{
		"api", "endpoint", "endpoints", "route", "routes", "rest", "graphql", "webhook", "handler",
	}},
	{TaskTypeDatabase, []string{
		"database", "schema", "migration", "migrations", "sql", "table", "tables", "query", "queries",
	}},
	{TaskTypeIntegration, []string{
		"integration", "end-to-end", "e2e", "workflow", "pipeline",
	}},
	{TaskTypeConfig, []string{
		"config", "configuration", "setup", "install", "dependency", "dependencies",
		"build", "tooling", "environment", "docker", "ci", "lint", "scaffold",
	}},
}

// expectedCategories is the verification method each task type is expected
// to use. Types without an entry accept any method.
var expectedCategories = map[string]models.TestCategory{
	TaskTypeUI:          models.TestCategoryBrowser,
	TaskTypeAPI:         models.TestCategoryAPI,
	TaskTypeConfig:      models.TestCategoryBuild,
	TaskTypeDatabase:    models.TestCategoryDatabase,
	TaskTypeIntegration: models.TestCategoryE2E,
}

// InferTaskType classifies a task by its description, action, and metadata.
// An explicit metadata task_type wins when it names a known type.
func InferTaskType(task *models.Task) string {
	if t := task.Metadata.String("task_type"); t != "" {
		if _, known := expectedCategories[t]; known || t == TaskTypeGeneral {
			return t
		}
	}

	tokens := tokenize(task.Description + " " + task.Action)
	for _, m := range typeMarkers {
		for _, tok := range m.tokens {
			if _, ok := tokens[tok]; ok {
				return m.taskType
			}
		}
	}
	return TaskTypeGeneral
}

// ExpectedCategory returns the verification method a task type should use.
// ok is false for types that accept any method.
func ExpectedCategory(taskType string) (models.TestCategory, bool) {
	cat, ok := expectedCategories[taskType]
	return cat, ok
}

// CategoryAppropriate reports whether a verification method matches the
// expectation for a task type.
func CategoryAppropriate(taskType string, category models.TestCategory) bool {
	expected, ok := expectedCategories[taskType]
	if !ok {
		return true
	}
	return category == expected
}

// tokenize lowers text and splits it into a token set. Hyphens stay inside
// tokens so markers like "end-to-end" survive.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[strings.Trim(f, "-")] = struct{}{}
	}
	return tokens
}
