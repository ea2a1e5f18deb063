// Package models defines the persisted entities and request/response shapes
// shared by the store, the tool surface, and the control API.
package models

import (
	"regexp"
	"time"
)

// ProjectNamePattern is the accepted shape for project names.
var ProjectNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// Project is one software project under autonomous development.
type Project struct {
	ID             string        `db:"id" json:"id"`
	Name           string        `db:"name" json:"name"`
	SourceSpec     string        `db:"source_spec" json:"source_spec"`
	Status         ProjectStatus `db:"status" json:"status"`
	ProjectType    ProjectType   `db:"project_type" json:"project_type"`
	Settings       JSONMap       `db:"settings" json:"settings"`
	ProgressNotes  string        `db:"progress_notes" json:"progress_notes"`
	SourceRevision string        `db:"source_revision" json:"source_revision,omitempty"`
	StopRequested  bool          `db:"stop_requested" json:"stop_requested"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// AllowUntestedTasks reports whether this project opts out of the
// every-done-task-needs-resolved-tests gate.
func (p *Project) AllowUntestedTasks() bool {
	return p.Settings.Bool("allow_untested_tasks")
}

// CreateProjectRequest contains fields for creating a project.
type CreateProjectRequest struct {
	Name        string      `json:"name"`
	SourceSpec  string      `json:"source_spec"`
	ProjectType ProjectType `json:"project_type"`
	Settings    JSONMap     `json:"settings,omitempty"`
	// ImportPath is the local directory copied into the workspace for
	// brownfield projects.
	ImportPath string `json:"import_path,omitempty"`
}

// Progress summarizes backlog completion for a project.
type Progress struct {
	TotalEpics     int `db:"total_epics" json:"total_epics"`
	CompletedEpics int `db:"completed_epics" json:"completed_epics"`
	TotalTasks     int `db:"total_tasks" json:"total_tasks"`
	CompletedTasks int `db:"completed_tasks" json:"completed_tasks"`
	TotalTests     int `db:"total_tests" json:"total_tests"`
	PassingTests   int `db:"passing_tests" json:"passing_tests"`
}

// Remaining returns the number of tasks still open.
func (p Progress) Remaining() int {
	return p.TotalTasks - p.CompletedTasks
}
