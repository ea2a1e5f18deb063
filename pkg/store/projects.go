package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yokeflow/yokeflow/pkg/models"
)

const projectColumns = `id, name, source_spec, status, project_type, settings,
	progress_notes, source_revision, stop_requested, created_at`

// CreateProject inserts a new project. Duplicate names yield ErrConflict.
func (s *Store) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	if !models.ProjectNamePattern.MatchString(req.Name) {
		return nil, fmt.Errorf("%w: project name %q must match %s", ErrValidation, req.Name, models.ProjectNamePattern)
	}
	projectType := req.ProjectType
	if projectType == "" {
		projectType = models.ProjectTypeGreenfield
	}
	if !projectType.IsValid() {
		return nil, fmt.Errorf("%w: unknown project type %q", ErrValidation, req.ProjectType)
	}
	if strings.TrimSpace(req.SourceSpec) == "" {
		return nil, fmt.Errorf("%w: source spec must not be empty", ErrValidation)
	}
	settings := req.Settings
	if settings == nil {
		settings = models.JSONMap{}
	}

	project := &models.Project{
		ID:          uuid.NewString(),
		Name:        req.Name,
		SourceSpec:  req.SourceSpec,
		Status:      models.ProjectStatusActive,
		ProjectType: projectType,
		Settings:    settings,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.exec(ctx, "project",
		`INSERT INTO projects (id, name, source_spec, status, project_type, settings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		project.ID, project.Name, project.SourceSpec, project.Status, project.ProjectType,
		project.Settings, project.CreatedAt)
	if err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := s.get(ctx, &project, "project",
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProjectByName fetches a project by its unique name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	var project models.Project
	err := s.get(ctx, &project, "project",
		`SELECT `+projectColumns+` FROM projects WHERE name = $1`, name)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	projects := []models.Project{}
	err := s.selectAll(ctx, &projects, "projects",
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	return projects, err
}

// UpdateProjectStatus moves a project to the given lifecycle status.
func (s *Store) UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown project status %q", ErrValidation, status)
	}
	return s.requireOne(ctx, "project",
		`UPDATE projects SET status = $2 WHERE id = $1`, id, status)
}

// SetStopRequested flips the stop-after-current-session flag.
func (s *Store) SetStopRequested(ctx context.Context, id string, stop bool) error {
	return s.requireOne(ctx, "project",
		`UPDATE projects SET stop_requested = $2 WHERE id = $1`, id, stop)
}

// SetSourceRevision records the imported codebase revision for brownfield
// projects.
func (s *Store) SetSourceRevision(ctx context.Context, id, revision string) error {
	return s.requireOne(ctx, "project",
		`UPDATE projects SET source_revision = $2 WHERE id = $1`, id, revision)
}

// AppendProgressNote appends one timestamped line to the project's running
// progress note.
func (s *Store) AppendProgressNote(ctx context.Context, id, note string) error {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), strings.TrimSpace(note))
	return s.requireOne(ctx, "project",
		`UPDATE projects
		 SET progress_notes = CASE WHEN progress_notes = '' THEN $2
		                           ELSE progress_notes || E'\n' || $2 END
		 WHERE id = $1`, id, line)
}

// DeleteProject removes the project row; epics, tasks, tests, sessions and
// their dependents go with it via ON DELETE CASCADE.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.requireOne(ctx, "project", `DELETE FROM projects WHERE id = $1`, id)
}

// GetProgress returns backlog completion counters for a project.
func (s *Store) GetProgress(ctx context.Context, projectID string) (*models.Progress, error) {
	// Probe the project first so a missing id reads as not-found rather than
	// all-zero progress.
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	var progress models.Progress
	err := s.get(ctx, &progress, "progress", `
		SELECT
			(SELECT COUNT(*) FROM epics WHERE project_id = $1)                           AS total_epics,
			(SELECT COUNT(*) FROM epics WHERE project_id = $1 AND status = 'completed')  AS completed_epics,
			(SELECT COUNT(*) FROM tasks WHERE project_id = $1)                           AS total_tasks,
			(SELECT COUNT(*) FROM tasks WHERE project_id = $1 AND done)                  AS completed_tasks,
			(SELECT COUNT(*) FROM tests WHERE project_id = $1)                           AS total_tests,
			(SELECT COUNT(*) FROM tests WHERE project_id = $1 AND passed IS TRUE)        AS passing_tests`,
		projectID)
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// AcquireProjectLock takes the per-project row lock that serializes session
// creation. It must run inside a transaction; the lock is held until commit
// or rollback.
func (s *Store) AcquireProjectLock(ctx context.Context, projectID string) (*models.Project, error) {
	if !s.InTx() {
		return nil, fmt.Errorf("acquire project lock: not in a transaction")
	}
	var project models.Project
	err := s.get(ctx, &project, "project",
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, projectID)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// requireOne runs an exec that must touch exactly one row, mapping zero rows
// to ErrNotFound.
func (s *Store) requireOne(ctx context.Context, entity string, query string, args ...any) error {
	affected, err := s.exec(ctx, entity, query, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	return nil
}
