package orchestrator

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yokeflow/yokeflow/pkg/models"
	"github.com/yokeflow/yokeflow/pkg/sandbox"
	"github.com/yokeflow/yokeflow/pkg/store"
)

// CreateProject registers a project. Brownfield projects may name a local
// directory to import; it is copied into the project's workspace before the
// project is announced, and its git revision (when present) is recorded as
// the source revision.
func (o *Orchestrator) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	project, err := o.store.CreateProject(ctx, req)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("project_id", project.ID, "project_name", project.Name)

	if project.ProjectType == models.ProjectTypeBrownfield && req.ImportPath != "" {
		if err := o.importWorkspace(project, req.ImportPath); err != nil {
			if delErr := o.store.DeleteProject(ctx, project.ID); delErr != nil {
				logger.Error("rolling back project after failed import", "error", delErr)
			}
			return nil, fmt.Errorf("%w: importing %s: %v", store.ErrValidation, req.ImportPath, err)
		}
		if revision := gitRevision(req.ImportPath); revision != "" {
			if err := o.store.SetSourceRevision(ctx, project.ID, revision); err != nil {
				logger.Warn("recording source revision", "error", err)
			} else {
				project.SourceRevision = revision
			}
		}
		logger.Info("workspace imported", "import_path", req.ImportPath, "source_revision", project.SourceRevision)
	}

	o.publishProjectStatus(ctx, project, project.Status)
	logger.Info("project created", "project_type", project.ProjectType)
	return project, nil
}

// DeleteProject cancels any in-flight session, removes the sandbox and its
// volumes, then deletes the project's rows (sessions, backlog, events and
// the rest go with it through cascading deletes).
func (o *Orchestrator) DeleteProject(ctx context.Context, projectID string) error {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	if loop := o.lookupLoop(projectID); loop != nil {
		loop.cancel()
		select {
		case <-loop.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := o.sandboxes.Remove(ctx, project.ID, project.Name); err != nil {
		return fmt.Errorf("removing sandbox for project %s: %w", project.ID, err)
	}
	if err := o.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if root := o.cfg.Sandbox.WorkspaceRoot; root != "" {
		dir := filepath.Join(root, sandbox.Slug(project.Name))
		if err := os.RemoveAll(dir); err != nil {
			o.logger.Warn("removing workspace directory", "project_id", projectID, "dir", dir, "error", err)
		}
	}
	o.logger.Info("project deleted", "project_id", projectID, "project_name", project.Name)
	return nil
}

// ArchiveProject shelves a project: its sandbox stops, its rows stay. Refuses
// while a session loop is active.
func (o *Orchestrator) ArchiveProject(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if o.lookupLoop(projectID) != nil {
		return nil, fmt.Errorf("%w: project %s has an active session, stop or cancel it first", store.ErrConflict, projectID)
	}
	if err := o.store.UpdateProjectStatus(ctx, projectID, models.ProjectStatusArchived); err != nil {
		return nil, err
	}
	if err := o.sandboxes.Stop(ctx, project.ID, project.Name); err != nil {
		o.logger.Warn("stopping sandbox for archived project", "project_id", projectID, "error", err)
	}
	project.Status = models.ProjectStatusArchived
	o.publishProjectStatus(ctx, project, models.ProjectStatusArchived)
	o.logger.Info("project archived", "project_id", projectID)
	return project, nil
}

// StopAfterCurrent asks the project's loop to stop once the running session
// finishes. Cooperative: the in-flight session keeps running, and the flag
// is consumed at the next auto-continue boundary.
func (o *Orchestrator) StopAfterCurrent(ctx context.Context, projectID string) error {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	if err := o.store.SetStopRequested(ctx, projectID, true); err != nil {
		return err
	}
	o.logger.Info("stop requested", "project_id", projectID)
	return nil
}

// TriggerCompletionReview scores the project against its source spec and
// publishes the verdict.
func (o *Orchestrator) TriggerCompletionReview(ctx context.Context, projectID string) (*models.CompletionReview, error) {
	review, err := o.quality.RunCompletionReview(ctx, projectID)
	if err != nil {
		return nil, err
	}
	o.publishReviewCompleted(ctx, projectID, review)
	return review, nil
}

// importWorkspace copies an existing codebase into the directory the sandbox
// mounts as the project workspace.
func (o *Orchestrator) importWorkspace(project *models.Project, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("import path %s is not a directory", src)
	}
	dst := filepath.Join(o.cfg.Sandbox.WorkspaceRoot, sandbox.Slug(project.Name))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return copyTree(src, dst)
}

// copyTree copies src into dst, preserving file modes and symlinks.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			if rel == "." {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, d)
		}
	})
}

func copyFile(src, dst string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// gitRevision reads the imported tree's HEAD commit without shelling out.
// Best effort: packed refs and exotic layouts yield "".
func gitRevision(dir string) string {
	head, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	ref := strings.TrimSpace(string(head))
	rest, ok := strings.CutPrefix(ref, "ref: ")
	if !ok {
		return ref
	}
	sha, err := os.ReadFile(filepath.Join(dir, ".git", filepath.FromSlash(rest)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(sha))
}
