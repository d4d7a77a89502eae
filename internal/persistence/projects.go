package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// ProjectSpec carries the fields needed to create a project.
type ProjectSpec struct {
	ID            string
	Name          string
	ProjectDir    string
	PRDPath       string
	BootstrapPath string
	ClaudeMDPath  string
}

// CreateProject inserts a project in status initialized.
func (s *Store) CreateProject(ctx context.Context, spec ProjectSpec) (domain.Project, error) {
	if spec.ID == "" || spec.Name == "" || spec.ProjectDir == "" {
		return domain.Project{}, domain.Errorf(domain.KindValidation, "project id, name, and directory are required")
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, name, project_dir, prd_path, bootstrap_path, claude_md_path, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, spec.ID, spec.Name, spec.ProjectDir, spec.PRDPath,
			nullable(spec.BootstrapPath), nullable(spec.ClaudeMDPath), string(domain.ProjectInitialized))
		if err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	return s.GetProject(ctx, spec.ID)
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return domain.Project{}, domain.SubjectErrorf(domain.KindValidation, id, "project not found")
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

// CurrentProject returns the project stored in this database. The store holds
// exactly one project per directory; the newest row wins if there are more.
func (s *Store) CurrentProject(ctx context.Context) (domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC LIMIT 1`)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return domain.Project{}, domain.Errorf(domain.KindValidation, "no project in this store")
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

// UpdateProjectStatus moves a project to a new status and appends the
// corresponding status_change event in the same transaction.
func (s *Store) UpdateProjectStatus(ctx context.Context, projectID string, to domain.ProjectStatus) (domain.Project, error) {
	if _, err := domain.ParseProjectStatus(string(to)); err != nil {
		return domain.Project{}, err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var from string
		err := tx.QueryRowContext(ctx, `SELECT status FROM projects WHERE id = ?`, projectID).Scan(&from)
		if err == sql.ErrNoRows {
			return domain.SubjectErrorf(domain.KindValidation, projectID, "project not found")
		}
		if err != nil {
			return fmt.Errorf("failed to read project status: %w", err)
		}
		if from == string(to) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET status = ?, updated_at = datetime('now') WHERE id = ?
		`, string(to), projectID); err != nil {
			return fmt.Errorf("failed to update project status: %w", err)
		}
		return appendEventTx(ctx, tx, domain.Event{
			ProjectID:  projectID,
			Kind:       domain.EventStatusChange,
			EntityType: domain.EntityProject,
			EntityID:   projectID,
			OldValue:   from,
			NewValue:   string(to),
		})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return s.GetProject(ctx, projectID)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
