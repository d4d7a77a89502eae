package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// Snapshot reads a project's phases, tasks, and dependency edges in one
// transaction. The result is the scheduler's whole world for a tick;
// it is never shared across ticks.
func (s *Store) Snapshot(ctx context.Context, projectID string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, projectID)
		project, err := scanProject(row)
		if err == sql.ErrNoRows {
			return domain.SubjectErrorf(domain.KindValidation, projectID, "project not found")
		}
		if err != nil {
			return fmt.Errorf("failed to query project: %w", err)
		}
		snap.Project = project

		rows, err := tx.QueryContext(ctx, `
			SELECT `+phaseColumns+` FROM phases WHERE project_id = ? ORDER BY sequence
		`, projectID)
		if err != nil {
			return fmt.Errorf("failed to query phases: %w", err)
		}
		for rows.Next() {
			p, err := scanPhase(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan phase: %w", err)
			}
			snap.Phases = append(snap.Phases, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating phases: %w", err)
		}

		rows, err = tx.QueryContext(ctx, `
			SELECT `+qualify(taskColumns, "t")+`
			FROM tasks t JOIN phases p ON t.phase_id = p.id
			WHERE t.project_id = ?
			ORDER BY p.sequence, t.sequence
		`, projectID)
		if err != nil {
			return fmt.Errorf("failed to query tasks: %w", err)
		}
		snap.Tasks, err = collectTasks(rows)
		rows.Close()
		if err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, `
			SELECT d.task_id, d.depends_on_id
			FROM task_dependencies d JOIN tasks t ON d.task_id = t.id
			WHERE t.project_id = ?
		`, projectID)
		if err != nil {
			return fmt.Errorf("failed to query dependencies: %w", err)
		}
		snap.Deps = make(map[string][]string)
		for rows.Next() {
			var taskID, depID string
			if err := rows.Scan(&taskID, &depID); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan dependency: %w", err)
			}
			snap.Deps[taskID] = append(snap.Deps[taskID], depID)
		}
		rows.Close()
		return rows.Err()
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}
