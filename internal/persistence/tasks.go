package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// TaskUpdate carries optional field deltas applied alongside a status change.
// Writes take (id + deltas), never a whole record, so stale reads cannot
// silently overwrite newer state.
type TaskUpdate struct {
	ErrorContext *string
	RetryCount   *int
	BriefPath    *string
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, domain.SubjectErrorf(domain.KindValidation, taskID, "task not found")
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// ListTasksByProject returns all tasks ordered by (phase sequence, task sequence).
func (s *Store) ListTasksByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualify(taskColumns, "t")+`
		FROM tasks t JOIN phases p ON t.phase_id = p.id
		WHERE t.project_id = ?
		ORDER BY p.sequence, t.sequence
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByPhase returns a phase's tasks in ascending sequence.
func (s *Store) ListTasksByPhase(ctx context.Context, phaseID string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE phase_id = ? ORDER BY sequence
	`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListPhases returns a project's phases in ascending sequence.
func (s *Store) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+phaseColumns+` FROM phases WHERE project_id = ? ORDER BY sequence
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	var out []domain.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phases: %w", err)
	}
	return out, nil
}

// ListDependencies returns every dependency edge in the project.
func (s *Store) ListDependencies(ctx context.Context, projectID string) ([]domain.TaskDependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.task_id, d.depends_on_id
		FROM task_dependencies d JOIN tasks t ON d.task_id = t.id
		WHERE t.project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskDependency
	for rows.Next() {
		var d domain.TaskDependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return out, nil
}

// AppendTask inserts a task at the tail of its phase together with its
// dependency edges, in one transaction. Used for review tasks and
// changes-requested follow-ups created mid-run.
func (s *Store) AppendTask(ctx context.Context, task domain.Task, dependsOn []string) (domain.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM tasks WHERE phase_id = ?`, task.PhaseID).Scan(&maxSeq); err != nil {
			return fmt.Errorf("failed to query max sequence: %w", err)
		}
		seq := int(maxSeq.Int64) + 1

		if err := insertTaskTx(ctx, tx, task, seq); err != nil {
			return err
		}
		for _, depID := range dependsOn {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
			`, task.ID, depID); err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
			}
		}
		if err := appendEventTx(ctx, tx, domain.Event{
			ProjectID:  task.ProjectID,
			Kind:       domain.EventStatusChange,
			EntityType: domain.EntityTask,
			EntityID:   task.ID,
			NewValue:   string(domain.TaskPending),
			Payload:    fmt.Sprintf(`{"created":%q,"kind":%q}`, task.Name, task.Kind),
		}); err != nil {
			return err
		}
		// A completed phase reopens to pending for the new task.
		return reconcilePhaseTx(ctx, tx, task.ProjectID, task.PhaseID)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, task.ID)
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, task domain.Task, sequence int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, phase_id, project_id, sequence, kind, name, description, brief_path, status, retry_count, max_retries)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.PhaseID, task.ProjectID, sequence, string(task.Kind), task.Name,
		nullable(task.Description), nullable(task.BriefPath), string(domain.TaskPending),
		task.RetryCount, task.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus applies a validated status transition plus optional field
// deltas, appends the status_change event, and reconciles the owning phase —
// all inside one transaction. Illegal transitions fail with kind
// precondition and write nothing.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, to domain.TaskStatus, upd TaskUpdate) (domain.Task, error) {
	if _, err := domain.ParseTaskStatus(string(to)); err != nil {
		return domain.Task{}, err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return updateTaskStatusTx(ctx, tx, taskID, to, upd)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, taskID)
}

func updateTaskStatusTx(ctx context.Context, tx *sql.Tx, taskID string, to domain.TaskStatus, upd TaskUpdate) error {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.SubjectErrorf(domain.KindValidation, taskID, "task not found")
	}
	if err != nil {
		return fmt.Errorf("failed to query task: %w", err)
	}

	if err := domain.CheckTaskTransition(taskID, task.Status, to); err != nil {
		return err
	}
	if upd.RetryCount != nil && (*upd.RetryCount < 0 || *upd.RetryCount > domain.MaxRetriesCap) {
		return domain.SubjectErrorf(domain.KindValidation, taskID, "retry_count %d out of range", *upd.RetryCount)
	}

	set := `status = ?`
	args := []any{string(to)}
	switch to {
	case domain.TaskRunning:
		set += `, started_at = datetime('now')`
	case domain.TaskCompleted, domain.TaskFailed:
		set += `, completed_at = datetime('now')`
	}
	if upd.ErrorContext != nil {
		set += `, error_context = ?`
		args = append(args, nullable(*upd.ErrorContext))
	}
	if upd.RetryCount != nil {
		set += `, retry_count = ?`
		args = append(args, *upd.RetryCount)
	}
	if upd.BriefPath != nil {
		set += `, brief_path = ?`
		args = append(args, nullable(*upd.BriefPath))
	}
	args = append(args, taskID)

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	if err := appendEventTx(ctx, tx, domain.Event{
		ProjectID:  task.ProjectID,
		Kind:       domain.EventStatusChange,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		OldValue:   string(task.Status),
		NewValue:   string(to),
	}); err != nil {
		return err
	}

	return reconcilePhaseTx(ctx, tx, task.ProjectID, task.PhaseID)
}

// reconcilePhaseTx re-derives a phase's status from its tasks after a task
// transition, updating the row and logging the change when it moved.
func reconcilePhaseTx(ctx context.Context, tx *sql.Tx, projectID, phaseID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE phase_id = ? ORDER BY sequence`, phaseID)
	if err != nil {
		return fmt.Errorf("failed to query phase tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	rows.Close()
	if err != nil {
		return err
	}

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM phases WHERE id = ?`, phaseID).Scan(&current); err != nil {
		return fmt.Errorf("failed to query phase status: %w", err)
	}
	from := domain.PhaseStatus(current)
	if from == domain.PhaseSkipped {
		return nil // skipped phases stay skipped until reset
	}

	to := domain.DerivePhaseStatus(tasks)
	if to == from {
		return nil
	}
	if err := domain.CheckPhaseTransition(phaseID, from, to); err != nil {
		return err
	}

	set := `status = ?`
	switch to {
	case domain.PhaseRunning:
		set += `, started_at = COALESCE(started_at, datetime('now'))`
	case domain.PhaseCompleted, domain.PhaseFailed:
		set += `, completed_at = datetime('now')`
	case domain.PhasePending:
		set += `, started_at = NULL, completed_at = NULL`
	}
	if _, err := tx.ExecContext(ctx, `UPDATE phases SET `+set+` WHERE id = ?`, string(to), phaseID); err != nil {
		return fmt.Errorf("failed to update phase status: %w", err)
	}

	return appendEventTx(ctx, tx, domain.Event{
		ProjectID:  projectID,
		Kind:       domain.EventStatusChange,
		EntityType: domain.EntityPhase,
		EntityID:   phaseID,
		OldValue:   string(from),
		NewValue:   string(to),
	})
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return out, nil
}

// qualify prefixes each column in a comma-separated list with a table alias.
func qualify(columns, alias string) string {
	out := ""
	start := 0
	for i := 0; i <= len(columns); i++ {
		if i == len(columns) || columns[i] == ',' {
			col := columns[start:i]
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if out != "" {
				out += ", "
			}
			out += alias + "." + col
			start = i + 1
		}
	}
	return out
}
