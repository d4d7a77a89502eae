package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// ManualRetry clears retry_count and error_context and returns the task to
// pending so the scheduler picks it up again. Only failed or paused tasks
// qualify.
func (s *Store) ManualRetry(ctx context.Context, taskID string) (domain.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
		task, err := scanTask(row)
		if err == sql.ErrNoRows {
			return domain.SubjectErrorf(domain.KindValidation, taskID, "task not found")
		}
		if err != nil {
			return fmt.Errorf("failed to query task: %w", err)
		}
		if task.Status != domain.TaskFailed && task.Status != domain.TaskPaused {
			return domain.SubjectErrorf(domain.KindPrecondition, taskID,
				"retry requires a failed or paused task, status is %s", task.Status)
		}
		zero := 0
		empty := ""
		return updateTaskStatusTx(ctx, tx, taskID, domain.TaskPending, TaskUpdate{
			RetryCount:   &zero,
			ErrorContext: &empty,
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, taskID)
}

// ResetTask returns a task to pending, clearing retry state. A running task
// steps through failed first (the state machine has no running -> pending
// edge), and its live session row is marked killed. The caller is
// responsible for killing the actual pane process beforehand.
func (s *Store) ResetTask(ctx context.Context, taskID string) (domain.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return resetTaskTx(ctx, tx, taskID)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, taskID)
}

func resetTaskTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.SubjectErrorf(domain.KindValidation, taskID, "task not found")
	}
	if err != nil {
		return fmt.Errorf("failed to query task: %w", err)
	}

	if task.Status == domain.TaskRunning {
		if err := killRunningSessionsTx(ctx, tx, taskID); err != nil {
			return err
		}
		reason := "reset"
		if err := updateTaskStatusTx(ctx, tx, taskID, domain.TaskFailed, TaskUpdate{ErrorContext: &reason}); err != nil {
			return err
		}
	}

	if task.Status == domain.TaskPending && task.RetryCount == 0 && task.ErrorContext == "" {
		return nil // nothing to reset
	}

	zero := 0
	empty := ""
	return updateTaskStatusTx(ctx, tx, taskID, domain.TaskPending, TaskUpdate{
		RetryCount:   &zero,
		ErrorContext: &empty,
	})
}

// ResetPhase cascades ResetTask to every task in the phase.
func (s *Store) ResetPhase(ctx context.Context, phaseID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE phase_id = ? ORDER BY sequence`, phaseID)
		if err != nil {
			return fmt.Errorf("failed to query phase tasks: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan task id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating task ids: %w", err)
		}
		if len(ids) == 0 {
			return domain.SubjectErrorf(domain.KindValidation, phaseID, "phase not found or empty")
		}

		for _, id := range ids {
			if err := resetTaskTx(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// PhaseBySequence resolves a phase by its 1-based sequence number.
func (s *Store) PhaseBySequence(ctx context.Context, projectID string, sequence int) (domain.Phase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+phaseColumns+` FROM phases WHERE project_id = ? AND sequence = ?
	`, projectID, sequence)
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return domain.Phase{}, domain.Errorf(domain.KindValidation, "no phase with sequence %d", sequence)
	}
	if err != nil {
		return domain.Phase{}, fmt.Errorf("failed to query phase: %w", err)
	}
	return p, nil
}

func killRunningSessionsTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, project_id FROM sessions WHERE task_id = ? AND status = ?
	`, taskID, string(domain.SessionRunning))
	if err != nil {
		return fmt.Errorf("failed to query running sessions: %w", err)
	}
	type running struct{ id, projectID string }
	var live []running
	for rows.Next() {
		var r running
		if err := rows.Scan(&r.id, &r.projectID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan session: %w", err)
		}
		live = append(live, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating sessions: %w", err)
	}

	for _, r := range live {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, ended_at = datetime('now') WHERE id = ?
		`, string(domain.SessionKilled), r.id); err != nil {
			return fmt.Errorf("failed to kill session %s: %w", r.id, err)
		}
		if err := appendEventTx(ctx, tx, domain.Event{
			ProjectID:  r.projectID,
			Kind:       domain.EventStatusChange,
			EntityType: domain.EntitySession,
			EntityID:   r.id,
			OldValue:   string(domain.SessionRunning),
			NewValue:   string(domain.SessionKilled),
		}); err != nil {
			return err
		}
	}
	return nil
}
