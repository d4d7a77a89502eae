package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// CreateSession inserts a running session row, enforcing the two structural
// invariants inside the transaction: at most one running session per task,
// and at most one running session per pane.
func (s *Store) CreateSession(ctx context.Context, sess domain.Session) (domain.Session, error) {
	if sess.Status != domain.SessionRunning {
		return domain.Session{}, domain.SubjectErrorf(domain.KindValidation, sess.ID, "sessions are created running, got %s", sess.Status)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sessions WHERE task_id = ? AND status = ?
		`, sess.TaskID, string(domain.SessionRunning)).Scan(&n); err != nil {
			return fmt.Errorf("failed to count task sessions: %w", err)
		}
		if n > 0 {
			return domain.SubjectErrorf(domain.KindPrecondition, sess.TaskID, "task already has a running session")
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sessions WHERE project_id = ? AND pane = ? AND status = ?
		`, sess.ProjectID, sess.Pane, string(domain.SessionRunning)).Scan(&n); err != nil {
			return fmt.Errorf("failed to count pane sessions: %w", err)
		}
		if n > 0 {
			return domain.SubjectErrorf(domain.KindPrecondition, sess.ID, "pane %d already has a running session", sess.Pane)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, task_id, project_id, pane, pid, log_path, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sess.ID, sess.TaskID, sess.ProjectID, sess.Pane, sess.PID,
			nullable(sess.LogPath), string(domain.SessionRunning))
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return s.GetSession(ctx, sess.ID)
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return domain.Session{}, domain.SubjectErrorf(domain.KindValidation, sessionID, "session not found")
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	return sess, nil
}

// FinishSession closes a running session with an exit code and terminal
// status, validating the transition.
func (s *Store) FinishSession(ctx context.Context, sessionID string, exitCode int, to domain.SessionStatus) (domain.Session, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&current)
		if err == sql.ErrNoRows {
			return domain.SubjectErrorf(domain.KindValidation, sessionID, "session not found")
		}
		if err != nil {
			return fmt.Errorf("failed to read session status: %w", err)
		}
		if err := domain.CheckSessionTransition(sessionID, domain.SessionStatus(current), to); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, exit_code = ?, ended_at = datetime('now') WHERE id = ?
		`, string(to), exitCode, sessionID); err != nil {
			return fmt.Errorf("failed to finish session: %w", err)
		}
		var projectID string
		if err := tx.QueryRowContext(ctx, `SELECT project_id FROM sessions WHERE id = ?`, sessionID).Scan(&projectID); err != nil {
			return fmt.Errorf("failed to read session project: %w", err)
		}
		return appendEventTx(ctx, tx, domain.Event{
			ProjectID:  projectID,
			Kind:       domain.EventStatusChange,
			EntityType: domain.EntitySession,
			EntityID:   sessionID,
			OldValue:   current,
			NewValue:   string(to),
			Payload:    fmt.Sprintf(`{"exit_code":%d}`, exitCode),
		})
	})
	if err != nil {
		return domain.Session{}, err
	}
	return s.GetSession(ctx, sessionID)
}

// ActiveSessions returns the project's running sessions, one per pane at most.
func (s *Store) ActiveSessions(ctx context.Context, projectID string) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE project_id = ? AND status = ?
		ORDER BY started_at
	`, projectID, string(domain.SessionRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// SessionsByTask returns all sessions recorded for a task, oldest first.
func (s *Store) SessionsByTask(ctx context.Context, taskID string) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE task_id = ? ORDER BY started_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]domain.Session, error) {
	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}
