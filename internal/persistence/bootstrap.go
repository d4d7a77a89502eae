package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// RecordBootstrapCheck persists the outcome of one bootstrap predicate run.
func (s *Store) RecordBootstrapCheck(ctx context.Context, check domain.BootstrapCheck) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bootstrap_checks (id, project_id, check_name, check_type, command, expected, actual_output, passed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, check.ID, check.ProjectID, check.Name, check.CheckType, check.Command,
			nullable(check.Expected), nullable(check.Actual), boolToInt(check.Passed))
		if err != nil {
			return fmt.Errorf("failed to insert bootstrap check: %w", err)
		}
		return nil
	})
}

// ListBootstrapChecks returns the recorded checks for a project, newest run first.
func (s *Store) ListBootstrapChecks(ctx context.Context, projectID string) ([]domain.BootstrapCheck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, check_name, check_type, command, expected, actual_output, passed, run_at
		FROM bootstrap_checks WHERE project_id = ? ORDER BY run_at DESC, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bootstrap checks: %w", err)
	}
	defer rows.Close()

	var out []domain.BootstrapCheck
	for rows.Next() {
		var c domain.BootstrapCheck
		var expected, actual sql.NullString
		var passed int
		var runAt string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.CheckType, &c.Command, &expected, &actual, &passed, &runAt); err != nil {
			return nil, fmt.Errorf("failed to scan bootstrap check: %w", err)
		}
		c.Expected = nullToString(expected)
		c.Actual = nullToString(actual)
		c.Passed = passed != 0
		c.RunAt = parseTime(runAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bootstrap checks: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
