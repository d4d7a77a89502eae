package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// appendEventTx inserts an event inside an existing transaction. Every state
// change committed by this package goes through here, so the log and the
// entity tables can never disagree.
func appendEventTx(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	if ev.Kind == domain.EventOverflow {
		return domain.Errorf(domain.KindValidation, "overflow events are bus-only, never persisted")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (project_id, kind, entity_type, entity_id, old_value, new_value, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ProjectID, string(ev.Kind), ev.EntityType, ev.EntityID,
		nullable(ev.OldValue), nullable(ev.NewValue), nullable(ev.Payload))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// AppendEvent appends one event in its own transaction.
func (s *Store) AppendEvent(ctx context.Context, ev domain.Event) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return appendEventTx(ctx, tx, ev)
	})
}

// EventFilter narrows ReadEvents. Zero values mean "any".
type EventFilter struct {
	ProjectID  string
	EntityType string
	EntityID   string
	SinceID    int64 // exclusive cursor
	Limit      int   // 0 means 50
}

// ReadEvents reads the append-only log in id order, oldest first.
// Observers that must not miss events poll this with a SinceID cursor.
func (s *Store) ReadEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE id > ?`
	args := []any{f.SinceID}
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}

// LastEventID returns the current tail of the log, for cursor initialization.
func (s *Store) LastEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to query last event id: %w", err)
	}
	return id.Int64, nil
}
