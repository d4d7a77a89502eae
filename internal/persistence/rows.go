package persistence

import (
	"database/sql"
	"time"

	"github.com/termcoder/tc/internal/domain"
)

// sqliteTime is the layout datetime('now') produces.
const sqliteTime = "2006-01-02 15:04:05"

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		// Tolerate RFC3339 written by older rows.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullToString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id, name, project_dir, prd_path, bootstrap_path, claude_md_path, status, created_at, updated_at`

func scanProject(r rowScanner) (domain.Project, error) {
	var p domain.Project
	var bootstrap, claudeMD sql.NullString
	var status, createdAt, updatedAt string
	if err := r.Scan(&p.ID, &p.Name, &p.ProjectDir, &p.PRDPath, &bootstrap, &claudeMD, &status, &createdAt, &updatedAt); err != nil {
		return domain.Project{}, err
	}
	st, err := domain.ParseProjectStatus(status)
	if err != nil {
		return domain.Project{}, err
	}
	p.BootstrapPath = nullToString(bootstrap)
	p.ClaudeMDPath = nullToString(claudeMD)
	p.Status = st
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

const phaseColumns = `id, project_id, sequence, name, description, status, started_at, completed_at, created_at`

func scanPhase(r rowScanner) (domain.Phase, error) {
	var p domain.Phase
	var description, startedAt, completedAt sql.NullString
	var status, createdAt string
	if err := r.Scan(&p.ID, &p.ProjectID, &p.Sequence, &p.Name, &description, &status, &startedAt, &completedAt, &createdAt); err != nil {
		return domain.Phase{}, err
	}
	st, err := domain.ParsePhaseStatus(status)
	if err != nil {
		return domain.Phase{}, err
	}
	p.Description = nullToString(description)
	p.Status = st
	p.StartedAt = parseTimePtr(startedAt)
	p.CompletedAt = parseTimePtr(completedAt)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

const taskColumns = `id, phase_id, project_id, sequence, kind, name, description, brief_path, status, retry_count, max_retries, error_context, started_at, completed_at, created_at`

func scanTask(r rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, briefPath, errorContext, startedAt, completedAt sql.NullString
	var kind, status, createdAt string
	if err := r.Scan(&t.ID, &t.PhaseID, &t.ProjectID, &t.Sequence, &kind, &t.Name, &description, &briefPath, &status, &t.RetryCount, &t.MaxRetries, &errorContext, &startedAt, &completedAt, &createdAt); err != nil {
		return domain.Task{}, err
	}
	k, err := domain.ParseTaskKind(kind)
	if err != nil {
		return domain.Task{}, err
	}
	st, err := domain.ParseTaskStatus(status)
	if err != nil {
		return domain.Task{}, err
	}
	t.Kind = k
	t.Status = st
	t.Description = nullToString(description)
	t.BriefPath = nullToString(briefPath)
	t.ErrorContext = nullToString(errorContext)
	t.StartedAt = parseTimePtr(startedAt)
	t.CompletedAt = parseTimePtr(completedAt)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

const sessionColumns = `id, task_id, project_id, pane, pid, log_path, status, exit_code, started_at, ended_at`

func scanSession(r rowScanner) (domain.Session, error) {
	var s domain.Session
	var logPath, endedAt sql.NullString
	var exitCode sql.NullInt64
	var status, startedAt string
	if err := r.Scan(&s.ID, &s.TaskID, &s.ProjectID, &s.Pane, &s.PID, &logPath, &status, &exitCode, &startedAt, &endedAt); err != nil {
		return domain.Session{}, err
	}
	st, err := domain.ParseSessionStatus(status)
	if err != nil {
		return domain.Session{}, err
	}
	s.LogPath = nullToString(logPath)
	s.Status = st
	s.ExitCode = intPtr(exitCode)
	s.StartedAt = parseTime(startedAt)
	s.EndedAt = parseTimePtr(endedAt)
	return s, nil
}

const eventColumns = `id, project_id, kind, entity_type, entity_id, old_value, new_value, payload, created_at`

func scanEvent(r rowScanner) (domain.Event, error) {
	var e domain.Event
	var oldValue, newValue, payload sql.NullString
	var kind, createdAt string
	if err := r.Scan(&e.ID, &e.ProjectID, &kind, &e.EntityType, &e.EntityID, &oldValue, &newValue, &payload, &createdAt); err != nil {
		return domain.Event{}, err
	}
	e.Kind = domain.EventKind(kind)
	e.OldValue = nullToString(oldValue)
	e.NewValue = nullToString(newValue)
	e.Payload = nullToString(payload)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}
