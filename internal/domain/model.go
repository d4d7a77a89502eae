// Package domain holds the frozen value records for Terminal Coder entities
// and the pure state machine governing their status transitions.
//
// Values are never mutated after construction. Every write goes through the
// repository as (id + field deltas), so a stale read can never silently
// overwrite newer state.
package domain

import (
	"time"
)

// Project is the root entity: one orchestrated build per directory.
type Project struct {
	ID            string
	Name          string
	ProjectDir    string
	PRDPath       string
	BootstrapPath string
	ClaudeMDPath  string
	Status        ProjectStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Phase is an ordered grouping of tasks. Phase k becomes runnable only when
// phase k-1 is completed or skipped.
type Phase struct {
	ID          string
	ProjectID   string
	Sequence    int
	Name        string
	Description string
	Status      PhaseStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Task is the atomic unit of Agent work: coding or review.
type Task struct {
	ID           string
	PhaseID      string
	ProjectID    string
	Sequence     int
	Kind         TaskKind
	Name         string
	Description  string
	BriefPath    string
	Status       TaskStatus
	RetryCount   int
	MaxRetries   int
	ErrorContext string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// TaskDependency is an edge in the task DAG: Task depends on DependsOn.
type TaskDependency struct {
	TaskID      string
	DependsOnID string
}

// Session is one Agent invocation bound to one task and one pane.
type Session struct {
	ID        string
	TaskID    string
	ProjectID string
	Pane      int
	PID       int
	LogPath   string
	Status    SessionStatus
	ExitCode  *int
	StartedAt time.Time
	EndedAt   *time.Time
}

// Event is one row in the append-only event log. Never mutated after insert.
type Event struct {
	ID         int64
	ProjectID  string
	Kind       EventKind
	EntityType string
	EntityID   string
	OldValue   string
	NewValue   string
	Payload    string // JSON, operation-specific
	CreatedAt  time.Time
}

// BootstrapCheck records the outcome of one bootstrap predicate run.
type BootstrapCheck struct {
	ID        string
	ProjectID string
	Name      string
	CheckType string
	Command   string
	Expected  string
	Actual    string
	Passed    bool
	RunAt     time.Time
}

// Panes used by the engine. The topology is fixed: one coding, one review.
const (
	PaneCoding = 0
	PaneReview = 1
)

// MaxRetriesCap bounds retry_count; a task failing with retry_count at the
// cap transitions to paused, never to another automatic attempt.
const MaxRetriesCap = 1

// NewPhase validates and constructs a phase value.
func NewPhase(id, projectID string, sequence int, name, description string) (Phase, error) {
	if id == "" || projectID == "" {
		return Phase{}, Errorf(KindValidation, "phase id and project id are required")
	}
	if sequence < 1 {
		return Phase{}, Errorf(KindValidation, "phase sequence must be >= 1, got %d", sequence)
	}
	return Phase{
		ID:          id,
		ProjectID:   projectID,
		Sequence:    sequence,
		Name:        name,
		Description: description,
		Status:      PhasePending,
	}, nil
}

// NewTask validates and constructs a task value in status pending.
func NewTask(id, phaseID, projectID string, sequence int, kind TaskKind, name, description string) (Task, error) {
	if id == "" || phaseID == "" || projectID == "" {
		return Task{}, Errorf(KindValidation, "task id, phase id, and project id are required")
	}
	if sequence < 1 {
		return Task{}, Errorf(KindValidation, "task sequence must be >= 1, got %d", sequence)
	}
	if _, err := ParseTaskKind(string(kind)); err != nil {
		return Task{}, err
	}
	return Task{
		ID:          id,
		PhaseID:     phaseID,
		ProjectID:   projectID,
		Sequence:    sequence,
		Kind:        kind,
		Name:        name,
		Description: description,
		Status:      TaskPending,
		MaxRetries:  MaxRetriesCap,
	}, nil
}

// NewSession validates and constructs a session value in status running.
func NewSession(id, taskID, projectID string, pane int, pid int, logPath string, startedAt time.Time) (Session, error) {
	if id == "" || taskID == "" {
		return Session{}, Errorf(KindValidation, "session id and task id are required")
	}
	if pane != PaneCoding && pane != PaneReview {
		return Session{}, Errorf(KindValidation, "pane must be %d or %d, got %d", PaneCoding, PaneReview, pane)
	}
	return Session{
		ID:        id,
		TaskID:    taskID,
		ProjectID: projectID,
		Pane:      pane,
		PID:       pid,
		LogPath:   logPath,
		Status:    SessionRunning,
		StartedAt: startedAt,
	}, nil
}

// PaneFor maps a task kind to its fixed pane.
func PaneFor(kind TaskKind) int {
	if kind == KindReview {
		return PaneReview
	}
	return PaneCoding
}

// DerivePhaseStatus computes a phase's status from its tasks:
// completed iff all completed/skipped; failed iff any failed and none
// pending or running; running if any is running; pending otherwise.
func DerivePhaseStatus(tasks []Task) PhaseStatus {
	if len(tasks) == 0 {
		return PhasePending
	}
	allDone := true
	anyFailed := false
	anyRunning := false
	anyPending := false
	for _, t := range tasks {
		switch t.Status {
		case TaskCompleted, TaskSkipped:
			continue
		case TaskFailed:
			anyFailed = true
		case TaskRunning:
			anyRunning = true
		case TaskPending:
			anyPending = true
		}
		allDone = false
	}
	switch {
	case allDone:
		return PhaseCompleted
	case anyFailed && !anyPending && !anyRunning:
		return PhaseFailed
	case anyRunning:
		return PhaseRunning
	default:
		return PhasePending
	}
}
