package scheduler

import (
	"fmt"

	"github.com/termcoder/tc/internal/domain"
)

// RetryAction is the retry policy's verdict for a failed task.
type RetryAction int

const (
	// ActionRetry re-queues the task with retry_count incremented.
	ActionRetry RetryAction = iota
	// ActionPause parks the task and raises the engine's paused flag.
	ActionPause
)

// RetryPolicy decides retry-or-pause for failed tasks. Pure: it reads the
// task value and its own configuration, nothing else.
type RetryPolicy struct {
	MaxRetries int // clamped to [0, domain.MaxRetriesCap] by config
}

// Decide returns the action for a just-failed task.
func (p RetryPolicy) Decide(task domain.Task) RetryAction {
	limit := p.MaxRetries
	if task.MaxRetries < limit {
		limit = task.MaxRetries
	}
	if task.RetryCount < limit {
		return ActionRetry
	}
	return ActionPause
}

// RetryContext formats the failure context carried into the next attempt's
// brief. Output is truncated so a runaway stack trace cannot swamp the prompt.
func (p RetryPolicy) RetryContext(task domain.Task, errorOutput string) string {
	const maxErr = 2000
	if len(errorOutput) > maxErr {
		errorOutput = errorOutput[:maxErr]
	}
	return fmt.Sprintf(
		"PREVIOUS ATTEMPT FAILED (attempt %d):\nError: %s\n\nAddress this error; try a different approach if needed.",
		task.RetryCount+1, errorOutput,
	)
}
