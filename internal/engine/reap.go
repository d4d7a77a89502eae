package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/pane"
	"github.com/termcoder/tc/internal/persistence"
)

// captureLines is how much pane scrollback the reaper inspects for the
// session command's exit-code marker.
const captureLines = 30

// pendingKill is a politely interrupted pane awaiting escalation.
type pendingKill struct {
	pane     int
	deadline time.Time
}

// reap escalates pending kills, closes out sessions whose pane process has
// exited, and enforces the per-task wall-clock limit.
func (e *Engine) reap(ctx context.Context) error {
	now := time.Now().UTC()

	for id, k := range e.killDeadlines {
		if now.Before(k.deadline) {
			continue
		}
		alive, err := e.probe.alive(ctx, k.pane)
		if err != nil {
			return domain.WrapErr(domain.KindInfrastructure, err, "pane liveness probe failed")
		}
		if alive {
			if err := e.panes.Terminate(k.pane); err != nil {
				return domain.WrapErr(domain.KindInfrastructure, err, "kill escalation failed")
			}
		}
		delete(e.killDeadlines, id)
	}

	sessions, err := e.store.ActiveSessions(ctx, e.projectID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		alive, err := e.probe.alive(ctx, sess.Pane)
		if err != nil {
			return domain.WrapErr(domain.KindInfrastructure, err, "pane liveness probe failed")
		}
		if alive {
			if e.settings.SessionTimeout > 0 && now.Sub(sess.StartedAt) > e.settings.SessionTimeout {
				if err := e.KillSession(ctx, sess.ID, true); err != nil {
					return err
				}
			}
			continue
		}
		if err := e.closeSession(ctx, sess); err != nil {
			return err
		}
	}
	return nil
}

// closeSession records the outcome of an exited session, consulting the
// task's last control-plane report: a completion or failure report has
// already moved the task; a silent exit is classified as a failure.
func (e *Engine) closeSession(ctx context.Context, sess domain.Session) error {
	tail, err := e.panes.CaptureTail(sess.Pane, captureLines)
	if err != nil {
		return domain.WrapErr(domain.KindInfrastructure, err, "pane capture failed")
	}
	exitCode, marked := pane.ParseExitCode(tail)
	if !marked {
		exitCode = -1
	}

	task, err := e.store.GetTask(ctx, sess.TaskID)
	if err != nil {
		return err
	}

	sessionStatus := domain.SessionCompleted
	if exitCode != 0 {
		sessionStatus = domain.SessionFailed
	}
	if _, err := e.store.FinishSession(ctx, sess.ID, exitCode, sessionStatus); err != nil {
		return err
	}
	e.writeSessionResult(sess, task, exitCode, sessionStatus)

	if task.Status != domain.TaskRunning {
		// The control plane already settled this task.
		return nil
	}

	// No report arrived before the session died: synthetic failure.
	reason := fmt.Sprintf("session exited with code %d before reporting", exitCode)
	if !marked {
		reason = "session ended without an exit marker or report"
	}
	if _, err := e.store.UpdateTaskStatus(ctx, task.ID, domain.TaskFailed, persistence.TaskUpdate{ErrorContext: &reason}); err != nil {
		return err
	}
	e.publishTask(task.ID, domain.TaskRunning, domain.TaskFailed)
	return nil
}

// writeSessionResult drops a small structured summary next to the session
// log. Best-effort; the store rows remain authoritative.
func (e *Engine) writeSessionResult(sess domain.Session, task domain.Task, exitCode int, status domain.SessionStatus) {
	data, err := json.Marshal(struct {
		SessionID string `json:"session_id"`
		TaskID    string `json:"task_id"`
		Pane      int    `json:"pane"`
		ExitCode  int    `json:"exit_code"`
		Status    string `json:"status"`
	}{sess.ID, task.ID, sess.Pane, exitCode, string(status)})
	if err != nil {
		return
	}
	path := e.paths.SessionResultPath(sess.ID)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		log.Printf("WARNING: failed to write session result %s: %v", path, err)
	}
}
