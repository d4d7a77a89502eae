package engine

import (
	"context"
	"time"

	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/events"
	"github.com/termcoder/tc/internal/persistence"
)

// KillSession force-terminates a running session. The pane gets an
// interrupt; with force the pane shell's child processes are killed immediately,
// otherwise escalation happens after the grace period on a later reap.
// The session row and task are settled right away so the scheduler never
// re-reads a half-dead state.
func (e *Engine) KillSession(ctx context.Context, sessionID string, force bool) error {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := Kill(ctx, e.store, e.bus, e.panes, sessionID, force); err != nil {
		return err
	}
	if !force {
		e.killDeadlines[sessionID] = pendingKill{
			pane:     sess.Pane,
			deadline: time.Now().UTC().Add(config.GraceKillWait),
		}
	}
	return nil
}

// Kill is the shared kill path, also used by the CLI against a running
// engine in another process: tmux is global, and the store serializes the
// row updates either way.
func Kill(ctx context.Context, store *persistence.Store, bus *events.Bus, panes Panes, sessionID string, force bool) error {
	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != domain.SessionRunning {
		return domain.SubjectErrorf(domain.KindPrecondition, sessionID, "session is %s, not running", sess.Status)
	}

	if err := panes.Interrupt(sess.Pane); err != nil {
		return domain.WrapErr(domain.KindInfrastructure, err, "pane interrupt failed")
	}
	if force {
		if err := panes.Terminate(sess.Pane); err != nil {
			return domain.WrapErr(domain.KindInfrastructure, err, "pane terminate failed")
		}
	}

	if _, err := store.FinishSession(ctx, sessionID, -1, domain.SessionKilled); err != nil {
		return err
	}
	task, err := store.GetTask(ctx, sess.TaskID)
	if err != nil {
		return err
	}
	if task.Status == domain.TaskRunning {
		reason := "killed"
		if _, err := store.UpdateTaskStatus(ctx, task.ID, domain.TaskFailed, persistence.TaskUpdate{ErrorContext: &reason}); err != nil {
			return err
		}
		if bus != nil {
			bus.Publish(domain.Event{
				ProjectID:  sess.ProjectID,
				Kind:       domain.EventStatusChange,
				EntityType: domain.EntityTask,
				EntityID:   task.ID,
				OldValue:   string(domain.TaskRunning),
				NewValue:   string(domain.TaskFailed),
			})
		}
	}
	return nil
}
