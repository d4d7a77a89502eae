package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/termcoder/tc/internal/agent"
	"github.com/termcoder/tc/internal/brief"
	"github.com/termcoder/tc/internal/controlplane"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/persistence"
)

// dispatch renders the task's brief, spawns an Agent session on the pane,
// records the session row, and transitions the task to running. At-most-once
// per task per run: the state machine forbids a second pending -> running.
func (e *Engine) dispatch(ctx context.Context, snap *domain.Snapshot, task domain.Task, pane int) error {
	sessionID := uuid.NewString()

	content, err := e.renderBrief(ctx, snap, task, sessionID)
	if err != nil {
		return err
	}
	briefPath := e.paths.BriefPath(task.ID)
	if err := os.WriteFile(briefPath, []byte(content), 0o644); err != nil {
		return domain.WrapErr(domain.KindInfrastructure, err, "failed to write brief")
	}

	if _, err := e.store.UpdateTaskStatus(ctx, task.ID, domain.TaskRunning, persistence.TaskUpdate{BriefPath: &briefPath}); err != nil {
		return err
	}

	logPath := e.paths.SessionLogPath(sessionID)
	command := agent.SessionCommand(e.settings.AgentCommand, briefPath, logPath)
	pid, err := e.panes.Spawn(pane, command)
	if err != nil {
		// The pane is gone; the task cannot make progress this attempt.
		reason := fmt.Sprintf("failed to spawn session: %v", err)
		if _, uerr := e.store.UpdateTaskStatus(ctx, task.ID, domain.TaskFailed, persistence.TaskUpdate{ErrorContext: &reason}); uerr != nil {
			return uerr
		}
		e.publishTask(task.ID, domain.TaskRunning, domain.TaskFailed)
		return domain.WrapErr(domain.KindInfrastructure, err, "pane spawn failed")
	}

	sess, err := domain.NewSession(sessionID, task.ID, e.projectID, pane, pid, logPath, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := e.store.CreateSession(ctx, sess); err != nil {
		return err
	}

	e.publishTask(task.ID, domain.TaskPending, domain.TaskRunning)
	log.Printf("dispatched %s task %s (%s) on pane %d", task.Kind, task.ID, task.Name, pane)
	return nil
}

// renderBrief assembles the prompt for one task from the snapshot and the
// dependency tree's completed outputs.
func (e *Engine) renderBrief(ctx context.Context, snap *domain.Snapshot, task domain.Task, sessionToken string) (string, error) {
	var phase domain.Phase
	for _, p := range snap.Phases {
		if p.ID == task.PhaseID {
			phase = p
			break
		}
	}

	depIDs := snap.Deps[task.ID]
	notes, err := controlplane.CompletionNotes(ctx, e.store, e.projectID, depIDs)
	if err != nil {
		return "", err
	}
	var completed []brief.CompletedWork
	for _, id := range depIDs {
		dep, ok := snap.Task(id)
		if !ok {
			continue
		}
		work := brief.CompletedWork{Name: dep.Name}
		if n, found := notes[id]; found {
			work.Summary = n.Summary
			work.FilesChanged = n.FilesChanged
		}
		completed = append(completed, work)
	}

	data := brief.Data{
		Task:          task,
		Phase:         phase,
		TotalPhases:   len(snap.Phases),
		ProjectName:   snap.Project.Name,
		TaskID:        task.ID,
		CompletedWork: completed,
		ControlNote: fmt.Sprintf(
			"Control plane: socket %s (see .mcp.json). session_token: %s, task_id: %s.",
			e.paths.SocketPath, sessionToken, task.ID),
	}
	if task.RetryCount > 0 {
		data.RetryContext = task.ErrorContext
	}
	if task.Kind == domain.KindReview && len(depIDs) > 0 {
		if reviewed, ok := snap.Task(depIDs[0]); ok {
			data.ReviewedTask = reviewed.Name
		}
	}
	return e.renderer.RenderTask(data)
}
