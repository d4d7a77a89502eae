// Package engine is the reconciliation loop driving panes from scheduler
// decisions and control-plane reports. A single goroutine owns the tick.
// Task status is also written by the control-plane handlers and by the CLI's
// retry, reset and kill commands; all of them funnel every mutation through
// the repository.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/termcoder/tc/internal/brief"
	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/controlplane"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/events"
	"github.com/termcoder/tc/internal/persistence"
	"github.com/termcoder/tc/internal/scheduler"
)

// maxConsecutiveInfraFailures is how many ticks in a row may fail on
// infrastructure before the engine gives up and marks the project failed.
const maxConsecutiveInfraFailures = 5

// Panes is the engine's view of the pane wrapper.
type Panes interface {
	EnsureSession() error
	Spawn(pane int, command string) (pid int, err error)
	Alive(pane int) (bool, error)
	CaptureTail(pane int, lines int) (string, error)
	Interrupt(pane int) error
	Terminate(pane int) error
}

// Engine reconciles desired state (scheduler output) with observed state
// (session exits, control-plane reports) once per tick.
type Engine struct {
	store    *persistence.Store
	bus      *events.Bus
	panes    Panes
	renderer *brief.Renderer
	settings config.Settings
	paths    config.ProjectPaths
	policy   scheduler.RetryPolicy
	probe    *paneProbe

	projectID string
	stopped   bool

	// killDeadlines tracks sessions that were politely interrupted and the
	// instant after which the next reap escalates.
	killDeadlines map[string]pendingKill
}

// New creates an engine for one project.
func New(store *persistence.Store, bus *events.Bus, panes Panes, renderer *brief.Renderer,
	settings config.Settings, paths config.ProjectPaths, projectID string) *Engine {
	return &Engine{
		store:         store,
		bus:           bus,
		panes:         panes,
		renderer:      renderer,
		settings:      settings,
		paths:         paths,
		policy:        scheduler.RetryPolicy{MaxRetries: settings.MaxRetries},
		probe:         newPaneProbe(panes),
		projectID:     projectID,
		killDeadlines: make(map[string]pendingKill),
	}
}

// Run starts the control-plane server and the tick loop under one group and
// blocks until the project reaches a terminal state or the context ends.
func (e *Engine) Run(ctx context.Context, cp *controlplane.Server) error {
	if err := e.panes.EnsureSession(); err != nil {
		return domain.WrapErr(domain.KindInfrastructure, err, "pane session unavailable")
	}
	if _, err := e.store.UpdateProjectStatus(ctx, e.projectID, domain.ProjectRunning); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoop := context.WithCancel(gctx)

	if cp != nil {
		g.Go(func() error { return cp.Serve(loopCtx) })
	}
	g.Go(func() error {
		defer stopLoop()
		return e.loop(loopCtx)
	})

	err := g.Wait()
	stopLoop()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (e *Engine) loop(ctx context.Context) error {
	ticker := time.NewTicker(e.settings.TickInterval)
	defer ticker.Stop()

	infraFailures := 0
	for {
		if err := e.tick(ctx); err != nil {
			if domain.KindOf(err) != domain.KindInfrastructure {
				e.failProject(ctx, err)
				return err
			}
			infraFailures++
			log.Printf("WARNING: tick failed (%d/%d): %v", infraFailures, maxConsecutiveInfraFailures, err)
			if infraFailures >= maxConsecutiveInfraFailures {
				e.failProject(ctx, err)
				return err
			}
		} else {
			infraFailures = 0
		}
		if e.stopped {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick is one reconciliation pass: reap exited sessions, apply the retry
// policy, schedule, actuate, heartbeat.
func (e *Engine) tick(ctx context.Context) error {
	if err := e.reap(ctx); err != nil {
		return err
	}
	if err := e.applyRetryPolicy(ctx); err != nil {
		return err
	}

	project, err := e.store.GetProject(ctx, e.projectID)
	if err != nil {
		return err
	}
	paused := project.Status == domain.ProjectPaused

	snap, err := e.store.Snapshot(ctx, e.projectID)
	if err != nil {
		return err
	}
	active, err := e.store.ActiveSessions(ctx, e.projectID)
	if err != nil {
		return err
	}
	state := scheduler.EngineState{Paused: paused}
	for _, sess := range active {
		if sess.Pane == domain.PaneCoding {
			state.Pane0Busy = true
		} else {
			state.Pane1Busy = true
		}
	}
	// A pane whose kill is still escalating is not free yet.
	for _, k := range e.killDeadlines {
		if k.pane == domain.PaneCoding {
			state.Pane0Busy = true
		} else {
			state.Pane1Busy = true
		}
	}

	decision := scheduler.Schedule(&snap, state)
	if err := e.actuate(ctx, &snap, decision); err != nil {
		return err
	}

	// Heartbeat rides the bus only; persisting one row per tick would
	// swamp the log without telling observers anything the log lacks.
	e.bus.Publish(domain.Event{
		ProjectID:  e.projectID,
		Kind:       domain.EventEngineTick,
		EntityType: domain.EntityProject,
		EntityID:   e.projectID,
	})
	return nil
}

func (e *Engine) actuate(ctx context.Context, snap *domain.Snapshot, d scheduler.Decision) error {
	switch d.Type {
	case scheduler.DecisionIdle:
		return nil
	case scheduler.DecisionDispatchCoding:
		return e.dispatch(ctx, snap, *d.Task, domain.PaneCoding)
	case scheduler.DecisionDispatchReview:
		return e.dispatch(ctx, snap, *d.Task, domain.PaneReview)
	case scheduler.DecisionComplete:
		if _, err := e.store.UpdateProjectStatus(ctx, e.projectID, domain.ProjectCompleted); err != nil {
			return err
		}
		e.publishProject(domain.ProjectCompleted, "")
		e.stopped = true
		return nil
	case scheduler.DecisionDeadlock:
		payload, _ := json.Marshal(struct {
			Reason  string                  `json:"reason"`
			Blocked []scheduler.BlockedTask `json:"blocked"`
		}{Reason: d.Reason, Blocked: d.Blocked})
		ev := domain.Event{
			ProjectID:  e.projectID,
			Kind:       domain.EventError,
			EntityType: domain.EntityProject,
			EntityID:   e.projectID,
			Payload:    string(payload),
		}
		if err := e.store.AppendEvent(ctx, ev); err != nil {
			return err
		}
		e.bus.Publish(ev)
		if _, err := e.store.UpdateProjectStatus(ctx, e.projectID, domain.ProjectFailed); err != nil {
			return err
		}
		e.publishProject(domain.ProjectFailed, d.Reason)
		e.stopped = true
		return domain.Errorf(domain.KindDeadlock, "%s", d.Reason)
	}
	return nil
}

// applyRetryPolicy handles tasks that failed since the last tick: one
// automatic retry, then pause the task and the project.
func (e *Engine) applyRetryPolicy(ctx context.Context) error {
	tasks, err := e.store.ListTasksByProject(ctx, e.projectID)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Status != domain.TaskFailed {
			continue
		}
		switch e.policy.Decide(task) {
		case scheduler.ActionRetry:
			next := task.RetryCount + 1
			retryCtx := e.policy.RetryContext(task, task.ErrorContext)
			if _, err := e.store.UpdateTaskStatus(ctx, task.ID, domain.TaskPending, persistence.TaskUpdate{
				RetryCount:   &next,
				ErrorContext: &retryCtx,
			}); err != nil {
				return err
			}
			e.publishTask(task.ID, task.Status, domain.TaskPending)
			log.Printf("retrying task %s (attempt %d)", task.ID, next+1)
		case scheduler.ActionPause:
			if _, err := e.store.UpdateTaskStatus(ctx, task.ID, domain.TaskPaused, persistence.TaskUpdate{}); err != nil {
				return err
			}
			e.publishTask(task.ID, task.Status, domain.TaskPaused)
			if _, err := e.store.UpdateProjectStatus(ctx, e.projectID, domain.ProjectPaused); err != nil {
				return err
			}
			e.publishProject(domain.ProjectPaused, fmt.Sprintf("task %s paused after persistent failure", task.ID))
			log.Printf("task %s paused after persistent failure", task.ID)
		}
	}
	return nil
}

func (e *Engine) failProject(ctx context.Context, cause error) {
	if _, err := e.store.UpdateProjectStatus(ctx, e.projectID, domain.ProjectFailed); err != nil {
		log.Printf("ERROR: failed to mark project failed: %v", err)
		return
	}
	e.publishProject(domain.ProjectFailed, cause.Error())
}

func (e *Engine) publishTask(taskID string, from, to domain.TaskStatus) {
	e.bus.Publish(domain.Event{
		ProjectID:  e.projectID,
		Kind:       domain.EventStatusChange,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		OldValue:   string(from),
		NewValue:   string(to),
	})
}

func (e *Engine) publishProject(to domain.ProjectStatus, note string) {
	payload := ""
	if note != "" {
		data, _ := json.Marshal(struct {
			Note string `json:"note"`
		}{Note: note})
		payload = string(data)
	}
	e.bus.Publish(domain.Event{
		ProjectID:  e.projectID,
		Kind:       domain.EventStatusChange,
		EntityType: domain.EntityProject,
		EntityID:   e.projectID,
		NewValue:   string(to),
		Payload:    payload,
	})
}
