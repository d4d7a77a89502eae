package persistence

import (
	"context"
	"testing"

	"github.com/termcoder/tc/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedPlan creates a project with phase 1 (tasks A, B; B depends on A) and
// phase 2 (task C), mirroring the happy-path fixture.
func seedPlan(t *testing.T, s *Store) domain.Project {
	t.Helper()
	ctx := context.Background()

	project, err := s.CreateProject(ctx, ProjectSpec{
		ID: "p1", Name: "demo", ProjectDir: "/tmp/demo", PRDPath: "/tmp/demo/prd.md",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	ph1, _ := domain.NewPhase("ph1", "p1", 1, "Foundation", "")
	ph2, _ := domain.NewPhase("ph2", "p1", 2, "Features", "")
	a, _ := domain.NewTask("A", "ph1", "p1", 1, domain.KindCoding, "Scaffold", "")
	b, _ := domain.NewTask("B", "ph1", "p1", 2, domain.KindCoding, "Models", "")
	c, _ := domain.NewTask("C", "ph2", "p1", 1, domain.KindCoding, "API", "")
	deps := []domain.TaskDependency{{TaskID: "B", DependsOnID: "A"}}

	if err := s.ReplacePlan(ctx, "p1", []domain.Phase{ph1, ph2}, []domain.Task{a, b, c}, deps); err != nil {
		t.Fatalf("replace plan: %v", err)
	}
	return project
}

func TestReplacePlanRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	ph, _ := domain.NewPhase("phx", "p1", 1, "Loop", "")
	x, _ := domain.NewTask("X", "phx", "p1", 1, domain.KindCoding, "x", "")
	y, _ := domain.NewTask("Y", "phx", "p1", 2, domain.KindCoding, "y", "")
	deps := []domain.TaskDependency{
		{TaskID: "X", DependsOnID: "Y"},
		{TaskID: "Y", DependsOnID: "X"},
	}

	err := s.ReplacePlan(ctx, "p1", []domain.Phase{ph}, []domain.Task{x, y}, deps)
	if err == nil {
		t.Fatal("cyclic plan should be rejected")
	}
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("wrong kind: %s", domain.KindOf(err))
	}

	// Nothing persisted: the previous plan is intact.
	snap, err := s.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Tasks) != 3 {
		t.Errorf("prior plan should survive, got %d tasks", len(snap.Tasks))
	}
	if _, ok := snap.Task("X"); ok {
		t.Error("rejected plan leaked a task")
	}
}

func TestReplacePlanRejectsSelfDependency(t *testing.T) {
	s := newTestStore(t)
	seedPlan(t, s)

	ph, _ := domain.NewPhase("phx", "p1", 1, "Loop", "")
	x, _ := domain.NewTask("X", "phx", "p1", 1, domain.KindCoding, "x", "")
	err := s.ReplacePlan(context.Background(), "p1", []domain.Phase{ph}, []domain.Task{x},
		[]domain.TaskDependency{{TaskID: "X", DependsOnID: "X"}})
	if err == nil {
		t.Fatal("self-dependency should be rejected")
	}
}

func TestUpdateTaskStatusValidatesTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	// pending -> completed is illegal and must not write anything.
	before, _ := s.LastEventID(ctx)
	_, err := s.UpdateTaskStatus(ctx, "A", domain.TaskCompleted, TaskUpdate{})
	if err == nil || domain.KindOf(err) != domain.KindPrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
	after, _ := s.LastEventID(ctx)
	if after != before {
		t.Error("rejected transition appeared in the event log")
	}

	task, err := s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})
	if err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if task.StartedAt == nil {
		t.Error("started_at not stamped")
	}

	task, err = s.UpdateTaskStatus(ctx, "A", domain.TaskCompleted, TaskUpdate{})
	if err != nil {
		t.Fatalf("running -> completed: %v", err)
	}
	if task.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
}

func TestEveryStatusChangeHasAnEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})
	errCtx := "syntax error"
	s.UpdateTaskStatus(ctx, "A", domain.TaskFailed, TaskUpdate{ErrorContext: &errCtx})

	events, err := s.ReadEvents(ctx, EventFilter{ProjectID: "p1", EntityType: domain.EntityTask, EntityID: "A"})
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 task events, got %d", len(events))
	}
	if events[0].NewValue != string(domain.TaskRunning) || events[1].NewValue != string(domain.TaskFailed) {
		t.Errorf("events out of order: %v -> %v", events[0].NewValue, events[1].NewValue)
	}

	task, _ := s.GetTask(ctx, "A")
	if task.ErrorContext != "syntax error" {
		t.Errorf("error context not stored: %q", task.ErrorContext)
	}
}

func TestPhaseReconciliation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})
	phases, _ := s.ListPhases(ctx, "p1")
	if phases[0].Status != domain.PhaseRunning {
		t.Errorf("phase 1 should be running, got %s", phases[0].Status)
	}

	s.UpdateTaskStatus(ctx, "A", domain.TaskCompleted, TaskUpdate{})
	s.UpdateTaskStatus(ctx, "B", domain.TaskRunning, TaskUpdate{})
	s.UpdateTaskStatus(ctx, "B", domain.TaskCompleted, TaskUpdate{})

	phases, _ = s.ListPhases(ctx, "p1")
	if phases[0].Status != domain.PhaseCompleted {
		t.Errorf("phase 1 should be completed, got %s", phases[0].Status)
	}
	if phases[1].Status != domain.PhasePending {
		t.Errorf("phase 2 should still be pending, got %s", phases[1].Status)
	}
}

func TestSessionInvariants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)
	s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})

	sess, err := domain.NewSession("s1", "A", "p1", domain.PaneCoding, 123, "", timeNowForTest())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Second running session for the same task is rejected.
	dup, _ := domain.NewSession("s2", "A", "p1", domain.PaneReview, 124, "", timeNowForTest())
	if _, err := s.CreateSession(ctx, dup); err == nil {
		t.Fatal("second running session per task should be rejected")
	}

	// Another task on the same pane is rejected too.
	s.UpdateTaskStatus(ctx, "C", domain.TaskRunning, TaskUpdate{})
	clash, _ := domain.NewSession("s3", "C", "p1", domain.PaneCoding, 125, "", timeNowForTest())
	if _, err := s.CreateSession(ctx, clash); err == nil {
		t.Fatal("second running session per pane should be rejected")
	}

	finished, err := s.FinishSession(ctx, "s1", 0, domain.SessionCompleted)
	if err != nil {
		t.Fatalf("finish session: %v", err)
	}
	if finished.EndedAt == nil || finished.ExitCode == nil || *finished.ExitCode != 0 {
		t.Errorf("session not closed properly: %+v", finished)
	}

	// Terminal sessions cannot move again.
	if _, err := s.FinishSession(ctx, "s1", 1, domain.SessionFailed); err == nil {
		t.Fatal("finishing a finished session should fail")
	}
}

func TestManualRetryClearsState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})
	errCtx := "boom"
	one := 1
	s.UpdateTaskStatus(ctx, "A", domain.TaskFailed, TaskUpdate{ErrorContext: &errCtx, RetryCount: &one})
	s.UpdateTaskStatus(ctx, "A", domain.TaskPaused, TaskUpdate{})

	task, err := s.ManualRetry(ctx, "A")
	if err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	if task.Status != domain.TaskPending || task.RetryCount != 0 || task.ErrorContext != "" {
		t.Errorf("retry did not clear state: %+v", task)
	}

	// Retry on a pending task is a precondition violation.
	if _, err := s.ManualRetry(ctx, "B"); err == nil {
		t.Fatal("retry of a pending task should fail")
	}
}

func TestResetTaskCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})
	sess, _ := domain.NewSession("s1", "A", "p1", domain.PaneCoding, 42, "", timeNowForTest())
	s.CreateSession(ctx, sess)

	task, err := s.ResetTask(ctx, "A")
	if err != nil {
		t.Fatalf("reset task: %v", err)
	}
	if task.Status != domain.TaskPending {
		t.Errorf("reset should land on pending, got %s", task.Status)
	}

	sessions, _ := s.SessionsByTask(ctx, "A")
	if len(sessions) != 1 || sessions[0].Status != domain.SessionKilled {
		t.Errorf("running session should be marked killed: %+v", sessions)
	}
}

func TestResetPhaseCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})
	s.UpdateTaskStatus(ctx, "A", domain.TaskCompleted, TaskUpdate{})
	s.UpdateTaskStatus(ctx, "B", domain.TaskRunning, TaskUpdate{})
	errCtx := "x"
	s.UpdateTaskStatus(ctx, "B", domain.TaskFailed, TaskUpdate{ErrorContext: &errCtx})

	if err := s.ResetPhase(ctx, "ph1"); err != nil {
		t.Fatalf("reset phase: %v", err)
	}
	tasks, _ := s.ListTasksByPhase(ctx, "ph1")
	for _, task := range tasks {
		if task.Status != domain.TaskPending {
			t.Errorf("task %s should be pending, got %s", task.ID, task.Status)
		}
		if task.ErrorContext != "" || task.RetryCount != 0 {
			t.Errorf("task %s retains retry state", task.ID)
		}
	}
	phases, _ := s.ListPhases(ctx, "p1")
	if phases[0].Status != domain.PhasePending {
		t.Errorf("phase should re-derive to pending, got %s", phases[0].Status)
	}
}

func TestAppendTaskAtPhaseTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	review, _ := domain.NewTask("R1", "ph1", "p1", 1, domain.KindReview, "Review: Scaffold", "")
	got, err := s.AppendTask(ctx, review, []string{"A"})
	if err != nil {
		t.Fatalf("append task: %v", err)
	}
	if got.Sequence != 3 {
		t.Errorf("review should land at the phase tail (seq 3), got %d", got.Sequence)
	}
	deps, _ := s.ListDependencies(ctx, "p1")
	found := false
	for _, d := range deps {
		if d.TaskID == "R1" && d.DependsOnID == "A" {
			found = true
		}
	}
	if !found {
		t.Error("dependency edge missing")
	}
}

func TestReadEventsCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s)

	s.UpdateTaskStatus(ctx, "A", domain.TaskRunning, TaskUpdate{})
	all, _ := s.ReadEvents(ctx, EventFilter{ProjectID: "p1", Limit: 100})
	if len(all) < 2 {
		t.Fatalf("expected plan + status events, got %d", len(all))
	}
	cursor := all[len(all)-2].ID
	tail, _ := s.ReadEvents(ctx, EventFilter{ProjectID: "p1", SinceID: cursor, Limit: 100})
	if len(tail) != 1 || tail[0].ID != all[len(all)-1].ID {
		t.Errorf("cursor read wrong tail: %+v", tail)
	}
}
