package engine

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/termcoder/tc/internal/brief"
	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/controlplane"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/events"
	"github.com/termcoder/tc/internal/persistence"
)

// fakePanes is a scriptable pane wrapper. Spawning marks the pane alive;
// tests flip liveness and tails to simulate session exits.
type fakePanes struct {
	mu         sync.Mutex
	alive      map[int]bool
	tails      map[int]string
	spawns     []spawnCall
	interrupts []int
	terminates []int
}

type spawnCall struct {
	pane    int
	command string
}

func newFakePanes() *fakePanes {
	return &fakePanes{alive: make(map[int]bool), tails: make(map[int]string)}
}

func (f *fakePanes) EnsureSession() error { return nil }

func (f *fakePanes) Spawn(pane int, command string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns = append(f.spawns, spawnCall{pane: pane, command: command})
	f.alive[pane] = true
	return 1000 + len(f.spawns), nil
}

func (f *fakePanes) Alive(pane int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pane], nil
}

func (f *fakePanes) CaptureTail(pane int, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tails[pane], nil
}

func (f *fakePanes) Interrupt(pane int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts = append(f.interrupts, pane)
	return nil
}

func (f *fakePanes) Terminate(pane int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates = append(f.terminates, pane)
	f.alive[pane] = false
	return nil
}

func (f *fakePanes) exit(pane int, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pane] = false
	if code >= 0 {
		f.tails[pane] = "agent output\nexit code: " + strconv.Itoa(code)
	} else {
		f.tails[pane] = "agent output, no marker"
	}
}

func readBrief(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

type harness struct {
	eng   *Engine
	svc   *controlplane.Service
	store *persistence.Store
	panes *fakePanes
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := persistence.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	paths := config.Paths(t.TempDir())
	if err := paths.Ensure(); err != nil {
		t.Fatalf("ensure paths: %v", err)
	}

	if _, err := store.CreateProject(ctx, persistence.ProjectSpec{
		ID: "p1", Name: "demo", ProjectDir: paths.ProjectDir, PRDPath: "prd.md",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}

	renderer, err := brief.New()
	if err != nil {
		t.Fatalf("brief renderer: %v", err)
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	panes := newFakePanes()
	settings := config.Settings{
		TickInterval: 10 * time.Millisecond,
		MaxRetries:   1,
		EventBuffer:  config.DefaultEventBuffer,
		AgentCommand: "claude",
	}
	eng := New(store, bus, panes, renderer, settings, paths, "p1")
	svc := controlplane.NewService(store, bus, "p1")
	return &harness{eng: eng, svc: svc, store: store, panes: panes, ctx: ctx}
}

// seedHappyPlan creates phase 1 (A, B where B depends on A) and phase 2 (C).
func (h *harness) seedHappyPlan(t *testing.T) {
	t.Helper()
	ph1, _ := domain.NewPhase("ph1", "p1", 1, "Foundation", "")
	ph2, _ := domain.NewPhase("ph2", "p1", 2, "Features", "")
	a, _ := domain.NewTask("A", "ph1", "p1", 1, domain.KindCoding, "Scaffold", "set up the repo")
	b, _ := domain.NewTask("B", "ph1", "p1", 2, domain.KindCoding, "Models", "add data models")
	c, _ := domain.NewTask("C", "ph2", "p1", 1, domain.KindCoding, "API", "expose the API")
	deps := []domain.TaskDependency{{TaskID: "B", DependsOnID: "A"}}
	if err := h.store.ReplacePlan(h.ctx, "p1", []domain.Phase{ph1, ph2}, []domain.Task{a, b, c}, deps); err != nil {
		t.Fatalf("replace plan: %v", err)
	}
}

// activeSession returns the single running session, or nil.
func (h *harness) activeSession(t *testing.T) *domain.Session {
	t.Helper()
	sessions, err := h.store.ActiveSessions(h.ctx, "p1")
	if err != nil {
		t.Fatalf("active sessions: %v", err)
	}
	if len(sessions) == 0 {
		return nil
	}
	return &sessions[0]
}

// drive ticks the engine until the project reaches a terminal or paused
// status, scripting the agent behavior for each dispatched session.
// failures maps a task name to how many times it should fail first.
func (h *harness) drive(t *testing.T, maxTicks int, failures map[string]int) domain.Project {
	t.Helper()
	failed := make(map[string]int)

	for i := 0; i < maxTicks; i++ {
		h.eng.tick(h.ctx)

		project, err := h.store.GetProject(h.ctx, "p1")
		if err != nil {
			t.Fatalf("get project: %v", err)
		}
		if project.Status == domain.ProjectCompleted || project.Status == domain.ProjectFailed {
			return project
		}

		for _, sess := range mustActive(t, h) {
			task, err := h.store.GetTask(h.ctx, sess.TaskID)
			if err != nil {
				t.Fatalf("get task: %v", err)
			}
			if task.Status != domain.TaskRunning {
				continue // already reported, pane just hasn't exited
			}
			if failed[task.Name] < failures[task.Name] {
				failed[task.Name]++
				if err := h.svc.ReportFailure(h.ctx, sess.ID, task.ID, controlplane.FailureParams{Message: "syntax error"}); err != nil {
					t.Fatalf("report failure for %s: %v", task.Name, err)
				}
				h.panes.exit(sess.Pane, 1)
				continue
			}
			if task.Kind == domain.KindCoding {
				if err := h.svc.ReportCompletion(h.ctx, sess.ID, task.ID, controlplane.CompletionParams{
					Summary:      "done: " + task.Name,
					FilesChanged: []string{strings.ToLower(task.Name) + ".go"},
				}); err != nil {
					t.Fatalf("report completion for %s: %v", task.Name, err)
				}
			} else {
				if err := h.svc.ReportReview(h.ctx, sess.ID, task.ID, controlplane.ReviewParams{
					Verdict: controlplane.VerdictApproved,
				}); err != nil {
					t.Fatalf("report review for %s: %v", task.Name, err)
				}
			}
			h.panes.exit(sess.Pane, 0)
		}
	}

	project, _ := h.store.GetProject(h.ctx, "p1")
	return project
}

func mustActive(t *testing.T, h *harness) []domain.Session {
	t.Helper()
	sessions, err := h.store.ActiveSessions(h.ctx, "p1")
	if err != nil {
		t.Fatalf("active sessions: %v", err)
	}
	return sessions
}

// S1: every task completes first try, every review approves.
func TestHappyPath(t *testing.T) {
	h := newHarness(t)
	h.seedHappyPlan(t)

	project := h.drive(t, 60, nil)
	if project.Status != domain.ProjectCompleted {
		t.Fatalf("project status = %s, want completed", project.Status)
	}

	coding, review := 0, 0
	for _, s := range h.panes.spawns {
		if s.pane == domain.PaneCoding {
			coding++
		} else {
			review++
		}
	}
	if coding != 3 || review != 3 {
		t.Errorf("dispatches = %d coding + %d review, want 3 + 3", coding, review)
	}

	tasks, _ := h.store.ListTasksByProject(h.ctx, "p1")
	for _, task := range tasks {
		if task.RetryCount != 0 {
			t.Errorf("task %s retried %d times on the happy path", task.Name, task.RetryCount)
		}
		if !task.Status.Terminal() {
			t.Errorf("task %s left in %s", task.Name, task.Status)
		}
	}
}

// S2: one failure, one automatic retry, then success.
func TestSingleRetrySucceeds(t *testing.T) {
	h := newHarness(t)
	h.seedHappyPlan(t)

	project := h.drive(t, 80, map[string]int{"Scaffold": 1})
	if project.Status != domain.ProjectCompleted {
		t.Fatalf("project status = %s, want completed", project.Status)
	}

	task, _ := h.store.GetTask(h.ctx, "A")
	if task.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", task.RetryCount)
	}

	var errorEvents int
	evs, _ := h.store.ReadEvents(h.ctx, persistence.EventFilter{
		ProjectID: "p1", EntityType: domain.EntityTask, EntityID: "A", Limit: 200,
	})
	for _, e := range evs {
		if e.Kind == domain.EventError {
			errorEvents++
		}
	}
	if errorEvents != 1 {
		t.Errorf("error events = %d, want 1", errorEvents)
	}
}

// S2 addendum: the retry brief carries the failure context.
func TestRetryBriefCarriesErrorContext(t *testing.T) {
	h := newHarness(t)
	h.seedHappyPlan(t)

	h.eng.tick(h.ctx) // dispatch A
	sess := h.activeSession(t)
	if sess == nil {
		t.Fatal("no session dispatched")
	}
	if err := h.svc.ReportFailure(h.ctx, sess.ID, "A", controlplane.FailureParams{Message: "syntax error"}); err != nil {
		t.Fatalf("report failure: %v", err)
	}
	h.panes.exit(sess.Pane, 1)

	h.eng.tick(h.ctx) // reap + retry to pending
	h.eng.tick(h.ctx) // re-dispatch

	task, _ := h.store.GetTask(h.ctx, "A")
	if task.Status != domain.TaskRunning || task.RetryCount != 1 {
		t.Fatalf("task = %s retry %d, want running retry 1", task.Status, task.RetryCount)
	}
	content, err := readBrief(task.BriefPath)
	if err != nil {
		t.Fatalf("read brief: %v", err)
	}
	if !strings.Contains(content, "syntax error") {
		t.Errorf("retry brief missing failure context:\n%s", content)
	}
}

// S3: persistent failure pauses the task and the project.
func TestPauseAfterPersistentFailure(t *testing.T) {
	h := newHarness(t)
	h.seedHappyPlan(t)

	project := h.drive(t, 30, map[string]int{"Scaffold": 5})
	if project.Status != domain.ProjectPaused {
		t.Fatalf("project status = %s, want paused", project.Status)
	}
	task, _ := h.store.GetTask(h.ctx, "A")
	if task.Status != domain.TaskPaused {
		t.Errorf("task status = %s, want paused", task.Status)
	}
	if task.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", task.RetryCount)
	}

	// No further coding dispatches while paused.
	spawnsBefore := len(h.panes.spawns)
	h.eng.tick(h.ctx)
	h.eng.tick(h.ctx)
	if len(h.panes.spawns) != spawnsBefore {
		t.Errorf("dispatched %d sessions while paused", len(h.panes.spawns)-spawnsBefore)
	}

	// Manual retry resumes the flow.
	if _, err := h.store.ManualRetry(h.ctx, "A"); err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	if _, err := h.store.UpdateProjectStatus(h.ctx, "p1", domain.ProjectRunning); err != nil {
		t.Fatalf("resume project: %v", err)
	}
	task, _ = h.store.GetTask(h.ctx, "A")
	if task.RetryCount != 0 || task.ErrorContext != "" {
		t.Errorf("manual retry left retry_count=%d error=%q", task.RetryCount, task.ErrorContext)
	}
	h.eng.tick(h.ctx)
	if len(h.panes.spawns) != spawnsBefore+1 {
		t.Errorf("task not re-dispatched after manual retry")
	}
}

// S5: a self-referential dependency smuggled in past plan validation is
// caught by the scheduler as a deadlock.
func TestDeadlockDetection(t *testing.T) {
	h := newHarness(t)
	ph1, _ := domain.NewPhase("ph1", "p1", 1, "Foundation", "")
	a, _ := domain.NewTask("A", "ph1", "p1", 1, domain.KindCoding, "Scaffold", "")
	if err := h.store.ReplacePlan(h.ctx, "p1", []domain.Phase{ph1}, []domain.Task{a}, nil); err != nil {
		t.Fatalf("replace plan: %v", err)
	}
	// Mid-run insertion bypasses whole-plan validation, standing in for the
	// manual DB edit in the scenario.
	x, _ := domain.NewTask("X", "ph1", "p1", 2, domain.KindCoding, "Orphan", "")
	if _, err := h.store.AppendTask(h.ctx, x, []string{"X"}); err != nil {
		t.Fatalf("append task: %v", err)
	}

	project := h.drive(t, 30, nil)
	if project.Status != domain.ProjectFailed {
		t.Fatalf("project status = %s, want failed", project.Status)
	}

	evs, _ := h.store.ReadEvents(h.ctx, persistence.EventFilter{
		ProjectID: "p1", EntityType: domain.EntityProject, Limit: 200,
	})
	var diagnostic string
	for _, e := range evs {
		if e.Kind == domain.EventError {
			diagnostic = e.Payload
		}
	}
	if !strings.Contains(diagnostic, "X") {
		t.Errorf("deadlock diagnostic does not name the blocked task: %s", diagnostic)
	}
}

// S6: a force-killed session records killed, fails the task with
// error_context "killed", and the retry policy re-queues it once.
func TestKillDuringRun(t *testing.T) {
	h := newHarness(t)
	h.seedHappyPlan(t)

	h.eng.tick(h.ctx) // dispatch A
	sess := h.activeSession(t)
	if sess == nil {
		t.Fatal("no session dispatched")
	}

	if err := h.eng.KillSession(h.ctx, sess.ID, true); err != nil {
		t.Fatalf("kill session: %v", err)
	}
	if len(h.panes.terminates) == 0 {
		t.Error("force kill did not escalate to terminate")
	}

	killed, _ := h.store.GetSession(h.ctx, sess.ID)
	if killed.Status != domain.SessionKilled {
		t.Errorf("session status = %s, want killed", killed.Status)
	}
	task, _ := h.store.GetTask(h.ctx, "A")
	if task.Status != domain.TaskFailed || task.ErrorContext != "killed" {
		t.Errorf("task = %s/%q, want failed/killed", task.Status, task.ErrorContext)
	}

	h.eng.tick(h.ctx) // retry policy re-queues, then re-dispatches
	task, _ = h.store.GetTask(h.ctx, "A")
	if task.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", task.RetryCount)
	}
	if len(h.panes.spawns) < 2 {
		h.eng.tick(h.ctx)
	}
	if len(h.panes.spawns) != 2 {
		t.Errorf("spawns = %d, want re-dispatch after kill", len(h.panes.spawns))
	}
}

// A graceful kill escalates only after the grace period.
func TestGracefulKillEscalation(t *testing.T) {
	h := newHarness(t)
	h.seedHappyPlan(t)

	h.eng.tick(h.ctx)
	sess := h.activeSession(t)
	if sess == nil {
		t.Fatal("no session dispatched")
	}

	if err := h.eng.KillSession(h.ctx, sess.ID, false); err != nil {
		t.Fatalf("kill session: %v", err)
	}
	if len(h.panes.interrupts) == 0 {
		t.Error("graceful kill did not interrupt")
	}
	if len(h.panes.terminates) != 0 {
		t.Error("graceful kill escalated immediately")
	}

	// Force the deadline into the past; the pane is still alive.
	for id, k := range h.eng.killDeadlines {
		k.deadline = time.Now().UTC().Add(-time.Second)
		h.eng.killDeadlines[id] = k
	}
	h.eng.tick(h.ctx)
	if len(h.panes.terminates) == 0 {
		t.Error("expired grace period did not escalate")
	}
}
