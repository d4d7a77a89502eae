package controlplane

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/events"
	"github.com/termcoder/tc/internal/persistence"
)

func newTestService(t *testing.T) (*Service, *persistence.Store) {
	t.Helper()
	s, err := persistence.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if _, err := s.CreateProject(ctx, persistence.ProjectSpec{
		ID: "p1", Name: "demo", ProjectDir: "/tmp/demo", PRDPath: "/tmp/demo/prd.md",
	}); err != nil {
		t.Fatalf("create project: %v", err)
	}
	ph1, _ := domain.NewPhase("ph1", "p1", 1, "Foundation", "")
	a, _ := domain.NewTask("A", "ph1", "p1", 1, domain.KindCoding, "Scaffold", "")
	if err := s.ReplacePlan(ctx, "p1", []domain.Phase{ph1}, []domain.Task{a}, nil); err != nil {
		t.Fatalf("replace plan: %v", err)
	}
	return NewService(s, events.NewBus(), "p1"), s
}

// startTask moves a task to running with a live session and returns the
// session token.
func startTask(t *testing.T, s *persistence.Store, taskID string, pane int) string {
	t.Helper()
	ctx := context.Background()
	if _, err := s.UpdateTaskStatus(ctx, taskID, domain.TaskRunning, persistence.TaskUpdate{}); err != nil {
		t.Fatalf("start task %s: %v", taskID, err)
	}
	sess, err := domain.NewSession("sess-"+taskID, taskID, "p1", pane, 100, "", time.Now())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess.ID
}

func TestReportCompletionEnqueuesReview(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	token := startTask(t, store, "A", domain.PaneCoding)

	err := svc.ReportCompletion(ctx, token, "A", CompletionParams{
		Summary:      "scaffolded the repo",
		FilesChanged: []string{"main.go"},
	})
	if err != nil {
		t.Fatalf("report completion: %v", err)
	}

	task, _ := store.GetTask(ctx, "A")
	if task.Status != domain.TaskCompleted {
		t.Errorf("task status = %s, want completed", task.Status)
	}

	tasks, _ := store.ListTasksByPhase(ctx, "ph1")
	if len(tasks) != 2 {
		t.Fatalf("expected enqueued review task, got %d tasks", len(tasks))
	}
	review := tasks[1]
	if review.Kind != domain.KindReview || review.Status != domain.TaskPending {
		t.Errorf("review task = %s/%s, want review/pending", review.Kind, review.Status)
	}
	deps, _ := store.ListDependencies(ctx, "p1")
	found := false
	for _, d := range deps {
		if d.TaskID == review.ID && d.DependsOnID == "A" {
			found = true
		}
	}
	if !found {
		t.Error("review task does not depend on the reviewed task")
	}

	notes, err := CompletionNotes(ctx, store, "p1", []string{"A"})
	if err != nil {
		t.Fatalf("completion notes: %v", err)
	}
	if notes["A"].Summary != "scaffolded the repo" {
		t.Errorf("completion note = %+v", notes["A"])
	}
}

func TestReportCompletionPreconditions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// Task not running: no valid token exists yet.
	err := svc.ReportCompletion(ctx, "nope", "A", CompletionParams{Summary: "s"})
	if domain.KindOf(err) != domain.KindPrecondition {
		t.Errorf("unknown token kind = %s, want precondition", domain.KindOf(err))
	}

	token := startTask(t, store, "A", domain.PaneCoding)

	// Token bound to another task.
	err = svc.ReportCompletion(ctx, token, "other", CompletionParams{Summary: "s"})
	if domain.KindOf(err) != domain.KindPrecondition {
		t.Errorf("wrong-task kind = %s, want precondition", domain.KindOf(err))
	}

	// Second completion: the task is no longer running.
	if err := svc.ReportCompletion(ctx, token, "A", CompletionParams{Summary: "s"}); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	err = svc.ReportCompletion(ctx, token, "A", CompletionParams{Summary: "again"})
	if domain.KindOf(err) != domain.KindPrecondition {
		t.Errorf("repeat completion kind = %s, want precondition", domain.KindOf(err))
	}
}

func TestReportFailureStoresErrorContext(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	token := startTask(t, store, "A", domain.PaneCoding)

	err := svc.ReportFailure(ctx, token, "A", FailureParams{Message: "syntax error", Context: "main.go:7"})
	if err != nil {
		t.Fatalf("report failure: %v", err)
	}
	task, _ := store.GetTask(ctx, "A")
	if task.Status != domain.TaskFailed {
		t.Errorf("status = %s, want failed", task.Status)
	}
	if task.ErrorContext != "syntax error\nmain.go:7" {
		t.Errorf("error context = %q", task.ErrorContext)
	}
	// The session is left open; the reaper closes it when the pane exits.
	sess, _ := store.GetSession(ctx, token)
	if sess.Status != domain.SessionRunning {
		t.Errorf("session status = %s, want running", sess.Status)
	}
}

// Review requesting changes creates a follow-up coding task depending on the
// reviewed task.
func TestReportReviewChangesRequested(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	token := startTask(t, store, "A", domain.PaneCoding)
	if err := svc.ReportCompletion(ctx, token, "A", CompletionParams{Summary: "done"}); err != nil {
		t.Fatalf("completion: %v", err)
	}
	store.FinishSession(ctx, token, 0, domain.SessionCompleted)

	tasks, _ := store.ListTasksByPhase(ctx, "ph1")
	reviewID := tasks[1].ID
	reviewToken := startTask(t, store, reviewID, domain.PaneReview)

	err := svc.ReportReview(ctx, reviewToken, reviewID, ReviewParams{
		Verdict:  VerdictChangesRequested,
		Findings: []string{"add validation"},
	})
	if err != nil {
		t.Fatalf("report review: %v", err)
	}

	tasks, _ = store.ListTasksByPhase(ctx, "ph1")
	if len(tasks) != 3 {
		t.Fatalf("expected follow-up coding task, got %d tasks", len(tasks))
	}
	followUp := tasks[2]
	if followUp.Kind != domain.KindCoding || followUp.Status != domain.TaskPending {
		t.Errorf("follow-up = %s/%s, want coding/pending", followUp.Kind, followUp.Status)
	}
	deps, _ := store.ListDependencies(ctx, "p1")
	onReviewed := false
	for _, d := range deps {
		if d.TaskID == followUp.ID && d.DependsOnID == "A" {
			onReviewed = true
		}
	}
	if !onReviewed {
		t.Error("follow-up should depend on the reviewed task")
	}

	// The review task itself ends completed.
	review, _ := store.GetTask(ctx, reviewID)
	if review.Status != domain.TaskCompleted {
		t.Errorf("review status = %s, want completed", review.Status)
	}
}

func TestReportReviewRejectsBadVerdict(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	token := startTask(t, store, "A", domain.PaneCoding)
	if err := svc.ReportCompletion(ctx, token, "A", CompletionParams{Summary: "done"}); err != nil {
		t.Fatalf("completion: %v", err)
	}
	store.FinishSession(ctx, token, 0, domain.SessionCompleted)
	tasks, _ := store.ListTasksByPhase(ctx, "ph1")
	reviewID := tasks[1].ID
	reviewToken := startTask(t, store, reviewID, domain.PaneReview)

	err := svc.ReportReview(ctx, reviewToken, reviewID, ReviewParams{Verdict: "maybe"})
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("kind = %s, want validation", domain.KindOf(err))
	}
	review, _ := store.GetTask(ctx, reviewID)
	if review.Status != domain.TaskRunning {
		t.Errorf("rejected verdict must not mutate state, status = %s", review.Status)
	}
}

func TestReportReviewOnCodingTaskFails(t *testing.T) {
	svc, store := newTestService(t)
	token := startTask(t, store, "A", domain.PaneCoding)

	err := svc.ReportReview(context.Background(), token, "A", ReviewParams{Verdict: VerdictApproved})
	if domain.KindOf(err) != domain.KindPrecondition {
		t.Errorf("kind = %s, want precondition", domain.KindOf(err))
	}
}

func TestGetContext(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	token := startTask(t, store, "A", domain.PaneCoding)

	out, err := svc.GetContext(ctx, token, "A", ContextParams{})
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if out.Task.ID != "A" || out.Phase.ID != "ph1" {
		t.Errorf("context = task %s phase %s", out.Task.ID, out.Phase.ID)
	}
	if len(out.LastEvents) == 0 {
		t.Error("expected status-change events in context")
	}
}

func TestRequestHumanInputRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	token := startTask(t, store, "A", domain.PaneCoding)
	svc.HumanInputTimeout = 5 * time.Second

	done := make(chan *HumanInputResult, 1)
	go func() {
		out, err := svc.RequestHumanInput(ctx, token, "A", HumanInputParams{
			Question: "Use Postgres or SQLite?",
			Choices:  []string{"postgres", "sqlite"},
		})
		if err != nil {
			t.Errorf("request human input: %v", err)
			done <- nil
			return
		}
		done <- out
	}()

	// Find the recorded request and answer it.
	var requestID string
	deadline := time.After(3 * time.Second)
	for requestID == "" {
		select {
		case <-deadline:
			t.Fatal("human input request never recorded")
		default:
		}
		evs, _ := store.ReadEvents(ctx, persistence.EventFilter{ProjectID: "p1", Limit: 100})
		for _, e := range evs {
			if e.Kind == domain.EventHumanInputRequest {
				var note HumanInputNote
				json.Unmarshal([]byte(e.Payload), &note)
				requestID = note.RequestID
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := RecordHumanResponse(ctx, store, nil, "p1", requestID, "sqlite"); err != nil {
		t.Fatalf("record response: %v", err)
	}

	select {
	case out := <-done:
		if out == nil || out.Response != "sqlite" {
			t.Errorf("response = %+v, want sqlite", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request_human_input never unblocked")
	}
}

func TestRequestHumanInputTimesOut(t *testing.T) {
	svc, store := newTestService(t)
	token := startTask(t, store, "A", domain.PaneCoding)
	svc.HumanInputTimeout = 600 * time.Millisecond

	_, err := svc.RequestHumanInput(context.Background(), token, "A", HumanInputParams{Question: "anyone there?"})
	if domain.KindOf(err) != domain.KindPrecondition {
		t.Errorf("kind = %s, want precondition", domain.KindOf(err))
	}
}
