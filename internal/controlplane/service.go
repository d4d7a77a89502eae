package controlplane

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/events"
	"github.com/termcoder/tc/internal/persistence"
)

// humanInputPoll is how often a blocked request_human_input re-reads the log.
const humanInputPoll = 500 * time.Millisecond

// Service applies Agent reports to the store and publishes the resulting
// events on the bus. It holds no state of its own; the store is the
// synchronization point with the engine.
type Service struct {
	store     *persistence.Store
	bus       *events.Bus
	projectID string

	// HumanInputTimeout bounds how long request_human_input blocks.
	HumanInputTimeout time.Duration
}

// NewService creates a control-plane service for one project.
func NewService(store *persistence.Store, bus *events.Bus, projectID string) *Service {
	return &Service{
		store:             store,
		bus:               bus,
		projectID:         projectID,
		HumanInputTimeout: config.HumanInputTimeout,
	}
}

// authorize resolves the session token and checks it is the live session for
// the task. The token is the session id handed to the Agent at spawn.
func (s *Service) authorize(ctx context.Context, token, taskID string) (domain.Session, domain.Task, error) {
	if token == "" || taskID == "" {
		return domain.Session{}, domain.Task{}, domain.Errorf(domain.KindValidation, "session_token and task_id are required")
	}
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		return domain.Session{}, domain.Task{}, domain.SubjectErrorf(domain.KindPrecondition, token, "unknown session token")
	}
	if sess.Status != domain.SessionRunning {
		return domain.Session{}, domain.Task{}, domain.SubjectErrorf(domain.KindPrecondition, sess.ID, "session is %s, not running", sess.Status)
	}
	if sess.TaskID != taskID {
		return domain.Session{}, domain.Task{}, domain.SubjectErrorf(domain.KindPrecondition, taskID, "token is bound to task %s", sess.TaskID)
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Session{}, domain.Task{}, err
	}
	return sess, task, nil
}

// ReportProgress appends a progress event for a running task.
func (s *Service) ReportProgress(ctx context.Context, token, taskID string, p ProgressParams) error {
	_, task, err := s.authorize(ctx, token, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskRunning {
		return domain.SubjectErrorf(domain.KindPrecondition, taskID, "progress requires a running task, status is %s", task.Status)
	}
	payload, _ := json.Marshal(p)
	ev := domain.Event{
		ProjectID:  s.projectID,
		Kind:       domain.EventProgress,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		Payload:    string(payload),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	s.bus.Publish(ev)
	return nil
}

// ReportCompletion transitions a running coding task to completed and
// enqueues its review task at the phase tail.
func (s *Service) ReportCompletion(ctx context.Context, token, taskID string, p CompletionParams) error {
	_, task, err := s.authorize(ctx, token, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskRunning {
		return domain.SubjectErrorf(domain.KindPrecondition, taskID, "completion requires a running task, status is %s", task.Status)
	}
	if task.Kind != domain.KindCoding {
		return domain.SubjectErrorf(domain.KindPrecondition, taskID, "completion is for coding tasks, this is %s", task.Kind)
	}

	if _, err := s.store.UpdateTaskStatus(ctx, taskID, domain.TaskCompleted, persistence.TaskUpdate{}); err != nil {
		return err
	}
	note, _ := json.Marshal(CompletionNote{Summary: p.Summary, FilesChanged: p.FilesChanged})
	ev := domain.Event{
		ProjectID:  s.projectID,
		Kind:       domain.EventProgress,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		Payload:    string(note),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	s.publishStatusChange(taskID, domain.TaskRunning, domain.TaskCompleted)
	s.bus.Publish(ev)

	review, err := domain.NewTask(uuid.NewString(), task.PhaseID, task.ProjectID, task.Sequence+1,
		domain.KindReview, "Review: "+task.Name, "Code review for: "+task.Name)
	if err != nil {
		return err
	}
	if _, err := s.store.AppendTask(ctx, review, []string{task.ID}); err != nil {
		return err
	}
	return nil
}

// ReportFailure transitions a running task to failed and stores the error
// context. The session stays open until the pane actually exits; the reaper
// closes it.
func (s *Service) ReportFailure(ctx context.Context, token, taskID string, p FailureParams) error {
	_, task, err := s.authorize(ctx, token, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskRunning {
		return domain.SubjectErrorf(domain.KindPrecondition, taskID, "failure requires a running task, status is %s", task.Status)
	}
	errCtx := p.Message
	if p.Context != "" {
		errCtx += "\n" + p.Context
	}
	if _, err := s.store.UpdateTaskStatus(ctx, taskID, domain.TaskFailed, persistence.TaskUpdate{ErrorContext: &errCtx}); err != nil {
		return err
	}
	payload, _ := json.Marshal(p)
	ev := domain.Event{
		ProjectID:  s.projectID,
		Kind:       domain.EventError,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		Payload:    string(payload),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	s.publishStatusChange(taskID, domain.TaskRunning, domain.TaskFailed)
	s.bus.Publish(ev)
	return nil
}

// ReportReview transitions a running review task to completed. A
// changes_requested verdict creates a follow-up coding task at the phase
// tail, depending on the reviewed task.
func (s *Service) ReportReview(ctx context.Context, token, taskID string, p ReviewParams) error {
	_, task, err := s.authorize(ctx, token, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskRunning {
		return domain.SubjectErrorf(domain.KindPrecondition, taskID, "review requires a running task, status is %s", task.Status)
	}
	if task.Kind != domain.KindReview {
		return domain.SubjectErrorf(domain.KindPrecondition, taskID, "review verdicts are for review tasks, this is %s", task.Kind)
	}
	if p.Verdict != VerdictApproved && p.Verdict != VerdictChangesRequested {
		return domain.SubjectErrorf(domain.KindValidation, taskID, "unknown verdict %q", p.Verdict)
	}

	// Resolve what this review covers before mutating anything, so a
	// changes_requested verdict cannot half-apply.
	var reviewedID string
	if p.Verdict == VerdictChangesRequested {
		if reviewedID, err = s.reviewedTaskID(ctx, task); err != nil {
			return err
		}
	}

	if _, err := s.store.UpdateTaskStatus(ctx, taskID, domain.TaskCompleted, persistence.TaskUpdate{}); err != nil {
		return err
	}
	note, _ := json.Marshal(ReviewNote{Verdict: p.Verdict, Findings: p.Findings})
	ev := domain.Event{
		ProjectID:  s.projectID,
		Kind:       domain.EventReviewVerdict,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		Payload:    string(note),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	s.publishStatusChange(taskID, domain.TaskRunning, domain.TaskCompleted)
	s.bus.Publish(ev)

	if p.Verdict != VerdictChangesRequested {
		return nil
	}

	reviewed, err := s.store.GetTask(ctx, reviewedID)
	if err != nil {
		return err
	}
	desc := "Address review findings for: " + reviewed.Name
	for _, f := range p.Findings {
		desc += "\n- " + f
	}
	followUp, err := domain.NewTask(uuid.NewString(), reviewed.PhaseID, reviewed.ProjectID, reviewed.Sequence+1,
		domain.KindCoding, "Rework: "+reviewed.Name, desc)
	if err != nil {
		return err
	}
	if _, err := s.store.AppendTask(ctx, followUp, []string{reviewedID}); err != nil {
		return err
	}
	return nil
}

// reviewedTaskID resolves which task a review task covers: its single
// dependency edge.
func (s *Service) reviewedTaskID(ctx context.Context, review domain.Task) (string, error) {
	deps, err := s.store.ListDependencies(ctx, review.ProjectID)
	if err != nil {
		return "", err
	}
	for _, d := range deps {
		if d.TaskID == review.ID {
			return d.DependsOnID, nil
		}
	}
	return "", domain.SubjectErrorf(domain.KindPrecondition, review.ID, "review task has no reviewed dependency")
}

// TaskContext is the read-only payload returned by get_context.
type TaskContext struct {
	Task          domain.Task      `json:"task"`
	Phase         domain.Phase     `json:"phase"`
	Brief         string           `json:"brief,omitempty"`
	CompletedWork []CompletionNote `json:"completed_work,omitempty"`
	LastEvents    []domain.Event   `json:"last_events,omitempty"`
}

// GetContext returns briefing context for the session's task, or for the
// explicitly named one. Read-only; no precondition beyond a valid token.
func (s *Service) GetContext(ctx context.Context, token, taskID string, p ContextParams) (*TaskContext, error) {
	_, _, err := s.authorize(ctx, token, taskID)
	if err != nil {
		return nil, err
	}
	subject := taskID
	if p.TaskID != "" {
		subject = p.TaskID
	}
	task, err := s.store.GetTask(ctx, subject)
	if err != nil {
		return nil, err
	}

	out := &TaskContext{Task: task}
	for _, ph := range mustPhases(ctx, s.store, task.ProjectID) {
		if ph.ID == task.PhaseID {
			out.Phase = ph
			break
		}
	}
	if task.BriefPath != "" {
		if data, err := os.ReadFile(task.BriefPath); err == nil {
			out.Brief = string(data)
		}
	}

	depIDs, err := s.store.ListDependencies(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	var mine []string
	for _, d := range depIDs {
		if d.TaskID == task.ID {
			mine = append(mine, d.DependsOnID)
		}
	}
	notes, err := CompletionNotes(ctx, s.store, task.ProjectID, mine)
	if err != nil {
		return nil, err
	}
	for _, id := range mine {
		if n, ok := notes[id]; ok {
			out.CompletedWork = append(out.CompletedWork, n)
		}
	}

	evs, err := s.store.ReadEvents(ctx, persistence.EventFilter{
		ProjectID:  task.ProjectID,
		EntityType: domain.EntityTask,
		EntityID:   task.ID,
		Limit:      20,
	})
	if err != nil {
		return nil, err
	}
	out.LastEvents = evs
	return out, nil
}

// RequestHumanInput publishes the question and blocks until an operator
// records a response, or the timeout passes.
func (s *Service) RequestHumanInput(ctx context.Context, token, taskID string, p HumanInputParams) (*HumanInputResult, error) {
	_, _, err := s.authorize(ctx, token, taskID)
	if err != nil {
		return nil, err
	}
	if p.Question == "" {
		return nil, domain.Errorf(domain.KindValidation, "question is required")
	}

	// The cursor is taken before the request is visible, so a response
	// recorded at any point after publication cannot be skipped.
	cursor, err := s.store.LastEventID(ctx)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	payload, _ := json.Marshal(HumanInputNote{RequestID: requestID, Question: p.Question, Choices: p.Choices})
	ev := domain.Event{
		ProjectID:  s.projectID,
		Kind:       domain.EventHumanInputRequest,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		Payload:    string(payload),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}
	s.bus.Publish(ev)
	deadline := time.NewTimer(s.HumanInputTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(humanInputPoll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, domain.SubjectErrorf(domain.KindPrecondition, taskID, "no human response within %s", s.HumanInputTimeout)
		case <-tick.C:
			evs, err := s.store.ReadEvents(ctx, persistence.EventFilter{ProjectID: s.projectID, SinceID: cursor, Limit: 100})
			if err != nil {
				return nil, err
			}
			for _, e := range evs {
				cursor = e.ID
				if e.Kind != domain.EventHumanInputReply {
					continue
				}
				var note HumanInputNote
				if json.Unmarshal([]byte(e.Payload), &note) == nil && note.RequestID == requestID {
					return &HumanInputResult{Response: note.Response}, nil
				}
			}
		}
	}
}

// RecordHumanResponse appends the operator's answer to a pending question.
// Called from the CLI; the blocked RPC above picks it up on its next poll.
func RecordHumanResponse(ctx context.Context, store *persistence.Store, bus *events.Bus, projectID, requestID, response string) error {
	payload, _ := json.Marshal(HumanInputNote{RequestID: requestID, Response: response})
	ev := domain.Event{
		ProjectID:  projectID,
		Kind:       domain.EventHumanInputReply,
		EntityType: domain.EntityProject,
		EntityID:   projectID,
		Payload:    string(payload),
	}
	if err := store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if bus != nil {
		bus.Publish(ev)
	}
	return nil
}

// CompletionNotes reads back the completion payloads for the given tasks,
// newest per task. The brief renderer turns these into the dependency
// outputs section.
func CompletionNotes(ctx context.Context, store *persistence.Store, projectID string, taskIDs []string) (map[string]CompletionNote, error) {
	out := make(map[string]CompletionNote, len(taskIDs))
	for _, id := range taskIDs {
		evs, err := store.ReadEvents(ctx, persistence.EventFilter{
			ProjectID:  projectID,
			EntityType: domain.EntityTask,
			EntityID:   id,
			Limit:      200,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range evs {
			if e.Kind != domain.EventProgress || e.Payload == "" {
				continue
			}
			var note CompletionNote
			if json.Unmarshal([]byte(e.Payload), &note) == nil && note.Summary != "" {
				out[id] = note
			}
		}
	}
	return out, nil
}

func (s *Service) publishStatusChange(taskID string, from, to domain.TaskStatus) {
	s.bus.Publish(domain.Event{
		ProjectID:  s.projectID,
		Kind:       domain.EventStatusChange,
		EntityType: domain.EntityTask,
		EntityID:   taskID,
		OldValue:   string(from),
		NewValue:   string(to),
	})
}

func mustPhases(ctx context.Context, store *persistence.Store, projectID string) []domain.Phase {
	phases, err := store.ListPhases(ctx, projectID)
	if err != nil {
		return nil
	}
	return phases
}
