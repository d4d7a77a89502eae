package domain

// Legal status transitions per entity. An attempt outside these tables is a
// programmer error and must fail loudly; the repository rejects it before
// anything is written.
var (
	taskTransitions = map[TaskStatus][]TaskStatus{
		TaskPending:   {TaskRunning, TaskSkipped},
		TaskRunning:   {TaskCompleted, TaskFailed},
		TaskFailed:    {TaskRunning, TaskPaused, TaskPending},
		TaskPaused:    {TaskRunning, TaskPending},
		TaskCompleted: {TaskPending}, // reset only
		TaskSkipped:   {TaskPending}, // reset only
	}

	phaseTransitions = map[PhaseStatus][]PhaseStatus{
		PhasePending:   {PhaseRunning, PhaseSkipped},
		PhaseRunning:   {PhaseCompleted, PhaseFailed, PhasePending},
		PhaseFailed:    {PhasePending, PhaseRunning},
		PhaseCompleted: {PhasePending}, // reset / replan
		PhaseSkipped:   {PhasePending},
	}

	sessionTransitions = map[SessionStatus][]SessionStatus{
		SessionRunning:   {SessionCompleted, SessionFailed, SessionKilled},
		SessionCompleted: nil,
		SessionFailed:    nil,
		SessionKilled:    nil,
	}
)

// ValidTransition is the single pure predicate over all three entity state
// machines. entityType is one of EntityTask, EntityPhase, EntitySession.
func ValidTransition(entityType, from, to string) bool {
	switch entityType {
	case EntityTask:
		return contains(taskTransitions[TaskStatus(from)], TaskStatus(to))
	case EntityPhase:
		return contains(phaseTransitions[PhaseStatus(from)], PhaseStatus(to))
	case EntitySession:
		return contains(sessionTransitions[SessionStatus(from)], SessionStatus(to))
	}
	return false
}

// CheckTaskTransition returns a precondition error for an illegal task transition.
func CheckTaskTransition(taskID string, from, to TaskStatus) error {
	if !ValidTransition(EntityTask, string(from), string(to)) {
		return SubjectErrorf(KindPrecondition, taskID, "invalid task transition %s -> %s", from, to)
	}
	return nil
}

// CheckPhaseTransition returns a precondition error for an illegal phase transition.
func CheckPhaseTransition(phaseID string, from, to PhaseStatus) error {
	if from == to {
		return nil // reconciliation is idempotent
	}
	if !ValidTransition(EntityPhase, string(from), string(to)) {
		return SubjectErrorf(KindPrecondition, phaseID, "invalid phase transition %s -> %s", from, to)
	}
	return nil
}

// CheckSessionTransition returns a precondition error for an illegal session transition.
func CheckSessionTransition(sessionID string, from, to SessionStatus) error {
	if !ValidTransition(EntitySession, string(from), string(to)) {
		return SubjectErrorf(KindPrecondition, sessionID, "invalid session transition %s -> %s", from, to)
	}
	return nil
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
