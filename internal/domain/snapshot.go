package domain

// Snapshot is a consistent read of one project's phases, tasks, and
// dependency edges, taken in a single repository transaction. The scheduler
// consumes snapshots only; it never touches storage.
type Snapshot struct {
	Project Project
	Phases  []Phase // ascending sequence
	Tasks   []Task  // ascending (phase sequence, task sequence)
	Deps    map[string][]string // task id -> ids it depends on
}

// TasksInPhase returns the snapshot's tasks for one phase, preserving order.
func (s *Snapshot) TasksInPhase(phaseID string) []Task {
	var out []Task
	for _, t := range s.Tasks {
		if t.PhaseID == phaseID {
			out = append(out, t)
		}
	}
	return out
}

// Task looks up a task by id.
func (s *Snapshot) Task(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// DepsSatisfied reports whether every dependency of the task is completed or
// skipped. Skipped satisfies dependencies the same as completed.
func (s *Snapshot) DepsSatisfied(taskID string) bool {
	for _, depID := range s.Deps[taskID] {
		dep, ok := s.Task(depID)
		if !ok || !dep.Status.Terminal() {
			return false
		}
	}
	return true
}

// UnmetDeps returns the dependency ids of the task that are not yet
// completed or skipped, for deadlock diagnostics.
func (s *Snapshot) UnmetDeps(taskID string) []string {
	var unmet []string
	for _, depID := range s.Deps[taskID] {
		dep, ok := s.Task(depID)
		if !ok || !dep.Status.Terminal() {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}
