// Package scheduler decides what the engine does next. It is a pure function
// of (snapshot, engine state) — no I/O, no clocks. Every test fixture is an
// in-memory snapshot.
package scheduler

import (
	"fmt"
	"strings"

	"github.com/termcoder/tc/internal/domain"
)

// DecisionType enumerates the scheduler's verdicts.
type DecisionType int

const (
	// DecisionIdle means nothing to dispatch but sessions are still active.
	DecisionIdle DecisionType = iota
	// DecisionDispatchCoding carries a coding task for pane 0.
	DecisionDispatchCoding
	// DecisionDispatchReview carries a review task for pane 1.
	DecisionDispatchReview
	// DecisionComplete means every task is completed or skipped.
	DecisionComplete
	// DecisionDeadlock means tasks remain but none are runnable and no
	// session is active.
	DecisionDeadlock
)

// BlockedTask names a pending task together with its unmet dependencies,
// for deadlock diagnostics.
type BlockedTask struct {
	TaskID    string
	UnmetDeps []string
}

// Decision is the scheduler's output: exactly one verdict per call.
type Decision struct {
	Type    DecisionType
	Task    *domain.Task // set for dispatch decisions
	Reason  string       // set for deadlock
	Blocked []BlockedTask
}

// EngineState is the engine's small view handed to the scheduler.
type EngineState struct {
	Pane0Busy bool
	Pane1Busy bool
	Paused    bool
}

// Schedule applies the selection rules in order:
//  1. a runnable review goes first when pane 1 is free, so coding can
//     proceed behind it;
//  2. otherwise the earliest unfinished phase is scanned for the pending
//     coding task with the lowest sequence whose dependencies are all
//     completed or skipped;
//  3. paused suppresses coding dispatch but not reviews;
//  4. all tasks terminal is Complete;
//  5. nothing runnable with no session active and work remaining is
//     Deadlock, with the blocked set attached.
func Schedule(snap *domain.Snapshot, state EngineState) Decision {
	if allTerminal(snap) {
		return Decision{Type: DecisionComplete}
	}

	if !state.Pane1Busy {
		if review := nextReview(snap); review != nil {
			return Decision{Type: DecisionDispatchReview, Task: review}
		}
	}

	if !state.Pane0Busy && !state.Paused {
		if coding := nextCoding(snap); coding != nil {
			return Decision{Type: DecisionDispatchCoding, Task: coding}
		}
	}

	if state.Pane0Busy || state.Pane1Busy {
		return Decision{Type: DecisionIdle}
	}
	if state.Paused {
		// Operator-induced quiet is not a deadlock.
		return Decision{Type: DecisionIdle}
	}
	if anyRunning(snap) {
		// A session row is still settling; wait for the reaper.
		return Decision{Type: DecisionIdle}
	}

	blocked := blockedTasks(snap)
	return Decision{
		Type:    DecisionDeadlock,
		Reason:  deadlockReason(blocked),
		Blocked: blocked,
	}
}

// nextReview returns the runnable review task with the earliest
// (phase sequence, task sequence), or nil.
func nextReview(snap *domain.Snapshot) *domain.Task {
	for _, phase := range snap.Phases {
		if phase.Status == domain.PhaseSkipped {
			continue
		}
		for _, t := range snap.TasksInPhase(phase.ID) {
			if t.Kind == domain.KindReview && t.Status == domain.TaskPending && snap.DepsSatisfied(t.ID) {
				task := t
				return &task
			}
		}
	}
	return nil
}

// nextCoding scans phases by ascending sequence, stopping at the first phase
// whose predecessor is not finished, and returns the first runnable pending
// coding task in the current phase.
func nextCoding(snap *domain.Snapshot) *domain.Task {
	for _, phase := range snap.Phases {
		if phase.Status.Finished() {
			continue
		}
		// This is the earliest unfinished phase: its predecessors are all
		// finished or it is first. Tasks beyond it must wait.
		for _, t := range snap.TasksInPhase(phase.ID) {
			if t.Kind == domain.KindCoding && t.Status == domain.TaskPending && snap.DepsSatisfied(t.ID) {
				task := t
				return &task
			}
		}
		return nil
	}
	return nil
}

func allTerminal(snap *domain.Snapshot) bool {
	if len(snap.Tasks) == 0 {
		return false
	}
	for _, t := range snap.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

func anyRunning(snap *domain.Snapshot) bool {
	for _, t := range snap.Tasks {
		if t.Status == domain.TaskRunning {
			return true
		}
	}
	return false
}

func blockedTasks(snap *domain.Snapshot) []BlockedTask {
	var blocked []BlockedTask
	for _, t := range snap.Tasks {
		switch t.Status {
		case domain.TaskPending:
			if unmet := snap.UnmetDeps(t.ID); len(unmet) > 0 {
				blocked = append(blocked, BlockedTask{TaskID: t.ID, UnmetDeps: unmet})
			}
		case domain.TaskFailed, domain.TaskPaused:
			blocked = append(blocked, BlockedTask{TaskID: t.ID})
		}
	}
	return blocked
}

func deadlockReason(blocked []BlockedTask) string {
	if len(blocked) == 0 {
		return "no runnable tasks and no active sessions"
	}
	parts := make([]string, 0, len(blocked))
	for _, b := range blocked {
		if len(b.UnmetDeps) > 0 {
			parts = append(parts, fmt.Sprintf("%s (waiting on %s)", b.TaskID, strings.Join(b.UnmetDeps, ", ")))
		} else {
			parts = append(parts, b.TaskID)
		}
	}
	return "blocked tasks: " + strings.Join(parts, "; ")
}
