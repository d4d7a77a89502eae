package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/termcoder/tc/internal/domain"
)

// ValidatePlan checks a candidate plan before anything touches storage:
// phase and task sequences must be >= 1 and unique within their parent,
// every dependency must name a known task, and the dependency graph must be
// acyclic. A topological-sort failure rejects the whole plan.
func ValidatePlan(phases []domain.Phase, tasks []domain.Task, deps []domain.TaskDependency) error {
	phaseSeqs := make(map[int]bool, len(phases))
	phaseIDs := make(map[string]bool, len(phases))
	for _, p := range phases {
		if p.Sequence < 1 {
			return domain.SubjectErrorf(domain.KindValidation, p.ID, "phase sequence must be >= 1")
		}
		if phaseSeqs[p.Sequence] {
			return domain.SubjectErrorf(domain.KindValidation, p.ID, "duplicate phase sequence %d", p.Sequence)
		}
		phaseSeqs[p.Sequence] = true
		phaseIDs[p.ID] = true
	}

	taskIDs := make(map[string]bool, len(tasks))
	taskSeqs := make(map[string]map[int]bool)
	for _, t := range tasks {
		if !phaseIDs[t.PhaseID] {
			return domain.SubjectErrorf(domain.KindValidation, t.ID, "task references unknown phase %s", t.PhaseID)
		}
		if t.Sequence < 1 {
			return domain.SubjectErrorf(domain.KindValidation, t.ID, "task sequence must be >= 1")
		}
		if taskSeqs[t.PhaseID] == nil {
			taskSeqs[t.PhaseID] = make(map[int]bool)
		}
		if taskSeqs[t.PhaseID][t.Sequence] {
			return domain.SubjectErrorf(domain.KindValidation, t.ID, "duplicate task sequence %d in phase %s", t.Sequence, t.PhaseID)
		}
		taskSeqs[t.PhaseID][t.Sequence] = true
		taskIDs[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		edges = append(edges, toposort.Edge{nil, t.ID})
	}
	for _, d := range deps {
		if !taskIDs[d.TaskID] || !taskIDs[d.DependsOnID] {
			return domain.SubjectErrorf(domain.KindValidation, d.TaskID, "dependency references unknown task %s", d.DependsOnID)
		}
		if d.TaskID == d.DependsOnID {
			return domain.SubjectErrorf(domain.KindValidation, d.TaskID, "task depends on itself")
		}
		edges = append(edges, toposort.Edge{d.DependsOnID, d.TaskID})
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return domain.WrapErr(domain.KindValidation, err, "plan contains a dependency cycle")
	}
	return nil
}

// ReplacePlan atomically swaps a project's plan: prior phases, tasks, and
// dependency edges are deleted (replan is wholesale), the new plan is
// inserted, and the project moves to planned. A validation failure persists
// nothing.
func (s *Store) ReplacePlan(ctx context.Context, projectID string, phases []domain.Phase, tasks []domain.Task, deps []domain.TaskDependency) error {
	if len(phases) == 0 || len(tasks) == 0 {
		return domain.Errorf(domain.KindValidation, "plan must contain at least one phase and one task")
	}
	if err := ValidatePlan(phases, tasks, deps); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// phases cascade to tasks, which cascade to dependency edges
		if _, err := tx.ExecContext(ctx, `DELETE FROM phases WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("failed to delete prior plan: %w", err)
		}

		for _, p := range phases {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO phases (id, project_id, sequence, name, description, status)
				VALUES (?, ?, ?, ?, ?, ?)
			`, p.ID, projectID, p.Sequence, p.Name, nullable(p.Description), string(domain.PhasePending)); err != nil {
				return fmt.Errorf("failed to insert phase %s: %w", p.ID, err)
			}
		}
		for _, t := range tasks {
			if err := insertTaskTx(ctx, tx, t, t.Sequence); err != nil {
				return err
			}
		}
		for _, d := range deps {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
			`, d.TaskID, d.DependsOnID); err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", d.TaskID, d.DependsOnID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE projects SET status = ?, updated_at = datetime('now') WHERE id = ?
		`, string(domain.ProjectPlanned), projectID); err != nil {
			return fmt.Errorf("failed to mark project planned: %w", err)
		}

		return appendEventTx(ctx, tx, domain.Event{
			ProjectID:  projectID,
			Kind:       domain.EventStatusChange,
			EntityType: domain.EntityProject,
			EntityID:   projectID,
			NewValue:   string(domain.ProjectPlanned),
			Payload:    fmt.Sprintf(`{"phases":%d,"tasks":%d}`, len(phases), len(tasks)),
		})
	})
}
