package planner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/termcoder/tc/internal/agent"
	"github.com/termcoder/tc/internal/brief"
	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/persistence"
)

// PlanningTimeout bounds the Agent's planning invocation.
const PlanningTimeout = 5 * time.Minute

// Planner decomposes a PRD into a dependency-ordered plan.
type Planner struct {
	store    *persistence.Store
	renderer *brief.Renderer
	invoker  agent.Invoker
	paths    config.ProjectPaths
}

// New creates a planner.
func New(store *persistence.Store, renderer *brief.Renderer, invoker agent.Invoker, paths config.ProjectPaths) *Planner {
	return &Planner{store: store, renderer: renderer, invoker: invoker, paths: paths}
}

// Run plans (or replans) the project: invoke the Agent, persist the raw
// output, parse it, replace the plan wholesale, and regenerate CLAUDE.md.
// Replanning discards completed work; the plan is regenerated as a unit.
func (p *Planner) Run(ctx context.Context, project domain.Project) error {
	if _, err := p.store.UpdateProjectStatus(ctx, project.ID, domain.ProjectPlanning); err != nil {
		return err
	}

	prd, err := os.ReadFile(project.PRDPath)
	if err != nil {
		return domain.WrapErr(domain.KindValidation, err, "failed to read PRD")
	}
	prompt, err := p.renderer.RenderPlanning(project.Name, string(prd))
	if err != nil {
		return err
	}

	invokeCtx, cancel := context.WithTimeout(ctx, PlanningTimeout)
	defer cancel()
	raw, err := p.invoker.Invoke(invokeCtx, prompt)
	if err != nil {
		return domain.WrapErr(domain.KindInfrastructure, err, "planning session failed")
	}

	planPath := p.paths.PlanPath(time.Now().UTC().Format("20060102-150405"))
	if err := os.WriteFile(planPath, []byte(raw), 0o644); err != nil {
		log.Printf("WARNING: failed to save raw plan to %s: %v", planPath, err)
	}

	result, err := ParsePlanningOutput(raw)
	if err != nil {
		return err
	}
	phases, tasks, deps, err := BuildPlan(project.ID, result)
	if err != nil {
		return err
	}
	if err := p.store.ReplacePlan(ctx, project.ID, phases, tasks, deps); err != nil {
		return err
	}

	if result.ClaudeMDContent != "" {
		if err := WriteClaudeMD(p.paths.ProjectDir, result.ClaudeMDContent); err != nil {
			log.Printf("WARNING: %v", err)
		}
	}

	_, err = p.store.UpdateProjectStatus(ctx, project.ID, domain.ProjectPlanned)
	return err
}

// BuildPlan turns a parsed planning result into persistable entities,
// resolving name-based dependencies to task ids. Cycle rejection happens in
// ReplacePlan; unknown names are rejected here.
func BuildPlan(projectID string, result PlanningResult) ([]domain.Phase, []domain.Task, []domain.TaskDependency, error) {
	var phases []domain.Phase
	var tasks []domain.Task
	var deps []domain.TaskDependency
	idByName := make(map[string]string)

	for pi, plannedPhase := range result.Phases {
		phase, err := domain.NewPhase(uuid.NewString(), projectID, pi+1, plannedPhase.Name, plannedPhase.Description)
		if err != nil {
			return nil, nil, nil, err
		}
		phases = append(phases, phase)

		for ti, plannedTask := range plannedPhase.Tasks {
			kind, err := domain.ParseTaskKind(plannedTask.TaskType)
			if err != nil {
				return nil, nil, nil, err
			}
			desc := plannedTask.Description
			if len(plannedTask.AcceptanceCriteria) > 0 {
				desc += "\n\nAcceptance criteria:"
				for _, c := range plannedTask.AcceptanceCriteria {
					desc += "\n- " + c
				}
			}
			if len(plannedTask.RelevantFiles) > 0 {
				desc += "\n\nRelevant files:"
				for _, f := range plannedTask.RelevantFiles {
					desc += "\n- " + f
				}
			}
			task, err := domain.NewTask(uuid.NewString(), phase.ID, projectID, ti+1, kind, plannedTask.Name, desc)
			if err != nil {
				return nil, nil, nil, err
			}
			if _, dup := idByName[plannedTask.Name]; dup {
				return nil, nil, nil, domain.Errorf(domain.KindValidation, "duplicate task name %q in plan", plannedTask.Name)
			}
			idByName[plannedTask.Name] = task.ID
			tasks = append(tasks, task)
		}
	}

	for _, plannedPhase := range result.Phases {
		for _, plannedTask := range plannedPhase.Tasks {
			taskID := idByName[plannedTask.Name]
			for _, depName := range plannedTask.DependsOn {
				depID, ok := idByName[depName]
				if !ok {
					return nil, nil, nil, domain.Errorf(domain.KindValidation,
						"task %q depends on unknown task %q", plannedTask.Name, depName)
				}
				deps = append(deps, domain.TaskDependency{TaskID: taskID, DependsOnID: depID})
			}
		}
	}
	return phases, tasks, deps, nil
}

// requiredClaudeMDMarkers are the sections a generated CLAUDE.md must touch.
var requiredClaudeMDMarkers = []string{"build", "test", "style"}

// ValidateClaudeMD checks the generated agent-standards file covers build,
// test, and style guidance.
func ValidateClaudeMD(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range requiredClaudeMDMarkers {
		if !strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// WriteClaudeMD writes CLAUDE.md at the project root after validation.
func WriteClaudeMD(projectDir, content string) error {
	if !ValidateClaudeMD(content) {
		return domain.Errorf(domain.KindValidation,
			"CLAUDE.md content missing required sections (build/test commands, code style)")
	}
	path := filepath.Join(projectDir, config.ClaudeMDName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write CLAUDE.md: %w", err)
	}
	return nil
}
