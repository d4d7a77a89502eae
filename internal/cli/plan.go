package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/agent"
	"github.com/termcoder/tc/internal/brief"
	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/planner"
)

// PlanCmd invokes the Agent planner and replaces the plan.
func PlanCmd() *cobra.Command {
	var replan bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Decompose the PRD into phases and tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			switch pc.project.Status {
			case domain.ProjectInitialized:
			case domain.ProjectRunning:
				return domain.Errorf(domain.KindPrecondition, "stop the engine before replanning")
			default:
				if !replan {
					return domain.Errorf(domain.KindPrecondition,
						"project is already planned; use --replan to regenerate (discards completed work)")
				}
			}

			settings := config.FromEnv()
			renderer, err := brief.New()
			if err != nil {
				return err
			}
			invoker, err := agent.New(agent.Config{
				Command: settings.AgentCommand,
				WorkDir: pc.paths.ProjectDir,
			}, nil)
			if err != nil {
				return err
			}

			p := planner.New(pc.store, renderer, invoker, pc.paths)
			if err := p.Run(ctx, pc.project); err != nil {
				return err
			}

			phases, err := pc.store.ListPhases(ctx, pc.project.ID)
			if err != nil {
				return err
			}
			tasks, err := pc.store.ListTasksByProject(ctx, pc.project.ID)
			if err != nil {
				return err
			}
			fmt.Printf("plan ready: %d phases, %d tasks\n", len(phases), len(tasks))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replan, "replan", false, "regenerate the plan wholesale, discarding completed work")
	return cmd
}
