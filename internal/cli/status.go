package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/domain"
)

// StatusCmd prints the phase/task summary.
func StatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the plan's phases and tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			snap, err := pc.store.Snapshot(ctx, pc.project.ID)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			bold := color.New(color.Bold).SprintFunc()
			fmt.Printf("%s — %s\n", bold(snap.Project.Name), statusColor(string(snap.Project.Status)))
			for _, phase := range snap.Phases {
				fmt.Printf("\nPhase %d: %s [%s]\n", phase.Sequence, bold(phase.Name), statusColor(string(phase.Status)))
				for _, task := range snap.TasksInPhase(phase.ID) {
					retry := ""
					if task.RetryCount > 0 {
						retry = fmt.Sprintf(" retry=%d", task.RetryCount)
					}
					errCtx := ""
					if task.Status == domain.TaskFailed || task.Status == domain.TaskPaused {
						if task.ErrorContext != "" {
							errCtx = " — " + firstLine(task.ErrorContext)
						}
					}
					fmt.Printf("  %-9s %-6s %s (%s)%s%s\n",
						statusColor(string(task.Status)), task.Kind, task.Name, task.ID, retry, errCtx)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the snapshot as JSON")
	return cmd
}

func statusColor(status string) string {
	switch status {
	case "completed":
		return color.GreenString(status)
	case "running", "planning":
		return color.YellowString(status)
	case "failed", "paused":
		return color.RedString(status)
	default:
		return status
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
