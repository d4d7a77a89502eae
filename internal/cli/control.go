package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/engine"
	"github.com/termcoder/tc/internal/pane"
)

// PauseCmd raises the engine's paused flag. Running sessions finish; no new
// coding work is dispatched until resume.
func PauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop dispatching new coding tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			if pc.project.Status != domain.ProjectRunning {
				return domain.Errorf(domain.KindPrecondition, "project is %s, not running", pc.project.Status)
			}
			if _, err := pc.store.UpdateProjectStatus(ctx, pc.project.ID, domain.ProjectPaused); err != nil {
				return err
			}
			fmt.Println("paused; running sessions will finish")
			return nil
		},
	}
}

// ResumeCmd clears the paused flag.
func ResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume dispatching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			if pc.project.Status != domain.ProjectPaused {
				return domain.Errorf(domain.KindPrecondition, "project is %s, not paused", pc.project.Status)
			}
			if _, err := pc.store.UpdateProjectStatus(ctx, pc.project.ID, domain.ProjectRunning); err != nil {
				return err
			}
			fmt.Println("resumed")
			return nil
		},
	}
}

// RetryCmd clears a task's retry budget and error context and re-queues it.
func RetryCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Manually retry a failed or paused task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			task, err := pc.store.ManualRetry(ctx, taskID)
			if err != nil {
				return err
			}
			// A project paused by that task's failure can move again.
			if pc.project.Status == domain.ProjectPaused {
				if _, err := pc.store.UpdateProjectStatus(ctx, pc.project.ID, domain.ProjectRunning); err != nil {
					return err
				}
			}
			fmt.Printf("task %s re-queued\n", task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id to retry")
	cmd.MarkFlagRequired("task")
	return cmd
}

// ResetCmd resets a task or cascades over a phase, killing live sessions.
func ResetCmd() *cobra.Command {
	var taskID string
	var phaseSeq int

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset a task or a whole phase to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (taskID == "") == (phaseSeq == 0) {
				return domain.Errorf(domain.KindValidation, "exactly one of --task or --phase is required")
			}
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			// Interrupt live panes first; the row-level kill happens inside
			// the reset transaction.
			if err := interruptTaskSessions(ctx, pc, taskID); err != nil {
				return err
			}

			if taskID != "" {
				if _, err := pc.store.ResetTask(ctx, taskID); err != nil {
					return err
				}
				fmt.Printf("task %s reset\n", taskID)
				return nil
			}

			phase, err := pc.store.PhaseBySequence(ctx, pc.project.ID, phaseSeq)
			if err != nil {
				return err
			}
			if err := pc.store.ResetPhase(ctx, phase.ID); err != nil {
				return err
			}
			fmt.Printf("phase %d (%s) reset\n", phase.Sequence, phase.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id to reset")
	cmd.Flags().IntVar(&phaseSeq, "phase", 0, "phase sequence number to reset")
	return cmd
}

// KillCmd kills a session (or every active session): the pane is
// interrupted, the session row is marked killed, and a running task fails
// with error context "killed". With --force the pane's processes are also
// terminated at once; without it this command does not escalate later.
func KillCmd() *cobra.Command {
	var sessionID string
	var force bool

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Kill a running Agent session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			panes, err := pane.NewManager(pc.project.Name, pc.paths.ProjectDir)
			if err != nil {
				return domain.WrapErr(domain.KindInfrastructure, err, "tmux unavailable")
			}

			ids := []string{sessionID}
			if sessionID == "" {
				active, err := pc.store.ActiveSessions(ctx, pc.project.ID)
				if err != nil {
					return err
				}
				if len(active) == 0 {
					fmt.Println("no running sessions")
					return nil
				}
				ids = ids[:0]
				for _, s := range active {
					ids = append(ids, s.ID)
				}
			}
			for _, id := range ids {
				if err := engine.Kill(ctx, pc.store, nil, panes, id, force); err != nil {
					return err
				}
				fmt.Printf("session %s killed\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: all running sessions)")
	cmd.Flags().BoolVar(&force, "force", false, "also terminate the pane's processes right away (otherwise the pane is only interrupted)")
	return cmd
}

// interruptTaskSessions interrupts the panes hosting a task's running
// sessions (or every active session when taskID is empty).
func interruptTaskSessions(ctx context.Context, pc *projectContext, taskID string) error {
	active, err := pc.store.ActiveSessions(ctx, pc.project.ID)
	if err != nil {
		return err
	}
	var target []domain.Session
	for _, s := range active {
		if taskID == "" || s.TaskID == taskID {
			target = append(target, s)
		}
	}
	if len(target) == 0 {
		return nil
	}
	panes, err := pane.NewManager(pc.project.Name, pc.paths.ProjectDir)
	if err != nil {
		return domain.WrapErr(domain.KindInfrastructure, err, "tmux unavailable")
	}
	for _, s := range target {
		if err := panes.Interrupt(s.Pane); err != nil {
			return domain.WrapErr(domain.KindInfrastructure, err, "pane interrupt failed")
		}
	}
	return nil
}
