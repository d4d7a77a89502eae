package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/termcoder/tc/internal/brief"
	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/controlplane"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/engine"
	"github.com/termcoder/tc/internal/events"
	"github.com/termcoder/tc/internal/pane"
	"github.com/termcoder/tc/internal/tui"
)

// RunCmd starts the engine loop, optionally with the live dashboard.
func RunCmd() *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the orchestration engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			switch pc.project.Status {
			case domain.ProjectPlanned, domain.ProjectPaused, domain.ProjectRunning, domain.ProjectFailed:
			case domain.ProjectCompleted:
				return domain.Errorf(domain.KindPrecondition, "project is completed; use `tc plan --replan` to start over")
			default:
				return domain.Errorf(domain.KindPrecondition, "project is %s; run `tc plan` first", pc.project.Status)
			}

			settings := config.FromEnv()
			renderer, err := brief.New()
			if err != nil {
				return err
			}
			panes, err := pane.NewManager(pc.project.Name, pc.paths.ProjectDir)
			if err != nil {
				return domain.WrapErr(domain.KindInfrastructure, err, "tmux unavailable")
			}

			bus := events.NewBus()
			defer bus.Close()

			eng := engine.New(pc.store, bus, panes, renderer, settings, pc.paths, pc.project.ID)
			svc := controlplane.NewService(pc.store, bus, pc.project.ID)
			server := controlplane.NewServer(svc, pc.paths.SocketPath)

			if headless {
				fmt.Printf("engine running (tmux session %s); Ctrl-C to stop\n", panes.SessionName())
				return eng.Run(ctx, server)
			}

			g, gctx := errgroup.WithContext(ctx)
			runCtx, cancel := context.WithCancel(gctx)
			defer cancel()

			sub := bus.Subscribe(events.SubscribeOptions{Buffer: settings.EventBuffer})
			program := tea.NewProgram(tui.New(pc.store, pc.project.ID, sub), tea.WithAltScreen())

			g.Go(func() error {
				defer program.Quit()
				return eng.Run(runCtx, server)
			})
			g.Go(func() error {
				_, err := program.Run()
				cancel() // dashboard quit stops the engine
				return err
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "run without the dashboard")
	return cmd
}
