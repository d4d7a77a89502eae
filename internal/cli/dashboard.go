package cli

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/controlplane"
	"github.com/termcoder/tc/internal/tui"
)

// DashboardCmd opens the read-only dashboard against the project store. It
// runs in its own process and tails the event log with a cursor; it never
// writes.
func DashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the live dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := openProject(cmd.Context())
			if err != nil {
				return err
			}
			defer pc.close()

			program := tea.NewProgram(tui.New(pc.store, pc.project.ID, nil), tea.WithAltScreen())
			_, err = program.Run()
			return err
		},
	}
}

// recordResponse funnels a human-input answer through the control plane's
// recording path.
func recordResponse(ctx context.Context, pc *projectContext, requestID, message string) error {
	return controlplane.RecordHumanResponse(ctx, pc.store, nil, pc.project.ID, requestID, message)
}
