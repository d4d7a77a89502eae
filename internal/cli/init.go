package cli

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/controlplane"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/persistence"
)

// InitCmd creates the .tc tree and records the project.
func InitCmd() *cobra.Command {
	var prdPath, bootstrapPath, name string

	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Initialize a project directory for orchestration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if prdPath == "" {
				return domain.Errorf(domain.KindValidation, "--prd is required")
			}
			paths := config.Paths(dir)
			if paths.Exists() {
				return domain.Errorf(domain.KindPrecondition, "project already initialized in %s", dir)
			}
			if err := paths.Ensure(); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := persistence.Open(ctx, paths.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if name == "" {
				name = filepath.Base(dir)
			}
			absPRD, err := filepath.Abs(prdPath)
			if err != nil {
				return err
			}
			absBootstrap := ""
			if bootstrapPath != "" {
				if absBootstrap, err = filepath.Abs(bootstrapPath); err != nil {
					return err
				}
			}

			project, err := store.CreateProject(ctx, persistence.ProjectSpec{
				ID:            uuid.NewString(),
				Name:          name,
				ProjectDir:    dir,
				PRDPath:       absPRD,
				BootstrapPath: absBootstrap,
			})
			if err != nil {
				return err
			}
			if err := controlplane.WriteEndpointConfig(paths); err != nil {
				return err
			}

			fmt.Printf("initialized project %s (%s)\n", project.Name, project.ID)
			fmt.Printf("next: tc verify && tc plan && tc run\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&prdPath, "prd", "", "path to the product requirements document")
	cmd.Flags().StringVar(&bootstrapPath, "bootstrap", "", "path to the bootstrap specification")
	cmd.Flags().StringVar(&name, "name", "", "project name (defaults to the directory name)")
	return cmd
}
