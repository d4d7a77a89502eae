package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/bootstrap"
	"github.com/termcoder/tc/internal/domain"
)

// VerifyCmd runs the bootstrap predicates and records the results.
func VerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run bootstrap verification checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc, err := openProject(ctx)
			if err != nil {
				return err
			}
			defer pc.close()

			if pc.project.BootstrapPath == "" {
				return domain.Errorf(domain.KindValidation, "project has no bootstrap file; re-run init with --bootstrap")
			}

			report, err := bootstrap.Verify(ctx, pc.store, pc.project.ID, pc.project.BootstrapPath, pc.paths.ProjectDir)
			if err != nil {
				return err
			}

			pass := color.New(color.FgGreen).SprintFunc()
			fail := color.New(color.FgRed).SprintFunc()
			for _, r := range report.Results {
				mark := pass("ok")
				if !r.Passed {
					mark = fail("FAIL")
				}
				fmt.Printf("%-6s %-28s %s\n", mark, r.Check.Name, r.Check.Command)
			}
			fmt.Printf("\n%d checks: %s passed, %s failed\n",
				report.Total, pass(report.Passed), fail(report.Failed))
			if report.Failed > 0 {
				return domain.Errorf(domain.KindPrecondition, "%d bootstrap checks failed", report.Failed)
			}
			return nil
		},
	}
}
