// Package cli is the thin command surface over the orchestration core. Each
// command opens the project store in the current directory, delegates, and
// maps error kinds to stable exit codes.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/termcoder/tc/internal/domain"
)

// Exit codes.
const (
	ExitOK           = 0
	ExitInternal     = 1
	ExitUsage        = 2
	ExitNoProject    = 3
	ExitPrecondition = 4
	ExitFatal        = 5
)

// errNoProject marks commands run outside an initialized project directory.
var errNoProject = errors.New("no project in this directory (run `tc init` first)")

// RootCmd builds the tc command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tc",
		Short:         "Terminal Coder - autonomous software building orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		InitCmd(),
		VerifyCmd(),
		PlanCmd(),
		RunCmd(),
		StatusCmd(),
		PauseCmd(),
		ResumeCmd(),
		RetryCmd(),
		ResetCmd(),
		KillCmd(),
		HistoryCmd(),
		RespondCmd(),
		DashboardCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := RootCmd()
	err := root.Execute()
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	if errors.Is(err, errNoProject) {
		return ExitNoProject
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		// Flag and argument errors surface from cobra untagged.
		if isUsageError(err) {
			return ExitUsage
		}
		return ExitInternal
	}
	switch de.Kind {
	case domain.KindValidation:
		return ExitUsage
	case domain.KindPrecondition:
		return ExitPrecondition
	case domain.KindDeadlock, domain.KindInfrastructure:
		return ExitFatal
	}
	return ExitInternal
}

func isUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"unknown flag", "unknown command", "required flag", "invalid argument", "accepts "} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
