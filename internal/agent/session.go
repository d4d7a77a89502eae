package agent

import "fmt"

// SessionCommand builds the shell line the engine sends into a tmux pane to
// run one task session. The brief is fed on stdin, output is teed to the
// session log, and a trailing exit-code marker is printed for the reaper.
//
// The marker format is parsed by pane.ParseExitCode; keep them in sync.
func SessionCommand(command, briefPath, logPath string) string {
	return fmt.Sprintf(
		"%s -p --output-format text < %q 2>&1 | tee %q; echo \"exit code: $?\"",
		command, briefPath, logPath,
	)
}
