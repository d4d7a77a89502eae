package pane

import (
	"strconv"
	"strings"
)

// exitMarker is the trailing line the spawned session command prints; see
// agent.SessionCommand.
const exitMarker = "exit code:"

// ParseExitCode scans captured pane output, newest line first, for the
// session command's exit-code marker. Returns ok=false when the marker has
// not been printed, which the reaper treats as an abnormal end.
func ParseExitCode(output string) (int, bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, exitMarker) {
			continue
		}
		code, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, exitMarker)))
		if err != nil {
			return 0, false
		}
		return code, true
	}
	return 0, false
}
