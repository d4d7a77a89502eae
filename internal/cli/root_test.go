package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/termcoder/tc/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "no project", err: errNoProject, want: ExitNoProject},
		{name: "wrapped no project", err: fmt.Errorf("opening: %w", errNoProject), want: ExitNoProject},
		{name: "validation", err: domain.Errorf(domain.KindValidation, "bad input"), want: ExitUsage},
		{name: "precondition", err: domain.Errorf(domain.KindPrecondition, "not running"), want: ExitPrecondition},
		{name: "deadlock", err: domain.Errorf(domain.KindDeadlock, "stuck"), want: ExitFatal},
		{name: "infrastructure", err: domain.Errorf(domain.KindInfrastructure, "tmux gone"), want: ExitFatal},
		{name: "cobra unknown flag", err: errors.New("unknown flag: --frobnicate"), want: ExitUsage},
		{name: "internal", err: errors.New("boom"), want: ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	root := RootCmd()
	want := []string{"init", "verify", "plan", "run", "status", "pause", "resume",
		"retry", "reset", "kill", "history", "respond", "dashboard"}
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q missing from tree", name)
		}
	}
}
