// Package agent invokes the external coding agent CLI. Two surfaces: headless
// one-shot invocations used by the planner, and the shell command line the
// engine sends into a pane for interactive task sessions.
package agent

import (
	"context"
	"fmt"
)

// Invoker runs one headless prompt through an agent CLI and returns its
// textual output.
type Invoker interface {
	// Invoke sends the prompt and blocks until the agent exits.
	Invoke(ctx context.Context, prompt string) (string, error)

	// Name returns the underlying CLI name, for logs and errors.
	Name() string
}

// Config selects and parameterizes an agent CLI.
type Config struct {
	Command string // "claude" or "codex"
	WorkDir string
	Model   string // optional model override
}

// New creates an invoker for the configured agent CLI.
func New(cfg Config, procMgr *ProcessManager) (Invoker, error) {
	switch cfg.Command {
	case "", "claude":
		return NewClaudeInvoker(cfg, procMgr), nil
	case "codex":
		return NewCodexInvoker(cfg, procMgr), nil
	default:
		return nil, fmt.Errorf("unknown agent command %q", cfg.Command)
	}
}
