package agent

import (
	"context"
	"fmt"
	"strings"
)

// ClaudeInvoker runs the Claude Code CLI in print mode. Each Invoke is one
// subprocess; there is no conversation state to resume.
type ClaudeInvoker struct {
	workDir string
	model   string
	procMgr *ProcessManager
}

// NewClaudeInvoker creates a Claude CLI invoker.
func NewClaudeInvoker(cfg Config, procMgr *ProcessManager) *ClaudeInvoker {
	return &ClaudeInvoker{
		workDir: cfg.WorkDir,
		model:   cfg.Model,
		procMgr: procMgr,
	}
}

// Invoke runs `claude -p` with the prompt on stdin and returns stdout.
func (c *ClaudeInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	cmd := newCommand(ctx, "claude", c.buildArgs()...)
	cmd.Dir = c.workDir
	cmd.Stdin = strings.NewReader(prompt)

	stdout, stderr, err := executeCommand(ctx, cmd, c.procMgr)
	if err != nil {
		return "", fmt.Errorf("claude invocation failed: %w (stderr: %s)", err, truncate(string(stderr), 500))
	}
	return string(stdout), nil
}

// Name returns "claude".
func (c *ClaudeInvoker) Name() string { return "claude" }

func (c *ClaudeInvoker) buildArgs() []string {
	args := []string{"-p", "--output-format", "text"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	return args
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
