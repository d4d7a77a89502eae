// Package pane wraps the terminal multiplexer. The topology is fixed: one
// tmux session per project with a single window split into two panes, pane 0
// for coding sessions and pane 1 for review sessions.
package pane

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/GianlucaP106/gotmux/gotmux"
)

// Manager owns the project's tmux session and its two panes. It is the only
// component that talks to tmux; the engine drives it through spawn, liveness
// probe, and kill.
type Manager struct {
	sessionName string
	workDir     string
	tmux        *gotmux.Tmux
}

// NewManager creates a manager for the project. The tmux server must be
// reachable; the session itself is created lazily by EnsureSession.
func NewManager(projectName, workDir string) (*Manager, error) {
	t, err := gotmux.DefaultTmux()
	if err != nil {
		return nil, fmt.Errorf("failed to create tmux client: %w", err)
	}
	return &Manager{
		sessionName: "tc-" + projectName,
		workDir:     workDir,
		tmux:        t,
	}, nil
}

// SessionName returns the tmux session name, for attach instructions.
func (m *Manager) SessionName() string { return m.sessionName }

// EnsureSession creates the detached session with two panes, or adopts an
// existing one left over from a prior run.
func (m *Manager) EnsureSession() error {
	if m.sessionExists() {
		return m.ensureSplit()
	}
	_, err := m.tmux.NewSession(&gotmux.SessionOptions{
		Name:           m.sessionName,
		StartDirectory: m.workDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create tmux session: %w", err)
	}
	return m.ensureSplit()
}

// Teardown kills the tmux session. Safe to call when it is already gone.
func (m *Manager) Teardown() error {
	sessions, err := m.tmux.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Name == m.sessionName {
			return s.Kill()
		}
	}
	return nil
}

// Spawn sends the command into the pane and returns the pane's root process
// id. The command runs under the pane's shell; liveness is judged by whether
// that shell has children.
func (m *Manager) Spawn(pane int, command string) (int, error) {
	pid, err := m.panePID(pane)
	if err != nil {
		return 0, err
	}
	if err := exec.Command("tmux", "send-keys", "-t", m.target(pane), command, "C-m").Run(); err != nil {
		return 0, fmt.Errorf("failed to send command to pane %d: %w", pane, err)
	}
	return pid, nil
}

// Alive reports whether the pane still has a running child process.
func (m *Manager) Alive(pane int) (bool, error) {
	pid, err := m.panePID(pane)
	if err != nil {
		return false, err
	}
	// pgrep exits 1 when the shell has no children, i.e. the session ended.
	err = exec.Command("pgrep", "-P", strconv.Itoa(pid)).Run()
	if err == nil {
		return true, nil
	}
	if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to probe pane %d: %w", pane, err)
}

// CaptureTail returns the last lines of the pane's visible output.
func (m *Manager) CaptureTail(pane int, lines int) (string, error) {
	out, err := exec.Command("tmux", "capture-pane", "-p", "-t", m.target(pane)).Output()
	if err != nil {
		return "", fmt.Errorf("failed to capture pane %d: %w", pane, err)
	}
	all := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n"), nil
}

// Interrupt sends Ctrl-C to the pane's foreground process.
func (m *Manager) Interrupt(pane int) error {
	if err := exec.Command("tmux", "send-keys", "-t", m.target(pane), "C-c").Run(); err != nil {
		return fmt.Errorf("failed to interrupt pane %d: %w", pane, err)
	}
	return nil
}

// Terminate force-kills every child of the pane's shell. Used after the
// grace period when Interrupt did not end the session.
func (m *Manager) Terminate(pane int) error {
	pid, err := m.panePID(pane)
	if err != nil {
		return err
	}
	// pkill exits 1 when nothing matched; the pane is already quiet then.
	err = exec.Command("pkill", "-9", "-P", strconv.Itoa(pid)).Run()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("failed to terminate pane %d: %w", pane, err)
	}
	return nil
}

func (m *Manager) target(pane int) string {
	return fmt.Sprintf("%s:0.%d", m.sessionName, pane)
}

func (m *Manager) panePID(pane int) (int, error) {
	out, err := exec.Command("tmux", "display-message", "-p", "-t", m.target(pane), "#{pane_pid}").Output()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve pane %d pid: %w", pane, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("unexpected pane_pid output %q: %w", out, err)
	}
	return pid, nil
}

func (m *Manager) sessionExists() bool {
	return exec.Command("tmux", "has-session", "-t", m.sessionName).Run() == nil
}

// ensureSplit makes sure the session's first window has two panes.
func (m *Manager) ensureSplit() error {
	out, err := exec.Command("tmux", "list-panes", "-t", m.sessionName+":0").Output()
	if err != nil {
		return fmt.Errorf("failed to list panes: %w", err)
	}
	if len(strings.Split(strings.TrimSpace(string(out)), "\n")) >= 2 {
		return nil
	}
	if err := exec.Command("tmux", "split-window", "-h", "-t", m.sessionName+":0", "-c", m.workDir).Run(); err != nil {
		return fmt.Errorf("failed to split window: %w", err)
	}
	return nil
}
