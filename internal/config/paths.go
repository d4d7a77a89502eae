package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// On-disk names under the project root. Do not hardcode these elsewhere.
const (
	TCDir          = ".tc"
	DBFilename     = "tc.db"
	BriefsDir      = "briefs"
	LogsDir        = "logs"
	PlansDir       = "plans"
	SocketFilename = "control.sock"
	MCPFilename    = ".mcp.json"
	ClaudeMDName   = "CLAUDE.md"
)

// ProjectPaths is the frozen layout of one project directory.
type ProjectPaths struct {
	ProjectDir string
	TCDir      string
	DBPath     string
	BriefsDir  string
	LogsDir    string
	PlansDir   string
	SocketPath string
	MCPPath    string
}

// Paths builds the layout rooted at projectDir. The directory is not touched.
func Paths(projectDir string) ProjectPaths {
	tcDir := filepath.Join(projectDir, TCDir)
	return ProjectPaths{
		ProjectDir: projectDir,
		TCDir:      tcDir,
		DBPath:     filepath.Join(tcDir, DBFilename),
		BriefsDir:  filepath.Join(tcDir, BriefsDir),
		LogsDir:    filepath.Join(tcDir, LogsDir),
		PlansDir:   filepath.Join(tcDir, PlansDir),
		SocketPath: filepath.Join(tcDir, SocketFilename),
		MCPPath:    filepath.Join(projectDir, MCPFilename),
	}
}

// Ensure creates the .tc tree (briefs, logs, plans).
func (p ProjectPaths) Ensure() error {
	for _, dir := range []string{p.TCDir, p.BriefsDir, p.LogsDir, p.PlansDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether projectDir contains an initialized .tc store.
func (p ProjectPaths) Exists() bool {
	_, err := os.Stat(p.DBPath)
	return err == nil
}

// BriefPath returns the rendered brief location for a task.
func (p ProjectPaths) BriefPath(taskID string) string {
	return filepath.Join(p.BriefsDir, taskID+".md")
}

// SessionLogPath returns the log location for a session.
func (p ProjectPaths) SessionLogPath(sessionID string) string {
	return filepath.Join(p.LogsDir, "session-"+sessionID+".log")
}

// SessionResultPath returns the structured result location for a session.
func (p ProjectPaths) SessionResultPath(sessionID string) string {
	return filepath.Join(p.LogsDir, "session-"+sessionID+"-result.json")
}

// PlanPath returns the raw planning output location for a timestamp label.
func (p ProjectPaths) PlanPath(ts string) string {
	return filepath.Join(p.PlansDir, "plan-"+ts+".json")
}
