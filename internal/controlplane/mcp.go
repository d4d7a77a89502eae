package controlplane

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/termcoder/tc/internal/config"
)

// endpointConfig is the .mcp.json shape the Agent reads to find the
// control plane. Paths are absolute so the Agent can connect regardless of
// its own working directory.
type endpointConfig struct {
	TC endpointEntry `json:"tc"`
}

type endpointEntry struct {
	Endpoint   string `json:"endpoint"`
	ProjectDir string `json:"project_dir"`
}

// WriteEndpointConfig writes .mcp.json at the project root, pointing the
// Agent at the control-plane socket.
func WriteEndpointConfig(paths config.ProjectPaths) error {
	absDir, err := filepath.Abs(paths.ProjectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project dir: %w", err)
	}
	absSock, err := filepath.Abs(paths.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve socket path: %w", err)
	}
	cfg := endpointConfig{TC: endpointEntry{
		Endpoint:   "unix://" + absSock,
		ProjectDir: absDir,
	}}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint config: %w", err)
	}
	if err := os.WriteFile(paths.MCPPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", paths.MCPPath, err)
	}
	return nil
}
