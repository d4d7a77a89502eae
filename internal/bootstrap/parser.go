// Package bootstrap parses the project's bootstrap.md into verification
// checks and runs them, recording the results. Checks are shell predicates;
// a few built-ins cover the tools the orchestrator itself needs.
package bootstrap

import (
	"regexp"
	"strings"
)

// Check types.
const (
	TypeTool       = "tool"
	TypeCredential = "credential"
	TypeEnv        = "env"
)

// envCommandPrefix marks an environment-variable existence check; the rest
// of the command is the variable name.
const envCommandPrefix = "env_check:"

// Check is one verification predicate.
type Check struct {
	Name     string
	Type     string
	Command  string
	Expected string
}

// BuiltinChecks are always run, regardless of bootstrap.md content.
var BuiltinChecks = []Check{
	{Name: "claude", Type: TypeTool, Command: "claude --version"},
	{Name: "tmux", Type: TypeTool, Command: "tmux -V"},
	{Name: "git", Type: TypeTool, Command: "git status"},
}

var (
	verifyLinePattern = regexp.MustCompile("\\*\\*Verify:\\*\\*\\s*`([^`]+)`")
	envVarPattern     = regexp.MustCompile("`([A-Z][A-Z0-9_]+)`")
	separatorPattern  = regexp.MustCompile(`^\|[\s\-:|]+\|$`)
)

// Parse extracts verification checks from bootstrap.md content:
// prerequisite tables (Tool | Install | Verify), **Verify:** lines for
// credentials, env-var references in .env sections, plus the built-ins.
func Parse(content string) []Check {
	var checks []Check
	checks = append(checks, parseToolTable(content)...)
	checks = append(checks, parseCredentialLines(content)...)
	checks = append(checks, parseEnvVars(content)...)
	checks = append(checks, BuiltinChecks...)
	return checks
}

// parseToolTable scans markdown tables whose header names Tool and Verify
// columns.
func parseToolTable(content string) []Check {
	var checks []Check
	inTable := false
	var header map[string]int

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)

		if !inTable && strings.Contains(stripped, "|") {
			cells := splitCells(stripped)
			lower := make([]string, len(cells))
			for i, c := range cells {
				lower[i] = strings.ToLower(c)
			}
			if indexOf(lower, "tool") >= 0 && indexOf(lower, "verify") >= 0 {
				header = map[string]int{}
				for i, c := range lower {
					header[c] = i
				}
				inTable = true
			}
			continue
		}
		if !inTable {
			continue
		}
		if separatorPattern.MatchString(stripped) {
			continue
		}
		if !strings.Contains(stripped, "|") {
			if stripped != "" {
				inTable = false
			}
			continue
		}

		cells := splitCells(stripped)
		toolIdx, verifyIdx := header["tool"], header["verify"]
		if verifyIdx >= len(cells) || toolIdx >= len(cells) {
			continue
		}
		tool := stripMarkdown(cells[toolIdx])
		verify := stripMarkdown(cells[verifyIdx])
		if verify == "" || verify == "-" {
			continue
		}
		checks = append(checks, Check{
			Name:    strings.ReplaceAll(strings.ToLower(tool), " ", "_"),
			Type:    TypeTool,
			Command: verify,
		})
	}
	return checks
}

func parseCredentialLines(content string) []Check {
	var checks []Check
	for _, m := range verifyLinePattern.FindAllStringSubmatch(content, -1) {
		command := m[1]
		checks = append(checks, Check{
			Name:    deriveCheckName(command),
			Type:    TypeCredential,
			Command: command,
		})
	}
	return checks
}

// parseEnvVars collects `VAR_NAME` references in sections that talk about
// populating a .env file.
func parseEnvVars(content string) []Check {
	var checks []Check
	inEnvSection := false
	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if strings.Contains(lower, ".env") &&
			(strings.Contains(lower, "populate") || strings.Contains(lower, "create") ||
				strings.Contains(lower, "variable") || strings.Contains(lower, "environment") ||
				strings.Contains(lower, "config")) {
			inEnvSection = true
			continue
		}
		if inEnvSection && strings.HasPrefix(strings.TrimSpace(line), "#") {
			inEnvSection = false
		}
		if !inEnvSection {
			continue
		}
		for _, m := range envVarPattern.FindAllStringSubmatch(line, -1) {
			name := m[1]
			checks = append(checks, Check{
				Name:     "env_" + strings.ToLower(name),
				Type:     TypeEnv,
				Command:  envCommandPrefix + name,
				Expected: "set",
			})
		}
	}
	return checks
}

func splitCells(line string) []string {
	var cells []string
	for _, c := range strings.Split(line, "|") {
		c = strings.TrimSpace(c)
		if c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

func stripMarkdown(text string) string {
	text = strings.Trim(text, "`")
	text = strings.ReplaceAll(text, "**", "")
	return strings.TrimSpace(text)
}

func deriveCheckName(command string) string {
	words := strings.Fields(command)
	if len(words) == 0 {
		return "credential_check"
	}
	parts := strings.Split(words[0], "/")
	return "credential_" + parts[len(parts)-1]
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}
