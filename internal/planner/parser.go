// Package planner drives the Agent's planning mode: it renders the planning
// brief from the PRD, invokes the agent CLI headless, and turns the JSON it
// returns into a validated plan for the store.
package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/termcoder/tc/internal/domain"
)

// PlannedTask is one task as the Agent described it. Dependencies reference
// task names earlier in the plan; ids are assigned at persistence time.
type PlannedTask struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	TaskType           string   `json:"task_type"`
	DependsOn          []string `json:"depends_on"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	RelevantFiles      []string `json:"relevant_files"`
}

// PlannedPhase groups planned tasks.
type PlannedPhase struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Tasks       []PlannedTask `json:"tasks"`
}

// PlanningResult is the parsed planning output.
type PlanningResult struct {
	ProjectName     string         `json:"project_name"`
	ClaudeMDContent string         `json:"claude_md"`
	Phases          []PlannedPhase `json:"phases"`
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")

// ParsePlanningOutput extracts and parses the plan JSON from the Agent's raw
// output, tolerating markdown fences and surrounding prose.
func ParsePlanningOutput(raw string) (PlanningResult, error) {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		return PlanningResult{}, err
	}
	var result PlanningResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return PlanningResult{}, domain.Errorf(domain.KindValidation, "malformed plan JSON: %v", err)
	}
	if len(result.Phases) == 0 {
		return PlanningResult{}, domain.Errorf(domain.KindValidation, "plan has no phases")
	}
	for i := range result.Phases {
		if result.Phases[i].Name == "" {
			return PlanningResult{}, domain.Errorf(domain.KindValidation, "phase %d has no name", i+1)
		}
		for j := range result.Phases[i].Tasks {
			t := &result.Phases[i].Tasks[j]
			if t.Name == "" {
				return PlanningResult{}, domain.Errorf(domain.KindValidation, "phase %q task %d has no name", result.Phases[i].Name, j+1)
			}
			if t.TaskType == "" {
				t.TaskType = string(domain.KindCoding)
			}
		}
	}
	return result, nil
}

// extractJSON prefers a fenced block, then falls back to brace matching on
// the first top-level object.
func extractJSON(raw string) (string, error) {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), nil
	}

	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return "", domain.Errorf(domain.KindValidation, "no JSON object found in planning output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", domain.Errorf(domain.KindValidation, "unclosed JSON object in planning output")
}
