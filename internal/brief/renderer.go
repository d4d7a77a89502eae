// Package brief renders the per-task prompt handed to the Agent. Rendering
// is deterministic for given inputs; the template set is fixed.
package brief

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/termcoder/tc/internal/domain"
)

//go:embed templates/*.md.tmpl
var templateFS embed.FS

// CompletedWork summarizes one finished dependency for the brief.
type CompletedWork struct {
	Name         string
	Summary      string
	FilesChanged []string
}

// Data is everything a brief template can reference.
type Data struct {
	Task            domain.Task
	Phase           domain.Phase
	TotalPhases     int
	ProjectName     string
	ProjectOverview string
	TaskID          string
	CompletedWork   []CompletedWork
	ReviewFindings  []string
	ReviewedTask    string
	RetryContext    string
	ControlNote     string
}

// Renderer renders the fixed template set.
type Renderer struct {
	templates *template.Template
}

// New parses the embedded templates once.
func New() (*Renderer, error) {
	t, err := template.New("brief").Funcs(template.FuncMap{
		"join": strings.Join,
	}).ParseFS(templateFS, "templates/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing brief templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

// RenderCoding renders the brief for a coding task. A non-empty RetryContext
// switches in the retry preamble.
func (r *Renderer) RenderCoding(d Data) (string, error) {
	return r.render("coding.md.tmpl", d)
}

// RenderReview renders the brief for a review task.
func (r *Renderer) RenderReview(d Data) (string, error) {
	return r.render("review.md.tmpl", d)
}

// RenderPlanning renders the planning prompt from PRD content.
func (r *Renderer) RenderPlanning(projectName, prdContent string) (string, error) {
	return r.render("planning.md.tmpl", planningData{
		ProjectName: projectName,
		PRDContent:  prdContent,
	})
}

// RenderTask picks the template by task kind.
func (r *Renderer) RenderTask(d Data) (string, error) {
	if d.Task.Kind == domain.KindReview {
		return r.RenderReview(d)
	}
	return r.RenderCoding(d)
}

type planningData struct {
	ProjectName string
	PRDContent  string
}

func (r *Renderer) render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := r.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return sb.String(), nil
}
