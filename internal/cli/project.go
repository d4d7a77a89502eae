package cli

import (
	"context"
	"os"

	"github.com/termcoder/tc/internal/config"
	"github.com/termcoder/tc/internal/domain"
	"github.com/termcoder/tc/internal/persistence"
)

// projectContext bundles what every command needs: the open store, the
// project row, and the directory layout.
type projectContext struct {
	store   *persistence.Store
	project domain.Project
	paths   config.ProjectPaths
}

// openProject opens the store in the current directory. Returns errNoProject
// when there is no initialized .tc tree here.
func openProject(ctx context.Context) (*projectContext, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	paths := config.Paths(cwd)
	if !paths.Exists() {
		return nil, errNoProject
	}
	store, err := persistence.Open(ctx, paths.DBPath)
	if err != nil {
		return nil, err
	}
	project, err := store.CurrentProject(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &projectContext{store: store, project: project, paths: paths}, nil
}

func (pc *projectContext) close() {
	pc.store.Close()
}
