package app

import (
	"context"
	"errors"
	"fmt"

	"shopflow/internal/domain"
	"shopflow/internal/engine"
	"shopflow/internal/repo"
)

// ResolveProject picks the active project: the override when given,
// otherwise the only project in the workspace. More than one project with no
// override is an error pointing at --project.
func ResolveProject(ctx context.Context, r repo.Repo, projectOverride string) (domain.Project, error) {
	if projectOverride != "" {
		return r.GetProject(ctx, projectOverride)
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, fmt.Errorf("project not specified; use --project")
		}
		return domain.Project{}, err
	}
	return p, nil
}

// ResolveActor resolves the CLI actor within a project. An unknown actor id
// gets NoProjectAccess from the engine, same as over HTTP.
func ResolveActor(ctx context.Context, e engine.Engine, projectID, actorID string) (domain.Actor, error) {
	if actorID == "" {
		actorID = "local-user"
	}
	return e.ResolveActor(ctx, projectID, actorID)
}
