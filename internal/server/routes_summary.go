package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"shopflow/internal/engine"
	"shopflow/internal/repo"
)

// registerSummary exposes a per-project rollup. The counters load
// concurrently and a failed section is omitted instead of failing the
// report.
func registerSummary(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-summary",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/summary",
		Summary:     "Project summary",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		if _, actorErr := resolveActor(ctx, e, input.ProjectID); actorErr != nil {
			return nil, actorErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}

		resp := SummaryResponse{Project: projectResponse(p)}
		var mu sync.Mutex
		var wg sync.WaitGroup

		wg.Add(4)
		go func() {
			defer wg.Done()
			byStatus, err := e.Repo.CountTasksByStatus(ctx, input.ProjectID)
			if err != nil {
				return
			}
			mu.Lock()
			resp.TasksByState = byStatus
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			members, err := e.Repo.ListMembers(ctx, input.ProjectID)
			if err != nil {
				return
			}
			n := len(members)
			mu.Lock()
			resp.MemberCount = &n
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			statuses, err := e.Repo.ListStatuses(ctx, input.ProjectID)
			if err != nil {
				return
			}
			n := len(statuses)
			mu.Lock()
			resp.StatusCount = &n
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			open, err := countOpenTasks(ctx, e.Repo, input.ProjectID)
			if err != nil {
				return
			}
			mu.Lock()
			resp.OpenTasks = &open
			mu.Unlock()
		}()
		wg.Wait()

		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: resp}, nil
	})
}

// countOpenTasks counts tasks sitting in non-final statuses.
func countOpenTasks(ctx context.Context, r repo.Repo, projectID string) (int, error) {
	statuses, err := r.ListStatuses(ctx, projectID)
	if err != nil {
		return 0, err
	}
	byStatus, err := r.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return 0, err
	}
	open := 0
	for _, s := range statuses {
		if !s.IsFinal {
			open += byStatus[s.ID]
		}
	}
	return open, nil
}
