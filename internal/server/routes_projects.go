package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopflow/internal/domain"
	"shopflow/internal/engine"
)

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-project",
		Method:      http.MethodPost,
		Path:        "/projects",
		Summary:     "Create a project",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gated := true
		if input.Body.WorkflowGated != nil {
			gated = *input.Body.WorkflowGated
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:            stringOrEmpty(input.Body.ID),
			Name:          input.Body.Name,
			Description:   stringOrEmpty(input.Body.Description),
			OwnerID:       principal.UserID,
			WorkflowGated: gated,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		projects, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(projects)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get a project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if _, actorErr := resolveActor(ctx, e, input.ProjectID); actorErr != nil {
			return nil, actorErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update a project",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, actor, engine.ProjectUpdateOptions{
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			WorkflowGated: input.Body.WorkflowGated,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete a project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-ownership",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/transfer-ownership",
		Summary:     "Transfer project ownership",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      TransferOwnershipRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		if err := e.TransferOwnership(ctx, input.ProjectID, input.Body.NewOwnerID, actor); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []MemberResponse `json:"body"`
	}, error) {
		if _, actorErr := resolveActor(ctx, e, input.ProjectID); actorErr != nil {
			return nil, actorErr
		}
		members, err := e.Repo.ListMembers(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]MemberResponse, 0, len(members))
		for _, m := range members {
			res = append(res, memberResponse(m))
		}
		return &struct {
			Body []MemberResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-member",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/members",
		Summary:     "Add or update a project member",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      AddMemberRequest `json:"body"`
	}) (*struct {
		Body MemberResponse `json:"body"`
	}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		m, err := e.AddMember(ctx, input.ProjectID, input.Body.UserID, domain.Role(input.Body.Role), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberResponse `json:"body"`
		}{Body: memberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-member",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/members/{user_id}",
		Summary:     "Remove a project member",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		UserID    string `path:"user_id"`
	}) (*struct{}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		if err := e.RemoveMember(ctx, input.ProjectID, input.UserID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
