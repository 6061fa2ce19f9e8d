package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopflow/internal/engine"
	"shopflow/internal/repo"
)

func registerStatuses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/statuses",
		Summary:     "List workflow statuses",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []StatusResponse `json:"body"`
	}, error) {
		if _, actorErr := resolveActor(ctx, e, input.ProjectID); actorErr != nil {
			return nil, actorErr
		}
		statuses, err := e.Repo.ListStatuses(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []StatusResponse `json:"body"`
		}{Body: mapStatuses(statuses)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/statuses",
		Summary:     "Create a workflow status",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateStatusRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		s, err := e.CreateStatus(ctx, engine.StatusCreateOptions{
			ProjectID:  input.ProjectID,
			Name:       input.Body.Name,
			Color:      input.Body.Color,
			OrderIndex: input.Body.OrderIndex,
			IsInitial:  input.Body.IsInitial,
			IsFinal:    input.Body.IsFinal,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-status",
		Method:      http.MethodPatch,
		Path:        "/statuses/{status_id}",
		Summary:     "Update a workflow status",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		StatusID string              `path:"status_id"`
		Body     UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		existing, err := e.Repo.GetStatus(ctx, input.StatusID)
		if err != nil {
			return nil, handleError(err)
		}
		actor, actorErr := resolveActor(ctx, e, existing.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		s, err := e.UpdateStatus(ctx, input.StatusID, actor, repo.StatusPatch{
			Name:       input.Body.Name,
			Color:      input.Body.Color,
			OrderIndex: input.Body.OrderIndex,
			IsInitial:  input.Body.IsInitial,
			IsFinal:    input.Body.IsFinal,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-status",
		Method:      http.MethodDelete,
		Path:        "/statuses/{status_id}",
		Summary:     "Delete a workflow status",
		Errors: []int{
			http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		StatusID string `path:"status_id"`
	}) (*struct{}, error) {
		existing, err := e.Repo.GetStatus(ctx, input.StatusID)
		if err != nil {
			return nil, handleError(err)
		}
		actor, actorErr := resolveActor(ctx, e, existing.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		if err := e.DeleteStatus(ctx, input.StatusID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/transitions",
		Summary:     "List workflow transitions",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []TransitionResponse `json:"body"`
	}, error) {
		if _, actorErr := resolveActor(ctx, e, input.ProjectID); actorErr != nil {
			return nil, actorErr
		}
		transitions, err := e.Repo.ListTransitions(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TransitionResponse `json:"body"`
		}{Body: mapTransitions(transitions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-transition",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/transitions",
		Summary:     "Create a workflow transition",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      CreateTransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		tr, err := e.CreateTransition(ctx, engine.TransitionCreateOptions{
			ProjectID:          input.ProjectID,
			FromStatusID:       input.Body.FromStatusID,
			ToStatusID:         input.Body.ToStatusID,
			Name:               input.Body.Name,
			Permission:         permissionRuleFromRequest(input.Body.Permission),
			IsBidirectional:    input.Body.IsBidirectional,
			RequiresAttachment: input.Body.RequiresAttachment,
			RequiredApprovals:  input.Body.RequiredApprovals,
			RequiredApprovers:  input.Body.RequiredApprovers,
			AutoTransition:     input.Body.AutoTransition,
			Priority:           input.Body.Priority,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(tr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-transition",
		Method:      http.MethodPatch,
		Path:        "/transitions/{transition_id}",
		Summary:     "Update a workflow transition",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TransitionID string                  `path:"transition_id"`
		Body         UpdateTransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		existing, err := e.Repo.GetTransition(ctx, input.TransitionID)
		if err != nil {
			return nil, handleError(err)
		}
		actor, actorErr := resolveActor(ctx, e, existing.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		opts := engine.TransitionUpdateOptions{
			Name:               input.Body.Name,
			IsBidirectional:    input.Body.IsBidirectional,
			RequiresAttachment: input.Body.RequiresAttachment,
			RequiredApprovals:  input.Body.RequiredApprovals,
			RequiredApprovers:  input.Body.RequiredApprovers,
			AutoTransition:     input.Body.AutoTransition,
			Priority:           input.Body.Priority,
		}
		if input.Body.Permission != nil {
			rule := permissionRuleFromRequest(input.Body.Permission)
			opts.Permission = &rule
		}
		tr, err := e.UpdateTransition(ctx, input.TransitionID, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(tr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-transition",
		Method:      http.MethodDelete,
		Path:        "/transitions/{transition_id}",
		Summary:     "Delete a workflow transition",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TransitionID string `path:"transition_id"`
	}) (*struct{}, error) {
		existing, err := e.Repo.GetTransition(ctx, input.TransitionID)
		if err != nil {
			return nil, handleError(err)
		}
		actor, actorErr := resolveActor(ctx, e, existing.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		if err := e.DeleteTransition(ctx, input.TransitionID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
