package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"shopflow/internal/domain"
	"shopflow/internal/engine"
	"shopflow/internal/repo"
)

// taskActor loads the task and resolves the caller's actor within the task's
// project in one step.
func taskActor(ctx context.Context, e engine.Engine, taskID string) (domain.Task, domain.Actor, huma.StatusError) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, domain.Actor{}, handleError(err)
	}
	actor, actorErr := resolveActor(ctx, e, t.ProjectID)
	if actorErr != nil {
		return domain.Task{}, domain.Actor{}, actorErr
	}
	return t, actor, nil
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "Create a task",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, actorErr := resolveActor(ctx, e, input.ProjectID)
		if actorErr != nil {
			return nil, actorErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			AssigneeID:  stringOrEmpty(input.Body.AssigneeID),
			Priority:    stringOrEmpty(input.Body.Priority),
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		StatusID   string `query:"status_id"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if _, actorErr := resolveActor(ctx, e, input.ProjectID); actorErr != nil {
			return nil, actorErr
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:  input.ProjectID,
			StatusID:   input.StatusID,
			AssigneeID: input.AssigneeID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get a task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, _, actorErr := taskActor(ctx, e, input.TaskID)
		if actorErr != nil {
			return nil, actorErr
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		_, actor, actorErr := taskActor(ctx, e, input.TaskID)
		if actorErr != nil {
			return nil, actorErr
		}
		t, err := e.UpdateTask(ctx, input.TaskID, actor, engine.TaskUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			AssigneeID:  input.Body.AssigneeID,
			Priority:    input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete a task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		_, actor, actorErr := taskActor(ctx, e, input.TaskID)
		if actorErr != nil {
			return nil, actorErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Request a status change",
		Description: "Moves the task to the requested status. On gated projects the move must match a transition and satisfy its guards.",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
			http.StatusConflict, http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   ChangeStatusRequest `json:"body"`
	}) (*struct {
		Body ChangeStatusResponse `json:"body"`
	}, error) {
		_, actor, actorErr := taskActor(ctx, e, input.TaskID)
		if actorErr != nil {
			return nil, actorErr
		}
		t, err := e.RequestStatusChange(ctx, input.TaskID, input.Body.StatusID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChangeStatusResponse `json:"body"`
		}{Body: ChangeStatusResponse{Task: taskResponse(t)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-attachment",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/attachments",
		Summary:     "Attach a file reference to a task",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   AddAttachmentRequest `json:"body"`
	}) (*struct {
		Body AttachmentResponse `json:"body"`
	}, error) {
		_, actor, actorErr := taskActor(ctx, e, input.TaskID)
		if actorErr != nil {
			return nil, actorErr
		}
		a, err := e.AddAttachment(ctx, input.TaskID, input.Body.FileName, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentResponse `json:"body"`
		}{Body: attachmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attachments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/attachments",
		Summary:     "List task attachments",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []AttachmentResponse `json:"body"`
	}, error) {
		if _, _, actorErr := taskActor(ctx, e, input.TaskID); actorErr != nil {
			return nil, actorErr
		}
		items, err := e.Repo.ListAttachments(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AttachmentResponse, 0, len(items))
		for _, a := range items {
			res = append(res, attachmentResponse(a))
		}
		return &struct {
			Body []AttachmentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-history",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/history",
		Summary:     "List task history",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		if _, _, actorErr := taskActor(ctx, e, input.TaskID); actorErr != nil {
			return nil, actorErr
		}
		entries, err := e.Repo.ListHistory(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]HistoryEntryResponse, 0, len(entries))
		for _, h := range entries {
			res = append(res, historyResponse(h))
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-approval",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approvals",
		Summary:     "Record an approval on a task",
		Description: "Adds an approval and re-evaluates automatic transitions out of the task's current status.",
		Errors: []int{
			http.StatusBadRequest, http.StatusUnauthorized,
			http.StatusForbidden, http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"task_id"`
		Body   AddApprovalRequest `json:"body"`
	}) (*struct {
		Body AddApprovalResponse `json:"body"`
	}, error) {
		before, actor, actorErr := taskActor(ctx, e, input.TaskID)
		if actorErr != nil {
			return nil, actorErr
		}
		a, err := e.AddApproval(ctx, input.TaskID, input.Body.Comment, actor)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AddApprovalResponse `json:"body"`
		}{Body: AddApprovalResponse{
			Approval:      approvalResponse(a),
			AutoTriggered: t.StatusID != before.StatusID,
			Task:          taskResponse(t),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/approvals",
		Summary:     "List task approvals",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body []ApprovalResponse `json:"body"`
	}, error) {
		if _, _, actorErr := taskActor(ctx, e, input.TaskID); actorErr != nil {
			return nil, actorErr
		}
		items, err := e.Repo.ListApprovals(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ApprovalResponse, 0, len(items))
		for _, a := range items {
			res = append(res, approvalResponse(a))
		}
		return &struct {
			Body []ApprovalResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-approvals",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/approvals",
		Summary:     "Withdraw the caller's approvals on a task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body struct {
			Removed int64 `json:"removed"`
		} `json:"body"`
	}, error) {
		_, actor, actorErr := taskActor(ctx, e, input.TaskID)
		if actorErr != nil {
			return nil, actorErr
		}
		n, err := e.RemoveApproval(ctx, input.TaskID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Removed int64 `json:"removed"`
			} `json:"body"`
		}{}
		out.Body.Removed = n
		return out, nil
	})
}
