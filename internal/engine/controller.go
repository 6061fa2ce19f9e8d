package engine

import (
	"context"
	"errors"

	"shopflow/internal/domain"
	"shopflow/internal/engine/guard"
	"shopflow/internal/engine/wferr"
	"shopflow/internal/repo"
)

// RequestStatusChange moves a task to the requested status on behalf of an
// actor. Requesting the current status is a no-op. Projects with workflow
// gating disabled skip transition lookup and guard evaluation entirely; the
// change still goes through the same atomic apply path.
func (e Engine) RequestStatusChange(ctx context.Context, taskID, requestedStatusID string, actor domain.Actor) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if requestedStatusID == t.StatusID {
		return t, nil
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	target, err := e.Repo.GetStatus(ctx, requestedStatusID)
	if err != nil {
		return domain.Task{}, err
	}
	if target.ProjectID != t.ProjectID {
		return domain.Task{}, wferr.Validationf("status %s belongs to a different project", requestedStatusID)
	}
	current, err := e.Repo.GetStatus(ctx, t.StatusID)
	if err != nil {
		return domain.Task{}, err
	}
	if p.WorkflowGated {
		tr, err := e.Repo.FindTransition(ctx, t.ProjectID, t.StatusID, requestedStatusID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Task{}, wferr.TransitionNotAllowedError{FromStatusID: t.StatusID, ToStatusID: requestedStatusID}
			}
			return domain.Task{}, err
		}
		facts, err := e.loadFacts(ctx, taskID)
		if err != nil {
			return domain.Task{}, err
		}
		if err := guard.Evaluate(tr, actor, facts); err != nil {
			return domain.Task{}, err
		}
	}
	return e.applyStatusChange(ctx, t, current, target, actor.UserID)
}

// loadFacts gathers the task-side guard inputs.
func (e Engine) loadFacts(ctx context.Context, taskID string) (guard.Facts, error) {
	count, err := e.Repo.CountAttachments(ctx, taskID)
	if err != nil {
		return guard.Facts{}, err
	}
	approvals, err := e.Repo.ListApprovals(ctx, taskID)
	if err != nil {
		return guard.Facts{}, err
	}
	return guard.Facts{AttachmentCount: count, Approvals: approvals}, nil
}

// applyStatusChange lands the new status, the completedAt bookkeeping, and
// the history row as one transaction, conditional on the version token the
// task was read at. Entering a final status stamps completedAt; leaving one
// clears it.
func (e Engine) applyStatusChange(ctx context.Context, t domain.Task, from, to domain.Status, actorID string) (domain.Task, error) {
	now := e.nowString()
	var completedAt *string
	if to.IsFinal {
		if t.CompletedAt != nil && from.IsFinal {
			completedAt = t.CompletedAt
		} else {
			completedAt = &now
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.UpdateTaskStatusTx(ctx, tx, t.ID, to.ID, completedAt, now, t.Version)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, wferr.VersionConflictError{TaskID: t.ID, Version: t.Version}
	}
	if err := e.History.StatusChanged(ctx, tx, t.ID, actorID, from.ID, to.ID); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.StatusID = to.ID
	t.Version++
	t.UpdatedAt = now
	t.CompletedAt = completedAt
	return t, nil
}
