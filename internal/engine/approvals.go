package engine

import (
	"context"

	"shopflow/internal/domain"
	"shopflow/internal/engine/wferr"
)

// AddApproval records an approval on a task and, once the row is committed,
// re-evaluates the task's automatic transitions. Approvals are not unique
// per user; each one counts toward the quorum.
func (e Engine) AddApproval(ctx context.Context, taskID, comment string, actor domain.Actor) (domain.Approval, error) {
	if !actor.Admin && actor.Role == domain.RoleViewer {
		return domain.Approval{}, wferr.PermissionError{Reason: wferr.ViewerCannotCreate}
	}
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.Approval{}, err
	}
	a := domain.Approval{
		ID:         newID(),
		TaskID:     taskID,
		UserID:     actor.UserID,
		Comment:    comment,
		ApprovedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Approval{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
		return domain.Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Approval{}, err
	}
	if _, err := e.EvaluateAuto(ctx, taskID); err != nil {
		return domain.Approval{}, err
	}
	return a, nil
}

// RemoveApproval deletes the actor's approval rows on a task. It never
// re-runs the automatic evaluator and never reverts a transition already
// taken on the strength of the removed approval. Returns the number of rows
// removed.
func (e Engine) RemoveApproval(ctx context.Context, taskID string, actor domain.Actor) (int64, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return 0, err
	}
	return e.Repo.DeleteApprovalsByAuthor(ctx, taskID, actor.UserID)
}
