package engine

import (
	"context"

	"shopflow/internal/domain"
	"shopflow/internal/engine/wferr"
	"shopflow/internal/repo"
)

// StatusCreateOptions are parameters for creating a workflow status.
type StatusCreateOptions struct {
	ProjectID  string
	Name       string
	Color      string
	OrderIndex int
	IsInitial  bool
	IsFinal    bool
}

// CreateStatus adds a status to a project's workflow. When the new status is
// marked initial, the previous initial status loses the flag in the same
// transaction.
func (e Engine) CreateStatus(ctx context.Context, opts StatusCreateOptions, actor domain.Actor) (domain.Status, error) {
	if err := requireWorkflowManager(actor); err != nil {
		return domain.Status{}, err
	}
	if opts.Name == "" {
		return domain.Status{}, wferr.Validationf("status name is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Status{}, err
	}
	s := domain.Status{
		ID:         newID(),
		ProjectID:  opts.ProjectID,
		Name:       opts.Name,
		Color:      opts.Color,
		OrderIndex: opts.OrderIndex,
		IsInitial:  opts.IsInitial,
		IsFinal:    opts.IsFinal,
		CreatedAt:  e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Status{}, err
	}
	defer tx.Rollback()
	if opts.IsInitial {
		if err := e.Repo.ClearInitialStatusTx(ctx, tx, opts.ProjectID); err != nil {
			return domain.Status{}, err
		}
	}
	if err := e.Repo.InsertStatusTx(ctx, tx, s); err != nil {
		return domain.Status{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Status{}, err
	}
	return s, nil
}

// UpdateStatus edits a status. Toggling IsInitial on clears the flag from
// every other status of the project first.
func (e Engine) UpdateStatus(ctx context.Context, statusID string, actor domain.Actor, patch repo.StatusPatch) (domain.Status, error) {
	if err := requireWorkflowManager(actor); err != nil {
		return domain.Status{}, err
	}
	s, err := e.Repo.GetStatus(ctx, statusID)
	if err != nil {
		return domain.Status{}, err
	}
	if patch.Name != nil && *patch.Name == "" {
		return domain.Status{}, wferr.Validationf("status name cannot be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Status{}, err
	}
	defer tx.Rollback()
	if patch.IsInitial != nil && *patch.IsInitial {
		if err := e.Repo.ClearInitialStatusTx(ctx, tx, s.ProjectID); err != nil {
			return domain.Status{}, err
		}
	}
	if err := e.Repo.UpdateStatusTx(ctx, tx, statusID, patch); err != nil {
		return domain.Status{}, err
	}
	updated, err := e.Repo.GetStatusTx(ctx, tx, statusID)
	if err != nil {
		return domain.Status{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Status{}, err
	}
	return updated, nil
}

// DeleteStatus removes a status and the transitions touching it. System
// statuses and statuses still holding tasks are protected, in that order,
// before the role check.
func (e Engine) DeleteStatus(ctx context.Context, statusID string, actor domain.Actor) error {
	s, err := e.Repo.GetStatus(ctx, statusID)
	if err != nil {
		return err
	}
	if s.IsSystem {
		return wferr.PermissionError{Reason: wferr.SystemStatusProtected}
	}
	count, err := e.Repo.CountTasksInStatus(ctx, statusID)
	if err != nil {
		return err
	}
	if count > 0 {
		return wferr.StatusInUseError{StatusID: statusID, TaskCount: count}
	}
	if err := requireWorkflowManager(actor); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTransitionsTouchingStatusTx(ctx, tx, statusID); err != nil {
		return err
	}
	if err := e.Repo.DeleteStatusTx(ctx, tx, statusID); err != nil {
		return err
	}
	return tx.Commit()
}
