package engine

import (
	"context"

	"shopflow/internal/domain"
	"shopflow/internal/engine/wferr"
	"shopflow/internal/repo"
)

// TransitionCreateOptions are parameters for creating a workflow transition.
type TransitionCreateOptions struct {
	ProjectID          string
	FromStatusID       string
	ToStatusID         string
	Name               string
	Permission         domain.PermissionRule
	IsBidirectional    bool
	RequiresAttachment bool
	RequiredApprovals  int
	RequiredApprovers  []string
	AutoTransition     bool
	Priority           int
}

// CreateTransition adds a guarded edge between two statuses of a project.
// Both endpoints must exist and belong to the transition's project.
func (e Engine) CreateTransition(ctx context.Context, opts TransitionCreateOptions, actor domain.Actor) (domain.Transition, error) {
	if err := requireWorkflowManager(actor); err != nil {
		return domain.Transition{}, err
	}
	if opts.Name == "" {
		return domain.Transition{}, wferr.Validationf("transition name is required")
	}
	if opts.RequiredApprovals < 0 {
		return domain.Transition{}, wferr.Validationf("required approvals cannot be negative")
	}
	if err := validatePermission(opts.Permission); err != nil {
		return domain.Transition{}, err
	}
	if err := e.checkEndpoints(ctx, opts.ProjectID, opts.FromStatusID, opts.ToStatusID); err != nil {
		return domain.Transition{}, err
	}
	if opts.Permission.Kind == "" {
		opts.Permission.Kind = domain.PermissionOpen
	}
	tr := domain.Transition{
		ID:                 newID(),
		ProjectID:          opts.ProjectID,
		FromStatusID:       opts.FromStatusID,
		ToStatusID:         opts.ToStatusID,
		Name:               opts.Name,
		Permission:         opts.Permission,
		IsBidirectional:    opts.IsBidirectional,
		RequiresAttachment: opts.RequiresAttachment,
		RequiresApprovals:  opts.RequiredApprovals > 0,
		RequiredApprovals:  opts.RequiredApprovals,
		RequiredApprovers:  opts.RequiredApprovers,
		AutoTransition:     opts.AutoTransition,
		Priority:           opts.Priority,
		CreatedAt:          e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTransitionTx(ctx, tx, tr); err != nil {
		return domain.Transition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transition{}, err
	}
	return tr, nil
}

// TransitionUpdateOptions are optional transition updates; nil means
// unchanged. Permission replaces the whole rule when set.
type TransitionUpdateOptions struct {
	Name               *string
	Permission         *domain.PermissionRule
	IsBidirectional    *bool
	RequiresAttachment *bool
	RequiredApprovals  *int
	RequiredApprovers  *[]string
	AutoTransition     *bool
	Priority           *int
}

func (e Engine) UpdateTransition(ctx context.Context, transitionID string, actor domain.Actor, opts TransitionUpdateOptions) (domain.Transition, error) {
	if err := requireWorkflowManager(actor); err != nil {
		return domain.Transition{}, err
	}
	if _, err := e.Repo.GetTransition(ctx, transitionID); err != nil {
		return domain.Transition{}, err
	}
	if opts.Permission != nil {
		if err := validatePermission(*opts.Permission); err != nil {
			return domain.Transition{}, err
		}
	}
	if opts.RequiredApprovals != nil && *opts.RequiredApprovals < 0 {
		return domain.Transition{}, wferr.Validationf("required approvals cannot be negative")
	}
	patch := toTransitionPatch(opts)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transition{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTransitionTx(ctx, tx, transitionID, patch); err != nil {
		return domain.Transition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Transition{}, err
	}
	return e.Repo.GetTransition(ctx, transitionID)
}

func (e Engine) DeleteTransition(ctx context.Context, transitionID string, actor domain.Actor) error {
	if err := requireWorkflowManager(actor); err != nil {
		return err
	}
	if _, err := e.Repo.GetTransition(ctx, transitionID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTransitionTx(ctx, tx, transitionID); err != nil {
		return err
	}
	return tx.Commit()
}

// checkEndpoints verifies both statuses exist and live in the given project.
func (e Engine) checkEndpoints(ctx context.Context, projectID, fromStatusID, toStatusID string) error {
	for _, id := range []string{fromStatusID, toStatusID} {
		s, err := e.Repo.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		if s.ProjectID != projectID {
			return wferr.Validationf("status %s belongs to project %s, not %s", id, s.ProjectID, projectID)
		}
	}
	return nil
}

func validatePermission(rule domain.PermissionRule) error {
	switch rule.Kind {
	case "", domain.PermissionOpen:
		return nil
	case domain.PermissionRoles:
		for _, r := range rule.Roles {
			if !domain.ValidRole(r) {
				return wferr.Validationf("unknown role %q in permission rule", r)
			}
		}
		return nil
	case domain.PermissionUsers:
		return nil
	}
	return wferr.Validationf("unknown permission kind %q", rule.Kind)
}

func toTransitionPatch(opts TransitionUpdateOptions) (p repo.TransitionPatch) {
	p.Name = opts.Name
	p.Permission = opts.Permission
	p.IsBidirectional = opts.IsBidirectional
	p.RequiresAttachment = opts.RequiresAttachment
	p.RequiredApprovals = opts.RequiredApprovals
	if opts.RequiredApprovals != nil {
		required := *opts.RequiredApprovals > 0
		p.RequiresApprovals = &required
	}
	p.RequiredApprovers = opts.RequiredApprovers
	p.AutoTransition = opts.AutoTransition
	p.Priority = opts.Priority
	return p
}
