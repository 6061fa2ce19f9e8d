// Package engine implements the task workflow engine: project and task
// lifecycle, the per-project status graph, and the guarded status changes
// that move tasks through it.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shopflow/internal/config"
	"shopflow/internal/domain"
	"shopflow/internal/engine/wferr"
	"shopflow/internal/history"
	"shopflow/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	History history.Writer
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		History: history.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.New().String()
}

// ResolveActor builds the actor descriptor for a user within a project from
// the membership table. Non-members get NoProjectAccess.
func (e Engine) ResolveActor(ctx context.Context, projectID, userID string) (domain.Actor, error) {
	role, err := e.Repo.GetMemberRole(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, wferr.PermissionError{Reason: wferr.NoProjectAccess}
		}
		return domain.Actor{}, err
	}
	return domain.Actor{UserID: userID, Role: role}, nil
}

func requireWorkflowManager(actor domain.Actor) error {
	if actor.Admin || actor.Role.CanManageWorkflow() {
		return nil
	}
	return wferr.PermissionError{Reason: wferr.OnlyOwnerAdminManage}
}

func requireEditor(actor domain.Actor) error {
	if !actor.Admin && actor.Role == domain.RoleViewer {
		return wferr.PermissionError{Reason: wferr.ViewerCannotEdit}
	}
	return nil
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID            string
	Name          string
	Description   string
	OwnerID       string
	WorkflowGated bool
}

// CreateProject inserts the project, enrolls the owner, and seeds the
// workflow template from config, all in one transaction.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if opts.Name == "" {
		return domain.Project{}, wferr.Validationf("project name is required")
	}
	if opts.OwnerID == "" {
		return domain.Project{}, wferr.Validationf("project owner is required")
	}
	if opts.ID == "" {
		opts.ID = newID()
	}
	now := e.nowString()
	p := domain.Project{
		ID:            opts.ID,
		Name:          opts.Name,
		Description:   opts.Description,
		OwnerID:       opts.OwnerID,
		WorkflowGated: opts.WorkflowGated,
		CreatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertMemberTx(ctx, tx, domain.Member{
		ProjectID: p.ID,
		UserID:    p.OwnerID,
		Role:      domain.RoleOwner,
		CreatedAt: now,
	}); err != nil {
		return domain.Project{}, fmt.Errorf("enroll owner: %w", err)
	}
	if err := e.seedWorkflowTx(ctx, tx, p.ID, now); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// seedWorkflowTx materializes the config workflow template into concrete
// status and transition rows for a new project.
func (e Engine) seedWorkflowTx(ctx context.Context, tx *sql.Tx, projectID, now string) error {
	statusIDs := make(map[string]string, len(e.Config.Workflow.Statuses))
	for i, tpl := range e.Config.Workflow.Statuses {
		s := domain.Status{
			ID:         newID(),
			ProjectID:  projectID,
			Name:       tpl.Name,
			Color:      tpl.Color,
			OrderIndex: i,
			IsInitial:  tpl.IsInitial,
			IsFinal:    tpl.IsFinal,
			IsSystem:   tpl.IsSystem,
			CreatedAt:  now,
		}
		if err := e.Repo.InsertStatusTx(ctx, tx, s); err != nil {
			return fmt.Errorf("seed status %q: %w", tpl.Name, err)
		}
		statusIDs[tpl.Name] = s.ID
	}
	for _, tpl := range e.Config.Workflow.Transitions {
		kind := domain.PermissionKind(tpl.Permission)
		if tpl.Permission == "" {
			kind = domain.PermissionOpen
		}
		tr := domain.Transition{
			ID:           newID(),
			ProjectID:    projectID,
			FromStatusID: statusIDs[tpl.From],
			ToStatusID:   statusIDs[tpl.To],
			Name:         tpl.Name,
			Permission: domain.PermissionRule{
				Kind:  kind,
				Roles: tpl.Roles,
				Users: tpl.Users,
			},
			IsBidirectional:    tpl.Bidirectional,
			RequiresAttachment: tpl.RequiresAttachment,
			RequiresApprovals:  tpl.RequiredApprovals > 0,
			RequiredApprovals:  tpl.RequiredApprovals,
			RequiredApprovers:  tpl.RequiredApprovers,
			AutoTransition:     tpl.Auto,
			Priority:           tpl.Priority,
			CreatedAt:          now,
		}
		if err := e.Repo.InsertTransitionTx(ctx, tx, tr); err != nil {
			return fmt.Errorf("seed transition %q: %w", tpl.Name, err)
		}
	}
	return nil
}

// ProjectUpdateOptions are optional project field updates; nil means
// unchanged.
type ProjectUpdateOptions struct {
	Name          *string
	Description   *string
	WorkflowGated *bool
}

func (e Engine) UpdateProject(ctx context.Context, projectID string, actor domain.Actor, opts ProjectUpdateOptions) (domain.Project, error) {
	if err := requireWorkflowManager(actor); err != nil {
		return domain.Project{}, err
	}
	if opts.Name != nil && *opts.Name == "" {
		return domain.Project{}, wferr.Validationf("project name cannot be empty")
	}
	if err := e.Repo.UpdateProject(ctx, projectID, opts.Name, opts.Description, opts.WorkflowGated); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

func (e Engine) DeleteProject(ctx context.Context, projectID string, actor domain.Actor) error {
	if !actor.Admin && actor.Role != domain.RoleOwner {
		return wferr.PermissionError{Reason: wferr.OnlyOwnerAdminManage}
	}
	return e.Repo.DeleteProject(ctx, projectID)
}

// TransferOwnership moves ownership to another member and demotes the
// previous owner to admin.
func (e Engine) TransferOwnership(ctx context.Context, projectID, newOwnerID string, actor domain.Actor) error {
	if !actor.Admin && actor.Role != domain.RoleOwner {
		return wferr.PermissionError{Reason: wferr.OnlyOwnerAdminManage}
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetMemberRole(ctx, projectID, newOwnerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return wferr.Validationf("user %s is not a member of project %s", newOwnerID, projectID)
		}
		return err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.TransferOwnershipTx(ctx, tx, projectID, newOwnerID); err != nil {
		return err
	}
	if err := e.Repo.UpsertMemberTx(ctx, tx, domain.Member{
		ProjectID: projectID,
		UserID:    newOwnerID,
		Role:      domain.RoleOwner,
		AddedBy:   actor.UserID,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if p.OwnerID != newOwnerID {
		if err := e.Repo.UpsertMemberTx(ctx, tx, domain.Member{
			ProjectID: projectID,
			UserID:    p.OwnerID,
			Role:      domain.RoleAdmin,
			AddedBy:   actor.UserID,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddMember enrolls or re-roles a user in a project.
func (e Engine) AddMember(ctx context.Context, projectID, userID string, role domain.Role, actor domain.Actor) (domain.Member, error) {
	if err := requireWorkflowManager(actor); err != nil {
		return domain.Member{}, err
	}
	if !domain.ValidRole(role) {
		return domain.Member{}, wferr.Validationf("unknown role %q", role)
	}
	if role == domain.RoleOwner {
		return domain.Member{}, wferr.Validationf("use ownership transfer to assign the owner role")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Member{}, err
	}
	m := domain.Member{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		AddedBy:   actor.UserID,
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertMemberTx(ctx, tx, m); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

func (e Engine) RemoveMember(ctx context.Context, projectID, userID string, actor domain.Actor) error {
	if err := requireWorkflowManager(actor); err != nil {
		return err
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p.OwnerID == userID {
		return wferr.Validationf("cannot remove the project owner; transfer ownership first")
	}
	return e.Repo.RemoveMember(ctx, projectID, userID)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	AssigneeID  string
	Priority    string
}

// CreateTask places a new task in the project's initial status.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions, actor domain.Actor) (domain.Task, error) {
	if err := requireEditor(actor); err != nil {
		return domain.Task{}, err
	}
	if opts.Title == "" {
		return domain.Task{}, wferr.Validationf("task title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, wferr.Validationf("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	initial, err := e.Repo.InitialStatus(ctx, opts.ProjectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, wferr.Validationf("project %s has no initial status", opts.ProjectID)
		}
		return domain.Task{}, err
	}
	if opts.ID == "" {
		opts.ID = newID()
	}
	now := e.nowString()
	t := domain.Task{
		ID:          opts.ID,
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		StatusID:    initial.ID,
		Priority:    opts.Priority,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.AssigneeID != "" {
		t.AssigneeID = &opts.AssigneeID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.History.Append(ctx, tx, t.ID, actor.UserID, domain.ActionCreated, "", "", t.Title); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions are optional non-status task updates; nil means
// unchanged. Status changes go through RequestStatusChange.
type TaskUpdateOptions struct {
	Title       *string
	Description *string
	AssigneeID  *string
	Priority    *string
}

func (e Engine) UpdateTask(ctx context.Context, taskID string, actor domain.Actor, opts TaskUpdateOptions) (domain.Task, error) {
	if err := requireEditor(actor); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Title != nil && *opts.Title == "" {
		return domain.Task{}, wferr.Validationf("task title cannot be empty")
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskTx(ctx, tx, taskID, now, repo.TaskPatch{
		Title:       opts.Title,
		Description: opts.Description,
		AssigneeID:  opts.AssigneeID,
		Priority:    opts.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	if opts.AssigneeID != nil {
		old := ""
		if t.AssigneeID != nil {
			old = *t.AssigneeID
		}
		if *opts.AssigneeID != old {
			if err := e.History.Append(ctx, tx, taskID, actor.UserID, domain.ActionAssigned, "assignee_id", old, *opts.AssigneeID); err != nil {
				return domain.Task{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

func (e Engine) DeleteTask(ctx context.Context, taskID string, actor domain.Actor) error {
	if err := requireWorkflowManager(actor); err != nil {
		return err
	}
	return e.Repo.DeleteTask(ctx, taskID)
}

// AddAttachment records attachment metadata against a task. Binary storage
// lives elsewhere; the engine only tracks existence.
func (e Engine) AddAttachment(ctx context.Context, taskID, fileName string, actor domain.Actor) (domain.Attachment, error) {
	if err := requireEditor(actor); err != nil {
		return domain.Attachment{}, err
	}
	if fileName == "" {
		return domain.Attachment{}, wferr.Validationf("file name is required")
	}
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:         newID(),
		TaskID:     taskID,
		FileName:   fileName,
		UploadedBy: actor.UserID,
		CreatedAt:  e.nowString(),
	}
	if err := e.Repo.InsertAttachment(ctx, a); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}
