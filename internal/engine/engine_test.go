package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"shopflow/internal/config"
	"shopflow/internal/db"
	"shopflow/internal/domain"
	"shopflow/internal/engine"
	"shopflow/internal/engine/wferr"
	"shopflow/internal/migrate"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Project  domain.Project
	Statuses map[string]domain.Status
	Owner    domain.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvGated(t, true)
}

func newTestEnvGated(t *testing.T, gated bool) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{
		Name:          "Line 1",
		OwnerID:       "owner-1",
		WorkflowGated: gated,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	statuses, err := eng.Repo.ListStatuses(ctx, p.ID)
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	byName := make(map[string]domain.Status, len(statuses))
	for _, s := range statuses {
		byName[s.Name] = s
	}
	return testEnv{
		Engine:   eng,
		Ctx:      ctx,
		Project:  p,
		Statuses: byName,
		Owner:    domain.Actor{UserID: "owner-1", Role: domain.RoleOwner},
	}
}

func (env testEnv) addMember(t *testing.T, userID string, role domain.Role) domain.Actor {
	t.Helper()
	if _, err := env.Engine.AddMember(env.Ctx, env.Project.ID, userID, role, env.Owner); err != nil {
		t.Fatalf("add member %s: %v", userID, err)
	}
	return domain.Actor{UserID: userID, Role: role}
}

func (env testEnv) createTask(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: env.Project.ID,
		Title:     title,
	}, env.Owner)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) moveTask(t *testing.T, taskID, statusName string, actor domain.Actor) domain.Task {
	t.Helper()
	task, err := env.Engine.RequestStatusChange(env.Ctx, taskID, env.Statuses[statusName].ID, actor)
	if err != nil {
		t.Fatalf("move to %s: %v", statusName, err)
	}
	return task
}

func TestCreateProjectSeedsWorkflow(t *testing.T) {
	env := newTestEnv(t)

	if len(env.Statuses) != 5 {
		t.Fatalf("seeded %d statuses, want 5", len(env.Statuses))
	}
	initials := 0
	for _, s := range env.Statuses {
		if s.IsInitial {
			initials++
			if s.Name != "Backlog" {
				t.Fatalf("initial status = %s, want Backlog", s.Name)
			}
		}
	}
	if initials != 1 {
		t.Fatalf("found %d initial statuses, want 1", initials)
	}
	transitions, err := env.Engine.Repo.ListTransitions(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(transitions) != 4 {
		t.Fatalf("seeded %d transitions, want 4", len(transitions))
	}
	role, err := env.Engine.Repo.GetMemberRole(env.Ctx, env.Project.ID, "owner-1")
	if err != nil || role != domain.RoleOwner {
		t.Fatalf("owner enrollment: role=%s err=%v", role, err)
	}
}

func TestCreateTaskStartsInInitialStatus(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Weld frame")

	if task.StatusID != env.Statuses["Backlog"].ID {
		t.Fatalf("task status = %s, want Backlog", task.StatusID)
	}
	if task.Version != 0 {
		t.Fatalf("new task version = %d, want 0", task.Version)
	}
	entries, err := env.Engine.Repo.ListHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.ActionCreated {
		t.Fatalf("history = %+v, want one created entry", entries)
	}
}

func TestStatusChangeFollowsTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Weld frame")

	task = env.moveTask(t, task.ID, "In Progress", env.Owner)
	if task.Version != 1 {
		t.Fatalf("version after move = %d, want 1", task.Version)
	}

	// No edge connects In Progress and Done.
	_, err := env.Engine.RequestStatusChange(env.Ctx, task.ID, env.Statuses["Done"].ID, env.Owner)
	var tn wferr.TransitionNotAllowedError
	if !errors.As(err, &tn) {
		t.Fatalf("expected TransitionNotAllowedError, got %v", err)
	}
	if tn.FromStatusID != env.Statuses["In Progress"].ID || tn.ToStatusID != env.Statuses["Done"].ID {
		t.Fatalf("error endpoints = %+v", tn)
	}
}

func TestBidirectionalTransitionAllowsReverse(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Weld frame")

	task = env.moveTask(t, task.ID, "In Progress", env.Owner)
	task = env.moveTask(t, task.ID, "In Review", env.Owner)
	task = env.moveTask(t, task.ID, "In Progress", env.Owner)
	if task.StatusID != env.Statuses["In Progress"].ID {
		t.Fatalf("reverse move landed in %s", task.StatusID)
	}
}

func TestRoleGatedTransition(t *testing.T) {
	env := newTestEnv(t)
	member := env.addMember(t, "member-1", domain.RoleMember)
	task := env.createTask(t, "Weld frame")
	task = env.moveTask(t, task.ID, "In Progress", member)
	task = env.moveTask(t, task.ID, "In Review", member)

	// "Approve and close" admits owner and admin only.
	_, err := env.Engine.RequestStatusChange(env.Ctx, task.ID, env.Statuses["Done"].ID, member)
	var pe wferr.PermissionError
	if !errors.As(err, &pe) || pe.Reason != wferr.InsufficientRole {
		t.Fatalf("expected InsufficientRole, got %v", err)
	}

	task = env.moveTask(t, task.ID, "Done", env.Owner)
	if task.CompletedAt == nil {
		t.Fatal("entering a final status must stamp completed_at")
	}
}

func TestCompletedAtClearsWhenLeavingFinal(t *testing.T) {
	env := newTestEnvGated(t, false)
	task := env.createTask(t, "Weld frame")

	task = env.moveTask(t, task.ID, "Done", env.Owner)
	if task.CompletedAt == nil {
		t.Fatal("completed_at not set on final status")
	}
	task = env.moveTask(t, task.ID, "Backlog", env.Owner)
	if task.CompletedAt != nil {
		t.Fatal("completed_at must clear when leaving a final status")
	}
}

func TestUngatedProjectSkipsGuards(t *testing.T) {
	env := newTestEnvGated(t, false)
	viewer := env.addMember(t, "viewer-1", domain.RoleViewer)
	task := env.createTask(t, "Weld frame")

	// No transition connects Backlog and Done, and the seeded edge into
	// Done is role-gated; with gating off both are ignored.
	task, err := env.Engine.RequestStatusChange(env.Ctx, task.ID, env.Statuses["Done"].ID, viewer)
	if err != nil {
		t.Fatalf("ungated move: %v", err)
	}
	if task.StatusID != env.Statuses["Done"].ID {
		t.Fatalf("landed in %s, want Done", task.StatusID)
	}
}

func TestStatusChangeRejectsForeignStatus(t *testing.T) {
	env := newTestEnvGated(t, false)
	other, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Name:    "Line 2",
		OwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("create second project: %v", err)
	}
	foreign, err := env.Engine.Repo.InitialStatus(env.Ctx, other.ID)
	if err != nil {
		t.Fatalf("initial status: %v", err)
	}
	task := env.createTask(t, "Weld frame")
	_, err = env.Engine.RequestStatusChange(env.Ctx, task.ID, foreign.ID, env.Owner)
	var ve wferr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for foreign status, got %v", err)
	}
}

func TestSameStatusIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Weld frame")

	task2, err := env.Engine.RequestStatusChange(env.Ctx, task.ID, task.StatusID, env.Owner)
	if err != nil {
		t.Fatalf("no-op move: %v", err)
	}
	if task2.Version != task.Version {
		t.Fatal("no-op move must not bump the version")
	}
	entries, err := env.Engine.Repo.ListHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	for _, h := range entries {
		if h.Action == domain.ActionStatusChanged {
			t.Fatal("no-op move must not write history")
		}
	}
}

func TestVersionTokenGuardsConcurrentWrites(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "Weld frame")
	env.moveTask(t, task.ID, "In Progress", env.Owner)

	// A writer still holding version 0 loses.
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	ok, err := env.Engine.Repo.UpdateTaskStatusTx(env.Ctx, tx, task.ID, env.Statuses["In Review"].ID, nil, "2024-01-01T00:00:01Z", 0)
	if err != nil {
		t.Fatalf("stale update: %v", err)
	}
	if ok {
		t.Fatal("stale version token must not win")
	}
}

func TestAttachmentGatedTransition(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTransition(env.Ctx, engine.TransitionCreateOptions{
		ProjectID:          env.Project.ID,
		FromStatusID:       env.Statuses["Backlog"].ID,
		ToStatusID:         env.Statuses["Cancelled"].ID,
		Name:               "Cancel with evidence",
		RequiresAttachment: true,
	}, env.Owner); err != nil {
		t.Fatalf("create transition: %v", err)
	}
	task := env.createTask(t, "Weld frame")

	_, err := env.Engine.RequestStatusChange(env.Ctx, task.ID, env.Statuses["Cancelled"].ID, env.Owner)
	var ar wferr.AttachmentRequiredError
	if !errors.As(err, &ar) {
		t.Fatalf("expected AttachmentRequiredError, got %v", err)
	}

	if _, err := env.Engine.AddAttachment(env.Ctx, task.ID, "defect-photo.jpg", env.Owner); err != nil {
		t.Fatalf("add attachment: %v", err)
	}
	if _, err := env.Engine.RequestStatusChange(env.Ctx, task.ID, env.Statuses["Cancelled"].ID, env.Owner); err != nil {
		t.Fatalf("gated move after attachment: %v", err)
	}
}

func TestApprovalQuorumFiresAutoTransition(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.addMember(t, "qa-1", domain.RoleMember)
	u2 := env.addMember(t, "qa-2", domain.RoleMember)
	if _, err := env.Engine.CreateTransition(env.Ctx, engine.TransitionCreateOptions{
		ProjectID:         env.Project.ID,
		FromStatusID:      env.Statuses["In Review"].ID,
		ToStatusID:        env.Statuses["Done"].ID,
		Name:              "Auto close on sign-off",
		RequiredApprovals: 2,
		RequiredApprovers: []string{"qa-1", "qa-2"},
		AutoTransition:    true,
	}, env.Owner); err != nil {
		t.Fatalf("create auto transition: %v", err)
	}

	task := env.createTask(t, "Weld frame")
	task = env.moveTask(t, task.ID, "In Progress", env.Owner)
	task = env.moveTask(t, task.ID, "In Review", env.Owner)

	if _, err := env.Engine.AddApproval(env.Ctx, task.ID, "looks good", u1); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.StatusID != env.Statuses["In Review"].ID {
		t.Fatal("one approval must not meet a quorum of two")
	}

	if _, err := env.Engine.AddApproval(env.Ctx, task.ID, "ship it", u2); err != nil {
		t.Fatalf("second approval: %v", err)
	}
	got, err = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.StatusID != env.Statuses["Done"].ID {
		t.Fatalf("quorum met but task still in %s", got.StatusID)
	}
	if got.CompletedAt == nil {
		t.Fatal("auto move into final status must stamp completed_at")
	}

	entries, err := env.Engine.Repo.ListHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Action != domain.ActionStatusChanged || last.ActorID != domain.SystemActorID {
		t.Fatalf("auto move must be recorded by the system actor, got %+v", last)
	}
}

func TestApprovalsWithoutApproverSetCountAnyone(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.addMember(t, "anyone-1", domain.RoleMember)
	if _, err := env.Engine.CreateTransition(env.Ctx, engine.TransitionCreateOptions{
		ProjectID:         env.Project.ID,
		FromStatusID:      env.Statuses["In Review"].ID,
		ToStatusID:        env.Statuses["Done"].ID,
		Name:              "Auto close",
		RequiredApprovals: 2,
		AutoTransition:    true,
	}, env.Owner); err != nil {
		t.Fatalf("create auto transition: %v", err)
	}

	task := env.createTask(t, "Weld frame")
	task = env.moveTask(t, task.ID, "In Progress", env.Owner)
	task = env.moveTask(t, task.ID, "In Review", env.Owner)

	// Repeat approvals by the same user each count.
	if _, err := env.Engine.AddApproval(env.Ctx, task.ID, "", u1); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if _, err := env.Engine.AddApproval(env.Ctx, task.ID, "", u1); err != nil {
		t.Fatalf("second approval: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.StatusID != env.Statuses["Done"].ID {
		t.Fatalf("quorum met but task still in %s", got.StatusID)
	}
}

func TestQuorumDoesNotOverrideMissingTransition(t *testing.T) {
	env := newTestEnv(t)
	member := env.addMember(t, "member-1", domain.RoleMember)
	task := env.createTask(t, "Weld frame")

	// Approvals pile up but there is still no Backlog -> Done edge.
	if _, err := env.Engine.AddApproval(env.Ctx, task.ID, "", member); err != nil {
		t.Fatalf("approval: %v", err)
	}
	if _, err := env.Engine.AddApproval(env.Ctx, task.ID, "", env.Owner); err != nil {
		t.Fatalf("approval: %v", err)
	}
	_, err := env.Engine.RequestStatusChange(env.Ctx, task.ID, env.Statuses["Done"].ID, member)
	var tn wferr.TransitionNotAllowedError
	if !errors.As(err, &tn) {
		t.Fatalf("expected TransitionNotAllowedError, got %v", err)
	}
}

func TestViewerCannotApprove(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.addMember(t, "viewer-1", domain.RoleViewer)
	task := env.createTask(t, "Weld frame")

	_, err := env.Engine.AddApproval(env.Ctx, task.ID, "", viewer)
	var pe wferr.PermissionError
	if !errors.As(err, &pe) || pe.Reason != wferr.ViewerCannotCreate {
		t.Fatalf("expected ViewerCannotCreate, got %v", err)
	}
}

func TestRemoveApprovalDoesNotRevert(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.addMember(t, "qa-1", domain.RoleMember)
	if _, err := env.Engine.CreateTransition(env.Ctx, engine.TransitionCreateOptions{
		ProjectID:         env.Project.ID,
		FromStatusID:      env.Statuses["In Review"].ID,
		ToStatusID:        env.Statuses["Done"].ID,
		Name:              "Auto close",
		RequiredApprovals: 1,
		AutoTransition:    true,
	}, env.Owner); err != nil {
		t.Fatalf("create auto transition: %v", err)
	}
	task := env.createTask(t, "Weld frame")
	task = env.moveTask(t, task.ID, "In Progress", env.Owner)
	task = env.moveTask(t, task.ID, "In Review", env.Owner)
	if _, err := env.Engine.AddApproval(env.Ctx, task.ID, "", u1); err != nil {
		t.Fatalf("approval: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.StatusID != env.Statuses["Done"].ID {
		t.Fatal("auto move did not fire")
	}

	n, err := env.Engine.RemoveApproval(env.Ctx, task.ID, u1)
	if err != nil {
		t.Fatalf("remove approval: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d approvals, want 1", n)
	}
	got, err = env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.StatusID != env.Statuses["Done"].ID {
		t.Fatal("withdrawing an approval must not revert the transition")
	}
}

func TestSingleInitialStatusInvariant(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateStatus(env.Ctx, engine.StatusCreateOptions{
		ProjectID: env.Project.ID,
		Name:      "Incoming",
		IsInitial: true,
	}, env.Owner)
	if err != nil {
		t.Fatalf("create status: %v", err)
	}
	statuses, err := env.Engine.Repo.ListStatuses(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	initials := 0
	for _, st := range statuses {
		if st.IsInitial {
			initials++
			if st.ID != s.ID {
				t.Fatalf("initial flag remained on %s", st.Name)
			}
		}
	}
	if initials != 1 {
		t.Fatalf("found %d initial statuses, want 1", initials)
	}
}

func TestDeleteStatusProtections(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.addMember(t, "viewer-1", domain.RoleViewer)

	// System statuses are protected before any other check.
	err := env.Engine.DeleteStatus(env.Ctx, env.Statuses["Done"].ID, env.Owner)
	var pe wferr.PermissionError
	if !errors.As(err, &pe) || pe.Reason != wferr.SystemStatusProtected {
		t.Fatalf("expected SystemStatusProtected, got %v", err)
	}

	// A populated status reports its task count to any caller, even one
	// whose role could never delete it.
	env.createTask(t, "Weld frame")
	err = env.Engine.DeleteStatus(env.Ctx, env.Statuses["Backlog"].ID, viewer)
	var iu wferr.StatusInUseError
	if !errors.As(err, &iu) {
		t.Fatalf("expected StatusInUseError, got %v", err)
	}
	if iu.TaskCount != 1 {
		t.Fatalf("task count = %d, want 1", iu.TaskCount)
	}

	// An empty, non-system status deletes along with its transitions.
	if err := env.Engine.DeleteStatus(env.Ctx, env.Statuses["In Review"].ID, env.Owner); err != nil {
		t.Fatalf("delete empty status: %v", err)
	}
	transitions, err := env.Engine.Repo.ListTransitions(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	for _, tr := range transitions {
		if tr.FromStatusID == env.Statuses["In Review"].ID || tr.ToStatusID == env.Statuses["In Review"].ID {
			t.Fatalf("transition %s still references the deleted status", tr.Name)
		}
	}
}

func TestDeleteStatusRequiresManager(t *testing.T) {
	env := newTestEnv(t)
	member := env.addMember(t, "member-1", domain.RoleMember)

	err := env.Engine.DeleteStatus(env.Ctx, env.Statuses["In Review"].ID, member)
	var pe wferr.PermissionError
	if !errors.As(err, &pe) || pe.Reason != wferr.OnlyOwnerAdminManage {
		t.Fatalf("expected OnlyOwnerAdminManage, got %v", err)
	}
}

func TestTransitionEndpointsMustShareProject(t *testing.T) {
	env := newTestEnv(t)
	other, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Name:    "Line 2",
		OwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("create second project: %v", err)
	}
	foreign, err := env.Engine.Repo.InitialStatus(env.Ctx, other.ID)
	if err != nil {
		t.Fatalf("initial status: %v", err)
	}
	_, err = env.Engine.CreateTransition(env.Ctx, engine.TransitionCreateOptions{
		ProjectID:    env.Project.ID,
		FromStatusID: env.Statuses["Backlog"].ID,
		ToStatusID:   foreign.ID,
		Name:         "Cross-project",
	}, env.Owner)
	var ve wferr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "successor", domain.RoleMember)

	if err := env.Engine.TransferOwnership(env.Ctx, env.Project.ID, "successor", env.Owner); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.OwnerID != "successor" {
		t.Fatalf("owner = %s, want successor", p.OwnerID)
	}
	role, err := env.Engine.Repo.GetMemberRole(env.Ctx, env.Project.ID, "owner-1")
	if err != nil || role != domain.RoleAdmin {
		t.Fatalf("previous owner role = %s err=%v, want admin", role, err)
	}

	// Only members can receive ownership.
	newOwner := domain.Actor{UserID: "successor", Role: domain.RoleOwner}
	err = env.Engine.TransferOwnership(env.Ctx, env.Project.ID, "stranger", newOwner)
	var ve wferr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestResolveActorUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ResolveActor(env.Ctx, env.Project.ID, "stranger")
	var pe wferr.PermissionError
	if !errors.As(err, &pe) || pe.Reason != wferr.NoProjectAccess {
		t.Fatalf("expected NoProjectAccess, got %v", err)
	}
}
