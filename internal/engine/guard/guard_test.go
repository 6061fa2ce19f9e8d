package guard_test

import (
	"errors"
	"testing"

	"shopflow/internal/domain"
	"shopflow/internal/engine/guard"
	"shopflow/internal/engine/wferr"
)

func approvalsBy(users ...string) []domain.Approval {
	res := make([]domain.Approval, 0, len(users))
	for _, u := range users {
		res = append(res, domain.Approval{UserID: u})
	}
	return res
}

func TestPermissionKinds(t *testing.T) {
	member := domain.Actor{UserID: "u1", Role: domain.RoleMember}
	admin := domain.Actor{UserID: "root", Admin: true}

	cases := []struct {
		name   string
		tr     domain.Transition
		actor  domain.Actor
		reason wferr.PermissionReason
	}{
		{
			name:  "open admits anyone",
			tr:    domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionOpen}},
			actor: member,
		},
		{
			name:  "empty kind treated as open",
			tr:    domain.Transition{},
			actor: member,
		},
		{
			name:  "roles admits listed role",
			tr:    domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionRoles, Roles: []domain.Role{domain.RoleMember}}},
			actor: member,
		},
		{
			name:   "roles rejects unlisted role",
			tr:     domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionRoles, Roles: []domain.Role{domain.RoleOwner}}},
			actor:  member,
			reason: wferr.InsufficientRole,
		},
		{
			name:  "empty role set admits anyone",
			tr:    domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionRoles}},
			actor: member,
		},
		{
			name:  "users admits listed user",
			tr:    domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionUsers, Users: []string{"u1"}}},
			actor: member,
		},
		{
			name:   "users rejects unlisted user",
			tr:     domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionUsers, Users: []string{"someone-else"}}},
			actor:  member,
			reason: wferr.InsufficientUser,
		},
		{
			name:  "admin bypasses role rule",
			tr:    domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionRoles, Roles: []domain.Role{domain.RoleOwner}}},
			actor: admin,
		},
		{
			name:  "admin bypasses user rule",
			tr:    domain.Transition{Permission: domain.PermissionRule{Kind: domain.PermissionUsers, Users: []string{"someone-else"}}},
			actor: admin,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := guard.Evaluate(tc.tr, tc.actor, guard.Facts{})
			if tc.reason == "" {
				if err != nil {
					t.Fatalf("expected pass, got %v", err)
				}
				return
			}
			var pe wferr.PermissionError
			if !errors.As(err, &pe) {
				t.Fatalf("expected PermissionError, got %v", err)
			}
			if pe.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", pe.Reason, tc.reason)
			}
		})
	}
}

func TestAttachmentGate(t *testing.T) {
	tr := domain.Transition{RequiresAttachment: true}
	actor := domain.Actor{UserID: "u1", Role: domain.RoleMember}

	err := guard.Evaluate(tr, actor, guard.Facts{AttachmentCount: 0})
	var ar wferr.AttachmentRequiredError
	if !errors.As(err, &ar) {
		t.Fatalf("expected AttachmentRequiredError, got %v", err)
	}
	if err := guard.Evaluate(tr, actor, guard.Facts{AttachmentCount: 1}); err != nil {
		t.Fatalf("expected pass with attachment, got %v", err)
	}
}

func TestApprovalQuorum(t *testing.T) {
	actor := domain.Actor{UserID: "u1", Role: domain.RoleMember}

	t.Run("any approver when set is empty", func(t *testing.T) {
		tr := domain.Transition{RequiresApprovals: true, RequiredApprovals: 2}
		err := guard.Evaluate(tr, actor, guard.Facts{Approvals: approvalsBy("a")})
		var ia wferr.InsufficientApprovalsError
		if !errors.As(err, &ia) {
			t.Fatalf("expected InsufficientApprovalsError, got %v", err)
		}
		if ia.Required != 2 || ia.Have != 1 {
			t.Fatalf("required=%d have=%d", ia.Required, ia.Have)
		}
		if err := guard.Evaluate(tr, actor, guard.Facts{Approvals: approvalsBy("a", "b")}); err != nil {
			t.Fatalf("expected quorum met, got %v", err)
		}
	})

	t.Run("only named approvers count", func(t *testing.T) {
		tr := domain.Transition{
			RequiresApprovals: true,
			RequiredApprovals: 2,
			RequiredApprovers: []string{"qa-1", "qa-2"},
		}
		err := guard.Evaluate(tr, actor, guard.Facts{Approvals: approvalsBy("qa-1", "intruder", "intruder")})
		var ia wferr.InsufficientApprovalsError
		if !errors.As(err, &ia) {
			t.Fatalf("expected InsufficientApprovalsError, got %v", err)
		}
		if ia.Have != 1 {
			t.Fatalf("have = %d, want 1", ia.Have)
		}
		if err := guard.Evaluate(tr, actor, guard.Facts{Approvals: approvalsBy("qa-1", "qa-2")}); err != nil {
			t.Fatalf("expected quorum met, got %v", err)
		}
	})

	t.Run("repeat approvals each count", func(t *testing.T) {
		tr := domain.Transition{RequiresApprovals: true, RequiredApprovals: 2}
		if err := guard.Evaluate(tr, actor, guard.Facts{Approvals: approvalsBy("a", "a")}); err != nil {
			t.Fatalf("expected repeats to count, got %v", err)
		}
	})
}

func TestShortCircuitOrder(t *testing.T) {
	// Permission failure wins over missing attachment and quorum.
	tr := domain.Transition{
		Permission:         domain.PermissionRule{Kind: domain.PermissionRoles, Roles: []domain.Role{domain.RoleOwner}},
		RequiresAttachment: true,
		RequiresApprovals:  true,
		RequiredApprovals:  3,
	}
	err := guard.Evaluate(tr, domain.Actor{UserID: "u1", Role: domain.RoleMember}, guard.Facts{})
	var pe wferr.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError first, got %v", err)
	}

	// With permission satisfied the attachment gate fires before the quorum.
	err = guard.Evaluate(tr, domain.Actor{UserID: "u1", Role: domain.RoleOwner}, guard.Facts{})
	var ar wferr.AttachmentRequiredError
	if !errors.As(err, &ar) {
		t.Fatalf("expected AttachmentRequiredError second, got %v", err)
	}
}

func TestEvaluateAutomaticSkipsPermission(t *testing.T) {
	tr := domain.Transition{
		Permission:        domain.PermissionRule{Kind: domain.PermissionRoles, Roles: []domain.Role{domain.RoleOwner}},
		RequiresApprovals: true,
		RequiredApprovals: 1,
	}
	if err := guard.EvaluateAutomatic(tr, guard.Facts{Approvals: approvalsBy("a")}); err != nil {
		t.Fatalf("automatic evaluation must ignore permission rules, got %v", err)
	}
}
