// Package guard decides whether a transition may be taken. Evaluation is a
// pure function of the transition's guard configuration, the acting user,
// and the task facts handed in by the caller; it touches no storage.
package guard

import (
	"shopflow/internal/domain"
	"shopflow/internal/engine/wferr"
)

// Facts are the task-side inputs a guard consumes. The caller loads them;
// the evaluator never queries anything itself.
type Facts struct {
	AttachmentCount int
	Approvals       []domain.Approval
}

// Evaluate runs the full guard for an actor-initiated change: permission,
// then attachment, then approval quorum, short-circuiting on the first
// failure. A nil return means the transition may be taken.
func Evaluate(tr domain.Transition, actor domain.Actor, facts Facts) error {
	if err := checkPermission(tr, actor); err != nil {
		return err
	}
	return evaluateConditions(tr, facts)
}

// EvaluateAutomatic runs only the non-actor conditions. Used when the
// system applies an auto-transition with no requesting user.
func EvaluateAutomatic(tr domain.Transition, facts Facts) error {
	return evaluateConditions(tr, facts)
}

func checkPermission(tr domain.Transition, actor domain.Actor) error {
	if actor.Admin {
		return nil
	}
	switch tr.Permission.Kind {
	case domain.PermissionOpen, "":
		return nil
	case domain.PermissionRoles:
		if len(tr.Permission.Roles) == 0 || tr.Permission.AllowsRole(actor.Role) {
			return nil
		}
		return wferr.PermissionError{Reason: wferr.InsufficientRole, Roles: tr.Permission.Roles}
	case domain.PermissionUsers:
		if len(tr.Permission.Users) == 0 || tr.Permission.AllowsUser(actor.UserID) {
			return nil
		}
		return wferr.PermissionError{Reason: wferr.InsufficientUser}
	}
	return wferr.Validationf("unknown permission kind %q", tr.Permission.Kind)
}

func evaluateConditions(tr domain.Transition, facts Facts) error {
	if tr.RequiresAttachment && facts.AttachmentCount == 0 {
		return wferr.AttachmentRequiredError{}
	}
	if tr.RequiresApprovals && tr.RequiredApprovals > 0 {
		have := countQuorum(tr, facts.Approvals)
		if have < tr.RequiredApprovals {
			return wferr.InsufficientApprovalsError{Required: tr.RequiredApprovals, Have: have}
		}
	}
	return nil
}

// countQuorum counts approvals admitted by the transition's approver set.
// Repeat approvals by the same user each count, matching the ledger's
// non-unique rows.
func countQuorum(tr domain.Transition, approvals []domain.Approval) int {
	n := 0
	for _, a := range approvals {
		if tr.ApproverAllowed(a.UserID) {
			n++
		}
	}
	return n
}
