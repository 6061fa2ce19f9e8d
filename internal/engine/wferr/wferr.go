// Package wferr defines the typed failures of the workflow engine. Every
// engine operation returns one of these (or repo.ErrNotFound) so the API
// boundary can map failures without parsing messages.
package wferr

import (
	"fmt"
	"strings"

	"shopflow/internal/domain"
)

// ValidationError indicates malformed input: unknown ids in a guard
// configuration, bad permission kinds, missing required fields.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// PermissionReason identifies why a caller was denied.
type PermissionReason string

const (
	NoProjectAccess       PermissionReason = "no_project_access"
	ViewerCannotEdit      PermissionReason = "viewer_cannot_edit"
	ViewerCannotCreate    PermissionReason = "viewer_cannot_create"
	OnlyOwnerAdminManage  PermissionReason = "only_owner_admin_can_manage"
	SystemStatusProtected PermissionReason = "system_status_protected"
	InsufficientRole      PermissionReason = "insufficient_role"
	InsufficientUser      PermissionReason = "insufficient_user"
)

// PermissionError indicates the actor lacks the rights for an operation.
// Roles carries the admitted role set for InsufficientRole.
type PermissionError struct {
	Reason PermissionReason
	Roles  []domain.Role
}

func (e PermissionError) Error() string {
	switch e.Reason {
	case NoProjectAccess:
		return "no access to project"
	case ViewerCannotEdit:
		return "viewers cannot edit tasks"
	case ViewerCannotCreate:
		return "viewers cannot create approvals"
	case OnlyOwnerAdminManage:
		return "only project owner or admin can manage the workflow"
	case SystemStatusProtected:
		return "system statuses cannot be deleted"
	case InsufficientRole:
		roles := make([]string, len(e.Roles))
		for i, r := range e.Roles {
			roles[i] = string(r)
		}
		return fmt.Sprintf("transition requires role %s", strings.Join(roles, ","))
	case InsufficientUser:
		return "transition is restricted to specific users"
	}
	return "permission denied"
}

// StatusInUseError blocks deleting a status that tasks still reference.
type StatusInUseError struct {
	StatusID  string
	TaskCount int
}

func (e StatusInUseError) Error() string {
	return fmt.Sprintf("status %s has %d task(s); move them first", e.StatusID, e.TaskCount)
}

// TransitionNotAllowedError means no transition connects the two statuses.
type TransitionNotAllowedError struct {
	FromStatusID string
	ToStatusID   string
}

func (e TransitionNotAllowedError) Error() string {
	return fmt.Sprintf("no transition from status %s to %s", e.FromStatusID, e.ToStatusID)
}

// VersionConflictError signals a lost optimistic-concurrency race on a task.
type VersionConflictError struct {
	TaskID  string
	Version int64
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("task %s changed concurrently (version %d)", e.TaskID, e.Version)
}

// AttachmentRequiredError is the unsatisfied attachment gate.
type AttachmentRequiredError struct {
	TaskID string
}

func (e AttachmentRequiredError) Error() string {
	return "transition requires at least one attachment"
}

// InsufficientApprovalsError is the unsatisfied approval quorum.
type InsufficientApprovalsError struct {
	Required int
	Have     int
}

func (e InsufficientApprovalsError) Error() string {
	return fmt.Sprintf("transition requires %d approval(s), have %d", e.Required, e.Have)
}
