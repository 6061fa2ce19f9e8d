package server

import (
	"shopflow/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID            *string `json:"id,omitempty"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	WorkflowGated *bool   `json:"workflow_gated,omitempty"`
}

type UpdateProjectRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	WorkflowGated *bool   `json:"workflow_gated,omitempty"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role" enum:"admin,member,viewer"`
}

type TransferOwnershipRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

type CreateStatusRequest struct {
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	OrderIndex int    `json:"order_index,omitempty"`
	IsInitial  bool   `json:"is_initial,omitempty"`
	IsFinal    bool   `json:"is_final,omitempty"`
}

type UpdateStatusRequest struct {
	Name       *string `json:"name,omitempty"`
	Color      *string `json:"color,omitempty"`
	OrderIndex *int    `json:"order_index,omitempty"`
	IsInitial  *bool   `json:"is_initial,omitempty"`
	IsFinal    *bool   `json:"is_final,omitempty"`
}

type PermissionRuleRequest struct {
	Kind  string   `json:"kind" enum:"open,roles,users"`
	Roles []string `json:"roles,omitempty"`
	Users []string `json:"users,omitempty"`
}

type CreateTransitionRequest struct {
	FromStatusID       string                 `json:"from_status_id"`
	ToStatusID         string                 `json:"to_status_id"`
	Name               string                 `json:"name"`
	Permission         *PermissionRuleRequest `json:"permission,omitempty"`
	IsBidirectional    bool                   `json:"is_bidirectional,omitempty"`
	RequiresAttachment bool                   `json:"requires_attachment,omitempty"`
	RequiredApprovals  int                    `json:"required_approvals,omitempty"`
	RequiredApprovers  []string               `json:"required_approvers,omitempty"`
	AutoTransition     bool                   `json:"auto_transition,omitempty"`
	Priority           int                    `json:"priority,omitempty"`
}

type UpdateTransitionRequest struct {
	Name               *string                `json:"name,omitempty"`
	Permission         *PermissionRuleRequest `json:"permission,omitempty"`
	IsBidirectional    *bool                  `json:"is_bidirectional,omitempty"`
	RequiresAttachment *bool                  `json:"requires_attachment,omitempty"`
	RequiredApprovals  *int                   `json:"required_approvals,omitempty"`
	RequiredApprovers  *[]string              `json:"required_approvers,omitempty"`
	AutoTransition     *bool                  `json:"auto_transition,omitempty"`
	Priority           *int                   `json:"priority,omitempty"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

type ChangeStatusRequest struct {
	StatusID string `json:"status_id"`
}

type AddApprovalRequest struct {
	Comment string `json:"comment,omitempty"`
}

type AddAttachmentRequest struct {
	FileName string `json:"file_name"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProjectResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	OwnerID       string `json:"owner_id"`
	WorkflowGated bool   `json:"workflow_gated"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type MemberResponse struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"owner,admin,member,viewer"`
	AddedBy   string `json:"added_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type StatusResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	OrderIndex int    `json:"order_index"`
	IsInitial  bool   `json:"is_initial"`
	IsFinal    bool   `json:"is_final"`
	IsSystem   bool   `json:"is_system"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type PermissionRuleResponse struct {
	Kind  string   `json:"kind" enum:"open,roles,users"`
	Roles []string `json:"roles,omitempty"`
	Users []string `json:"users,omitempty"`
}

type TransitionResponse struct {
	ID                 string                 `json:"id"`
	ProjectID          string                 `json:"project_id"`
	FromStatusID       string                 `json:"from_status_id"`
	ToStatusID         string                 `json:"to_status_id"`
	Name               string                 `json:"name"`
	Permission         PermissionRuleResponse `json:"permission"`
	IsBidirectional    bool                   `json:"is_bidirectional"`
	RequiresAttachment bool                   `json:"requires_attachment"`
	RequiresApprovals  bool                   `json:"requires_approvals"`
	RequiredApprovals  int                    `json:"required_approvals"`
	RequiredApprovers  []string               `json:"required_approvers,omitempty"`
	AutoTransition     bool                   `json:"auto_transition"`
	Priority           int                    `json:"priority"`
	CreatedAt          string                 `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	StatusID    string  `json:"status_id"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	Version     int64   `json:"version"`
	CreatedBy   string  `json:"created_by"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type ApprovalResponse struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	UserID     string `json:"user_id"`
	Comment    string `json:"comment,omitempty"`
	ApprovedAt string `json:"approved_at" format:"date-time"`
}

type AttachmentResponse struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	FileName   string `json:"file_name"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type HistoryEntryResponse struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	ActorID  string `json:"actor_id"`
	Action   string `json:"action"`
	Field    string `json:"field,omitempty"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	TS       string `json:"ts" format:"date-time"`
}

type ChangeStatusResponse struct {
	Task TaskResponse `json:"task"`
}

type AddApprovalResponse struct {
	Approval      ApprovalResponse `json:"approval"`
	AutoTriggered bool             `json:"auto_triggered"`
	Task          TaskResponse     `json:"task"`
}

// SummaryResponse aggregates project counters. Sections that fail to load
// are nulled out rather than failing the whole report.
type SummaryResponse struct {
	Project      ProjectResponse `json:"project"`
	TasksByState map[string]int  `json:"tasks_by_status,omitempty"`
	MemberCount  *int            `json:"member_count,omitempty"`
	StatusCount  *int            `json:"status_count,omitempty"`
	OpenTasks    *int            `json:"open_tasks,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func memberResponse(m domain.Member) MemberResponse {
	return MemberResponse{
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		AddedBy:   m.AddedBy,
		CreatedAt: m.CreatedAt,
	}
}

func statusResponse(s domain.Status) StatusResponse {
	return StatusResponse(s)
}

func transitionResponse(t domain.Transition) TransitionResponse {
	roles := make([]string, 0, len(t.Permission.Roles))
	for _, r := range t.Permission.Roles {
		roles = append(roles, string(r))
	}
	return TransitionResponse{
		ID:           t.ID,
		ProjectID:    t.ProjectID,
		FromStatusID: t.FromStatusID,
		ToStatusID:   t.ToStatusID,
		Name:         t.Name,
		Permission: PermissionRuleResponse{
			Kind:  string(t.Permission.Kind),
			Roles: roles,
			Users: t.Permission.Users,
		},
		IsBidirectional:    t.IsBidirectional,
		RequiresAttachment: t.RequiresAttachment,
		RequiresApprovals:  t.RequiresApprovals,
		RequiredApprovals:  t.RequiredApprovals,
		RequiredApprovers:  t.RequiredApprovers,
		AutoTransition:     t.AutoTransition,
		Priority:           t.Priority,
		CreatedAt:          t.CreatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func approvalResponse(a domain.Approval) ApprovalResponse {
	return ApprovalResponse(a)
}

func attachmentResponse(a domain.Attachment) AttachmentResponse {
	return AttachmentResponse(a)
}

func historyResponse(h domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse(h)
}

func permissionRuleFromRequest(req *PermissionRuleRequest) domain.PermissionRule {
	if req == nil {
		return domain.PermissionRule{Kind: domain.PermissionOpen}
	}
	roles := make([]domain.Role, 0, len(req.Roles))
	for _, r := range req.Roles {
		roles = append(roles, domain.Role(r))
	}
	return domain.PermissionRule{
		Kind:  domain.PermissionKind(req.Kind),
		Roles: roles,
		Users: req.Users,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapStatuses(items []domain.Status) []StatusResponse {
	res := make([]StatusResponse, 0, len(items))
	for _, s := range items {
		res = append(res, statusResponse(s))
	}
	return res
}

func mapTransitions(items []domain.Transition) []TransitionResponse {
	res := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		res = append(res, transitionResponse(t))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
