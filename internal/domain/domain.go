package domain

// Role is a member's role within a single project.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// ValidRole reports whether r is one of the known project roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// CanManageWorkflow reports whether the role may edit statuses and transitions.
func (r Role) CanManageWorkflow() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Actor is the authenticated caller as resolved by the identity layer.
// The engine trusts it and never re-derives roles. Admin is the global
// admin bypass flag carried in from outside.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Admin  bool   `json:"admin,omitempty"`
}

// SystemActorID is recorded in task history for automatic transitions.
const SystemActorID = "system"

type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	OwnerID       string `json:"owner_id"`
	WorkflowGated bool   `json:"workflow_gated"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Member struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role" enum:"owner,admin,member,viewer"`
	AddedBy   string `json:"added_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Status struct {
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

// PermissionKind selects which variant of a transition's permission rule
// applies.
type PermissionKind string

const (
	PermissionOpen  PermissionKind = "open"
	PermissionRoles PermissionKind = "roles"
	PermissionUsers PermissionKind = "users"
)

// PermissionRule is the tagged variant gating who may take a transition.
// Roles is consulted only when Kind is PermissionRoles, Users only when
// Kind is PermissionUsers.
type PermissionRule struct {
	Kind  PermissionKind `json:"kind" enum:"open,roles,users"`
	Roles []Role         `json:"roles,omitempty"`
	Users []string       `json:"users,omitempty"`
}

// AllowsRole reports whether the rule's role set contains r.
func (p PermissionRule) AllowsRole(r Role) bool {
	for _, allowed := range p.Roles {
		if allowed == r {
			return true
		}
	}
	return false
}

// AllowsUser reports whether the rule's user set contains userID.
func (p PermissionRule) AllowsUser(userID string) bool {
	for _, allowed := range p.Users {
		if allowed == userID {
			return true
		}
	}
	return false
}

// Transition is a directed, guarded edge between two statuses of a project.
type Transition struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	FromStatusID       string         `json:"from_status_id"`
	ToStatusID         string         `json:"to_status_id"`
	Name               string         `json:"name"`
	Permission         PermissionRule `json:"permission"`
	IsBidirectional    bool           `json:"is_bidirectional"`
	RequiresAttachment bool           `json:"requires_attachment"`
	RequiresApprovals  bool           `json:"requires_approvals"`
	RequiredApprovals  int            `json:"required_approvals"`
	RequiredApprovers  []string       `json:"required_approvers,omitempty"`
	AutoTransition     bool           `json:"auto_transition"`
	Priority           int            `json:"priority"`
	CreatedAt          string         `json:"created_at" format:"date-time"`
}

// ApproverAllowed reports whether userID may count toward the approval
// quorum. An empty approver set admits anyone.
func (t Transition) ApproverAllowed(userID string) bool {
	if len(t.RequiredApprovers) == 0 {
		return true
	}
	for _, u := range t.RequiredApprovers {
		if u == userID {
			return true
		}
	}
	return false
}

type Task struct {
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

type Approval struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	UserID     string `json:"user_id"`
	Comment    string `json:"comment,omitempty"`
	ApprovedAt string `json:"approved_at" format:"date-time"`
}

type Attachment struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	FileName   string `json:"file_name"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// HistoryEntry is one append-only task audit record.
type HistoryEntry struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	ActorID  string `json:"actor_id"`
	Action   string `json:"action"`
	Field    string `json:"field,omitempty"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
	TS       string `json:"ts" format:"date-time"`
}

// History action kinds.
const (
	ActionStatusChanged = "status_changed"
	ActionAssigned      = "assigned"
	ActionCreated       = "created"
)

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
