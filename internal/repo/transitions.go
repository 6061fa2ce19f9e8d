package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"shopflow/internal/domain"
)

const transitionColumns = `id,project_id,from_status_id,to_status_id,name,permission_kind,allowed_roles_json,allowed_users_json,is_bidirectional,requires_attachment,requires_approvals,required_approval_count,required_approvers_json,auto_transition,priority,created_at`

// Guard sets are stored as JSON text columns and decoded once per scan;
// evaluation works on the typed slices, never on the raw text.

func encodeJSONSet[T any](in []T) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSONSet[T any](raw sql.NullString, out *[]T) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

func scanTransition(row interface{ Scan(...any) error }) (domain.Transition, error) {
	var t domain.Transition
	var kind string
	var rolesJSON, usersJSON, approversJSON sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.FromStatusID, &t.ToStatusID, &t.Name,
		&kind, &rolesJSON, &usersJSON, &t.IsBidirectional, &t.RequiresAttachment,
		&t.RequiresApprovals, &t.RequiredApprovals, &approversJSON, &t.AutoTransition,
		&t.Priority, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Permission.Kind = domain.PermissionKind(kind)
	if err := decodeJSONSet(rolesJSON, &t.Permission.Roles); err != nil {
		return t, fmt.Errorf("transition %s roles: %w", t.ID, err)
	}
	if err := decodeJSONSet(usersJSON, &t.Permission.Users); err != nil {
		return t, fmt.Errorf("transition %s users: %w", t.ID, err)
	}
	if err := decodeJSONSet(approversJSON, &t.RequiredApprovers); err != nil {
		return t, fmt.Errorf("transition %s approvers: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) InsertTransitionTx(ctx context.Context, tx *sql.Tx, t domain.Transition) error {
	roles, err := encodeJSONSet(t.Permission.Roles)
	if err != nil {
		return err
	}
	users, err := encodeJSONSet(t.Permission.Users)
	if err != nil {
		return err
	}
	approvers, err := encodeJSONSet(t.RequiredApprovers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflow_transitions(id,project_id,from_status_id,to_status_id,name,permission_kind,allowed_roles_json,allowed_users_json,is_bidirectional,requires_attachment,requires_approvals,required_approval_count,required_approvers_json,auto_transition,priority,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.FromStatusID, t.ToStatusID, t.Name, string(t.Permission.Kind),
		roles, users, t.IsBidirectional, t.RequiresAttachment, t.RequiresApprovals,
		t.RequiredApprovals, approvers, t.AutoTransition, t.Priority, t.CreatedAt)
	return err
}

func (r Repo) GetTransition(ctx context.Context, id string) (domain.Transition, error) {
	return scanTransition(r.DB.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM workflow_transitions WHERE id=?`, id))
}

func (r Repo) ListTransitions(ctx context.Context, projectID string) ([]domain.Transition, error) {
	return r.queryTransitions(ctx, `SELECT `+transitionColumns+` FROM workflow_transitions WHERE project_id=? ORDER BY priority ASC, created_at ASC, id ASC`, projectID)
}

// FindTransition returns the transition authorizing from -> to: either the
// direct edge or a reverse edge marked bidirectional.
func (r Repo) FindTransition(ctx context.Context, projectID, fromStatusID, toStatusID string) (domain.Transition, error) {
	return scanTransition(r.DB.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM workflow_transitions
WHERE project_id=? AND (
    (from_status_id=? AND to_status_id=?) OR
    (from_status_id=? AND to_status_id=? AND is_bidirectional=1)
) LIMIT 1`,
		projectID, fromStatusID, toStatusID, toStatusID, fromStatusID))
}

// ListAutoTransitions returns automatic transitions out of a status in
// evaluation order: priority ascending, then creation time, then id.
func (r Repo) ListAutoTransitions(ctx context.Context, projectID, fromStatusID string) ([]domain.Transition, error) {
	return r.queryTransitions(ctx, `SELECT `+transitionColumns+` FROM workflow_transitions
WHERE project_id=? AND from_status_id=? AND auto_transition=1
ORDER BY priority ASC, created_at ASC, id ASC`, projectID, fromStatusID)
}

func (r Repo) queryTransitions(ctx context.Context, query string, args ...any) ([]domain.Transition, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TransitionPatch carries optional transition field updates; nil means
// unchanged. Permission replaces the whole rule when set.
type TransitionPatch struct {
	Name               *string
	Permission         *domain.PermissionRule
	IsBidirectional    *bool
	RequiresAttachment *bool
	RequiresApprovals  *bool
	RequiredApprovals  *int
	RequiredApprovers  *[]string
	AutoTransition     *bool
	Priority           *int
}

func (r Repo) UpdateTransitionTx(ctx context.Context, tx *sql.Tx, id string, p TransitionPatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *p.Name)
	}
	if p.Permission != nil {
		roles, err := encodeJSONSet(p.Permission.Roles)
		if err != nil {
			return err
		}
		users, err := encodeJSONSet(p.Permission.Users)
		if err != nil {
			return err
		}
		fields = append(fields, "permission_kind=?", "allowed_roles_json=?", "allowed_users_json=?")
		args = append(args, string(p.Permission.Kind), roles, users)
	}
	if p.IsBidirectional != nil {
		fields = append(fields, "is_bidirectional=?")
		args = append(args, *p.IsBidirectional)
	}
	if p.RequiresAttachment != nil {
		fields = append(fields, "requires_attachment=?")
		args = append(args, *p.RequiresAttachment)
	}
	if p.RequiresApprovals != nil {
		fields = append(fields, "requires_approvals=?")
		args = append(args, *p.RequiresApprovals)
	}
	if p.RequiredApprovals != nil {
		fields = append(fields, "required_approval_count=?")
		args = append(args, *p.RequiredApprovals)
	}
	if p.RequiredApprovers != nil {
		approvers, err := encodeJSONSet(*p.RequiredApprovers)
		if err != nil {
			return err
		}
		fields = append(fields, "required_approvers_json=?")
		args = append(args, approvers)
	}
	if p.AutoTransition != nil {
		fields = append(fields, "auto_transition=?")
		args = append(args, *p.AutoTransition)
	}
	if p.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *p.Priority)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE workflow_transitions SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTransitionsTouchingStatusTx removes every transition with the status
// as either endpoint. Run before deleting the status itself.
func (r Repo) DeleteTransitionsTouchingStatusTx(ctx context.Context, tx *sql.Tx, statusID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM workflow_transitions WHERE from_status_id=? OR to_status_id=?`, statusID, statusID)
	return err
}

func (r Repo) DeleteTransitionTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM workflow_transitions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
