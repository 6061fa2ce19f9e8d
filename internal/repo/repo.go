package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"shopflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// --- projects ---

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,owner_id,workflow_gated,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.OwnerID, p.WorkflowGated, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,owner_id,workflow_gated,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &desc, &p.OwnerID, &p.WorkflowGated, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),owner_id,workflow_gated,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.WorkflowGated, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject returns the only project in the workspace; callers use it
// to resolve the active project when none is specified.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) UpdateProject(ctx context.Context, id string, name *string, description *string, workflowGated *bool) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if workflowGated != nil {
		fields = append(fields, "workflow_gated=?")
		args = append(args, *workflowGated)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TransferOwnershipTx(ctx context.Context, tx *sql.Tx, projectID, newOwnerID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET owner_id=? WHERE id=?`, newOwnerID, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- members ---

func (r Repo) UpsertMemberTx(ctx context.Context, tx *sql.Tx, m domain.Member) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,added_by,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`,
		m.ProjectID, m.UserID, string(m.Role), nullable(m.AddedBy), m.CreatedAt)
	return err
}

func (r Repo) GetMemberRole(ctx context.Context, projectID, userID string) (domain.Role, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return domain.Role(role), err
}

func (r Repo) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role,COALESCE(added_by,''),created_at FROM project_members WHERE project_id=? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role, &m.AddedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) RemoveMember(ctx context.Context, projectID, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
