package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shopflow/internal/domain"
)

const statusColumns = `id,project_id,name,COALESCE(color,''),order_index,is_initial,is_final,is_system,created_at`

func scanStatus(row interface{ Scan(...any) error }) (domain.Status, error) {
	var s domain.Status
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Color, &s.OrderIndex, &s.IsInitial, &s.IsFinal, &s.IsSystem, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertStatusTx(ctx context.Context, tx *sql.Tx, s domain.Status) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_statuses(id,project_id,name,color,order_index,is_initial,is_final,is_system,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, nullable(s.Color), s.OrderIndex, s.IsInitial, s.IsFinal, s.IsSystem, s.CreatedAt)
	return err
}

func (r Repo) GetStatus(ctx context.Context, id string) (domain.Status, error) {
	return scanStatus(r.DB.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM workflow_statuses WHERE id=?`, id))
}

func (r Repo) GetStatusTx(ctx context.Context, tx *sql.Tx, id string) (domain.Status, error) {
	return scanStatus(tx.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM workflow_statuses WHERE id=?`, id))
}

func (r Repo) ListStatuses(ctx context.Context, projectID string) ([]domain.Status, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+statusColumns+` FROM workflow_statuses WHERE project_id=? ORDER BY order_index ASC, created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Status
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InitialStatus returns the project's single initial status.
func (r Repo) InitialStatus(ctx context.Context, projectID string) (domain.Status, error) {
	return scanStatus(r.DB.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM workflow_statuses WHERE project_id=? AND is_initial=1`, projectID))
}

// ClearInitialStatusTx unsets is_initial on every status of the project.
// Called before a new initial status is written so the single-initial
// invariant holds.
func (r Repo) ClearInitialStatusTx(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE workflow_statuses SET is_initial=0 WHERE project_id=?`, projectID)
	return err
}

// StatusPatch carries optional status field updates; nil means unchanged.
type StatusPatch struct {
	Name       *string
	Color      *string
	OrderIndex *int
	IsInitial  *bool
	IsFinal    *bool
}

func (r Repo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, p StatusPatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *p.Name)
	}
	if p.Color != nil {
		fields = append(fields, "color=?")
		args = append(args, nullable(*p.Color))
	}
	if p.OrderIndex != nil {
		fields = append(fields, "order_index=?")
		args = append(args, *p.OrderIndex)
	}
	if p.IsInitial != nil {
		fields = append(fields, "is_initial=?")
		args = append(args, *p.IsInitial)
	}
	if p.IsFinal != nil {
		fields = append(fields, "is_final=?")
		args = append(args, *p.IsFinal)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE workflow_statuses SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteStatusTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM workflow_statuses WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksInStatus reports how many tasks currently hold the status.
func (r Repo) CountTasksInStatus(ctx context.Context, statusID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status_id=?`, statusID).Scan(&n)
	return n, err
}
