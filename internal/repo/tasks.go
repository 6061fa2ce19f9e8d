package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shopflow/internal/domain"
)

const taskColumns = `id,project_id,title,description,status_id,assignee_id,priority,version,created_by,created_at,updated_at,completed_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var description, assignee, priority, completedAt sql.NullString
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &description, &t.StatusID,
		&assignee, &priority, &t.Version, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	if priority.Valid {
		t.Priority = priority.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status_id,assignee_id,priority,version,created_by,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.StatusID,
		nullableStringPtr(t.AssigneeID), nullable(t.Priority), t.Version,
		t.CreatedBy, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// TaskFilters narrow ListTasks; zero values are ignored.
type TaskFilters struct {
	ProjectID  string
	StatusID   string
	AssigneeID string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StatusID != "" {
		clauses = append(clauses, "status_id=?")
		args = append(args, f.StatusID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskPatch carries optional non-status task updates; nil means unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	AssigneeID  *string
	Priority    *string
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, id, updatedAt string, p TaskPatch) error {
	var (
		fields []string
		args   []any
	)
	if p.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *p.Title)
	}
	if p.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*p.Description))
	}
	if p.AssigneeID != nil {
		fields = append(fields, "assignee_id=?")
		args = append(args, nullable(*p.AssigneeID))
	}
	if p.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, nullable(*p.Priority))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskStatusTx applies a status change conditionally on the version
// token the caller read. It returns false when the row moved on: the write
// affected nothing because another writer bumped the version first.
func (r Repo) UpdateTaskStatusTx(ctx context.Context, tx *sql.Tx, taskID, statusID string, completedAt *string, updatedAt string, version int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status_id=?, completed_at=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		statusID, nullableStringPtr(completedAt), updatedAt, taskID, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- approvals ---

func (r Repo) InsertApprovalTx(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_approvals(id,task_id,user_id,comment,approved_at) VALUES (?,?,?,?,?)`,
		a.ID, a.TaskID, a.UserID, nullable(a.Comment), a.ApprovedAt)
	return err
}

func (r Repo) ListApprovals(ctx context.Context, taskID string) ([]domain.Approval, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,COALESCE(comment,''),approved_at FROM task_approvals WHERE task_id=? ORDER BY approved_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		var a domain.Approval
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &a.Comment, &a.ApprovedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// DeleteApprovalsByAuthor removes every approval the user left on the task
// and reports how many rows went away.
func (r Repo) DeleteApprovalsByAuthor(ctx context.Context, taskID, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM task_approvals WHERE task_id=? AND user_id=?`, taskID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- attachments ---

func (r Repo) InsertAttachment(ctx context.Context, a domain.Attachment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_attachments(id,task_id,file_name,uploaded_by,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.TaskID, a.FileName, a.UploadedBy, a.CreatedAt)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,file_name,uploaded_by,created_at FROM task_attachments WHERE task_id=? ORDER BY created_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.FileName, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountAttachments(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_attachments WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

// --- history ---

func (r Repo) ListHistory(ctx context.Context, taskID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,actor_id,action,COALESCE(field,''),COALESCE(old_value,''),COALESCE(new_value,''),ts FROM task_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.TaskID, &h.ActorID, &h.Action, &h.Field, &h.OldValue, &h.NewValue, &h.TS); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// HistoryEvent is a history row joined with its task's project, as consumed
// by the webhook dispatcher.
type HistoryEvent struct {
	domain.HistoryEntry
	ProjectID string
}

// HistoryAfter returns history entries with IDs greater than the cursor in
// ascending order. An empty projectID spans all projects.
func (r Repo) HistoryAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]HistoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT h.id,h.task_id,h.actor_id,h.action,COALESCE(h.field,''),COALESCE(h.old_value,''),COALESCE(h.new_value,''),h.ts,t.project_id
FROM task_history h JOIN tasks t ON t.id=h.task_id
WHERE h.id>?`
	args := []any{cursor}
	if projectID != "" {
		q += ` AND t.project_id=?`
		args = append(args, projectID)
	}
	q += ` ORDER BY h.id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []HistoryEvent
	for rows.Next() {
		var h HistoryEvent
		if err := rows.Scan(&h.ID, &h.TaskID, &h.ActorID, &h.Action, &h.Field, &h.OldValue, &h.NewValue, &h.TS, &h.ProjectID); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LatestHistoryID returns the most recent history row ID, optionally scoped
// to one project.
func (r Repo) LatestHistoryID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	var err error
	if projectID == "" {
		err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM task_history`).Scan(&id)
	} else {
		err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(h.id),0) FROM task_history h JOIN tasks t ON t.id=h.task_id WHERE t.project_id=?`, projectID).Scan(&id)
	}
	return id, err
}

// CountTasksByStatus returns task counts per status id for a project.
func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status_id, COUNT(*) FROM tasks WHERE project_id=? GROUP BY status_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
