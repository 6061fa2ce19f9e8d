package history

import (
	"context"
	"database/sql"
	"time"

	"shopflow/internal/domain"
)

// Writer appends task history rows inside the caller's transaction so the
// audit trail commits or rolls back together with the change it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, taskID, actorID, action, field, oldValue, newValue string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO task_history(task_id,actor_id,action,field,old_value,new_value,ts) VALUES (?,?,?,?,?,?,?)`,
		taskID, actorID, action, nullable(field), nullable(oldValue), nullable(newValue), ts)
	return err
}

// StatusChanged records a status transition on a task.
func (w Writer) StatusChanged(ctx context.Context, tx *sql.Tx, taskID, actorID, fromStatusID, toStatusID string) error {
	return w.Append(ctx, tx, taskID, actorID, domain.ActionStatusChanged, "status_id", fromStatusID, toStatusID)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
