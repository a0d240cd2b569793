package repo

import (
	"context"
	"database/sql"

	"sectorboard/internal/domain"
)

// InsertTaskHistory appends one audit row. Only the engine's write-path
// hook calls this; there is no update or delete counterpart on purpose.
func (r Repo) InsertTaskHistory(ctx context.Context, tx *sql.Tx, h domain.TaskHistory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_history(id,task_id,old_status,new_status,observation,updated_at) VALUES (?,?,?,?,?,?)`,
		h.ID, h.TaskID, nullableStringPtr(h.OldStatus), h.NewStatus, nullableStringPtr(h.Observation), h.UpdatedAt)
	return err
}

// ListTaskHistory returns a task's transition ledger, newest first.
func (r Repo) ListTaskHistory(ctx context.Context, taskID string) ([]domain.TaskHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,old_status,new_status,observation,updated_at FROM task_history WHERE task_id=? ORDER BY updated_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskHistory
	for rows.Next() {
		var h domain.TaskHistory
		var oldStatus, observation sql.NullString
		if err := rows.Scan(&h.ID, &h.TaskID, &oldStatus, &h.NewStatus, &observation, &h.UpdatedAt); err != nil {
			return nil, err
		}
		if oldStatus.Valid {
			h.OldStatus = &oldStatus.String
		}
		if observation.Valid {
			h.Observation = &observation.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// CountTaskHistory reports how many transitions a task has recorded.
func (r Repo) CountTaskHistory(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM task_history WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}
