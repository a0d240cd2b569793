package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"sectorboard/internal/domain"
	"sectorboard/internal/repo"
)

// Writer appends task_history rows. It only knows how to insert inside
// an open transaction, so a status change and its audit row either both
// land or neither does.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Append records one status transition. oldStatus carries the pre-write
// value, never the one being applied.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, taskID string, oldStatus *string, newStatus string, observation *string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	h := domain.TaskHistory{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Observation: observation,
		UpdatedAt:   w.Now().UTC().Format(time.RFC3339),
	}
	return w.Repo.InsertTaskHistory(ctx, tx, h)
}
