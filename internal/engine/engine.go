package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sectorboard/internal/domain"
	"sectorboard/internal/engine/policy"
	"sectorboard/internal/history"
	"sectorboard/internal/repo"
)

// ConflictError indicates a write that would violate a referential rule,
// such as deleting a sector that still has tasks.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	History history.Writer
	Policy  policy.Service
	Now     func() time.Time
}

func New(db *sql.DB) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		History: history.Writer{Repo: r},
		Now:     time.Now,
	}
}

// WithClock returns a copy whose task stamps and audit rows come from
// the given clock.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.History.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// --- sectors ---

func (e Engine) CreateSector(ctx context.Context, actorID, name string) (domain.Sector, error) {
	if name == "" {
		return domain.Sector{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sector{}, err
	}
	defer tx.Rollback()

	if err := e.Policy.RequireCEO(ctx, tx, actorID, "sector create"); err != nil {
		return domain.Sector{}, err
	}
	s := domain.Sector{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertSector(ctx, tx, s); err != nil {
		return domain.Sector{}, fmt.Errorf("insert sector: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Sector{}, err
	}
	return s, nil
}

func (e Engine) RenameSector(ctx context.Context, actorID, id, name string) (domain.Sector, error) {
	if name == "" {
		return domain.Sector{}, errors.New("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sector{}, err
	}
	defer tx.Rollback()

	if err := e.Policy.RequireCEO(ctx, tx, actorID, "sector update"); err != nil {
		return domain.Sector{}, err
	}
	if err := e.Repo.UpdateSectorName(ctx, tx, id, name); err != nil {
		return domain.Sector{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sector{}, err
	}
	return e.Repo.GetSector(ctx, id)
}

// DeleteSector refuses while tasks still reference the sector. The
// schema backs this up with ON DELETE RESTRICT.
func (e Engine) DeleteSector(ctx context.Context, actorID, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Policy.RequireCEO(ctx, tx, actorID, "sector delete"); err != nil {
		return err
	}
	n, err := e.Repo.CountSectorTasks(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ConflictError{Message: fmt.Sprintf("sector has %d tasks", n)}
	}
	if err := e.Repo.DeleteSector(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetSector(ctx context.Context, id string) (domain.Sector, error) {
	return e.Repo.GetSector(ctx, id)
}

func (e Engine) ListSectors(ctx context.Context) ([]domain.Sector, error) {
	return e.Repo.ListSectors(ctx)
}

// --- tasks ---

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title          string
	Description    string
	Type           string
	SectorID       string
	Deadline       string
	Urgency        string
	Status         string
	CEOObservation *string
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.SectorID == "" {
		return domain.Task{}, errors.New("sector is required")
	}
	if !domain.ValidTaskType(opts.Type) {
		return domain.Task{}, fmt.Errorf("invalid task type %q", opts.Type)
	}
	deadline, err := normalizeTimestamp(opts.Deadline)
	if err != nil {
		return domain.Task{}, fmt.Errorf("invalid deadline: %w", err)
	}
	if opts.Urgency == "" {
		opts.Urgency = domain.UrgencyNotUrgent
	}
	if !domain.ValidUrgency(opts.Urgency) {
		return domain.Task{}, fmt.Errorf("invalid urgency %q", opts.Urgency)
	}
	if opts.Status == "" {
		opts.Status = domain.StatusPending
	}
	if !domain.ValidStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("invalid status %q", opts.Status)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Policy.RequireCEO(ctx, tx, opts.ActorID, "task create"); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Repo.GetSector(ctx, opts.SectorID); err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:             uuid.NewString(),
		Title:          opts.Title,
		Description:    opts.Description,
		Type:           opts.Type,
		SectorID:       opts.SectorID,
		Deadline:       deadline,
		Urgency:        opts.Urgency,
		Status:         opts.Status,
		CEOObservation: opts.CEOObservation,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// Creation is not a transition: the ledger starts with the first
	// status change, not with the insert.
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// TaskUpdateOptions carry a partial update; nil fields keep the stored
// value. An empty CEOObservation clears the column.
type TaskUpdateOptions struct {
	ID             string
	Title          *string
	Description    *string
	Type           *string
	SectorID       *string
	Deadline       *string
	Urgency        *string
	Status         *string
	CEOObservation *string
	ActorID        string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.ID == "" {
		return domain.Task{}, errors.New("id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Policy.RequireCEO(ctx, tx, opts.ActorID, "task update"); err != nil {
		return domain.Task{}, err
	}
	current, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	next := current
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Task{}, errors.New("title is required")
		}
		next.Title = *opts.Title
	}
	if opts.Description != nil {
		next.Description = *opts.Description
	}
	if opts.Type != nil {
		if !domain.ValidTaskType(*opts.Type) {
			return domain.Task{}, fmt.Errorf("invalid task type %q", *opts.Type)
		}
		next.Type = *opts.Type
	}
	if opts.SectorID != nil {
		if _, err := e.Repo.GetSector(ctx, *opts.SectorID); err != nil {
			return domain.Task{}, err
		}
		next.SectorID = *opts.SectorID
	}
	if opts.Deadline != nil {
		deadline, err := normalizeTimestamp(*opts.Deadline)
		if err != nil {
			return domain.Task{}, fmt.Errorf("invalid deadline: %w", err)
		}
		next.Deadline = deadline
	}
	if opts.Urgency != nil {
		if !domain.ValidUrgency(*opts.Urgency) {
			return domain.Task{}, fmt.Errorf("invalid urgency %q", *opts.Urgency)
		}
		next.Urgency = *opts.Urgency
	}
	if opts.Status != nil {
		if !domain.ValidStatus(*opts.Status) {
			return domain.Task{}, fmt.Errorf("invalid status %q", *opts.Status)
		}
		next.Status = *opts.Status
	}
	if opts.CEOObservation != nil {
		if *opts.CEOObservation == "" {
			next.CEOObservation = nil
		} else {
			next.CEOObservation = opts.CEOObservation
		}
	}

	// updated_at is stamped here, never accepted from the caller.
	next.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, next); err != nil {
		return domain.Task{}, err
	}
	if next.Status != current.Status {
		old := current.Status
		if err := e.History.Append(ctx, tx, next.ID, &old, next.Status, next.CEOObservation); err != nil {
			return domain.Task{}, fmt.Errorf("append task history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, next.ID)
}

// UpdateTaskStatus is the dashboard's status action. An observation, if
// given, replaces the task's ceo_observation and is snapshotted on the
// ledger row.
func (e Engine) UpdateTaskStatus(ctx context.Context, actorID, id, status string, observation *string) (domain.Task, error) {
	return e.UpdateTask(ctx, TaskUpdateOptions{
		ID:             id,
		Status:         &status,
		CEOObservation: observation,
		ActorID:        actorID,
	})
}

func (e Engine) DeleteTask(ctx context.Context, actorID, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Policy.RequireCEO(ctx, tx, actorID, "task delete"); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	// task_history rows cascade with the task.
	return tx.Commit()
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) ListTaskHistory(ctx context.Context, taskID string) ([]domain.TaskHistory, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListTaskHistory(ctx, taskID)
}

// StatusSummary groups task counts for the dashboard header.
func (e Engine) StatusSummary(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountTasksByStatus(ctx)
}

// --- profiles ---

// UpdateOwnProfile changes the caller's display name. Role is fixed at
// registration and has no update path.
func (e Engine) UpdateOwnProfile(ctx context.Context, actorID, fullName string) (domain.Profile, error) {
	if actorID == "" {
		return domain.Profile{}, errors.New("actor required")
	}
	if err := e.Repo.UpdateProfileName(ctx, actorID, fullName); err != nil {
		return domain.Profile{}, err
	}
	return e.Repo.GetProfile(ctx, actorID)
}

func (e Engine) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return e.Repo.GetProfile(ctx, id)
}

func normalizeTimestamp(v string) (string, error) {
	if v == "" {
		return "", errors.New("timestamp required")
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}
