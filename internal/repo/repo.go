package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sectorboard/internal/domain"
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
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

// --- sectors ---

func (r Repo) InsertSector(ctx context.Context, tx *sql.Tx, s domain.Sector) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sectors(id,name,created_at) VALUES (?,?,?)`,
		s.ID, s.Name, s.CreatedAt)
	return err
}

func (r Repo) GetSector(ctx context.Context, id string) (domain.Sector, error) {
	var s domain.Sector
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM sectors WHERE id=?`, id).
		Scan(&s.ID, &s.Name, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// ListSectors returns all sectors ordered by name.
func (r Repo) ListSectors(ctx context.Context) ([]domain.Sector, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM sectors ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sector
	for rows.Next() {
		var s domain.Sector
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateSectorName(ctx context.Context, tx *sql.Tx, id, name string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sectors SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSector(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM sectors WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSectorTasks reports how many tasks still reference a sector.
func (r Repo) CountSectorTasks(ctx context.Context, tx *sql.Tx, sectorID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE sector_id=?`, sectorID).Scan(&n)
	return n, err
}

// --- tasks ---

const taskColumns = `t.id,t.title,t.description,t.type,t.sector_id,s.name,t.deadline,t.urgency,t.status,t.ceo_observation,t.created_at,t.updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, observation sql.NullString
	err := scan(&t.ID, &t.Title, &description, &t.Type, &t.SectorID, &t.SectorName,
		&t.Deadline, &t.Urgency, &t.Status, &observation, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if observation.Valid {
		t.CEOObservation = &observation.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,type,sector_id,deadline,urgency,status,ceo_observation,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Type, t.SectorID, t.Deadline,
		t.Urgency, t.Status, nullableStringPtr(t.CEOObservation), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, type=?, sector_id=?, deadline=?, urgency=?, status=?, ceo_observation=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Type, t.SectorID, t.Deadline,
		t.Urgency, t.Status, nullableStringPtr(t.CEOObservation), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t JOIN sectors s ON s.id=t.sector_id WHERE t.id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t JOIN sectors s ON s.id=t.sector_id WHERE t.id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskFilters struct {
	Status   string
	SectorID string
	Urgency  string
}

// ListTasks returns tasks joined with their sector, ordered by deadline.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if f.SectorID != "" {
		clauses = append(clauses, "t.sector_id=?")
		args = append(args, f.SectorID)
	}
	if f.Urgency != "" {
		clauses = append(clauses, "t.urgency=?")
		args = append(args, f.Urgency)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks t JOIN sectors s ON s.id=t.sector_id ` + where + ` ORDER BY t.deadline ASC, t.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountTasksByStatus groups task counts for the dashboard summary.
func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
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
