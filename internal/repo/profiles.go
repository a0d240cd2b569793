package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sectorboard/internal/domain"
)

// InsertAccount stores an identity account. PasswordHash must already be
// hashed by the identity layer.
func (r Repo) InsertAccount(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	if a.ID == "" {
		return errors.New("id required")
	}
	if a.Email == "" {
		return errors.New("email required")
	}
	if a.PasswordHash == "" {
		return errors.New("password_hash required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO accounts(id,email,password_hash,created_at) VALUES (?,?,?,?)`,
		a.ID, strings.ToLower(strings.TrimSpace(a.Email)), a.PasswordHash, a.CreatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,password_hash,created_at FROM accounts WHERE id=?`, id).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	var a domain.Account
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,password_hash,created_at FROM accounts WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email))).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// InsertProfile provisions the account's profile row. There is no update
// path for role: it is fixed at first registration.
func (r Repo) InsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	if p.ID == "" {
		return errors.New("id required")
	}
	if !domain.ValidRole(p.Role) {
		return errors.New("invalid role")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(id,role,full_name,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Role, nullable(p.FullName), p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	var fullName sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,role,full_name,created_at FROM profiles WHERE id=?`, id).
		Scan(&p.ID, &p.Role, &fullName, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if fullName.Valid {
		p.FullName = fullName.String
	}
	return p, err
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	var p domain.Profile
	var fullName sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,role,full_name,created_at FROM profiles WHERE id=?`, id).
		Scan(&p.ID, &p.Role, &fullName, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if fullName.Valid {
		p.FullName = fullName.String
	}
	return p, err
}

// UpdateProfileName changes the display name on one's own row.
func (r Repo) UpdateProfileName(ctx context.Context, id, fullName string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE profiles SET full_name=? WHERE id=?`, nullable(fullName), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account; the profile and sessions cascade.
func (r Repo) DeleteAccount(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM accounts WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
