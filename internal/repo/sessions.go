package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"sectorboard/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertSession stores a session. TokenHash must already contain the
// hashed value.
func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	if s.ID == "" {
		return errors.New("id required")
	}
	if s.AccountID == "" {
		return errors.New("account_id required")
	}
	if s.TokenHash == "" {
		return errors.New("token_hash required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(id,account_id,token_hash,created_at,expires_at) VALUES (?,?,?,?,?)`,
		s.ID, s.AccountID, s.TokenHash, s.CreatedAt, s.ExpiresAt)
	return err
}

// GetSessionByTokenHash returns a session by its hashed bearer token.
func (r Repo) GetSessionByTokenHash(ctx context.Context, hash string) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,account_id,token_hash,created_at,expires_at FROM sessions WHERE token_hash=? LIMIT 1`, hash)
	var s domain.Session
	err := row.Scan(&s.ID, &s.AccountID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return domain.Session{}, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,account_id,token_hash,created_at,expires_at FROM sessions WHERE id=?`, id)
	var s domain.Session
	err := row.Scan(&s.ID, &s.AccountID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return domain.Session{}, ErrNotFound
	}
	return s, err
}

// UpdateSessionToken rotates a session's token and lifetime on refresh.
func (r Repo) UpdateSessionToken(ctx context.Context, id, tokenHash, expiresAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET token_hash=?, expires_at=? WHERE id=?`, tokenHash, expiresAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession deletes a session by ID.
func (r Repo) DeleteSession(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

// DeleteAccountSessions removes every session an account holds.
func (r Repo) DeleteAccountSessions(ctx context.Context, accountID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE account_id=?`, accountID)
	return err
}
