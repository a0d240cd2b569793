package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sectorboard/internal/domain"
)

// ForbiddenError indicates the acting profile lacks the role an action
// requires.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("ceo role required for %s", e.Action)
}

// Service answers role questions inside the mutation's own transaction,
// so the check and the write see the same snapshot.
type Service struct{}

// Role loads the stored role for a profile. The profile row is the only
// source of truth; callers never pass a role in.
func (s Service) Role(ctx context.Context, tx *sql.Tx, profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile_id required")
	}
	row := tx.QueryRowContext(ctx, `SELECT role FROM profiles WHERE id=?`, profileID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", ForbiddenError{Action: "unknown profile"}
	}
	return role, err
}

// RequireCEO fails with ForbiddenError unless the profile holds the ceo
// role.
func (s Service) RequireCEO(ctx context.Context, tx *sql.Tx, profileID, action string) error {
	role, err := s.Role(ctx, tx, profileID)
	if err != nil {
		return err
	}
	if role != domain.RoleCEO {
		return ForbiddenError{Action: action}
	}
	return nil
}
