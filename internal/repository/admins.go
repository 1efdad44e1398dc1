package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminsRepository reads and writes the admin side table. A user is an
// administrator iff a row with their id exists.
type AdminsRepository struct {
	pool *pgxpool.Pool
}

// IsAdmin reports whether userID has an admin row.
func (r *AdminsRepository) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM admins WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("admin lookup: %w", err)
	}
	return exists, nil
}

// Grant makes userID an administrator. Granting twice is a no-op.
func (r *AdminsRepository) Grant(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO admins (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}
	return nil
}
