package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

// ProfilesRepository stores public user profiles.
type ProfilesRepository struct {
	pool *pgxpool.Pool
}

// ProfileUpsertParams captures the editable profile fields.
type ProfileUpsertParams struct {
	UserID      string
	DisplayName string
	Bio         *string
	AvatarURL   *string
}

// Get returns the profile of a user.
func (r *ProfilesRepository) Get(ctx context.Context, userID string) (domain.Profile, error) {
	const query = `
        SELECT user_id, display_name, bio, avatar_url, updated_at
        FROM profiles
        WHERE user_id = $1
    `
	var profile domain.Profile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.Bio,
		&profile.AvatarURL,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, ErrNotFound
		}
		return domain.Profile{}, err
	}
	return profile, nil
}

// Upsert creates or replaces a user's profile.
func (r *ProfilesRepository) Upsert(ctx context.Context, params ProfileUpsertParams) (domain.Profile, error) {
	const query = `
        INSERT INTO profiles (user_id, display_name, bio, avatar_url)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id)
        DO UPDATE SET display_name = EXCLUDED.display_name,
                      bio = EXCLUDED.bio,
                      avatar_url = EXCLUDED.avatar_url,
                      updated_at = now()
        RETURNING user_id, display_name, bio, avatar_url, updated_at
    `
	var profile domain.Profile
	err := r.pool.QueryRow(ctx, query, params.UserID, params.DisplayName, params.Bio, params.AvatarURL).Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.Bio,
		&profile.AvatarURL,
		&profile.UpdatedAt,
	)
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}
