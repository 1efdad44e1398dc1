package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

// RatingsRepository stores rating rows and loads the observations used for
// aggregation.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

// RatingInsertParams captures the payload required to record a rating.
// DishID is nil for a venue rating.
type RatingInsertParams struct {
	RestaurantID string
	DishID       *string
	UserID       string
	Value        float64
	Comment      *string
}

const ratingColumns = `id, restaurant_id, dish_id, user_id, rating::float8, comment, created_at`

// Insert records a new rating row. Repeat ratings by the same user are kept;
// aggregation weighs them as one voice. Unknown restaurants or dishes (or a
// dish belonging to another restaurant) yield ErrNotFound.
func (r *RatingsRepository) Insert(ctx context.Context, params RatingInsertParams) (domain.Rating, error) {
	if !validID(params.RestaurantID) || (params.DishID != nil && !validID(*params.DishID)) {
		return domain.Rating{}, ErrNotFound
	}

	query := fmt.Sprintf(`
        INSERT INTO ratings (restaurant_id, dish_id, user_id, rating, comment)
        SELECT r.id, $2::uuid, $3::text, $4::numeric, $5::text
        FROM restaurants r
        WHERE r.id = $1
          AND ($2::uuid IS NULL OR EXISTS (SELECT 1 FROM dishes d WHERE d.id = $2::uuid AND d.restaurant_id = r.id))
        RETURNING %s
    `, ratingColumns)

	rating, err := scanRating(r.pool.QueryRow(ctx, query, params.RestaurantID, params.DishID, params.UserID, params.Value, params.Comment))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rating{}, ErrNotFound
		}
		return domain.Rating{}, fmt.Errorf("insert rating: %w", err)
	}
	return rating, nil
}

// ObservationsForRestaurant returns every rating row of a restaurant, venue
// and dish ratings alike.
func (r *RatingsRepository) ObservationsForRestaurant(ctx context.Context, restaurantID string) ([]domain.RatingObservation, error) {
	if !validID(restaurantID) {
		return nil, ErrNotFound
	}
	return r.observations(ctx, `SELECT user_id, rating::float8 FROM ratings WHERE restaurant_id = $1`, restaurantID)
}

// ObservationsForDish returns the rating rows of a single dish.
func (r *RatingsRepository) ObservationsForDish(ctx context.Context, dishID string) ([]domain.RatingObservation, error) {
	if !validID(dishID) {
		return nil, ErrNotFound
	}
	return r.observations(ctx, `SELECT user_id, rating::float8 FROM ratings WHERE dish_id = $1`, dishID)
}

// ObservationsForRestaurants loads observations for many restaurants in one
// round trip, keyed by restaurant id.
func (r *RatingsRepository) ObservationsForRestaurants(ctx context.Context, restaurantIDs []string) (map[string][]domain.RatingObservation, error) {
	return r.observationsBy(ctx, "restaurant_id", restaurantIDs)
}

// ObservationsForDishes is the dish counterpart of
// ObservationsForRestaurants.
func (r *RatingsRepository) ObservationsForDishes(ctx context.Context, dishIDs []string) (map[string][]domain.RatingObservation, error) {
	return r.observationsBy(ctx, "dish_id", dishIDs)
}

// observationsBy groups rating rows by column, which must be one of the
// uuid key columns of ratings.
func (r *RatingsRepository) observationsBy(ctx context.Context, column string, keys []string) (map[string][]domain.RatingObservation, error) {
	out := make(map[string][]domain.RatingObservation, len(keys))
	ids := make([]string, 0, len(keys))
	for _, id := range keys {
		if validID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
        SELECT %[1]s, user_id, rating::float8
        FROM ratings
        WHERE %[1]s = ANY($1::uuid[])
    `, column)
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var obs domain.RatingObservation
		if err := rows.Scan(&key, &obs.VoterID, &obs.Rating); err != nil {
			return nil, err
		}
		out[key] = append(out[key], obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByUser returns a user's ratings, newest first.
func (r *RatingsRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Rating, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM ratings WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT %d`, ratingColumns, limit)
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ratings := make([]domain.Rating, 0)
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		ratings = append(ratings, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ratings, nil
}

func (r *RatingsRepository) observations(ctx context.Context, query, id string) ([]domain.RatingObservation, error) {
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RatingObservation, 0)
	for rows.Next() {
		var obs domain.RatingObservation
		if err := rows.Scan(&obs.VoterID, &obs.Rating); err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanRating(row pgx.Row) (domain.Rating, error) {
	var rating domain.Rating
	err := row.Scan(
		&rating.ID,
		&rating.RestaurantID,
		&rating.DishID,
		&rating.UserID,
		&rating.Value,
		&rating.Comment,
		&rating.CreatedAt,
	)
	if err != nil {
		return domain.Rating{}, err
	}
	return rating, nil
}
