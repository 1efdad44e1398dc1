package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

// DishesRepository manages menu items of a restaurant.
type DishesRepository struct {
	pool *pgxpool.Pool
}

// DishCreateParams captures the fields required to add a dish.
type DishCreateParams struct {
	RestaurantID string
	Name         string
	Description  *string
	PriceCents   *int64
}

const dishColumns = `id, restaurant_id, name, description, price_cents, created_at`

// Create inserts a dish. A missing restaurant yields ErrNotFound.
func (r *DishesRepository) Create(ctx context.Context, params DishCreateParams) (domain.Dish, error) {
	if !validID(params.RestaurantID) {
		return domain.Dish{}, ErrNotFound
	}
	query := fmt.Sprintf(`
        INSERT INTO dishes (restaurant_id, name, description, price_cents)
        SELECT id, $2::text, $3::text, $4::bigint FROM restaurants WHERE id = $1
        RETURNING %s
    `, dishColumns)

	dish, err := scanDish(r.pool.QueryRow(ctx, query, params.RestaurantID, params.Name, params.Description, params.PriceCents))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dish{}, ErrNotFound
		}
		return domain.Dish{}, err
	}
	return dish, nil
}

// GetByID fetches a single dish.
func (r *DishesRepository) GetByID(ctx context.Context, id string) (domain.Dish, error) {
	if !validID(id) {
		return domain.Dish{}, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM dishes WHERE id = $1`, dishColumns)
	dish, err := scanDish(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Dish{}, ErrNotFound
		}
		return domain.Dish{}, err
	}
	return dish, nil
}

// ListByRestaurant returns the dishes of a restaurant ordered by name.
func (r *DishesRepository) ListByRestaurant(ctx context.Context, restaurantID string) ([]domain.Dish, error) {
	if !validID(restaurantID) {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM dishes WHERE restaurant_id = $1 ORDER BY name, id`, dishColumns)
	rows, err := r.pool.Query(ctx, query, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dishes := make([]domain.Dish, 0)
	for rows.Next() {
		dish, err := scanDish(rows)
		if err != nil {
			return nil, err
		}
		dishes = append(dishes, dish)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dishes, nil
}

// Delete removes a dish and its ratings.
func (r *DishesRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM dishes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDish(row pgx.Row) (domain.Dish, error) {
	var dish domain.Dish
	if err := row.Scan(&dish.ID, &dish.RestaurantID, &dish.Name, &dish.Description, &dish.PriceCents, &dish.CreatedAt); err != nil {
		return domain.Dish{}, err
	}
	return dish, nil
}
