package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

// RestaurantsRepository provides persistence helpers for the catalog.
type RestaurantsRepository struct {
	pool *pgxpool.Pool
}

const restaurantColumns = `
    id,
    name,
    cuisine,
    address,
    city,
    description,
    image_url,
    price_level,
    created_at,
    updated_at
`

// RestaurantParams bundles the editable restaurant fields.
type RestaurantParams struct {
	Name        string
	Cuisine     string
	Address     *string
	City        *string
	Description *string
	ImageURL    *string
	PriceLevel  *int
}

// RestaurantListFilters encapsulates search and pagination options.
type RestaurantListFilters struct {
	Query   *string
	Cuisine *string
	City    *string
	Limit   int
	Cursor  *RestaurantCursor
}

// RestaurantCursor allows stable pagination by created_at/id.
type RestaurantCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// RestaurantListResult returns the paginated payload.
type RestaurantListResult struct {
	Items      []domain.Restaurant
	NextCursor *string
}

// Create inserts a new restaurant row and returns the stored entity.
func (r *RestaurantsRepository) Create(ctx context.Context, params RestaurantParams) (domain.Restaurant, error) {
	query := fmt.Sprintf(`
        INSERT INTO restaurants (name, cuisine, address, city, description, image_url, price_level)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING %s
    `, restaurantColumns)

	row := r.pool.QueryRow(ctx, query, params.Name, params.Cuisine, params.Address, params.City, params.Description, params.ImageURL, params.PriceLevel)
	return scanRestaurant(row)
}

// GetByID fetches a restaurant by its identifier.
func (r *RestaurantsRepository) GetByID(ctx context.Context, id string) (domain.Restaurant, error) {
	if !validID(id) {
		return domain.Restaurant{}, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM restaurants WHERE id = $1`, restaurantColumns)
	restaurant, err := scanRestaurant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Restaurant{}, ErrNotFound
		}
		return domain.Restaurant{}, err
	}
	return restaurant, nil
}

// Update replaces the editable fields of a restaurant.
func (r *RestaurantsRepository) Update(ctx context.Context, id string, params RestaurantParams) (domain.Restaurant, error) {
	if !validID(id) {
		return domain.Restaurant{}, ErrNotFound
	}
	query := fmt.Sprintf(`
        UPDATE restaurants
        SET name = $2,
            cuisine = $3,
            address = $4,
            city = $5,
            description = $6,
            image_url = $7,
            price_level = $8,
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, restaurantColumns)

	row := r.pool.QueryRow(ctx, query, id, params.Name, params.Cuisine, params.Address, params.City, params.Description, params.ImageURL, params.PriceLevel)
	restaurant, err := scanRestaurant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Restaurant{}, ErrNotFound
		}
		return domain.Restaurant{}, err
	}
	return restaurant, nil
}

// Delete removes a restaurant together with its dishes and ratings.
func (r *RestaurantsRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM restaurants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete restaurant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns restaurants that match the provided filters, newest first.
func (r *RestaurantsRepository) List(ctx context.Context, filters RestaurantListFilters) (RestaurantListResult, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	} else if filters.Limit > 100 {
		filters.Limit = 100
	}

	where := make([]string, 0)
	args := make([]interface{}, 0)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		q := "%" + strings.TrimSpace(*filters.Query) + "%"
		p1 := arg(q)
		p2 := arg(q)
		where = append(where, fmt.Sprintf("(name ILIKE %s OR description ILIKE %s)", p1, p2))
	}
	if filters.Cuisine != nil && strings.TrimSpace(*filters.Cuisine) != "" {
		where = append(where, fmt.Sprintf("cuisine ILIKE %s", arg(strings.TrimSpace(*filters.Cuisine))))
	}
	if filters.City != nil && strings.TrimSpace(*filters.City) != "" {
		where = append(where, fmt.Sprintf("city ILIKE %s", arg(strings.TrimSpace(*filters.City))))
	}
	if filters.Cursor != nil {
		cursorCreated := arg(filters.Cursor.CreatedAt)
		cursorID := arg(filters.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s::uuid)", cursorCreated, cursorID))
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(restaurantColumns)
	queryBuilder.WriteString(" FROM restaurants")

	if len(where) > 0 {
		queryBuilder.WriteString(" WHERE ")
		queryBuilder.WriteString(strings.Join(where, " AND "))
	}

	queryBuilder.WriteString(" ORDER BY created_at DESC, id DESC")
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d", filters.Limit))

	rows, err := r.pool.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return RestaurantListResult{}, err
	}
	defer rows.Close()

	items := make([]domain.Restaurant, 0)
	for rows.Next() {
		restaurant, err := scanRestaurant(rows)
		if err != nil {
			return RestaurantListResult{}, err
		}
		items = append(items, restaurant)
	}
	if err := rows.Err(); err != nil {
		return RestaurantListResult{}, err
	}

	var nextCursor *string
	if len(items) == filters.Limit {
		last := items[len(items)-1]
		token, err := encodeCursor(RestaurantCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return RestaurantListResult{}, err
		}
		nextCursor = &token
	}

	return RestaurantListResult{Items: items, NextCursor: nextCursor}, nil
}

func scanRestaurant(row pgx.Row) (domain.Restaurant, error) {
	var restaurant domain.Restaurant
	err := row.Scan(
		&restaurant.ID,
		&restaurant.Name,
		&restaurant.Cuisine,
		&restaurant.Address,
		&restaurant.City,
		&restaurant.Description,
		&restaurant.ImageURL,
		&restaurant.PriceLevel,
		&restaurant.CreatedAt,
		&restaurant.UpdatedAt,
	)
	if err != nil {
		return domain.Restaurant{}, err
	}
	return restaurant, nil
}

func encodeCursor(c RestaurantCursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeCursor parses a cursor token into a RestaurantCursor.
func DecodeCursor(token string) (*RestaurantCursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var cursor RestaurantCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor payload: %w", err)
	}
	if !validID(cursor.ID) {
		return nil, fmt.Errorf("invalid cursor id")
	}
	return &cursor, nil
}
