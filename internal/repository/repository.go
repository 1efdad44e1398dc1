package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/bitebox/internal/store"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("repository: not found")

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Restaurants *RestaurantsRepository
	Dishes      *DishesRepository
	Ratings     *RatingsRepository
	Profiles    *ProfilesRepository
	Admins      *AdminsRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Restaurants: &RestaurantsRepository{pool: pool},
		Dishes:      &DishesRepository{pool: pool},
		Ratings:     &RatingsRepository{pool: pool},
		Profiles:    &ProfilesRepository{pool: pool},
		Admins:      &AdminsRepository{pool: pool},
	}
}

// validID reports whether id can be passed to a uuid column. Malformed ids
// are treated as missing rows rather than database errors.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
