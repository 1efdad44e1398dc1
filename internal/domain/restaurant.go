package domain

import "time"

// Restaurant represents a venue in the catalog.
type Restaurant struct {
	ID          string
	Name        string
	Cuisine     string
	Address     *string
	City        *string
	Description *string
	ImageURL    *string
	PriceLevel  *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Dish is a menu item that can be rated on its own.
type Dish struct {
	ID           string
	RestaurantID string
	Name         string
	Description  *string
	PriceCents   *int64
	CreatedAt    time.Time
}
