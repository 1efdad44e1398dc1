package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Clark-Hu/bitebox/internal/gate"
	"github.com/Clark-Hu/bitebox/internal/rating"
	"github.com/Clark-Hu/bitebox/internal/repository"
	"github.com/Clark-Hu/bitebox/internal/session"
)

const adminPassphraseHeader = "X-Admin-Passphrase"

type restaurantRequest struct {
	Name        string  `json:"name"`
	Cuisine     string  `json:"cuisine"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	Description *string `json:"description"`
	ImageURL    *string `json:"imageUrl"`
	PriceLevel  *int    `json:"priceLevel"`
}

type dishRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	PriceCents  *int64  `json:"priceCents"`
}

// requireAdminPassphrase guards the catalog management API. The gate has
// already redirected anyone without the admin role.
func (s *Server) requireAdminPassphrase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.gate != nil && !gate.IsAdmin(r.Context()) {
			s.respondError(w, http.StatusForbidden, "FORBIDDEN", "Administrator role required")
			return
		}
		passphrase := r.Header.Get(adminPassphraseHeader)
		if passphrase == "" || s.cfg.AdminPassHash == "" ||
			bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPassHash), []byte(passphrase)) != nil {
			fields := []zap.Field{zap.String("path", r.URL.Path)}
			if user := session.UserFromContext(r.Context()); user != nil {
				fields = append(fields, zap.String("user_id", user.ID))
			}
			s.logger.Warn("admin passphrase rejected", fields...)
			s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid admin passphrase")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (req restaurantRequest) params() (repository.RestaurantParams, error) {
	name := strings.TrimSpace(req.Name)
	cuisine := strings.TrimSpace(req.Cuisine)
	if name == "" || cuisine == "" {
		return repository.RestaurantParams{}, fmt.Errorf("name and cuisine are required")
	}
	if req.PriceLevel != nil && (*req.PriceLevel < 1 || *req.PriceLevel > 4) {
		return repository.RestaurantParams{}, fmt.Errorf("priceLevel must be between 1 and 4")
	}
	return repository.RestaurantParams{
		Name:        name,
		Cuisine:     cuisine,
		Address:     normalizeStringPtr(req.Address),
		City:        normalizeStringPtr(req.City),
		Description: normalizeStringPtr(req.Description),
		ImageURL:    normalizeStringPtr(req.ImageURL),
		PriceLevel:  req.PriceLevel,
	}, nil
}

func (s *Server) handleCreateRestaurant(w http.ResponseWriter, r *http.Request) {
	var req restaurantRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}

	restaurant, err := s.repo.Restaurants.Create(r.Context(), params)
	if err != nil {
		s.respondInternal(w, "Failed to create restaurant", err)
		return
	}
	s.logger.Info("restaurant created", zap.String("restaurant_id", restaurant.ID), zap.String("name", restaurant.Name))

	w.Header().Set("Location", "/api/restaurants/"+restaurant.ID)
	s.respondJSON(w, http.StatusCreated, toRestaurantResponse(restaurant, zeroRating))
}

func (s *Server) handleUpdateRestaurant(w http.ResponseWriter, r *http.Request) {
	var req restaurantRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}

	restaurant, err := s.repo.Restaurants.Update(r.Context(), chi.URLParam(r, "id"), params)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to update restaurant", err)
		return
	}
	observations, err := s.repo.Ratings.ObservationsForRestaurant(r.Context(), restaurant.ID)
	if err != nil {
		s.respondInternal(w, "Failed to update restaurant", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toRestaurantResponse(restaurant, rating.Compute(observations)))
}

func (s *Server) handleDeleteRestaurant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.repo.Restaurants.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to delete restaurant", err)
		return
	}
	s.logger.Info("restaurant deleted", zap.String("restaurant_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateDish(w http.ResponseWriter, r *http.Request) {
	var req dishRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required")
		return
	}
	if req.PriceCents != nil && *req.PriceCents < 0 {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priceCents must be non-negative")
		return
	}

	dish, err := s.repo.Dishes.Create(r.Context(), repository.DishCreateParams{
		RestaurantID: chi.URLParam(r, "id"),
		Name:         name,
		Description:  normalizeStringPtr(req.Description),
		PriceCents:   req.PriceCents,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to create dish", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toDishResponse(dish, zeroRating))
}

func (s *Server) handleDeleteDish(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Dishes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to delete dish", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
