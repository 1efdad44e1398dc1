package httpserver

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/bitebox/internal/domain"
	"github.com/Clark-Hu/bitebox/internal/rating"
	"github.com/Clark-Hu/bitebox/internal/repository"
	"github.com/Clark-Hu/bitebox/internal/session"
)

const (
	minRating = 1.0
	maxRating = 5.0
)

var zeroRating domain.PublicRating

type publicRatingResponse struct {
	Value      float64 `json:"value"`
	VoterCount int     `json:"voterCount"`
}

type restaurantResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Cuisine     string               `json:"cuisine"`
	Address     *string              `json:"address,omitempty"`
	City        *string              `json:"city,omitempty"`
	Description *string              `json:"description,omitempty"`
	ImageURL    *string              `json:"imageUrl,omitempty"`
	PriceLevel  *int                 `json:"priceLevel,omitempty"`
	Rating      publicRatingResponse `json:"rating"`
}

type restaurantListResponse struct {
	Items      []restaurantResponse `json:"items"`
	NextCursor *string              `json:"nextCursor,omitempty"`
}

type voterAverageResponse struct {
	VoterID string  `json:"voterId"`
	Mean    float64 `json:"mean"`
	Count   int     `json:"count"`
}

type dishResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description *string              `json:"description,omitempty"`
	PriceCents  *int64               `json:"priceCents,omitempty"`
	Rating      publicRatingResponse `json:"rating"`
}

type restaurantDetailResponse struct {
	restaurantResponse
	VoterAverages []voterAverageResponse `json:"voterAverages"`
	Dishes        []dishResponse         `json:"dishes"`
}

type ratingRequest struct {
	Rating  float64 `json:"rating"`
	Comment *string `json:"comment"`
}

type ratingResponse struct {
	ID           string                `json:"id"`
	RestaurantID string                `json:"restaurantId"`
	DishID       *string               `json:"dishId,omitempty"`
	UserID       string                `json:"userId"`
	Rating       *float64              `json:"rating"`
	Comment      *string               `json:"comment,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	Public       *publicRatingResponse `json:"publicRating,omitempty"`
}

func (s *Server) handleListRestaurants(w http.ResponseWriter, r *http.Request) {
	filters, err := buildRestaurantFilters(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	result, err := s.repo.Restaurants.List(r.Context(), filters)
	if err != nil {
		s.respondInternal(w, "Failed to list restaurants", err)
		return
	}

	ids := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		ids = append(ids, item.ID)
	}
	observations, err := s.repo.Ratings.ObservationsForRestaurants(r.Context(), ids)
	if err != nil {
		s.respondInternal(w, "Failed to list restaurants", err)
		return
	}

	items := make([]restaurantResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, toRestaurantResponse(item, rating.Compute(observations[item.ID])))
	}
	s.metrics.AddRatingsAggregated(len(items))

	s.respondJSON(w, http.StatusOK, restaurantListResponse{
		Items:      items,
		NextCursor: result.NextCursor,
	})
}

func buildRestaurantFilters(query url.Values) (repository.RestaurantListFilters, error) {
	var filters repository.RestaurantListFilters

	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}
	if val := strings.TrimSpace(query.Get("cuisine")); val != "" {
		filters.Cuisine = &val
	}
	if val := strings.TrimSpace(query.Get("city")); val != "" {
		filters.City = &val
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return filters, fmt.Errorf("invalid limit value")
		}
		filters.Limit = limit
	}
	if val := strings.TrimSpace(query.Get("cursor")); val != "" {
		cursor, err := repository.DecodeCursor(val)
		if err != nil {
			return filters, fmt.Errorf("invalid cursor")
		}
		filters.Cursor = cursor
	}
	return filters, nil
}

func (s *Server) handleGetRestaurant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	restaurant, err := s.repo.Restaurants.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to fetch restaurant", err)
		return
	}

	observations, err := s.repo.Ratings.ObservationsForRestaurant(ctx, restaurant.ID)
	if err != nil {
		s.respondInternal(w, "Failed to fetch restaurant", err)
		return
	}
	dishes, err := s.repo.Dishes.ListByRestaurant(ctx, restaurant.ID)
	if err != nil {
		s.respondInternal(w, "Failed to fetch restaurant", err)
		return
	}

	resp := restaurantDetailResponse{
		restaurantResponse: toRestaurantResponse(restaurant, rating.Compute(observations)),
		VoterAverages:      make([]voterAverageResponse, 0),
		Dishes:             make([]dishResponse, 0, len(dishes)),
	}
	for _, avg := range rating.VoterAverages(observations) {
		resp.VoterAverages = append(resp.VoterAverages, voterAverageResponse{
			VoterID: avg.VoterID,
			Mean:    rating.RoundToTwoDecimals(avg.Mean),
			Count:   avg.Count,
		})
	}
	dishIDs := make([]string, 0, len(dishes))
	for _, dish := range dishes {
		dishIDs = append(dishIDs, dish.ID)
	}
	dishObs, err := s.repo.Ratings.ObservationsForDishes(ctx, dishIDs)
	if err != nil {
		s.respondInternal(w, "Failed to fetch restaurant", err)
		return
	}
	for _, dish := range dishes {
		resp.Dishes = append(resp.Dishes, toDishResponse(dish, rating.Compute(dishObs[dish.ID])))
	}
	s.metrics.AddRatingsAggregated(1 + len(dishes))

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRateRestaurant(w http.ResponseWriter, r *http.Request) {
	user := session.UserFromContext(r.Context())

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if !validRating(req.Rating) {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rating must be between 1 and 5")
		return
	}

	stored, err := s.repo.Ratings.Insert(r.Context(), repository.RatingInsertParams{
		RestaurantID: chi.URLParam(r, "id"),
		UserID:       user.ID,
		Value:        req.Rating,
		Comment:      normalizeStringPtr(req.Comment),
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to record rating", err)
		return
	}

	observations, err := s.repo.Ratings.ObservationsForRestaurant(r.Context(), stored.RestaurantID)
	if err != nil {
		s.respondInternal(w, "Failed to record rating", err)
		return
	}
	s.metrics.AddRatingsAggregated(1)
	resp := toRatingResponse(stored)
	public := publicRatingResponse(rating.Compute(observations))
	resp.Public = &public
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRateDish(w http.ResponseWriter, r *http.Request) {
	user := session.UserFromContext(r.Context())

	dish, err := s.repo.Dishes.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to record rating", err)
		return
	}

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if !validRating(req.Rating) {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rating must be between 1 and 5")
		return
	}

	stored, err := s.repo.Ratings.Insert(r.Context(), repository.RatingInsertParams{
		RestaurantID: dish.RestaurantID,
		DishID:       &dish.ID,
		UserID:       user.ID,
		Value:        req.Rating,
		Comment:      normalizeStringPtr(req.Comment),
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to record rating", err)
		return
	}

	observations, err := s.repo.Ratings.ObservationsForDish(r.Context(), dish.ID)
	if err != nil {
		s.respondInternal(w, "Failed to record rating", err)
		return
	}
	s.metrics.AddRatingsAggregated(1)
	resp := toRatingResponse(stored)
	public := publicRatingResponse(rating.Compute(observations))
	resp.Public = &public
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleMyRatings(w http.ResponseWriter, r *http.Request) {
	user := session.UserFromContext(r.Context())

	limit := 50
	if val := strings.TrimSpace(r.URL.Query().Get("limit")); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid limit value")
			return
		}
		limit = parsed
	}

	ratings, err := s.repo.Ratings.ListByUser(r.Context(), user.ID, limit)
	if err != nil {
		s.respondInternal(w, "Failed to list ratings", err)
		return
	}
	items := make([]ratingResponse, 0, len(ratings))
	for _, rt := range ratings {
		items = append(items, toRatingResponse(rt))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// validRating accepts values on the 1-5 scale in steps of 0.5.
func validRating(v float64) bool {
	if math.IsNaN(v) || v < minRating || v > maxRating {
		return false
	}
	return v*2 == math.Trunc(v*2)
}

func toRestaurantResponse(restaurant domain.Restaurant, public domain.PublicRating) restaurantResponse {
	return restaurantResponse{
		ID:          restaurant.ID,
		Name:        restaurant.Name,
		Cuisine:     restaurant.Cuisine,
		Address:     restaurant.Address,
		City:        restaurant.City,
		Description: restaurant.Description,
		ImageURL:    restaurant.ImageURL,
		PriceLevel:  restaurant.PriceLevel,
		Rating:      publicRatingResponse(public),
	}
}

func toDishResponse(dish domain.Dish, public domain.PublicRating) dishResponse {
	return dishResponse{
		ID:          dish.ID,
		Name:        dish.Name,
		Description: dish.Description,
		PriceCents:  dish.PriceCents,
		Rating:      publicRatingResponse(public),
	}
}

func toRatingResponse(rt domain.Rating) ratingResponse {
	return ratingResponse{
		ID:           rt.ID,
		RestaurantID: rt.RestaurantID,
		DishID:       rt.DishID,
		UserID:       rt.UserID,
		Rating:       rt.Value,
		Comment:      rt.Comment,
		CreatedAt:    rt.CreatedAt,
	}
}
