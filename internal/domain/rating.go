package domain

import "time"

// Rating is one stored rating row. A user may rate the same venue or dish
// many times; aggregation collapses repeats per voter.
type Rating struct {
	ID           string
	RestaurantID string
	DishID       *string
	UserID       string
	Value        *float64
	Comment      *string
	CreatedAt    time.Time
}

// RatingObservation is the (voter, rating) pair consumed by aggregation.
// Rating is nil when the stored value is missing.
type RatingObservation struct {
	VoterID string
	Rating  *float64
}

// VoterAverage is the mean of one voter's valid ratings for a target.
type VoterAverage struct {
	VoterID string
	Mean    float64
	Count   int
}

// PublicRating is the displayed aggregate for a restaurant or dish.
type PublicRating struct {
	Value      float64
	VoterCount int
}

// Observation converts a stored rating into an aggregation input.
func (r Rating) Observation() RatingObservation {
	return RatingObservation{VoterID: r.UserID, Rating: r.Value}
}
