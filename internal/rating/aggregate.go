// Package rating turns raw rating rows into the public score shown for a
// restaurant or dish. Each voter counts once no matter how many rows they
// submitted.
package rating

import (
	"math"
	"sort"
	"strconv"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

type voterTally struct {
	sum   float64
	count int
}

// Compute returns the mean of per-voter means rounded to two decimals.
// Observations with a missing or non-finite rating are ignored.
func Compute(observations []domain.RatingObservation) domain.PublicRating {
	averages := VoterAverages(observations)
	if len(averages) == 0 {
		return domain.PublicRating{}
	}

	var total float64
	for _, avg := range averages {
		total += avg.Mean
	}
	return domain.PublicRating{
		Value:      RoundToTwoDecimals(total / float64(len(averages))),
		VoterCount: len(averages),
	}
}

// VoterAverages groups valid observations by voter and returns one mean per
// voter, ordered by voter id.
func VoterAverages(observations []domain.RatingObservation) []domain.VoterAverage {
	tallies := make(map[string]*voterTally)
	for _, obs := range observations {
		if obs.Rating == nil || !isFinite(*obs.Rating) {
			continue
		}
		t, ok := tallies[obs.VoterID]
		if !ok {
			t = &voterTally{}
			tallies[obs.VoterID] = t
		}
		t.sum += *obs.Rating
		t.count++
	}

	voters := make([]string, 0, len(tallies))
	for id := range tallies {
		voters = append(voters, id)
	}
	// Sorted so the final summation order is fixed.
	sort.Strings(voters)

	averages := make([]domain.VoterAverage, 0, len(voters))
	for _, id := range voters {
		t := tallies[id]
		averages = append(averages, domain.VoterAverage{
			VoterID: id,
			Mean:    t.sum / float64(t.count),
			Count:   t.count,
		})
	}
	return averages
}

// RoundToTwoDecimals rounds half away from zero. The scaled value is first
// trimmed to 9 fractional digits so that binary noise (4.005*100 ==
// 400.49999999999994) does not flip the rounding direction.
func RoundToTwoDecimals(value float64) float64 {
	scaled := value * 100
	if trimmed, err := strconv.ParseFloat(strconv.FormatFloat(scaled, 'f', 9, 64), 64); err == nil {
		scaled = trimmed
	}
	return math.Round(scaled) / 100
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
