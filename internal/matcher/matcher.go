// Package matcher scores and ranks candidate drivers for a trip request.
// Match is a pure query: offers and the acceptance race belong to the
// dispatch layer.
package matcher

import (
	"math"
	"sort"

	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type Weights struct {
	Proximity  float64
	Rating     float64
	Acceptance float64
	Completion float64
}

// DefaultWeights sum to 1.
var DefaultWeights = Weights{Proximity: 0.5, Rating: 0.2, Acceptance: 0.15, Completion: 0.15}

type Request struct {
	Pickup       models.Coord
	MaxDistanceM float64
	VehicleType  string
	MinRating    float64
	Limit        int
	Weights      Weights
}

// LocationSource is the slice of the location repository the matcher needs.
type LocationSource interface {
	Nearby(center models.Coord, radiusM float64, status models.DriverStatus, limit int) []location.NearbyResult
}

// StatsSource supplies historical acceptance/completion counters.
type StatsSource interface {
	DriverStats(driverID string) (models.DriverStats, error)
}

type Service struct {
	Locations LocationSource
	Stats     StatsSource
}

const (
	acceptancePrior = 0.9
	completionPrior = 0.95
	// below this many trips the completion ratio is too noisy to trust
	completionMinSample = 10
	// curve steepness: score falls to ~5% of range at max distance
	proximityDecay = 3.0
	// straight-line city speed assumed for per-candidate approach ETAs
	defaultSpeedMps = 10.0
)

// Match returns the ranked candidate list, empty when no eligible drivers
// exist. Candidates already on an active trip are never considered.
func (s *Service) Match(req Request) []models.MatchCandidate {
	if req.MaxDistanceM <= 0 {
		req.MaxDistanceM = 5000
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Weights == (Weights{}) {
		req.Weights = DefaultWeights
	}
	observability.MatchRequestsTotal.Inc()

	// over-fetch so post-filtering still fills the limit
	nearby := s.Locations.Nearby(req.Pickup, req.MaxDistanceM, models.StatusOnline, req.Limit*4)

	cands := make([]models.MatchCandidate, 0, len(nearby))
	for _, n := range nearby {
		d := n.Driver
		if d.CurrentTripID != "" {
			continue
		}
		if req.VehicleType != "" && d.VehicleType != req.VehicleType {
			continue
		}
		if d.Rating < req.MinRating {
			continue
		}

		c := models.MatchCandidate{Driver: d, DistanceM: n.DistanceM}
		c.ETASeconds = n.DistanceM / defaultSpeedMps
		c.ProximityScore = proximityScore(n.DistanceM, req.MaxDistanceM)
		c.RatingScore = ratingScore(d.Rating, req.MinRating)
		c.AcceptanceScore, c.CompletionScore = historyScores(s.Stats, d.DriverID)
		c.Score = req.Weights.Proximity*c.ProximityScore +
			req.Weights.Rating*c.RatingScore +
			req.Weights.Acceptance*c.AcceptanceScore +
			req.Weights.Completion*c.CompletionScore
		cands = append(cands, c)
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].DistanceM < cands[j].DistanceM
	})
	if len(cands) > req.Limit {
		cands = cands[:req.Limit]
	}
	return cands
}

// proximityScore maps distance to [0,1] on an exponential curve: steep near
// zero so a very close driver strongly outranks a merely close one, flat
// near maxDistance.
func proximityScore(distM, maxDistM float64) float64 {
	if distM <= 0 {
		return 1
	}
	if distM >= maxDistM {
		return 0
	}
	floor := math.Exp(-proximityDecay)
	return (math.Exp(-proximityDecay*distM/maxDistM) - floor) / (1 - floor)
}

// ratingScore linearly rescales [minRating,5] to [0,1].
func ratingScore(rating, minRating float64) float64 {
	if rating <= minRating {
		return 0
	}
	if rating >= 5 {
		return 1
	}
	return (rating - minRating) / (5 - minRating)
}

func historyScores(stats StatsSource, driverID string) (acceptance, completion float64) {
	acceptance, completion = acceptancePrior, completionPrior
	if stats == nil {
		return
	}
	st, err := stats.DriverStats(driverID)
	if err != nil || !st.Known {
		return
	}
	if st.OffersSeen > 0 {
		acceptance = float64(st.OffersAccepted) / float64(st.OffersSeen)
	}
	if st.TripsTotal < completionMinSample {
		completion = 0.5 // too few trips to judge either way
	} else {
		completion = float64(st.TripsCompleted) / float64(st.TripsTotal)
	}
	return
}
