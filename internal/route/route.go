// Package route projects a driver's position onto a trip's planned polyline
// and reports progress along it.
package route

import (
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// OnRouteToleranceM is the max perpendicular distance at which a position
// still counts as on the planned route.
const OnRouteToleranceM = 50.0

type Match struct {
	Point        models.Coord `json:"point"`
	DistanceM    float64      `json:"distance_m"`
	SegmentIndex int          `json:"segment_index"`
	// Progress is the fraction of the route covered, interpolated within
	// the matched segment so a two-point route reports 0.5 at its middle.
	Progress   float64 `json:"progress"`
	RemainingM float64 `json:"remaining_m"`
	OnRoute    bool    `json:"on_route"`
}

// MatchPosition finds the nearest point to pos across all consecutive-vertex
// segments of polyline. A route with fewer than two vertices is unusable.
func MatchPosition(polyline []models.Coord, pos models.Coord) (Match, error) {
	if len(polyline) < 2 {
		return Match{}, faults.Validationf("trip has no usable route geometry")
	}

	best := Match{DistanceM: -1}
	bestFrac := 0.0
	for i := 0; i < len(polyline)-1; i++ {
		pt, dist, frac := geo.PointToSegment(pos, polyline[i], polyline[i+1])
		if best.DistanceM < 0 || dist < best.DistanceM {
			best.Point = pt
			best.DistanceM = dist
			best.SegmentIndex = i
			bestFrac = frac
		}
	}

	segments := len(polyline) - 1
	best.Progress = (float64(best.SegmentIndex) + bestFrac) / float64(segments)
	best.OnRoute = best.DistanceM <= OnRouteToleranceM

	// remaining distance: rest of the matched segment plus all later ones
	best.RemainingM = (1 - bestFrac) * geo.Distance(polyline[best.SegmentIndex], polyline[best.SegmentIndex+1])
	for i := best.SegmentIndex + 1; i < segments; i++ {
		best.RemainingM += geo.Distance(polyline[i], polyline[i+1])
	}
	return best, nil
}
