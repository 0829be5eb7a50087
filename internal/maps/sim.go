package maps

import (
	"context"
	"fmt"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// simSpeedMps approximates city traffic, ~29 km/h.
const simSpeedMps = 8.0

// SimProvider answers straight-line estimates when no real provider is
// configured. It never fails, so the ETA fallback chain always bottoms out.
type SimProvider struct{}

func (SimProvider) DistanceAndDuration(_ context.Context, from, to models.Coord) (float64, float64, error) {
	d := geo.Distance(from, to)
	return d, d / simSpeedMps, nil
}

func (SimProvider) Directions(_ context.Context, from, to models.Coord) (Route, error) {
	d := geo.Distance(from, to)
	return Route{
		Geometry:    []models.Coord{from, to},
		DistanceM:   d,
		DurationSec: d / simSpeedMps,
	}, nil
}

func (SimProvider) Geocode(_ context.Context, address string) (models.Coord, error) {
	// no geocoding database; pin unknown addresses to the origin
	return models.Coord{}, nil
}

func (SimProvider) ReverseGeocode(_ context.Context, loc models.Coord) (string, error) {
	return fmt.Sprintf("%.5f, %.5f", loc.Lat, loc.Lon), nil
}
