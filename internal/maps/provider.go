// Package maps abstracts the external mapping/directions provider. Callers
// treat failures as recoverable: every consumer has a lower-accuracy
// fallback when the provider is down or unconfigured.
package maps

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

// Route is one directions result.
type Route struct {
	Geometry    []models.Coord `json:"geometry"`
	DistanceM   float64        `json:"distance_m"`
	DurationSec float64        `json:"duration_sec"`
}

type Provider interface {
	Geocode(ctx context.Context, address string) (models.Coord, error)
	ReverseGeocode(ctx context.Context, loc models.Coord) (string, error)
	DistanceAndDuration(ctx context.Context, from, to models.Coord) (distM, durSec float64, err error)
	Directions(ctx context.Context, from, to models.Coord) (Route, error)
}
