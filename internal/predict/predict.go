// Package predict projects a driver's position a few seconds ahead from the
// latest accepted sample, so trackers see smooth motion between updates.
package predict

import (
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

const (
	// minSpeedMps below which projection is noise, not motion.
	minSpeedMps = 1.0
	// maxSpeedMps caps implausible GPS speed readings before projection.
	maxSpeedMps = 42.0
)

// horizon offsets in seconds for the projected points.
var offsets = [...]float64{5, 10, 15, 20, 30}

// Predict returns up to len(offsets) future points along the sample's
// heading at its (capped) speed. Samples without usable motion data yield an
// empty sequence. The result is recomputed fresh per accepted sample.
func Predict(s models.LocationSample) []models.PredictedPoint {
	if !s.HasMotion || s.SpeedMps < minSpeedMps {
		return nil
	}
	speed := s.SpeedMps
	if speed > maxSpeedMps {
		speed = maxSpeedMps
	}
	out := make([]models.PredictedPoint, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, models.PredictedPoint{
			Loc:       geo.Destination(s.Loc, s.HeadingDeg, speed*off),
			OffsetSec: off,
		})
	}
	return out
}
