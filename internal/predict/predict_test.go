package predict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

func TestPredictProjectsAlongHeading(t *testing.T) {
	s := models.LocationSample{
		DriverID:   "d1",
		Loc:        models.Coord{Lat: 6.52, Lon: 3.38},
		HeadingDeg: 90,
		SpeedMps:   10,
		HasMotion:  true,
	}
	pts := Predict(s)
	require.Len(t, pts, 5)

	// first point: 10 m/s for 5s = 50m east
	d := geo.Distance(s.Loc, pts[0].Loc)
	require.InDelta(t, 50, d, 1)
	require.InDelta(t, 90, geo.Bearing(s.Loc, pts[0].Loc), 1)

	// monotonically farther out
	prev := 0.0
	for _, p := range pts {
		d := geo.Distance(s.Loc, p.Loc)
		require.Greater(t, d, prev)
		prev = d
	}
}

func TestPredictEmptyWithoutMotion(t *testing.T) {
	s := models.LocationSample{DriverID: "d1", Loc: models.Coord{Lat: 6.52, Lon: 3.38}}
	require.Empty(t, Predict(s))

	s.HasMotion = true
	s.SpeedMps = 0.4 // crawling, below threshold
	require.Empty(t, Predict(s))
}

func TestPredictCapsSpeed(t *testing.T) {
	s := models.LocationSample{
		DriverID:   "d1",
		Loc:        models.Coord{Lat: 6.52, Lon: 3.38},
		HeadingDeg: 0,
		SpeedMps:   300, // corrupt reading
		HasMotion:  true,
	}
	pts := Predict(s)
	require.NotEmpty(t, pts)
	d := geo.Distance(s.Loc, pts[0].Loc)
	require.LessOrEqual(t, d, maxSpeedMps*5+1)
	require.False(t, math.IsNaN(pts[0].Loc.Lat))
}
