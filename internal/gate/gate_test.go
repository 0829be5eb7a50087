package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

func sample(driverID string, loc models.Coord, speed float64, app models.AppState, at time.Time) models.LocationSample {
	return models.LocationSample{
		DriverID:   driverID,
		Loc:        loc,
		SpeedMps:   speed,
		HasMotion:  true,
		AppState:   app,
		RecordedAt: at,
	}
}

func TestFirstSampleAlwaysAccepted(t *testing.T) {
	g := New(Config{})
	d := g.Check(sample("d1", models.Coord{Lat: 6.52, Lon: 3.38}, 0, models.AppForeground, time.Now()))
	require.True(t, d.Accepted)
	require.Greater(t, d.NextInterval, time.Duration(0))
}

func TestRejectsTooSoonReturnsInterval(t *testing.T) {
	g := New(Config{})
	base := time.Now()
	origin := models.Coord{Lat: 6.52, Lon: 3.38}
	g.Check(sample("d1", origin, 10, models.AppForeground, base))

	// 10 m/s, 1s later, ~10m moved: below the 2s fast-moving interval
	next := geo.Destination(origin, 90, 10)
	d := g.Check(sample("d1", next, 10, models.AppForeground, base.Add(time.Second)))
	require.False(t, d.Accepted)
	require.Equal(t, 2*time.Second, d.NextInterval)
}

func TestAcceptsAfterRequiredInterval(t *testing.T) {
	g := New(Config{})
	base := time.Now()
	origin := models.Coord{Lat: 6.52, Lon: 3.38}
	g.Check(sample("d1", origin, 10, models.AppForeground, base))

	next := geo.Destination(origin, 90, 30)
	d := g.Check(sample("d1", next, 10, models.AppForeground, base.Add(3*time.Second)))
	require.True(t, d.Accepted)
}

func TestDisplacementOverrideBeatsInterval(t *testing.T) {
	g := New(Config{})
	base := time.Now()
	origin := models.Coord{Lat: 6.52, Lon: 3.38}
	g.Check(sample("d1", origin, 0, models.AppForeground, base))

	// 200m jump after 1s: beyond 5x the 25m stationary threshold
	jumped := geo.Destination(origin, 45, 200)
	d := g.Check(sample("d1", jumped, 0, models.AppForeground, base.Add(time.Second)))
	require.True(t, d.Accepted)
	require.GreaterOrEqual(t, d.DisplacementM, 125.0)
}

func TestStationaryBackoffLengthens(t *testing.T) {
	g := New(Config{})
	base := time.Now()
	loc := models.Coord{Lat: 6.52, Lon: 3.38}

	g.Check(sample("d1", loc, 0, models.AppForeground, base))
	// second sample at the same spot marks the driver stationary
	d := g.Check(sample("d1", loc, 0, models.AppForeground, base.Add(10*time.Second)))
	require.True(t, d.Accepted)

	// six minutes without moving lands in the longest bucket
	d = g.Check(sample("d1", loc, 0, models.AppForeground, base.Add(6*time.Minute)))
	require.True(t, d.Accepted)
	require.Equal(t, 45*time.Second, d.NextInterval)
}

func TestBackgroundDoublesInterval(t *testing.T) {
	g := New(Config{})
	base := time.Now()
	loc := models.Coord{Lat: 6.52, Lon: 3.38}
	g.Check(sample("d1", loc, 0, models.AppBackground, base))

	// not yet classified stationary: slow-moving 7s bucket, doubled
	d := g.Check(sample("d1", loc, 0, models.AppBackground, base.Add(time.Second)))
	require.False(t, d.Accepted)
	require.Equal(t, 14*time.Second, d.NextInterval)
}

func TestForgetResetsDriver(t *testing.T) {
	g := New(Config{})
	base := time.Now()
	loc := models.Coord{Lat: 6.52, Lon: 3.38}
	g.Check(sample("d1", loc, 0, models.AppForeground, base))
	g.Forget("d1")

	d := g.Check(sample("d1", loc, 0, models.AppForeground, base.Add(time.Millisecond)))
	require.True(t, d.Accepted, "first sample after forget is accepted")
}
