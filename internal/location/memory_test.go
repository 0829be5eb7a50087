package location

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

func sampleAt(driverID string, lat, lon float64, at time.Time) models.LocationSample {
	return models.LocationSample{
		DriverID:   driverID,
		Loc:        models.Coord{Lat: lat, Lon: lon},
		RecordedAt: at,
	}
}

func TestUpsertAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now()
	require.NoError(t, repo.Upsert(sampleAt("d1", 6.52, 3.38, now)))

	d, err := repo.Get("d1")
	require.NoError(t, err)
	require.Equal(t, models.StatusOnline, d.Status)
	require.Equal(t, 6.52, d.Loc.Lat)
}

func TestGetUnknownDriver(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.Get("ghost")
	require.True(t, faults.IsNotFound(err))
}

func TestUpsertRejectsStaleSample(t *testing.T) {
	repo := NewMemoryRepository()
	t2 := time.Now()
	t1 := t2.Add(-5 * time.Second)

	require.NoError(t, repo.Upsert(sampleAt("d1", 6.53, 3.39, t2)))
	err := repo.Upsert(sampleAt("d1", 6.52, 3.38, t1))
	require.True(t, faults.IsConflict(err))

	d, err := repo.Get("d1")
	require.NoError(t, err)
	require.Equal(t, 6.53, d.Loc.Lat, "store must keep the newer position")
}

func TestUpsertIdempotentReplay(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now()
	s := sampleAt("d1", 6.52, 3.38, now)
	require.NoError(t, repo.Upsert(s))
	require.NoError(t, repo.Upsert(s))

	require.Len(t, repo.History("d1"), 1, "replay must not grow history")
}

func TestNearbyOrderingAndFilter(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Now()
	center := models.Coord{Lat: 6.52, Lon: 3.38}

	require.NoError(t, repo.Upsert(sampleAt("near", 6.521, 3.38, now)))
	require.NoError(t, repo.Upsert(sampleAt("far", 6.54, 3.38, now)))
	require.NoError(t, repo.Upsert(sampleAt("busy", 6.52, 3.381, now)))
	require.NoError(t, repo.SetTrip("busy", "trip-1"))
	require.NoError(t, repo.Upsert(sampleAt("outside", 7.0, 3.38, now)))

	out := repo.Nearby(center, 5000, models.StatusOnline, 10)
	require.Len(t, out, 2)
	require.Equal(t, "near", out[0].Driver.DriverID)
	require.Equal(t, "far", out[1].Driver.DriverID)
	require.Less(t, out[0].DistanceM, out[1].DistanceM)
}

func TestBusyTripInvariant(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Upsert(sampleAt("d1", 6.52, 3.38, time.Now())))

	require.NoError(t, repo.SetTrip("d1", "trip-9"))
	d, _ := repo.Get("d1")
	require.Equal(t, models.StatusBusy, d.Status)
	require.Equal(t, "trip-9", d.CurrentTripID)

	require.NoError(t, repo.ClearTrip("d1"))
	d, _ = repo.Get("d1")
	require.Equal(t, models.StatusOnline, d.Status)
	require.Empty(t, d.CurrentTripID)
}

func TestHistoryCapacityAndRetention(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Now().Add(-time.Hour)
	// old samples fall outside the retention window
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Upsert(sampleAt("d1", 6.52, 3.38, base.Add(time.Duration(i)*time.Second))))
	}
	recent := time.Now().Add(-time.Minute)
	for i := 0; i < historyCapacity+10; i++ {
		require.NoError(t, repo.Upsert(sampleAt("d1", 6.52, 3.38, recent.Add(time.Duration(i)*time.Second))))
	}
	h := repo.History("d1")
	require.Len(t, h, historyCapacity)
	require.True(t, h[0].RecordedAt.After(base.Add(time.Minute)))
}

func TestMarkOffline(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Upsert(sampleAt("d1", 6.52, 3.38, time.Now())))
	require.NoError(t, repo.MarkOffline("d1"))
	d, _ := repo.Get("d1")
	require.Equal(t, models.StatusOffline, d.Status)
}
