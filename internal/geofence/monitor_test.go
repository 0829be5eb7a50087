package geofence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

func pickupFence(id, driverID, tripID string) models.Geofence {
	return models.Geofence{
		ID:       id,
		DriverID: driverID,
		TripID:   tripID,
		Center:   models.Coord{Lat: 6.52, Lon: 3.38},
		RadiusM:  100,
		Type:     models.FencePickup,
	}
}

func TestEnterIsEdgeTriggered(t *testing.T) {
	m := NewMonitor()
	m.Add(pickupFence("f1", "d1", "t1"))

	outside := geo.Destination(models.Coord{Lat: 6.52, Lon: 3.38}, 90, 500)
	inside := models.Coord{Lat: 6.52, Lon: 3.38}

	require.Empty(t, m.Evaluate("d1", outside))

	// three consecutive inside samples: exactly one enter event
	var entered int
	for i := 0; i < 3; i++ {
		for _, tr := range m.Evaluate("d1", inside) {
			if tr.Entered {
				entered++
			}
		}
	}
	require.Equal(t, 1, entered)
}

func TestExitAfterEnter(t *testing.T) {
	m := NewMonitor()
	m.Add(pickupFence("f1", "d1", "t1"))
	center := models.Coord{Lat: 6.52, Lon: 3.38}
	outside := geo.Destination(center, 0, 300)

	trs := m.Evaluate("d1", center)
	require.Len(t, trs, 1)
	require.True(t, trs[0].Entered)

	trs = m.Evaluate("d1", outside)
	require.Len(t, trs, 1)
	require.False(t, trs[0].Entered)
}

func TestStartingInsideCountsAsEntry(t *testing.T) {
	m := NewMonitor()
	m.Add(pickupFence("f1", "d1", "t1"))
	trs := m.Evaluate("d1", models.Coord{Lat: 6.52, Lon: 3.38})
	require.Len(t, trs, 1)
	require.True(t, trs[0].Entered)
}

func TestRemoveTripFences(t *testing.T) {
	m := NewMonitor()
	m.Add(pickupFence("f1", "d1", "t1"))
	m.Add(pickupFence("f2", "d1", "t2"))
	custom := pickupFence("f3", "d1", "")
	custom.Type = models.FenceCustom
	m.Add(custom)

	m.RemoveTripFences("t1")

	_, err := m.Fence("f1")
	require.True(t, faults.IsNotFound(err))
	_, err = m.Fence("f2")
	require.NoError(t, err)
	_, err = m.Fence("f3")
	require.NoError(t, err, "custom fences outlive trips")
}

func TestFencesAreDriverScoped(t *testing.T) {
	m := NewMonitor()
	m.Add(pickupFence("f1", "d1", "t1"))
	require.Empty(t, m.Evaluate("other-driver", models.Coord{Lat: 6.52, Lon: 3.38}))
}
