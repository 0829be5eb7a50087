package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
)

type fakeLocations struct{ drivers []location.NearbyResult }

func (f *fakeLocations) Nearby(center models.Coord, radiusM float64, status models.DriverStatus, limit int) []location.NearbyResult {
	out := make([]location.NearbyResult, 0, len(f.drivers))
	for _, d := range f.drivers {
		if d.DistanceM <= radiusM && d.Driver.Status == status {
			out = append(out, d)
		}
	}
	return out
}

type fakeStats struct{ stats map[string]models.DriverStats }

func (f *fakeStats) DriverStats(driverID string) (models.DriverStats, error) {
	if f.stats == nil {
		return models.DriverStats{}, nil
	}
	return f.stats[driverID], nil
}

func driverAt(id string, pickup models.Coord, distM, rating float64) location.NearbyResult {
	return location.NearbyResult{
		Driver: models.DriverLocation{
			DriverID: id,
			Loc:      geo.Destination(pickup, 90, distM),
			Rating:   rating,
			Status:   models.StatusOnline,
		},
		DistanceM: distM,
	}
}

var pickup = models.Coord{Lat: 6.52, Lon: 3.38}

func TestProximityDominatesAtSmallDistance(t *testing.T) {
	// A at 200m rating 4.9 must outrank B at 4800m rating 5.0
	s := &Service{
		Locations: &fakeLocations{drivers: []location.NearbyResult{
			driverAt("B", pickup, 4800, 5.0),
			driverAt("A", pickup, 200, 4.9),
		}},
		Stats: &fakeStats{},
	}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000})
	require.Len(t, out, 2)
	require.Equal(t, "A", out[0].Driver.DriverID)
	require.Equal(t, "B", out[1].Driver.DriverID)
	require.Greater(t, out[0].Score, out[1].Score)
}

func TestExcludesBusyAndFilteredDrivers(t *testing.T) {
	busy := driverAt("busy", pickup, 100, 5.0)
	busy.Driver.CurrentTripID = "trip-1"
	suv := driverAt("suv", pickup, 300, 4.8)
	suv.Driver.VehicleType = "suv"
	sedan := driverAt("sedan", pickup, 400, 4.8)
	sedan.Driver.VehicleType = "sedan"
	lowRated := driverAt("low", pickup, 200, 3.0)
	lowRated.Driver.VehicleType = "sedan"

	s := &Service{
		Locations: &fakeLocations{drivers: []location.NearbyResult{busy, suv, sedan, lowRated}},
		Stats:     &fakeStats{},
	}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000, VehicleType: "sedan", MinRating: 4.0})
	require.Len(t, out, 1)
	require.Equal(t, "sedan", out[0].Driver.DriverID)
}

func TestEmptyWhenNoEligibleDrivers(t *testing.T) {
	s := &Service{Locations: &fakeLocations{}, Stats: &fakeStats{}}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000})
	require.NotNil(t, out)
	require.Empty(t, out)
}

func TestHistoryScoresUsePriors(t *testing.T) {
	s := &Service{
		Locations: &fakeLocations{drivers: []location.NearbyResult{
			driverAt("fresh", pickup, 100, 4.5),
		}},
		Stats: &fakeStats{},
	}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000})
	require.Len(t, out, 1)
	require.Equal(t, 0.9, out[0].AcceptanceScore)
	require.Equal(t, 0.95, out[0].CompletionScore)
}

func TestCompletionNeutralOnThinHistory(t *testing.T) {
	s := &Service{
		Locations: &fakeLocations{drivers: []location.NearbyResult{
			driverAt("thin", pickup, 100, 4.5),
			driverAt("seasoned", pickup, 100, 4.5),
		}},
		Stats: &fakeStats{stats: map[string]models.DriverStats{
			"thin":     {OffersSeen: 4, OffersAccepted: 4, TripsCompleted: 3, TripsTotal: 3, Known: true},
			"seasoned": {OffersSeen: 100, OffersAccepted: 80, TripsCompleted: 76, TripsTotal: 80, Known: true},
		}},
	}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000})
	require.Len(t, out, 2)
	byID := map[string]models.MatchCandidate{}
	for _, c := range out {
		byID[c.Driver.DriverID] = c
	}
	require.Equal(t, 0.5, byID["thin"].CompletionScore)
	require.Equal(t, 1.0, byID["thin"].AcceptanceScore)
	require.Equal(t, 0.95, byID["seasoned"].CompletionScore)
	require.Equal(t, 0.8, byID["seasoned"].AcceptanceScore)
}

func TestTieBreakByDistance(t *testing.T) {
	// identical rating and history; closer driver must rank first even when
	// scores coincide
	s := &Service{
		Locations: &fakeLocations{drivers: []location.NearbyResult{
			driverAt("far", pickup, 1000, 4.5),
			driverAt("near", pickup, 999.9999, 4.5),
		}},
		Stats: &fakeStats{},
	}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000})
	require.Len(t, out, 2)
	require.Equal(t, "near", out[0].Driver.DriverID)
}

func TestLimitCapsResults(t *testing.T) {
	var drivers []location.NearbyResult
	for i := 0; i < 8; i++ {
		drivers = append(drivers, driverAt(string(rune('a'+i)), pickup, float64(100*(i+1)), 4.5))
	}
	s := &Service{Locations: &fakeLocations{drivers: drivers}, Stats: &fakeStats{}}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000, Limit: 3})
	require.Len(t, out, 3)
	require.Equal(t, "a", out[0].Driver.DriverID)
}

func TestCandidatesCarryApproachETA(t *testing.T) {
	s := &Service{
		Locations: &fakeLocations{drivers: []location.NearbyResult{
			driverAt("d1", pickup, 500, 4.5),
		}},
		Stats: &fakeStats{},
	}
	out := s.Match(Request{Pickup: pickup, MaxDistanceM: 5000})
	require.Len(t, out, 1)
	require.InDelta(t, 50, out[0].ETASeconds, 0.01)
}
