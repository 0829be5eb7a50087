package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/gate"
	"github.com/example/ride-dispatch/internal/geofence"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/trip"
)

func newTestServer(t *testing.T) (*Server, location.Repository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locs := location.NewMemoryRepository()
	reg := registry.New(time.Second, logger)
	repo := trip.NewMemoryRepository()
	machine := trip.NewMachine(repo, time.Minute, logger)
	t.Cleanup(machine.Shutdown)

	orch := dispatch.NewOrchestrator(dispatch.Config{}, logger)
	orch.Locations = locs
	orch.Registry = reg
	orch.Gate = gate.New(gate.Config{})
	orch.Trips = machine
	orch.TripRepo = repo
	orch.Matcher = &matcher.Service{Locations: locs, Stats: repo}
	orch.ETA = eta.NewEngine(maps.SimProvider{}, time.Second, logger)
	orch.Fences = geofence.NewMonitor()
	orch.Maps = maps.SimProvider{}
	orch.Start()

	return NewServer(logger, orch, reg, locs), locs
}

func TestNearbyEndpoint(t *testing.T) {
	srv, locs := newTestServer(t)
	err := locs.Upsert(models.LocationSample{
		DriverID: "d1", Loc: models.Coord{Lat: 6.52, Lon: 3.38}, RecordedAt: time.Now(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/drivers/nearby?lat=6.52&lon=3.38&radius_m=1000", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []location.NearbyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "d1", out[0].Driver.DriverID)
}

func TestNearbyRequiresCoordinates(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/drivers/nearby", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTripRequestEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"passenger_id":"p1","pickup":{"lat":999,"lon":0},"destination":{"lat":0,"lon":0}}`
	req := httptest.NewRequest("POST", "/api/v1/trips/request", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errBody map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	require.Equal(t, "validation", errBody["kind"])
}

func TestTripCancelUnknownTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"actor_id":"p1"}`
	req := httptest.NewRequest("POST", "/api/v1/trips/nope/cancel", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
