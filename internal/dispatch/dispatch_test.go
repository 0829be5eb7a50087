package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/gate"
	"github.com/example/ride-dispatch/internal/geofence"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/trip"
)

type fakeSession struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeSession) Send(ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) byType(t string) []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testRig struct {
	orch     *Orchestrator
	reg      *registry.Registry
	locs     *location.MemoryRepository
	machine  *trip.Machine
	sessions map[string]*fakeSession
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	locs := location.NewMemoryRepository()
	reg := registry.New(time.Minute, nil)
	repo := trip.NewMemoryRepository()
	machine := trip.NewMachine(repo, time.Minute, nil)
	t.Cleanup(machine.Shutdown)

	o := NewOrchestrator(Config{}, nil)
	o.Locations = locs
	o.Registry = reg
	o.Gate = gate.New(gate.Config{})
	o.Trips = machine
	o.TripRepo = repo
	o.Matcher = &matcher.Service{Locations: locs, Stats: repo}
	o.ETA = eta.NewEngine(maps.SimProvider{}, time.Second, nil)
	o.Fences = geofence.NewMonitor()
	o.Maps = maps.SimProvider{}
	o.Start()

	return &testRig{orch: o, reg: reg, locs: locs, machine: machine, sessions: map[string]*fakeSession{}}
}

func (r *testRig) connect(userID string) *fakeSession {
	s := &fakeSession{}
	r.sessions[userID] = s
	r.reg.Register(userID, s)
	return s
}

func (r *testRig) driverOnlineAt(t *testing.T, driverID string, loc models.Coord) {
	t.Helper()
	require.NoError(t, r.locs.Upsert(models.LocationSample{
		DriverID: driverID, Loc: loc, RecordedAt: time.Now(),
	}))
	require.NoError(t, r.locs.SetProfile(driverID, "", 4.8))
}

func env(t *testing.T, typ string, payload any) Envelope {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Type: typ, Data: b}
}

func TestEndToEndRequestMatchAcceptRace(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	passenger := rig.connect("p1")
	d1 := rig.connect("d1")
	d2 := rig.connect("d2")

	pickup := models.Coord{Lat: 6.52, Lon: 3.38}
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.521, Lon: 3.381}) // ~160m away
	rig.driverOnlineAt(t, "d2", models.Coord{Lat: 6.53, Lon: 3.39})   // ~1.6km away

	// request: both eligible drivers get the offer
	err := rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup:      pickup,
		Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	}))
	require.NoError(t, err)
	require.Len(t, d1.byType(EvTripOffer), 1)
	require.Len(t, d2.byType(EvTripOffer), 1)

	var offer TripOffer
	b, _ := json.Marshal(d1.byType(EvTripOffer)[0].Data)
	require.NoError(t, json.Unmarshal(b, &offer))
	require.NotEmpty(t, offer.TripID)

	// d1 accepts and wins
	err = rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvTripAccept, TripAcceptPayload{TripID: offer.TripID}))
	require.NoError(t, err)

	got, err := rig.machine.Get(ctx, offer.TripID)
	require.NoError(t, err)
	require.Equal(t, models.TripAccepted, got.Status)
	require.Equal(t, "d1", got.DriverID)
	require.Len(t, passenger.byType(EvTripAccepted), 1)
	require.Len(t, d2.byType(EvTripTaken), 1)

	// d1's second accept attempt conflicts
	err = rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvTripAccept, TripAcceptPayload{TripID: offer.TripID}))
	require.True(t, faults.IsConflict(err))

	// busy flag set on the winner
	d, err := rig.locs.Get("d1")
	require.NoError(t, err)
	require.Equal(t, models.StatusBusy, d.Status)
	require.Equal(t, offer.TripID, d.CurrentTripID)
}

func TestLocationUpdateBroadcastsToTrackers(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	tracker := rig.connect("p1")
	rig.connect("d1")
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.52, Lon: 3.38})

	require.NoError(t, rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTrackStart, TrackPayload{DriverID: "d1"})))

	heading, speed := 90.0, 10.0
	err := rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvLocationUpdate, LocationUpdatePayload{
		Lat: 6.5201, Lon: 3.3801, HeadingDeg: &heading, SpeedMps: &speed,
		RecordedAt: time.Now().Add(10 * time.Second).UnixMilli(),
	}))
	require.NoError(t, err)

	bcasts := tracker.byType(EvLocationBroadcast)
	require.Len(t, bcasts, 1)
	lb := bcasts[0].Data.(LocationBroadcast)
	require.Equal(t, "d1", lb.DriverID)
	require.NotEmpty(t, lb.Predicted, "moving driver carries a predicted path")
}

func TestRejectedSampleGetsBackoff(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	driver := rig.connect("d1")

	now := time.Now()
	first := env(t, EvLocationUpdate, LocationUpdatePayload{Lat: 6.52, Lon: 3.38, RecordedAt: now.UnixMilli()})
	require.NoError(t, rig.orch.HandleDriverEvent(ctx, "d1", first))

	// same spot a second later: below every accept interval
	second := env(t, EvLocationUpdate, LocationUpdatePayload{Lat: 6.52, Lon: 3.38, RecordedAt: now.Add(time.Second).UnixMilli()})
	require.NoError(t, rig.orch.HandleDriverEvent(ctx, "d1", second))

	require.Len(t, driver.byType(EvGateBackoff), 1)
}

func TestGeofenceEventsOnTripProgress(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	passenger := rig.connect("p1")
	rig.connect("d1")
	pickup := models.Coord{Lat: 6.52, Lon: 3.38}
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.53, Lon: 3.39})

	require.NoError(t, rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup: pickup, Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	})))
	var offer TripOffer
	b, _ := json.Marshal(rig.sessions["d1"].byType(EvTripOffer)[0].Data)
	require.NoError(t, json.Unmarshal(b, &offer))
	require.NoError(t, rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvTripAccept, TripAcceptPayload{TripID: offer.TripID})))

	// driver reaches the pickup point
	err := rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvLocationUpdate, LocationUpdatePayload{
		Lat: pickup.Lat, Lon: pickup.Lon,
		RecordedAt: time.Now().Add(time.Minute).UnixMilli(),
	}))
	require.NoError(t, err)
	require.NotEmpty(t, passenger.byType(EvGeofenceEnter))
	require.NotEmpty(t, passenger.byType(EvETAUpdate))
}

func TestCancelTearsDownTrip(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	rig.connect("p1")
	rig.connect("d1")
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.521, Lon: 3.381})

	require.NoError(t, rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup: models.Coord{Lat: 6.52, Lon: 3.38}, Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	})))
	var offer TripOffer
	b, _ := json.Marshal(rig.sessions["d1"].byType(EvTripOffer)[0].Data)
	require.NoError(t, json.Unmarshal(b, &offer))
	require.NoError(t, rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvTripAccept, TripAcceptPayload{TripID: offer.TripID})))

	require.NoError(t, rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripCancel, TripCancelPayload{
		TripID: offer.TripID, Reason: "waited too long",
	})))

	got, err := rig.machine.Get(ctx, offer.TripID)
	require.NoError(t, err)
	require.Equal(t, models.TripCancelled, got.Status)

	d, err := rig.locs.Get("d1")
	require.NoError(t, err)
	require.Equal(t, models.StatusOnline, d.Status)
	require.Empty(t, d.CurrentTripID)
	require.Empty(t, rig.reg.TrackersOf("d1"))
}

func TestNoDriversAvailableNotice(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	passenger := rig.connect("p1")

	require.NoError(t, rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup: models.Coord{Lat: 6.52, Lon: 3.38}, Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	})))
	require.Len(t, passenger.byType(EvNoDrivers), 1)
}

func TestMalformedPayloadIsValidationFault(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	rig.connect("d1")

	err := rig.orch.HandleDriverEvent(ctx, "d1", Envelope{Type: EvLocationUpdate, Data: []byte(`{"lat": 999}`)})
	require.True(t, faults.IsValidation(err))

	err = rig.orch.HandleDriverEvent(ctx, "d1", Envelope{Type: "bogus-event", Data: []byte(`{}`)})
	require.True(t, faults.IsValidation(err))
}

func TestTrackStartRestrictedToTripPassenger(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	rig.connect("p1")
	rig.connect("p2")
	rig.connect("d1")
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.521, Lon: 3.381})

	require.NoError(t, rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup: models.Coord{Lat: 6.52, Lon: 3.38}, Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	})))
	var offer TripOffer
	b, _ := json.Marshal(rig.sessions["d1"].byType(EvTripOffer)[0].Data)
	require.NoError(t, json.Unmarshal(b, &offer))
	require.NoError(t, rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvTripAccept, TripAcceptPayload{TripID: offer.TripID})))

	err := rig.orch.HandlePassengerEvent(ctx, "p2", env(t, EvTrackStart, TrackPayload{
		DriverID: "d1", TripID: offer.TripID,
	}))
	require.True(t, faults.IsConflict(err))
}

func TestOfferedDriverReleasedEvenWhenBusy(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	rig.connect("p1")
	rig.connect("d1")
	d2 := rig.connect("d2")

	pickup := models.Coord{Lat: 6.52, Lon: 3.38}
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.521, Lon: 3.381})
	rig.driverOnlineAt(t, "d2", models.Coord{Lat: 6.522, Lon: 3.382})

	err := rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup:      pickup,
		Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	}))
	require.NoError(t, err)
	require.Len(t, d2.byType(EvTripOffer), 1)

	// d2 turns busy on another trip before the race resolves; the release
	// must still reach everyone who received the offer
	require.NoError(t, rig.locs.SetTrip("d2", "other-trip"))

	var offer TripOffer
	b, _ := json.Marshal(d2.byType(EvTripOffer)[0].Data)
	require.NoError(t, json.Unmarshal(b, &offer))
	err = rig.orch.HandleDriverEvent(ctx, "d1", env(t, EvTripAccept, TripAcceptPayload{TripID: offer.TripID}))
	require.NoError(t, err)

	require.Len(t, d2.byType(EvTripTaken), 1)
}

type fakePush struct {
	mu     sync.Mutex
	events map[string][]models.Event
}

func (f *fakePush) Notify(userID string, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = make(map[string][]models.Event)
	}
	f.events[userID] = append(f.events[userID], ev)
	return nil
}

func (f *fakePush) byUser(userID string) []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[userID]
}

func TestOfferFallsBackToPushWhenSessionless(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	push := &fakePush{}
	rig.orch.Push = push

	rig.connect("p1")
	// d1 has a position on record but no live session
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.521, Lon: 3.381})

	err := rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup:      models.Coord{Lat: 6.52, Lon: 3.38},
		Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	}))
	require.NoError(t, err)

	pushed := push.byUser("d1")
	require.Len(t, pushed, 1)
	require.Equal(t, EvTripOffer, pushed[0].Type)
}

func TestOfferCarriesApproachETA(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	rig.connect("p1")
	d1 := rig.connect("d1")
	rig.driverOnlineAt(t, "d1", models.Coord{Lat: 6.521, Lon: 3.381})

	err := rig.orch.HandlePassengerEvent(ctx, "p1", env(t, EvTripRequest, TripRequestPayload{
		Pickup:      models.Coord{Lat: 6.52, Lon: 3.38},
		Destination: models.Coord{Lat: 6.60, Lon: 3.45},
	}))
	require.NoError(t, err)

	var offer TripOffer
	b, _ := json.Marshal(d1.byType(EvTripOffer)[0].Data)
	require.NoError(t, json.Unmarshal(b, &offer))
	require.Greater(t, offer.ETASeconds, 0.0)
}
