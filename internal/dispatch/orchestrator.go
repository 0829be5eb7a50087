// Package dispatch wires inbound client events into the tracking and trip
// components and emits outbound notifications. One orchestrator serves all
// sessions; every shared component is safe under concurrent use.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

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

// SampleProducer fans accepted samples out to the ingest pipeline.
type SampleProducer interface {
	PublishSample(s models.LocationSample) error
}

// PushSender is the fallback delivery channel for users without a live
// session.
type PushSender interface {
	Notify(userID string, ev models.Event) error
}

// PaymentProvider is the thin payment collaborator: a hold at accept,
// capture at completion, cancel otherwise. All calls are best-effort.
type PaymentProvider interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

// Config carries the orchestrator's tunables.
type Config struct {
	MatchMaxDistanceM float64
	MatchLimit        int
	OfferFanout       int // how many ranked candidates receive the offer
	PickupFenceM      float64
	DestFenceM        float64
	FarePerKm         float64
	Currency          string
}

func (c Config) withDefaults() Config {
	if c.MatchMaxDistanceM <= 0 {
		c.MatchMaxDistanceM = 5000
	}
	if c.MatchLimit <= 0 {
		c.MatchLimit = 10
	}
	if c.OfferFanout <= 0 {
		c.OfferFanout = 3
	}
	if c.PickupFenceM <= 0 {
		c.PickupFenceM = 100
	}
	if c.DestFenceM <= 0 {
		c.DestFenceM = 150
	}
	if c.FarePerKm <= 0 {
		c.FarePerKm = 120 // minor units per km
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	return c
}

type Orchestrator struct {
	Log       *slog.Logger
	Locations location.Repository
	Registry  *registry.Registry
	Gate      *gate.Gate
	Trips     *trip.Machine
	TripRepo  trip.Repository
	Matcher   *matcher.Service
	ETA       *eta.Engine
	Fences    *geofence.Monitor
	Maps      maps.Provider
	Producer  SampleProducer  // optional
	Payments  PaymentProvider // optional
	Push      PushSender      // optional

	cfg Config

	// offered tracks which drivers received each open trip's offer so the
	// release goes to exactly that set.
	offerMu sync.Mutex
	offered map[string][]string
}

func NewOrchestrator(cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{Log: log, cfg: cfg.withDefaults(), offered: make(map[string][]string)}
}

func (o *Orchestrator) rememberOffers(tripID string, driverIDs []string) {
	o.offerMu.Lock()
	o.offered[tripID] = driverIDs
	o.offerMu.Unlock()
}

// takeOffers drains the offered set for tripID. Offers drain exactly once:
// at claim or at expiry.
func (o *Orchestrator) takeOffers(tripID string) []string {
	o.offerMu.Lock()
	ids := o.offered[tripID]
	delete(o.offered, tripID)
	o.offerMu.Unlock()
	return ids
}

// notify delivers on the live session, falling back to the push channel for
// users whose session is gone or in its disconnect grace.
func (o *Orchestrator) notify(userID string, ev models.Event) {
	if o.Registry.Send(userID, ev) {
		return
	}
	if o.Push == nil {
		return
	}
	if err := o.Push.Notify(userID, ev); err != nil {
		o.Log.Warn("push delivery failed", "user_id", userID, "event", ev.Type, "error", err)
	}
}

// Start hooks the lifecycle callbacks. Call after the collaborator fields
// are assigned.
func (o *Orchestrator) Start() {
	o.cfg = o.cfg.withDefaults()
	o.Trips.OnExpire = o.onTripExpired
	o.Registry.OnGone = o.onSessionGone
}

// HandleDriverEvent routes one inbound driver frame. The returned error is
// reported to the session; it never tears the session down.
func (o *Orchestrator) HandleDriverEvent(ctx context.Context, driverID string, env Envelope) error {
	switch env.Type {
	case EvLocationUpdate:
		var p LocationUpdatePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleLocationUpdate(ctx, driverID, &p)
	case EvAvailabilityUpdate:
		var p AvailabilityPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleAvailability(driverID, models.DriverStatus(p.Status))
	case EvTripAccept:
		var p TripAcceptPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleTripAccept(ctx, driverID, p.TripID)
	case EvTripStatusUpdate:
		var p TripStatusUpdatePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleTripStatus(ctx, driverID, p.TripID, models.TripStatus(p.Status))
	case EvTripCancel:
		var p TripCancelPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleTripCancel(ctx, driverID, p.TripID, p.Reason)
	default:
		return faults.Validationf("unknown driver event %q", env.Type)
	}
}

// HandlePassengerEvent routes one inbound passenger frame.
func (o *Orchestrator) HandlePassengerEvent(ctx context.Context, passengerID string, env Envelope) error {
	switch env.Type {
	case EvTripRequest:
		var p TripRequestPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleTripRequest(ctx, passengerID, &p)
	case EvTripCancel:
		var p TripCancelPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleTripCancel(ctx, passengerID, p.TripID, p.Reason)
	case EvTrackStart:
		var p TrackPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return o.handleTrackStart(ctx, passengerID, &p)
	case EvTrackStop:
		var p TrackPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		o.Registry.StopTracking(passengerID, p.DriverID)
		return nil
	default:
		return faults.Validationf("unknown passenger event %q", env.Type)
	}
}

type validator interface{ Validate() error }

func decode(env Envelope, dst validator) error {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return faults.Validationf("malformed %s payload: %v", env.Type, err)
	}
	return dst.Validate()
}

// ReportFault turns err into an error event on the user's session, mapping
// fault kinds to user-visible distinctions.
func (o *Orchestrator) ReportFault(userID string, err error) {
	if err == nil {
		return
	}
	kind := faults.KindOf(err)
	notice := ErrorNotice{Kind: kind.String(), Message: err.Error(), Status: faults.StatusOf(err)}
	if kind == faults.KindUnknown {
		// do not leak internals to the client
		o.Log.Error("internal dispatch error", "user_id", userID, "error", err)
		notice.Message = "request failed, retry"
	}
	o.Registry.Send(userID, models.Event{Type: EvError, Data: notice})
}

func (o *Orchestrator) onSessionGone(userID string) {
	// only drivers hold gate/location state; unknown users are a no-op
	if _, err := o.Locations.Get(userID); err != nil {
		return
	}
	if err := o.Locations.MarkOffline(userID); err != nil {
		return
	}
	o.Gate.Forget(userID)
	o.broadcastStatus(userID, models.StatusOffline)
	o.Log.Info("driver offline after disconnect grace", "driver_id", userID)
}

func (o *Orchestrator) onTripExpired(t *models.Trip) {
	notice := models.Event{Type: EvTripExpired, Data: TripNotice{
		TripID: t.ID, Status: models.TripExpired,
	}}
	o.notify(t.PassengerID, notice)
	// withdraw the stale offer from everyone who received it
	for _, driverID := range o.takeOffers(t.ID) {
		o.notify(driverID, notice)
	}
}

func (o *Orchestrator) broadcastStatus(driverID string, status models.DriverStatus) {
	o.Registry.Broadcast(o.Registry.TrackersOf(driverID), models.Event{
		Type: EvStatusBroadcast,
		Data: StatusBroadcast{DriverID: driverID, Status: status},
	})
}

func newTripID() string { return uuid.NewString() }
