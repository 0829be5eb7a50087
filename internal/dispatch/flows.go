package dispatch

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geofence"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/predict"
)

func (o *Orchestrator) handleLocationUpdate(ctx context.Context, driverID string, p *LocationUpdatePayload) error {
	sample := p.toSample(driverID)

	decision := o.Gate.Check(sample)
	if !decision.Accepted {
		observability.SamplesRejectedTotal.Inc()
		o.Registry.Send(driverID, models.Event{Type: EvGateBackoff, Data: GateBackoff{
			NextIntervalSec: decision.NextInterval.Seconds(),
		}})
		return nil
	}
	observability.SamplesAcceptedTotal.Inc()

	if err := o.Locations.Upsert(sample); err != nil {
		if faults.IsConflict(err) {
			// out-of-order sample raced a newer one; drop it
			o.Log.Debug("stale sample dropped", "driver_id", driverID)
			return nil
		}
		return err
	}

	if o.Producer != nil {
		if err := o.Producer.PublishSample(sample); err != nil {
			o.Log.Warn("sample publish failed", "driver_id", driverID, "error", err)
		}
	}

	trackers := o.Registry.TrackersOf(driverID)
	if len(trackers) > 0 {
		o.Registry.Broadcast(trackers, models.Event{Type: EvLocationBroadcast, Data: LocationBroadcast{
			DriverID:   driverID,
			Loc:        sample.Loc,
			HeadingDeg: sample.HeadingDeg,
			SpeedMps:   sample.SpeedMps,
			Predicted:  predict.Predict(sample),
			At:         sample.RecordedAt,
		}})
	}

	for _, tr := range o.Fences.Evaluate(driverID, sample.Loc) {
		o.emitFenceTransition(driverID, tr)
	}

	o.pushETA(ctx, driverID, sample.Loc)
	return nil
}

func (o *Orchestrator) emitFenceTransition(driverID string, tr geofence.Transition) {
	evType := EvGeofenceExit
	direction := "exit"
	if tr.Entered {
		evType = EvGeofenceEnter
		direction = "enter"
	}
	observability.GeofenceTransitionsTotal.WithLabelValues(direction).Inc()

	notice := GeofenceNotice{
		FenceID:  tr.Fence.ID,
		Type:     tr.Fence.Type,
		TripID:   tr.Fence.TripID,
		DriverID: driverID,
	}
	recipients := map[string]struct{}{tr.Fence.OwnerID: {}}
	if tr.Fence.TripID != "" {
		if t, err := o.Trips.Get(context.Background(), tr.Fence.TripID); err == nil {
			recipients[t.PassengerID] = struct{}{}
			if t.DriverID != "" {
				recipients[t.DriverID] = struct{}{}
			}
		}
	}
	for id := range recipients {
		o.notify(id, models.Event{Type: evType, Data: notice})
	}
}

// pushETA recomputes and pushes the relevant leg's ETA when the driver is on
// an active trip. The engine's cache bounds how often this does real work.
func (o *Orchestrator) pushETA(ctx context.Context, driverID string, loc models.Coord) {
	t, ok := o.TripRepo.ActiveByDriver(ctx, driverID)
	if !ok {
		return
	}
	var leg eta.Leg
	switch t.Status {
	case models.TripAccepted, models.TripArrivedPickup:
		leg = eta.LegPickup
	case models.TripInProgress:
		leg = eta.LegDestination
	default:
		return
	}
	r := o.ETA.Compute(ctx, t, loc, leg)
	observability.ETAComputationsTotal.WithLabelValues(r.Source).Inc()
	update := models.Event{Type: EvETAUpdate, Data: ETAUpdate{
		TripID: t.ID, Leg: string(leg), Seconds: r.Seconds, Accuracy: r.Accuracy,
	}}
	o.notify(t.PassengerID, update)
	o.notify(t.DriverID, update)
}

func (o *Orchestrator) handleAvailability(driverID string, status models.DriverStatus) error {
	if cur, err := o.Locations.Get(driverID); err == nil && cur.Status == models.StatusBusy {
		return faults.ConflictStatus(string(cur.Status), "driver %s is on trip %s", driverID, cur.CurrentTripID)
	}
	if err := o.Locations.SetStatus(driverID, status); err != nil {
		if status == models.StatusOnline && faults.IsNotFound(err) {
			// no position yet; first accepted sample will create the record
			return nil
		}
		return err
	}
	if status == models.StatusOffline {
		o.Gate.Forget(driverID)
	}
	o.broadcastStatus(driverID, status)
	return nil
}

func (o *Orchestrator) handleTripRequest(ctx context.Context, passengerID string, p *TripRequestPayload) error {
	t := &models.Trip{
		ID:          newTripID(),
		PassengerID: passengerID,
		Pickup:      p.Pickup,
		Destination: p.Destination,
		VehicleType: p.VehicleType,
		Currency:    o.cfg.Currency,
	}

	// plan the trip route; the simulated provider keeps this total
	dirs, err := o.Maps.Directions(ctx, p.Pickup, p.Destination)
	if err != nil {
		o.Log.Warn("directions unavailable, requesting without route", "error", err)
	} else {
		t.Route = dirs.Geometry
		t.RouteDistanceM = dirs.DistanceM
		t.RouteDurationSec = dirs.DurationSec
		t.FareEstimate = dirs.DistanceM / 1000 * o.cfg.FarePerKm
	}

	if err := o.Trips.Create(ctx, t); err != nil {
		return err
	}
	go o.enrichAddresses(t.ID, p.Pickup, p.Destination)

	start := time.Now()
	cands := o.Matcher.Match(matcher.Request{
		Pickup:       p.Pickup,
		MaxDistanceM: o.cfg.MatchMaxDistanceM,
		VehicleType:  p.VehicleType,
		Limit:        o.cfg.MatchLimit,
	})
	observability.MatchLatency.Observe(time.Since(start).Seconds())

	if len(cands) == 0 {
		o.notify(passengerID, models.Event{Type: EvNoDrivers, Data: TripNotice{
			TripID: t.ID, Status: t.Status,
		}})
		return nil
	}

	fanout := o.cfg.OfferFanout
	if fanout > len(cands) {
		fanout = len(cands)
	}
	offer := TripOffer{
		TripID:       t.ID,
		Pickup:       t.Pickup,
		Destination:  t.Destination,
		FareEstimate: t.FareEstimate,
	}
	offeredTo := make([]string, 0, fanout)
	for _, c := range cands[:fanout] {
		offer.DistanceM = c.DistanceM
		offer.ETASeconds = c.ETASeconds
		if err := o.TripRepo.RecordOffer(ctx, c.Driver.DriverID); err != nil {
			o.Log.Warn("offer stat write failed", "driver_id", c.Driver.DriverID, "error", err)
		}
		o.notify(c.Driver.DriverID, models.Event{Type: EvTripOffer, Data: offer})
		offeredTo = append(offeredTo, c.Driver.DriverID)
	}
	o.rememberOffers(t.ID, offeredTo)
	return nil
}

// enrichAddresses reverse-geocodes the trip endpoints best-effort; failures
// are logged and never surface to the request path.
func (o *Orchestrator) enrichAddresses(tripID string, pickup, dest models.Coord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pickupAddr, err1 := o.Maps.ReverseGeocode(ctx, pickup)
	destAddr, err2 := o.Maps.ReverseGeocode(ctx, dest)
	if err1 != nil || err2 != nil {
		o.Log.Debug("reverse geocode failed", "trip_id", tripID, "pickup_err", err1, "dest_err", err2)
		return
	}
	t, err := o.Trips.Get(ctx, tripID)
	if err != nil {
		return
	}
	t.PickupAddr = pickupAddr
	t.DestAddr = destAddr
	if err := o.TripRepo.Update(ctx, t); err != nil {
		o.Log.Debug("address enrichment write failed", "trip_id", tripID, "error", err)
	}
}

func (o *Orchestrator) handleTripAccept(ctx context.Context, driverID, tripID string) error {
	t, err := o.Trips.Claim(ctx, tripID, driverID)
	if err != nil {
		return err
	}

	if err := o.Locations.SetTrip(driverID, tripID); err != nil {
		o.Log.Warn("busy flag write failed", "driver_id", driverID, "error", err)
	}

	// approach route for pickup-leg ETAs
	if loc, err := o.Locations.Get(driverID); err == nil {
		if dirs, err := o.Maps.Directions(ctx, loc.Loc, t.Pickup); err == nil {
			t.PickupRoute = dirs.Geometry
			t.PickupRouteDistanceM = dirs.DistanceM
			t.PickupRouteDurationSec = dirs.DurationSec
			if err := o.TripRepo.Update(ctx, t); err != nil {
				o.Log.Warn("pickup route write failed", "trip_id", tripID, "error", err)
			}
		}
	}

	o.Fences.Add(models.Geofence{
		ID: newTripID(), OwnerID: t.PassengerID, DriverID: driverID,
		Center: t.Pickup, RadiusM: o.cfg.PickupFenceM,
		Type: models.FencePickup, TripID: t.ID,
	})
	o.Fences.Add(models.Geofence{
		ID: newTripID(), OwnerID: t.PassengerID, DriverID: driverID,
		Center: t.Destination, RadiusM: o.cfg.DestFenceM,
		Type: models.FenceDestination, TripID: t.ID,
	})

	if o.Payments != nil && t.FareEstimate > 0 {
		if holdID, err := o.Payments.Hold(ctx, int64(t.FareEstimate), t.Currency, t.PassengerID); err != nil {
			o.Log.Warn("fare hold failed", "trip_id", t.ID, "error", err)
		} else {
			t.PaymentHoldID = holdID
			if err := o.TripRepo.Update(ctx, t); err != nil {
				o.Log.Warn("hold id write failed", "trip_id", t.ID, "error", err)
			}
		}
	}

	// assigned passenger tracks the driver for the trip's duration
	o.Registry.StartTracking(t.PassengerID, driverID, t.ID)

	o.notify(t.PassengerID, models.Event{Type: EvTripAccepted, Data: TripNotice{
		TripID: t.ID, Status: t.Status, DriverID: driverID,
	}})
	o.notify(driverID, models.Event{Type: EvTripAccepted, Data: TripNotice{
		TripID: t.ID, Status: t.Status, DriverID: driverID,
	}})

	// release exactly the drivers who received the offer; a candidate who
	// has since moved, gone offline or turned busy still holds it on screen
	taken := models.Event{Type: EvTripTaken, Data: TripNotice{TripID: t.ID, Status: t.Status}}
	for _, offeredID := range o.takeOffers(t.ID) {
		if offeredID != driverID {
			o.notify(offeredID, taken)
		}
	}
	return nil
}

func (o *Orchestrator) handleTripStatus(ctx context.Context, driverID, tripID string, to models.TripStatus) error {
	t, err := o.Trips.Advance(ctx, tripID, driverID, to)
	if err != nil {
		return err
	}
	o.notifyStatusChanged(t)
	if t.Status == models.TripCompleted {
		o.teardownTrip(ctx, t, true)
	}
	return nil
}

func (o *Orchestrator) handleTripCancel(ctx context.Context, actorID, tripID, reason string) error {
	t, err := o.Trips.Cancel(ctx, tripID, actorID, reason)
	if err != nil {
		return err
	}
	o.notifyStatusChanged(t)
	o.teardownTrip(ctx, t, false)
	return nil
}

func (o *Orchestrator) notifyStatusChanged(t *models.Trip) {
	ev := models.Event{Type: EvTripStatusChanged, Data: TripNotice{
		TripID: t.ID, Status: t.Status, DriverID: t.DriverID, Reason: t.CancelReason,
	}}
	o.notify(t.PassengerID, ev)
	if t.DriverID != "" {
		o.notify(t.DriverID, ev)
	}
}

// teardownTrip runs the terminal-state side effects: fences down, busy flag
// cleared, tracking ended, payment settled.
func (o *Orchestrator) teardownTrip(ctx context.Context, t *models.Trip, completed bool) {
	o.Fences.RemoveTripFences(t.ID)
	if t.DriverID != "" {
		if err := o.Locations.ClearTrip(t.DriverID); err != nil && !faults.IsNotFound(err) {
			o.Log.Warn("busy flag clear failed", "driver_id", t.DriverID, "error", err)
		}
	}
	o.Registry.EndTrackingForTrip(t.ID)

	if o.Payments != nil && t.PaymentHoldID != "" {
		var err error
		if completed {
			err = o.Payments.Capture(ctx, t.PaymentHoldID)
		} else {
			err = o.Payments.Cancel(ctx, t.PaymentHoldID)
		}
		if err != nil {
			o.Log.Warn("payment settlement failed", "trip_id", t.ID, "completed", completed, "error", err)
		}
	}
}

func (o *Orchestrator) handleTrackStart(ctx context.Context, trackerID string, p *TrackPayload) error {
	if _, err := o.Locations.Get(p.DriverID); err != nil {
		return err
	}
	// once a trip is accepted, only its passenger may track under that trip
	if p.TripID != "" {
		t, err := o.Trips.Get(ctx, p.TripID)
		if err != nil {
			return err
		}
		if t.PassengerID != trackerID {
			return faults.Conflictf("user %s is not the passenger of trip %s", trackerID, p.TripID)
		}
	}
	o.Registry.StartTracking(trackerID, p.DriverID, p.TripID)
	return nil
}
