package dispatch

import (
	"encoding/json"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// Inbound event names.
const (
	EvLocationUpdate     = "location-update"
	EvAvailabilityUpdate = "availability-update"
	EvTripAccept         = "trip-accept"
	EvTripStatusUpdate   = "trip-status-update"
	EvTripRequest        = "trip-request"
	EvTripCancel         = "trip-cancel"
	EvTrackStart         = "track-start"
	EvTrackStop          = "track-stop"
)

// Outbound event names.
const (
	EvLocationBroadcast = "location-broadcast"
	EvStatusBroadcast   = "status-broadcast"
	EvTripOffer         = "trip-offer"
	EvTripAccepted      = "trip-accepted"
	EvTripTaken         = "trip-taken"
	EvTripStatusChanged = "trip-status-changed"
	EvTripExpired       = "trip-expired"
	EvNoDrivers         = "no-drivers-available"
	EvGeofenceEnter     = "geofence-enter"
	EvGeofenceExit      = "geofence-exit"
	EvETAUpdate         = "eta-update"
	EvGateBackoff       = "update-interval"
	EvError             = "error"
)

// Envelope is the tagged inbound frame; Data is decoded per Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type LocationUpdatePayload struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	HeadingDeg *float64 `json:"heading_deg,omitempty"`
	SpeedMps   *float64 `json:"speed_mps,omitempty"`
	AccuracyM  float64  `json:"accuracy_m,omitempty"`
	AppState   string   `json:"app_state,omitempty"`
	RecordedAt int64    `json:"recorded_at,omitempty"` // unix millis; 0 = server time
}

func (p *LocationUpdatePayload) Validate() error {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return faults.Validationf("coordinates out of range: %f,%f", p.Lat, p.Lon)
	}
	if p.AppState != "" && p.AppState != string(models.AppForeground) && p.AppState != string(models.AppBackground) {
		return faults.Validationf("unknown app state %q", p.AppState)
	}
	return nil
}

func (p *LocationUpdatePayload) toSample(driverID string) models.LocationSample {
	s := models.LocationSample{
		DriverID:  driverID,
		Loc:       models.Coord{Lat: p.Lat, Lon: p.Lon},
		AccuracyM: p.AccuracyM,
		AppState:  models.AppForeground,
	}
	if p.AppState != "" {
		s.AppState = models.AppState(p.AppState)
	}
	if p.HeadingDeg != nil && p.SpeedMps != nil {
		s.HeadingDeg = *p.HeadingDeg
		s.SpeedMps = *p.SpeedMps
		s.HasMotion = true
	}
	if p.RecordedAt > 0 {
		s.RecordedAt = time.UnixMilli(p.RecordedAt)
	} else {
		s.RecordedAt = time.Now()
	}
	return s
}

type AvailabilityPayload struct {
	Status string `json:"status"`
}

func (p *AvailabilityPayload) Validate() error {
	switch models.DriverStatus(p.Status) {
	case models.StatusOnline, models.StatusOffline:
		return nil
	case models.StatusBusy:
		return faults.Validationf("busy is set by trip assignment, not directly")
	default:
		return faults.Validationf("unknown status %q", p.Status)
	}
}

type TripAcceptPayload struct {
	TripID string `json:"trip_id"`
}

func (p *TripAcceptPayload) Validate() error {
	if p.TripID == "" {
		return faults.Validationf("trip_id is required")
	}
	return nil
}

type TripStatusUpdatePayload struct {
	TripID string `json:"trip_id"`
	Status string `json:"status"`
}

func (p *TripStatusUpdatePayload) Validate() error {
	if p.TripID == "" {
		return faults.Validationf("trip_id is required")
	}
	switch models.TripStatus(p.Status) {
	case models.TripArrivedPickup, models.TripInProgress, models.TripCompleted:
		return nil
	default:
		return faults.Validationf("status %q is not a driver-reportable state", p.Status)
	}
}

type TripRequestPayload struct {
	Pickup      models.Coord `json:"pickup"`
	Destination models.Coord `json:"destination"`
	VehicleType string       `json:"vehicle_type,omitempty"`
}

func (p *TripRequestPayload) Validate() error {
	for _, c := range []models.Coord{p.Pickup, p.Destination} {
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return faults.Validationf("coordinates out of range: %f,%f", c.Lat, c.Lon)
		}
	}
	if p.Pickup == p.Destination {
		return faults.Validationf("pickup and destination are identical")
	}
	return nil
}

type TripCancelPayload struct {
	TripID string `json:"trip_id"`
	Reason string `json:"reason,omitempty"`
}

func (p *TripCancelPayload) Validate() error {
	if p.TripID == "" {
		return faults.Validationf("trip_id is required")
	}
	return nil
}

type TrackPayload struct {
	DriverID string `json:"driver_id"`
	TripID   string `json:"trip_id,omitempty"`
}

func (p *TrackPayload) Validate() error {
	if p.DriverID == "" {
		return faults.Validationf("driver_id is required")
	}
	return nil
}

// Outbound payloads.

type LocationBroadcast struct {
	DriverID   string                  `json:"driver_id"`
	Loc        models.Coord            `json:"loc"`
	HeadingDeg float64                 `json:"heading_deg"`
	SpeedMps   float64                 `json:"speed_mps"`
	Predicted  []models.PredictedPoint `json:"predicted,omitempty"`
	At         time.Time               `json:"at"`
}

type StatusBroadcast struct {
	DriverID string              `json:"driver_id"`
	Status   models.DriverStatus `json:"status"`
}

type TripOffer struct {
	TripID       string       `json:"trip_id"`
	Pickup       models.Coord `json:"pickup"`
	Destination  models.Coord `json:"destination"`
	DistanceM    float64      `json:"distance_m"`
	ETASeconds   float64      `json:"eta_seconds"`
	FareEstimate float64      `json:"fare_estimate"`
}

type TripNotice struct {
	TripID   string            `json:"trip_id"`
	Status   models.TripStatus `json:"status"`
	DriverID string            `json:"driver_id,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

type GeofenceNotice struct {
	FenceID  string           `json:"fence_id"`
	Type     models.FenceType `json:"fence_type"`
	TripID   string           `json:"trip_id,omitempty"`
	DriverID string           `json:"driver_id"`
}

type ETAUpdate struct {
	TripID   string  `json:"trip_id"`
	Leg      string  `json:"leg"`
	Seconds  float64 `json:"seconds"`
	Accuracy string  `json:"accuracy"`
}

type GateBackoff struct {
	NextIntervalSec float64 `json:"next_interval_sec"`
}

type ErrorNotice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}
