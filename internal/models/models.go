package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type AppState string

const (
	AppForeground AppState = "foreground"
	AppBackground AppState = "background"
)

type DriverStatus string

const (
	StatusOffline DriverStatus = "offline"
	StatusOnline  DriverStatus = "online"
	StatusBusy    DriverStatus = "busy"
)

// LocationSample is one raw GPS reading as reported by a driver device.
// HasMotion is true when the device supplied both heading and speed.
type LocationSample struct {
	DriverID   string    `json:"driver_id"`
	Loc        Coord     `json:"loc"`
	HeadingDeg float64   `json:"heading_deg"`
	SpeedMps   float64   `json:"speed_mps"`
	AccuracyM  float64   `json:"accuracy_m"`
	HasMotion  bool      `json:"has_motion"`
	AppState   AppState  `json:"app_state"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DriverLocation is the authoritative per-driver record: the most recently
// accepted sample plus availability state. Status busy implies CurrentTripID
// is set, and vice versa.
type DriverLocation struct {
	DriverID      string       `json:"driver_id"`
	Loc           Coord        `json:"loc"`
	HeadingDeg    float64      `json:"heading_deg"`
	SpeedMps      float64      `json:"speed_mps"`
	AccuracyM     float64      `json:"accuracy_m"`
	Status        DriverStatus `json:"status"`
	CurrentTripID string       `json:"current_trip_id,omitempty"`
	VehicleType   string       `json:"vehicle_type,omitempty"`
	Rating        float64      `json:"rating"` // 0..5
	Updated       time.Time    `json:"updated"`
}

type TripStatus string

const (
	TripRequested     TripStatus = "requested"
	TripAccepted      TripStatus = "accepted"
	TripArrivedPickup TripStatus = "arrived_pickup"
	TripInProgress    TripStatus = "in_progress"
	TripCompleted     TripStatus = "completed"
	TripCancelled     TripStatus = "cancelled"
	TripExpired       TripStatus = "expired"
)

// Terminal reports whether s ends the trip lifecycle.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled || s == TripExpired
}

type Trip struct {
	ID          string     `json:"id"`
	PassengerID string     `json:"passenger_id"`
	DriverID    string     `json:"driver_id,omitempty"`
	Pickup      Coord      `json:"pickup"`
	Destination Coord      `json:"destination"`
	PickupAddr  string     `json:"pickup_addr,omitempty"`
	DestAddr    string     `json:"dest_addr,omitempty"`
	VehicleType string     `json:"vehicle_type,omitempty"`
	Status      TripStatus `json:"status"`

	// Planned trip route (pickup -> destination) from the maps provider.
	Route            []Coord `json:"route,omitempty"`
	RouteDistanceM   float64 `json:"route_distance_m"`
	RouteDurationSec float64 `json:"route_duration_sec"`

	// Driver approach route (driver -> pickup), attached at accept time.
	PickupRoute            []Coord `json:"pickup_route,omitempty"`
	PickupRouteDistanceM   float64 `json:"pickup_route_distance_m"`
	PickupRouteDurationSec float64 `json:"pickup_route_duration_sec"`

	FareEstimate  float64 `json:"fare_estimate"`
	Currency      string  `json:"currency,omitempty"`
	PaymentHoldID string  `json:"payment_hold_id,omitempty"`

	RequestedAt  time.Time  `json:"requested_at"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt    *time.Time `json:"arrived_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
}

type FenceType string

const (
	FencePickup      FenceType = "pickup"
	FenceDestination FenceType = "destination"
	FenceCustom      FenceType = "custom"
)

type Geofence struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	DriverID string    `json:"driver_id"`
	Center   Coord     `json:"center"`
	RadiusM  float64   `json:"radius_m"`
	Type     FenceType `json:"type"`
	TripID   string    `json:"trip_id,omitempty"`
}

type PredictedPoint struct {
	Loc       Coord   `json:"loc"`
	OffsetSec float64 `json:"offset_sec"`
}

// DriverStats are historical counters used by match scoring. Known is false
// when no history exists for the driver.
type DriverStats struct {
	OffersSeen     int  `json:"offers_seen"`
	OffersAccepted int  `json:"offers_accepted"`
	TripsCompleted int  `json:"trips_completed"`
	TripsTotal     int  `json:"trips_total"`
	Known          bool `json:"known"`
}

// MatchCandidate is an ephemeral scoring row, never persisted.
type MatchCandidate struct {
	Driver          DriverLocation `json:"driver"`
	DistanceM       float64        `json:"distance_m"`
	ETASeconds      float64        `json:"eta_seconds"`
	ProximityScore  float64        `json:"proximity_score"`
	RatingScore     float64        `json:"rating_score"`
	AcceptanceScore float64        `json:"acceptance_score"`
	CompletionScore float64        `json:"completion_score"`
	Score           float64        `json:"score"`
}

// Event is one outbound notification to a connected session.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
