// Package eta computes arrival estimates with a source fallback chain:
// route progress against the trip's planned duration, then the live maps
// provider, then a linear projection from the original estimate. Results are
// cached per (trip, driver, leg) for a short TTL.
package eta

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/route"
)

type Leg string

const (
	LegPickup      Leg = "pickup"      // driver -> pickup point
	LegDestination Leg = "destination" // current position -> destination
)

// Result carries the estimate and how trustworthy it is.
type Result struct {
	Seconds  float64 `json:"seconds"`
	Accuracy string  `json:"accuracy"` // high | medium | low
	Source   string  `json:"source"`
}

type Engine struct {
	Provider maps.Provider
	Cache    *Cache
	Log      *slog.Logger
}

func NewEngine(provider maps.Provider, ttl time.Duration, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Provider: provider, Cache: NewCache(ttl), Log: log}
}

// Compute returns the best available ETA for the leg. Never errors: the
// linear fallback always produces a value.
func (e *Engine) Compute(ctx context.Context, trip *models.Trip, loc models.Coord, leg Leg) Result {
	if e.Cache != nil {
		if r, ok := e.Cache.Get(trip.ID, trip.DriverID, leg); ok {
			return r
		}
	}
	r := e.compute(ctx, trip, loc, leg)
	if e.Cache != nil {
		e.Cache.Set(trip.ID, trip.DriverID, leg, r)
	}
	return r
}

func (e *Engine) compute(ctx context.Context, trip *models.Trip, loc models.Coord, leg Leg) Result {
	polyline, plannedSec := trip.Route, trip.RouteDurationSec
	target := trip.Destination
	if leg == LegPickup {
		polyline, plannedSec = trip.PickupRoute, trip.PickupRouteDurationSec
		target = trip.Pickup
	}

	// 1: progress along the planned route scales its total duration
	if plannedSec > 0 {
		if m, err := route.MatchPosition(polyline, loc); err == nil && m.OnRoute {
			return Result{Seconds: plannedSec * (1 - m.Progress), Accuracy: "high", Source: "route_progress"}
		}
	}

	// 2: live directions from the maps provider
	if e.Provider != nil {
		if _, durSec, err := e.Provider.DistanceAndDuration(ctx, loc, target); err == nil {
			return Result{Seconds: durSec, Accuracy: "medium", Source: "maps_provider"}
		} else {
			e.Log.Debug("maps provider eta failed", "trip_id", trip.ID, "error", err)
		}
	}

	// 3: original estimate minus elapsed phase time
	return Result{Seconds: linearRemaining(trip, leg), Accuracy: "low", Source: "linear"}
}

func linearRemaining(trip *models.Trip, leg Leg) float64 {
	var estimate float64
	var since *time.Time
	if leg == LegPickup {
		estimate = trip.PickupRouteDurationSec
		since = trip.AcceptedAt
	} else {
		estimate = trip.RouteDurationSec
		since = trip.StartedAt
	}
	if estimate <= 0 || since == nil {
		return estimate
	}
	remaining := estimate - time.Since(*since).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
