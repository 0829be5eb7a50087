// Package location is the authoritative store of each driver's last accepted
// position and availability, with geo-radius queries and a bounded history
// ring used for trajectory prediction.
package location

import (
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

const (
	historyCapacity  = 50
	historyRetention = 10 * time.Minute
)

// NearbyResult pairs a driver with its distance from the query center.
type NearbyResult struct {
	Driver    models.DriverLocation
	DistanceM float64
}

// Repository is the store consumed by the matcher and the orchestrator.
// Upsert only ever receives samples that passed the update gate; it still
// refuses to let a stale sample overwrite a newer accepted one.
type Repository interface {
	Upsert(sample models.LocationSample) error
	Get(driverID string) (models.DriverLocation, error)
	Nearby(center models.Coord, radiusM float64, status models.DriverStatus, limit int) []NearbyResult
	SetStatus(driverID string, status models.DriverStatus) error
	SetTrip(driverID, tripID string) error
	ClearTrip(driverID string) error
	SetProfile(driverID, vehicleType string, rating float64) error
	History(driverID string) []models.LocationSample
	MarkOffline(driverID string) error
}

// historyRing is a capacity-capped ring of accepted samples; entries older
// than the retention window are dropped on read and append.
type historyRing struct {
	samples []models.LocationSample
}

func (h *historyRing) append(s models.LocationSample) {
	h.evict(s.RecordedAt)
	h.samples = append(h.samples, s)
	if len(h.samples) > historyCapacity {
		h.samples = h.samples[len(h.samples)-historyCapacity:]
	}
}

func (h *historyRing) evict(now time.Time) {
	cutoff := now.Add(-historyRetention)
	i := 0
	for i < len(h.samples) && h.samples[i].RecordedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.samples = h.samples[i:]
	}
}

func (h *historyRing) snapshot(now time.Time) []models.LocationSample {
	h.evict(now)
	out := make([]models.LocationSample, len(h.samples))
	copy(out, h.samples)
	return out
}
