package location

import (
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// MemoryRepository keeps everything in a mutex-guarded map with a naive scan
// for radius queries; the Redis variant takes over at fleet scale.
type MemoryRepository struct {
	mu      sync.RWMutex
	drivers map[string]*driverRecord
}

type driverRecord struct {
	loc     models.DriverLocation
	history historyRing
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{drivers: make(map[string]*driverRecord)}
}

func (m *MemoryRepository) Upsert(s models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.drivers[s.DriverID]
	if !ok {
		rec = &driverRecord{loc: models.DriverLocation{DriverID: s.DriverID, Status: models.StatusOnline}}
		m.drivers[s.DriverID] = rec
	}
	if s.RecordedAt.Before(rec.loc.Updated) {
		return faults.ConflictStatus(string(rec.loc.Status),
			"stale sample for driver %s: %s < %s", s.DriverID, s.RecordedAt.Format(time.RFC3339Nano), rec.loc.Updated.Format(time.RFC3339Nano))
	}
	if s.RecordedAt.Equal(rec.loc.Updated) && !rec.loc.Updated.IsZero() {
		// replayed sample, idempotent
		return nil
	}
	rec.loc.Loc = s.Loc
	rec.loc.HeadingDeg = s.HeadingDeg
	rec.loc.SpeedMps = s.SpeedMps
	rec.loc.AccuracyM = s.AccuracyM
	rec.loc.Updated = s.RecordedAt
	if rec.loc.Status == models.StatusOffline {
		rec.loc.Status = models.StatusOnline
	}
	rec.history.append(s)
	return nil
}

func (m *MemoryRepository) Get(driverID string) (models.DriverLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return models.DriverLocation{}, faults.NotFoundf("driver %s not found", driverID)
	}
	return rec.loc, nil
}

func (m *MemoryRepository) Nearby(center models.Coord, radiusM float64, status models.DriverStatus, limit int) []NearbyResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]NearbyResult, 0, limit)
	for _, rec := range m.drivers {
		if status != "" && rec.loc.Status != status {
			continue
		}
		d := geo.Distance(center, rec.loc.Loc)
		if d > radiusM {
			continue
		}
		out = append(out, NearbyResult{Driver: rec.loc, DistanceM: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryRepository) SetStatus(driverID string, status models.DriverStatus) error {
	return m.mutate(driverID, func(rec *driverRecord) {
		rec.loc.Status = status
		if status != models.StatusBusy {
			rec.loc.CurrentTripID = ""
		}
	})
}

func (m *MemoryRepository) SetTrip(driverID, tripID string) error {
	return m.mutate(driverID, func(rec *driverRecord) {
		rec.loc.CurrentTripID = tripID
		rec.loc.Status = models.StatusBusy
	})
}

func (m *MemoryRepository) ClearTrip(driverID string) error {
	return m.mutate(driverID, func(rec *driverRecord) {
		rec.loc.CurrentTripID = ""
		if rec.loc.Status == models.StatusBusy {
			rec.loc.Status = models.StatusOnline
		}
	})
}

func (m *MemoryRepository) SetProfile(driverID, vehicleType string, rating float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		rec = &driverRecord{loc: models.DriverLocation{DriverID: driverID, Status: models.StatusOffline}}
		m.drivers[driverID] = rec
	}
	rec.loc.VehicleType = vehicleType
	rec.loc.Rating = rating
	return nil
}

func (m *MemoryRepository) History(driverID string) []models.LocationSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return nil
	}
	return rec.history.snapshot(time.Now())
}

func (m *MemoryRepository) MarkOffline(driverID string) error {
	return m.mutate(driverID, func(rec *driverRecord) {
		rec.loc.Status = models.StatusOffline
		rec.loc.CurrentTripID = ""
	})
}

func (m *MemoryRepository) mutate(driverID string, fn func(*driverRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drivers[driverID]
	if !ok {
		return faults.NotFoundf("driver %s not found", driverID)
	}
	fn(rec)
	return nil
}
