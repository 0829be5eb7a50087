// Package trip owns the trip lifecycle: the repository with its atomic
// claim/transition primitives and the state machine that enforces the
// transition graph.
package trip

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// Repository persists trips. Claim and Transition are conditional updates:
// they apply only when the stored record matches the expected state, which
// is what resolves concurrent claims without application-level locking.
type Repository interface {
	Create(ctx context.Context, t *models.Trip) error
	Get(ctx context.Context, tripID string) (*models.Trip, error)
	Update(ctx context.Context, t *models.Trip) error
	// Claim atomically moves tripID from requested/unassigned to accepted
	// with driverID assigned. Exactly one concurrent claimant wins.
	Claim(ctx context.Context, tripID, driverID string, at time.Time) error
	// Transition applies from->to only if the stored status equals from.
	Transition(ctx context.Context, tripID string, from, to models.TripStatus, at time.Time) error
	ActiveByDriver(ctx context.Context, driverID string) (*models.Trip, bool)
	ActiveByPassenger(ctx context.Context, passengerID string) (*models.Trip, bool)
	RecordOffer(ctx context.Context, driverID string) error
	DriverStats(driverID string) (models.DriverStats, error)
}

// MemoryRepository mirrors the conditional-update semantics of the Postgres
// store with a mutex-guarded compare-and-set.
type MemoryRepository struct {
	mu     sync.RWMutex
	trips  map[string]*models.Trip
	offers map[string]int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{trips: make(map[string]*models.Trip), offers: make(map[string]int)}
}

func (m *MemoryRepository) Create(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return faults.Conflictf("trip %s already exists", t.ID)
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, tripID string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[tripID]
	if !ok {
		return nil, faults.NotFoundf("trip %s not found", tripID)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryRepository) Update(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		return faults.NotFoundf("trip %s not found", t.ID)
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryRepository) Claim(_ context.Context, tripID, driverID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return faults.NotFoundf("trip %s not found", tripID)
	}
	if t.Status != models.TripRequested || t.DriverID != "" {
		return faults.ConflictStatus(string(t.Status), "trip %s already taken", tripID)
	}
	// one active trip per driver, checked inside the same critical section
	// that assigns the claim (the Postgres store enforces this with a unique
	// partial index)
	for id, other := range m.trips {
		if id != tripID && other.DriverID == driverID && !other.Status.Terminal() {
			return faults.ConflictStatus(string(other.Status),
				"driver %s already has an active trip %s", driverID, id)
		}
	}
	t.Status = models.TripAccepted
	t.DriverID = driverID
	t.AcceptedAt = &at
	return nil
}

func (m *MemoryRepository) Transition(_ context.Context, tripID string, from, to models.TripStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return faults.NotFoundf("trip %s not found", tripID)
	}
	if t.Status != from {
		return faults.ConflictStatus(string(t.Status), "trip %s is %s, not %s", tripID, t.Status, from)
	}
	t.Status = to
	stampTransition(t, to, at)
	return nil
}

// stampTransition records the phase timestamp for to.
func stampTransition(t *models.Trip, to models.TripStatus, at time.Time) {
	switch to {
	case models.TripAccepted:
		t.AcceptedAt = &at
	case models.TripArrivedPickup:
		t.ArrivedAt = &at
	case models.TripInProgress:
		t.StartedAt = &at
	case models.TripCompleted:
		t.CompletedAt = &at
	case models.TripCancelled, models.TripExpired:
		t.CancelledAt = &at
	}
}

func (m *MemoryRepository) ActiveByDriver(_ context.Context, driverID string) (*models.Trip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trips {
		if t.DriverID == driverID && !t.Status.Terminal() {
			cp := *t
			return &cp, true
		}
	}
	return nil, false
}

func (m *MemoryRepository) ActiveByPassenger(_ context.Context, passengerID string) (*models.Trip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trips {
		if t.PassengerID == passengerID && !t.Status.Terminal() {
			cp := *t
			return &cp, true
		}
	}
	return nil, false
}

func (m *MemoryRepository) RecordOffer(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[driverID]++
	return nil
}

func (m *MemoryRepository) DriverStats(driverID string) (models.DriverStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := models.DriverStats{OffersSeen: m.offers[driverID]}
	for _, t := range m.trips {
		if t.DriverID != driverID {
			continue
		}
		switch t.Status {
		case models.TripCompleted:
			st.TripsCompleted++
			st.TripsTotal++
		case models.TripCancelled:
			st.TripsTotal++
		}
		if t.AcceptedAt != nil {
			st.OffersAccepted++
		}
	}
	st.Known = st.OffersSeen > 0 || st.TripsTotal > 0
	return st, nil
}
