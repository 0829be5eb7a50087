package trip

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// driverOrder is the strict progression the assigned driver walks.
var driverOrder = map[models.TripStatus]models.TripStatus{
	models.TripAccepted:      models.TripArrivedPickup,
	models.TripArrivedPickup: models.TripInProgress,
	models.TripInProgress:    models.TripCompleted,
}

// cancellable states: in_progress is deliberately absent.
var cancellable = map[models.TripStatus]bool{
	models.TripAccepted:      true,
	models.TripArrivedPickup: true,
}

// Machine enforces the trip transition graph and serializes transitions per
// trip. The repository's conditional updates remain the last word for races
// that cross process boundaries.
type Machine struct {
	repo          Repository
	acceptTimeout time.Duration
	log           *slog.Logger

	// OnExpire runs after a requested trip ages out unclaimed.
	OnExpire func(t *models.Trip)

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]*time.Timer
}

func NewMachine(repo Repository, acceptTimeout time.Duration, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	if acceptTimeout <= 0 {
		acceptTimeout = 30 * time.Second
	}
	return &Machine{
		repo:          repo,
		acceptTimeout: acceptTimeout,
		log:           log,
		locks:         make(map[string]*sync.Mutex),
		timers:        make(map[string]*time.Timer),
	}
}

func (m *Machine) lockTrip(tripID string) func() {
	m.mu.Lock()
	l, ok := m.locks[tripID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tripID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// forgetLock drops a terminal trip's mutex so the map does not grow for the
// process lifetime. A straggler re-creating it only serializes operations
// that fail on the status guard anyway.
func (m *Machine) forgetLock(tripID string) {
	m.mu.Lock()
	delete(m.locks, tripID)
	m.mu.Unlock()
}

// Create persists a new requested trip and arms its acceptance timer. A
// passenger with an active trip cannot open another.
func (m *Machine) Create(ctx context.Context, t *models.Trip) error {
	if active, ok := m.repo.ActiveByPassenger(ctx, t.PassengerID); ok {
		return faults.ConflictStatus(string(active.Status),
			"passenger %s already has an active trip %s", t.PassengerID, active.ID)
	}
	t.Status = models.TripRequested
	if t.RequestedAt.IsZero() {
		t.RequestedAt = time.Now()
	}
	if err := m.repo.Create(ctx, t); err != nil {
		return err
	}
	observability.TripTransitionsTotal.WithLabelValues(string(models.TripRequested)).Inc()

	m.mu.Lock()
	m.timers[t.ID] = time.AfterFunc(m.acceptTimeout, func() { m.expire(t.ID) })
	m.mu.Unlock()
	return nil
}

func (m *Machine) expire(tripID string) {
	unlock := m.lockTrip(tripID)
	defer unlock()

	ctx := context.Background()
	err := m.repo.Transition(ctx, tripID, models.TripRequested, models.TripExpired, time.Now())
	if err != nil {
		// already claimed or cancelled; the guard makes this a no-op
		return
	}
	observability.TripTransitionsTotal.WithLabelValues(string(models.TripExpired)).Inc()
	m.log.Info("trip expired unclaimed", "trip_id", tripID)
	m.forgetTimer(tripID)
	m.forgetLock(tripID)
	if m.OnExpire != nil {
		if t, err := m.repo.Get(ctx, tripID); err == nil {
			m.OnExpire(t)
		}
	}
}

// Claim resolves the acceptance race: the repository's conditional update
// admits exactly one driver, every other claimant gets "already taken".
func (m *Machine) Claim(ctx context.Context, tripID, driverID string) (*models.Trip, error) {
	unlock := m.lockTrip(tripID)
	defer unlock()

	if active, ok := m.repo.ActiveByDriver(ctx, driverID); ok {
		return nil, faults.ConflictStatus(string(active.Status),
			"driver %s already has an active trip %s", driverID, active.ID)
	}
	if err := m.repo.Claim(ctx, tripID, driverID, time.Now()); err != nil {
		if faults.IsConflict(err) {
			observability.ClaimConflictsTotal.Inc()
		}
		return nil, err
	}
	observability.TripTransitionsTotal.WithLabelValues(string(models.TripAccepted)).Inc()
	m.forgetTimer(tripID)
	return m.repo.Get(ctx, tripID)
}

// Advance applies one step of the driver progression:
// accepted -> arrived_pickup -> in_progress -> completed, no skipping, only
// by the assigned driver.
func (m *Machine) Advance(ctx context.Context, tripID, driverID string, to models.TripStatus) (*models.Trip, error) {
	unlock := m.lockTrip(tripID)
	defer unlock()

	t, err := m.repo.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID != driverID {
		return nil, faults.Conflictf("driver %s is not assigned to trip %s", driverID, tripID)
	}
	next, ok := driverOrder[t.Status]
	if !ok || next != to {
		return nil, faults.ConflictStatus(string(t.Status),
			"invalid transition %s -> %s for trip %s", t.Status, to, tripID)
	}
	if err := m.repo.Transition(ctx, tripID, t.Status, to, time.Now()); err != nil {
		return nil, err
	}
	observability.TripTransitionsTotal.WithLabelValues(string(to)).Inc()
	if to == models.TripCompleted {
		m.forgetLock(tripID)
	}
	return m.repo.Get(ctx, tripID)
}

// Cancel applies a passenger or driver cancellation. Only accepted and
// arrived_pickup trips are cancellable; an in-progress trip must run to
// completion.
func (m *Machine) Cancel(ctx context.Context, tripID, actorID, reason string) (*models.Trip, error) {
	unlock := m.lockTrip(tripID)
	defer unlock()

	t, err := m.repo.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if actorID != t.PassengerID && actorID != t.DriverID {
		return nil, faults.Conflictf("user %s is not a participant of trip %s", actorID, tripID)
	}
	if !cancellable[t.Status] {
		return nil, faults.ConflictStatus(string(t.Status),
			"invalid transition %s -> %s for trip %s", t.Status, models.TripCancelled, tripID)
	}
	if err := m.repo.Transition(ctx, tripID, t.Status, models.TripCancelled, time.Now()); err != nil {
		return nil, err
	}
	t, err = m.repo.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	t.CancelledBy = actorID
	t.CancelReason = reason
	if err := m.repo.Update(ctx, t); err != nil {
		m.log.Warn("cancel metadata write failed", "trip_id", tripID, "error", err)
	}
	observability.TripTransitionsTotal.WithLabelValues(string(models.TripCancelled)).Inc()
	m.forgetLock(tripID)
	return t, nil
}

func (m *Machine) Get(ctx context.Context, tripID string) (*models.Trip, error) {
	return m.repo.Get(ctx, tripID)
}

func (m *Machine) forgetTimer(tripID string) {
	m.mu.Lock()
	if tm, ok := m.timers[tripID]; ok {
		tm.Stop()
		delete(m.timers, tripID)
	}
	m.mu.Unlock()
}

// Shutdown stops all pending expiry timers.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tm := range m.timers {
		tm.Stop()
		delete(m.timers, id)
	}
}
