// Package registry maps logical users to live outbound channels and records
// who is tracking whom. Disconnects are soft: a departed user is only
// reported gone after a grace period without reconnecting.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Session is a live outbound channel to one connected user.
type Session interface {
	Send(ev models.Event) error
	Close() error
}

// TrackingRelationship records that trackerID follows driverID's position,
// optionally scoped to one trip.
type TrackingRelationship struct {
	TrackerID string
	DriverID  string
	TripID    string
	StartedAt time.Time
}

// Registry holds sessions and tracking relationships. OnGone fires after a
// deregistered user stays away for the full grace period.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	goneAt   map[string]*time.Timer

	// trackerID -> driverID -> relationship
	byTracker map[string]map[string]TrackingRelationship
	// driverID -> set of trackerIDs
	byDriver map[string]map[string]struct{}

	grace  time.Duration
	OnGone func(userID string)
	log    *slog.Logger
}

func New(grace time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions:  make(map[string]Session),
		goneAt:    make(map[string]*time.Timer),
		byTracker: make(map[string]map[string]TrackingRelationship),
		byDriver:  make(map[string]map[string]struct{}),
		grace:     grace,
		log:       log,
	}
}

// Register binds a session to userID, replacing any previous one and
// cancelling a pending disconnect sweep.
func (r *Registry) Register(userID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok && old != s {
		_ = old.Close()
	}
	r.sessions[userID] = s
	if t, ok := r.goneAt[userID]; ok {
		t.Stop()
		delete(r.goneAt, userID)
	}
}

// Deregister drops the session and arms the grace timer. If the user does
// not re-register before it fires, OnGone runs and the user's tracking
// relationships are torn down.
func (r *Registry) Deregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	if t, ok := r.goneAt[userID]; ok {
		t.Stop()
	}
	r.goneAt[userID] = time.AfterFunc(r.grace, func() { r.expire(userID) })
}

func (r *Registry) expire(userID string) {
	r.mu.Lock()
	if _, connected := r.sessions[userID]; connected {
		r.mu.Unlock()
		return
	}
	delete(r.goneAt, userID)
	r.removeTrackerLocked(userID)
	r.mu.Unlock()

	r.log.Info("session expired after grace", "user_id", userID)
	if r.OnGone != nil {
		r.OnGone(userID)
	}
}

func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Send delivers ev to userID's session; no session is not an error worth
// surfacing to callers, they broadcast best-effort.
func (r *Registry) Send(userID string, ev models.Event) bool {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := s.Send(ev); err != nil {
		r.log.Warn("session send failed", "user_id", userID, "event", ev.Type, "error", err)
		return false
	}
	return true
}

func (r *Registry) Broadcast(userIDs []string, ev models.Event) {
	for _, id := range userIDs {
		r.Send(id, ev)
	}
}

// StartTracking records that trackerID follows driverID.
func (r *Registry) StartTracking(trackerID, driverID, tripID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byTracker[trackerID] == nil {
		r.byTracker[trackerID] = make(map[string]TrackingRelationship)
	}
	r.byTracker[trackerID][driverID] = TrackingRelationship{
		TrackerID: trackerID, DriverID: driverID, TripID: tripID, StartedAt: time.Now(),
	}
	if r.byDriver[driverID] == nil {
		r.byDriver[driverID] = make(map[string]struct{})
	}
	r.byDriver[driverID][trackerID] = struct{}{}
}

func (r *Registry) StopTracking(trackerID, driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byTracker[trackerID]; ok {
		delete(m, driverID)
		if len(m) == 0 {
			delete(r.byTracker, trackerID)
		}
	}
	if m, ok := r.byDriver[driverID]; ok {
		delete(m, trackerID)
		if len(m) == 0 {
			delete(r.byDriver, driverID)
		}
	}
}

// TrackersOf returns the users currently tracking driverID.
func (r *Registry) TrackersOf(driverID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byDriver[driverID]))
	for id := range r.byDriver[driverID] {
		out = append(out, id)
	}
	return out
}

// Relationship returns the tracking record between trackerID and driverID.
func (r *Registry) Relationship(trackerID, driverID string) (TrackingRelationship, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.byTracker[trackerID][driverID]
	return rel, ok
}

// EndTrackingForTrip removes every relationship scoped to tripID.
func (r *Registry) EndTrackingForTrip(tripID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for trackerID, m := range r.byTracker {
		for driverID, rel := range m {
			if rel.TripID == tripID {
				delete(m, driverID)
				if dm, ok := r.byDriver[driverID]; ok {
					delete(dm, trackerID)
					if len(dm) == 0 {
						delete(r.byDriver, driverID)
					}
				}
			}
		}
		if len(m) == 0 {
			delete(r.byTracker, trackerID)
		}
	}
}

func (r *Registry) removeTrackerLocked(trackerID string) {
	for driverID := range r.byTracker[trackerID] {
		if dm, ok := r.byDriver[driverID]; ok {
			delete(dm, trackerID)
			if len(dm) == 0 {
				delete(r.byDriver, driverID)
			}
		}
	}
	delete(r.byTracker, trackerID)
}

// Shutdown stops pending grace timers and closes every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.goneAt {
		t.Stop()
	}
	r.goneAt = make(map[string]*time.Timer)
	for id, s := range r.sessions {
		_ = s.Close()
		delete(r.sessions, id)
	}
}
