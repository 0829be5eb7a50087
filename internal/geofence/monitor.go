// Package geofence watches circular regions bound to drivers and reports
// enter/exit transitions. Detection is edge-triggered: repeated samples on
// the same side of a fence boundary produce no events.
package geofence

import (
	"sync"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Transition is one fence boundary crossing.
type Transition struct {
	Fence   models.Geofence
	Entered bool
}

type fenceState struct {
	fence  models.Geofence
	inside bool
	primed bool // first evaluation only sets the baseline
}

type Monitor struct {
	mu       sync.Mutex
	fences   map[string]*fenceState
	byDriver map[string]map[string]struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		fences:   make(map[string]*fenceState),
		byDriver: make(map[string]map[string]struct{}),
	}
}

// Add registers a fence. A fence with an existing ID is replaced and its
// edge state reset.
func (m *Monitor) Add(f models.Geofence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.fences[f.ID]; ok {
		m.unbindLocked(old.fence)
	}
	m.fences[f.ID] = &fenceState{fence: f}
	if m.byDriver[f.DriverID] == nil {
		m.byDriver[f.DriverID] = make(map[string]struct{})
	}
	m.byDriver[f.DriverID][f.ID] = struct{}{}
}

func (m *Monitor) Remove(fenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.fences[fenceID]
	if !ok {
		return faults.NotFoundf("fence %s not found", fenceID)
	}
	m.unbindLocked(st.fence)
	delete(m.fences, fenceID)
	return nil
}

// RemoveTripFences drops every fence owned by tripID.
func (m *Monitor) RemoveTripFences(tripID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.fences {
		if st.fence.TripID == tripID {
			m.unbindLocked(st.fence)
			delete(m.fences, id)
		}
	}
}

func (m *Monitor) unbindLocked(f models.Geofence) {
	if s, ok := m.byDriver[f.DriverID]; ok {
		delete(s, f.ID)
		if len(s) == 0 {
			delete(m.byDriver, f.DriverID)
		}
	}
}

// Evaluate tests pos against every fence bound to driverID and returns the
// boundary crossings since the previous evaluation.
func (m *Monitor) Evaluate(driverID string, pos models.Coord) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Transition
	for id := range m.byDriver[driverID] {
		st := m.fences[id]
		inside := geo.Distance(pos, st.fence.Center) <= st.fence.RadiusM
		if !st.primed {
			st.primed = true
			st.inside = inside
			if inside {
				// starting inside still counts as an entry
				out = append(out, Transition{Fence: st.fence, Entered: true})
			}
			continue
		}
		if inside != st.inside {
			st.inside = inside
			out = append(out, Transition{Fence: st.fence, Entered: inside})
		}
	}
	return out
}

// Fence returns a registered fence by ID.
func (m *Monitor) Fence(fenceID string) (models.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.fences[fenceID]
	if !ok {
		return models.Geofence{}, faults.NotFoundf("fence %s not found", fenceID)
	}
	return st.fence, nil
}
