// Package gate decides, per driver, whether an incoming raw position sample
// is worth accepting. It bounds upload frequency by movement state and app
// state so stationary or backgrounded devices settle into long intervals.
package gate

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// Config carries the gate thresholds. Zero values fall back to defaults.
type Config struct {
	// StationaryThresholdM is the displacement below which a driver counts
	// as stationary.
	StationaryThresholdM float64
	// JumpFactor multiplies the stationary threshold: displacement beyond
	// it is accepted regardless of elapsed time, so a GPS reacquire after a
	// dead spot does not leave the stored position pinned.
	JumpFactor float64
}

func (c Config) withDefaults() Config {
	if c.StationaryThresholdM <= 0 {
		c.StationaryThresholdM = 25
	}
	if c.JumpFactor <= 0 {
		c.JumpFactor = 5
	}
	return c
}

// Decision is the outcome for one sample. NextInterval is the currently
// recommended send interval, returned to the device either way.
type Decision struct {
	Accepted      bool
	NextInterval  time.Duration
	DisplacementM float64
}

type driverState struct {
	last            models.LocationSample
	stationary      bool
	stationarySince time.Time
}

type Gate struct {
	mu      sync.Mutex
	cfg     Config
	drivers map[string]*driverState
}

func New(cfg Config) *Gate {
	return &Gate{cfg: cfg.withDefaults(), drivers: make(map[string]*driverState)}
}

// Check classifies the sample and decides acceptance. Accepted samples
// become the new reference point for the driver.
func (g *Gate) Check(s models.LocationSample) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.drivers[s.DriverID]
	if !ok {
		// first sample is always accepted
		g.drivers[s.DriverID] = &driverState{last: s}
		return Decision{Accepted: true, NextInterval: requiredInterval(s.AppState, false, 0, s.SpeedMps)}
	}

	disp := geo.Distance(st.last.Loc, s.Loc)
	stationaryFor := time.Duration(0)
	if st.stationary {
		stationaryFor = s.RecordedAt.Sub(st.stationarySince)
	}
	required := requiredInterval(s.AppState, st.stationary, stationaryFor, s.SpeedMps)
	elapsed := s.RecordedAt.Sub(st.last.RecordedAt)

	jump := disp >= g.cfg.JumpFactor*g.cfg.StationaryThresholdM
	if elapsed < required && !jump {
		return Decision{Accepted: false, NextInterval: required, DisplacementM: disp}
	}

	if disp < g.cfg.StationaryThresholdM {
		if !st.stationary {
			st.stationary = true
			st.stationarySince = st.last.RecordedAt
		}
	} else {
		st.stationary = false
	}
	st.last = s

	next := requiredInterval(s.AppState, st.stationary, stationaryFor, s.SpeedMps)
	return Decision{Accepted: true, NextInterval: next, DisplacementM: disp}
}

// Forget drops per-driver state, e.g. when the driver goes offline.
func (g *Gate) Forget(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.drivers, driverID)
}

// requiredInterval picks the minimum accept interval for the movement class.
// Moving drivers report often, stationary ones back off in steps, and
// backgrounded apps get doubled intervals.
func requiredInterval(app models.AppState, stationary bool, stationaryFor time.Duration, speedMps float64) time.Duration {
	var base time.Duration
	switch {
	case stationary && stationaryFor >= 5*time.Minute:
		base = 45 * time.Second
	case stationary && stationaryFor >= time.Minute:
		base = 20 * time.Second
	case stationary:
		base = 10 * time.Second
	case speedMps >= 8:
		base = 2 * time.Second
	case speedMps >= 3:
		base = 4 * time.Second
	default:
		base = 7 * time.Second
	}
	if app == models.AppBackground {
		base *= 2
		if base > 120*time.Second {
			base = 120 * time.Second
		}
	}
	return base
}
