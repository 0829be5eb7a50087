package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "samples_accepted_total", Help: "Location samples accepted by the update gate"})
	SamplesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "samples_rejected_total", Help: "Location samples rejected by the update gate"})

	MatchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "match_requests_total", Help: "Total match queries executed"})
	MatchLatency       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Match query latency seconds"})

	ClaimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "claim_conflicts_total", Help: "Trip claims lost to another driver"})
	TripTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "trip_transitions_total", Help: "Trip state transitions applied"},
		[]string{"to"},
	)

	GeofenceTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "geofence_transitions_total", Help: "Geofence enter/exit events emitted"},
		[]string{"direction"},
	)

	ETAComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "eta_computations_total", Help: "ETA results by source"},
		[]string{"source"},
	)

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "sessions_active", Help: "Connected websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
