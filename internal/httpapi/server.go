// Package httpapi exposes the dispatch engine over HTTP: REST endpoints for
// trip requests and debugging, websocket endpoints for live driver and
// passenger sessions, plus health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
)

type Server struct {
	logger    *slog.Logger
	orch      *dispatch.Orchestrator
	registry  *registry.Registry
	locations location.Repository
	mux       *mux.Router
}

func NewServer(logger *slog.Logger, orch *dispatch.Orchestrator, reg *registry.Registry, locs location.Repository) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger, orch: orch, registry: reg, locations: locs, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/trips/request", s.handleTripRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/cancel", s.handleTripCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/passenger/{passenger_id}", s.handlePassengerWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleTripRequest is the REST mirror of the trip-request websocket event,
// for passenger clients that have not opened a socket yet.
func (s *Server) handleTripRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PassengerID string `json:"passenger_id"`
		dispatch.TripRequestPayload
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, faults.Validationf("malformed request body: %v", err))
		return
	}
	if body.PassengerID == "" {
		writeError(w, faults.Validationf("passenger_id is required"))
		return
	}
	raw, _ := json.Marshal(body.TripRequestPayload)
	if err := s.orch.HandlePassengerEvent(r.Context(), body.PassengerID, dispatch.Envelope{
		Type: dispatch.EvTripRequest, Data: raw,
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTripCancel(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	var body struct {
		ActorID string `json:"actor_id"`
		Reason  string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, faults.Validationf("malformed request body: %v", err))
		return
	}
	raw, _ := json.Marshal(dispatch.TripCancelPayload{TripID: tripID, Reason: body.Reason})
	if err := s.orch.HandlePassengerEvent(r.Context(), body.ActorID, dispatch.Envelope{
		Type: dispatch.EvTripCancel, Data: raw,
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, faults.Validationf("lat and lon query params are required"))
		return
	}
	radius := 5000.0
	if v := q.Get("radius_m"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			radius = f
		}
	}
	out := s.locations.Nearby(models.Coord{Lat: lat, Lon: lon}, radius, models.StatusOnline, 25)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, mux.Vars(r)["driver_id"], s.orch.HandleDriverEvent)
}

func (s *Server) handlePassengerWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, mux.Vars(r)["passenger_id"], s.orch.HandlePassengerEvent)
}

type eventHandler func(ctx context.Context, userID string, env dispatch.Envelope) error

// serveWS upgrades the connection and runs the session read loop: one
// lightweight worker per connected client. Handler errors go back to the
// session as error events; only read failures end the loop.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, userID string, handle eventHandler) {
	if userID == "" {
		writeError(w, faults.Validationf("user id path segment is required"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	session := registry.NewWSSession(conn)
	s.registry.Register(userID, session)
	observability.SessionsActive.Inc()
	s.logger.Info("session connected", "user_id", userID)

	defer func() {
		s.registry.Deregister(userID)
		observability.SessionsActive.Dec()
		s.logger.Info("session disconnected", "user_id", userID)
	}()

	for {
		var env dispatch.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if err := handle(r.Context(), userID, env); err != nil {
			s.orch.ReportFault(userID, err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch faults.KindOf(err) {
	case faults.KindValidation:
		status = http.StatusBadRequest
	case faults.KindNotFound:
		status = http.StatusNotFound
	case faults.KindConflict:
		status = http.StatusConflict
	case faults.KindUpstream:
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  faults.KindOf(err).String(),
	})
}
