package trip

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// PostgresRepository implements Repository on lib/pq. Claim and Transition
// are single conditional UPDATEs, so the database resolves races.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRepository{db: db}, nil
}

func (p *PostgresRepository) Create(ctx context.Context, t *models.Trip) error {
	routeJSON, _ := json.Marshal(t.Route)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trips(id, passenger_id, pickup_lat, pickup_lon, dest_lat, dest_lon,
			pickup_addr, dest_addr, vehicle_type, status, route, route_distance_m,
			route_duration_sec, fare_estimate, currency, requested_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.PassengerID, t.Pickup.Lat, t.Pickup.Lon, t.Destination.Lat, t.Destination.Lon,
		t.PickupAddr, t.DestAddr, t.VehicleType, string(t.Status), routeJSON, t.RouteDistanceM,
		t.RouteDurationSec, t.FareEstimate, t.Currency, t.RequestedAt)
	if err != nil {
		return faults.Upstream(err, "insert trip")
	}
	return nil
}

func (p *PostgresRepository) Get(ctx context.Context, tripID string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, passenger_id, COALESCE(driver_id,''), pickup_lat, pickup_lon,
			dest_lat, dest_lon, pickup_addr, dest_addr, vehicle_type, status,
			route, pickup_route, route_distance_m, route_duration_sec,
			pickup_route_distance_m, pickup_route_duration_sec, fare_estimate,
			currency, COALESCE(payment_hold_id,''), requested_at, accepted_at,
			arrived_at, started_at, completed_at, cancelled_at,
			COALESCE(cancelled_by,''), COALESCE(cancel_reason,'')
		FROM trips WHERE id=$1`, tripID)
	return scanTrip(row, tripID)
}

func scanTrip(row *sql.Row, tripID string) (*models.Trip, error) {
	var t models.Trip
	var status string
	var routeJSON, pickupRouteJSON []byte
	err := row.Scan(&t.ID, &t.PassengerID, &t.DriverID, &t.Pickup.Lat, &t.Pickup.Lon,
		&t.Destination.Lat, &t.Destination.Lon, &t.PickupAddr, &t.DestAddr, &t.VehicleType,
		&status, &routeJSON, &pickupRouteJSON, &t.RouteDistanceM, &t.RouteDurationSec,
		&t.PickupRouteDistanceM, &t.PickupRouteDurationSec, &t.FareEstimate,
		&t.Currency, &t.PaymentHoldID, &t.RequestedAt, &t.AcceptedAt,
		&t.ArrivedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt,
		&t.CancelledBy, &t.CancelReason)
	if err == sql.ErrNoRows {
		return nil, faults.NotFoundf("trip %s not found", tripID)
	}
	if err != nil {
		return nil, faults.Upstream(err, "select trip")
	}
	t.Status = models.TripStatus(status)
	if len(routeJSON) > 0 {
		_ = json.Unmarshal(routeJSON, &t.Route)
	}
	if len(pickupRouteJSON) > 0 {
		_ = json.Unmarshal(pickupRouteJSON, &t.PickupRoute)
	}
	return &t, nil
}

func (p *PostgresRepository) Update(ctx context.Context, t *models.Trip) error {
	routeJSON, _ := json.Marshal(t.Route)
	pickupRouteJSON, _ := json.Marshal(t.PickupRoute)
	res, err := p.db.ExecContext(ctx, `
		UPDATE trips SET route=$2, pickup_route=$3, route_distance_m=$4,
			route_duration_sec=$5, pickup_route_distance_m=$6,
			pickup_route_duration_sec=$7, pickup_addr=$8, dest_addr=$9,
			fare_estimate=$10, payment_hold_id=NULLIF($11,''),
			cancelled_by=NULLIF($12,''), cancel_reason=NULLIF($13,'')
		WHERE id=$1`,
		t.ID, routeJSON, pickupRouteJSON, t.RouteDistanceM, t.RouteDurationSec,
		t.PickupRouteDistanceM, t.PickupRouteDurationSec, t.PickupAddr, t.DestAddr,
		t.FareEstimate, t.PaymentHoldID, t.CancelledBy, t.CancelReason)
	if err != nil {
		return faults.Upstream(err, "update trip")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return faults.NotFoundf("trip %s not found", t.ID)
	}
	return nil
}

func (p *PostgresRepository) Claim(ctx context.Context, tripID, driverID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trips SET status=$3, driver_id=$2, accepted_at=$4
		WHERE id=$1 AND status=$5 AND driver_id IS NULL`,
		tripID, driverID, string(models.TripAccepted), at, string(models.TripRequested))
	if err != nil {
		// unique partial index on active driver_id: a driver claiming a
		// second trip, possibly through another replica, lands here
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return faults.Conflictf("driver %s already has an active trip", driverID)
		}
		return faults.Upstream(err, "claim trip")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.conflictOrNotFound(ctx, tripID, "trip %s already taken")
	}
	return nil
}

func (p *PostgresRepository) Transition(ctx context.Context, tripID string, from, to models.TripStatus, at time.Time) error {
	column := timestampColumn(to)
	query := `UPDATE trips SET status=$3` + column + ` WHERE id=$1 AND status=$2`
	args := []any{tripID, string(from), string(to)}
	if column != "" {
		args = append(args, at)
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return faults.Upstream(err, "transition trip")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p.conflictOrNotFound(ctx, tripID, "trip %s not in expected state")
	}
	return nil
}

func timestampColumn(to models.TripStatus) string {
	switch to {
	case models.TripArrivedPickup:
		return ", arrived_at=$4"
	case models.TripInProgress:
		return ", started_at=$4"
	case models.TripCompleted:
		return ", completed_at=$4"
	case models.TripCancelled, models.TripExpired:
		return ", cancelled_at=$4"
	default:
		return ""
	}
}

func (p *PostgresRepository) conflictOrNotFound(ctx context.Context, tripID, conflictFmt string) error {
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM trips WHERE id=$1`, tripID).Scan(&status)
	if err == sql.ErrNoRows {
		return faults.NotFoundf("trip %s not found", tripID)
	}
	if err != nil {
		return faults.Upstream(err, "select trip status")
	}
	return faults.ConflictStatus(status, conflictFmt, tripID)
}

func (p *PostgresRepository) ActiveByDriver(ctx context.Context, driverID string) (*models.Trip, bool) {
	return p.activeBy(ctx, "driver_id", driverID)
}

func (p *PostgresRepository) ActiveByPassenger(ctx context.Context, passengerID string) (*models.Trip, bool) {
	return p.activeBy(ctx, "passenger_id", passengerID)
}

func (p *PostgresRepository) activeBy(ctx context.Context, column, id string) (*models.Trip, bool) {
	var tripID string
	err := p.db.QueryRowContext(ctx, `
		SELECT id FROM trips WHERE `+column+`=$1
		AND status NOT IN ('completed','cancelled','expired') LIMIT 1`, id).Scan(&tripID)
	if err != nil {
		return nil, false
	}
	t, err := p.Get(ctx, tripID)
	if err != nil {
		return nil, false
	}
	return t, true
}

func (p *PostgresRepository) RecordOffer(ctx context.Context, driverID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO driver_stats(driver_id, offers_seen) VALUES($1, 1)
		ON CONFLICT (driver_id) DO UPDATE SET offers_seen = driver_stats.offers_seen + 1`,
		driverID)
	if err != nil {
		return faults.Upstream(err, "record offer")
	}
	return nil
}

func (p *PostgresRepository) DriverStats(driverID string) (models.DriverStats, error) {
	ctx := context.Background()
	var st models.DriverStats
	err := p.db.QueryRowContext(ctx, `
		SELECT s.offers_seen,
			COUNT(t.id) FILTER (WHERE t.accepted_at IS NOT NULL),
			COUNT(t.id) FILTER (WHERE t.status = 'completed'),
			COUNT(t.id) FILTER (WHERE t.status IN ('completed','cancelled'))
		FROM driver_stats s
		LEFT JOIN trips t ON t.driver_id = s.driver_id
		WHERE s.driver_id = $1
		GROUP BY s.offers_seen`, driverID).
		Scan(&st.OffersSeen, &st.OffersAccepted, &st.TripsCompleted, &st.TripsTotal)
	if err == sql.ErrNoRows {
		return models.DriverStats{}, nil
	}
	if err != nil {
		return models.DriverStats{}, faults.Upstream(err, "driver stats")
	}
	st.Known = true
	return st, nil
}

func (p *PostgresRepository) Close() error { return p.db.Close() }
