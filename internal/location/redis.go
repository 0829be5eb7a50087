package location

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// RedisRepository implements Repository on Redis GEO commands with a metadata
// hash per driver. Sample history stays process-local: it only feeds the
// trajectory predictor, which runs next to the ingest path.
type RedisRepository struct {
	client *redis.Client
	key    string

	mu        sync.Mutex
	histories map[string]*historyRing
}

func NewRedisRepository(addr, password, key string) *RedisRepository {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisRepository{client: c, key: key, histories: make(map[string]*historyRing)}
}

func metaKey(id string) string { return "driver:meta:" + id }

func (r *RedisRepository) Upsert(s models.LocationSample) error {
	ctx := context.Background()

	// monotonic guard against out-of-order delivery
	cur, err := r.client.HGet(ctx, metaKey(s.DriverID), "updated_ns").Result()
	if err == nil {
		if ns, perr := strconv.ParseInt(cur, 10, 64); perr == nil {
			stored := time.Unix(0, ns)
			if s.RecordedAt.Before(stored) {
				return faults.Conflictf("stale sample for driver %s", s.DriverID)
			}
			if s.RecordedAt.Equal(stored) {
				return nil
			}
		}
	} else if err != redis.Nil {
		return faults.Upstream(err, "redis meta read")
	}

	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: s.Loc.Lon, Latitude: s.Loc.Lat, Name: s.DriverID,
	}).Result(); err != nil {
		return faults.Upstream(err, "redis geoadd")
	}
	fields := map[string]interface{}{
		"heading":    s.HeadingDeg,
		"speed":      s.SpeedMps,
		"accuracy":   s.AccuracyM,
		"updated_ns": s.RecordedAt.UnixNano(),
	}
	if err := r.client.HSet(ctx, metaKey(s.DriverID), fields).Err(); err != nil {
		return faults.Upstream(err, "redis meta write")
	}
	if err := r.client.HSetNX(ctx, metaKey(s.DriverID), "status", string(models.StatusOnline)).Err(); err != nil {
		return faults.Upstream(err, "redis meta write")
	}

	r.mu.Lock()
	h, ok := r.histories[s.DriverID]
	if !ok {
		h = &historyRing{}
		r.histories[s.DriverID] = h
	}
	h.append(s)
	r.mu.Unlock()
	return nil
}

func (r *RedisRepository) Get(driverID string) (models.DriverLocation, error) {
	ctx := context.Background()
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.DriverLocation{}, faults.Upstream(err, "redis geopos")
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.DriverLocation{}, faults.NotFoundf("driver %s not found", driverID)
	}
	d := models.DriverLocation{
		DriverID: driverID,
		Loc:      models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude},
		Status:   models.StatusOnline,
	}
	meta, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.DriverLocation{}, faults.Upstream(err, "redis meta read")
	}
	applyMeta(&d, meta)
	return d, nil
}

func applyMeta(d *models.DriverLocation, meta map[string]string) {
	if v, ok := meta["status"]; ok {
		d.Status = models.DriverStatus(v)
	}
	if v, ok := meta["trip"]; ok {
		d.CurrentTripID = v
	}
	if v, ok := meta["vehicle"]; ok {
		d.VehicleType = v
	}
	parse := func(key string, dst *float64) {
		if v, ok := meta[key]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	parse("heading", &d.HeadingDeg)
	parse("speed", &d.SpeedMps)
	parse("accuracy", &d.AccuracyM)
	parse("rating", &d.Rating)
	if v, ok := meta["updated_ns"]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			d.Updated = time.Unix(0, ns)
		}
	}
}

func (r *RedisRepository) Nearby(center models.Coord, radiusM float64, status models.DriverStatus, limit int) []NearbyResult {
	ctx := context.Background()
	q := &redis.GeoRadiusQuery{Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Sort: "ASC"}
	if limit > 0 {
		// over-fetch: status filtering happens client-side
		q.Count = limit * 3
	}
	res, err := r.client.GeoRadius(ctx, r.key, center.Lon, center.Lat, q).Result()
	if err != nil {
		return nil
	}
	out := make([]NearbyResult, 0, len(res))
	for _, g := range res {
		d := models.DriverLocation{
			DriverID: g.Name,
			Loc:      models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			Status:   models.StatusOnline,
		}
		if meta, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			applyMeta(&d, meta)
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, NearbyResult{Driver: d, DistanceM: g.Dist})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *RedisRepository) SetStatus(driverID string, status models.DriverStatus) error {
	fields := map[string]interface{}{"status": string(status)}
	if status != models.StatusBusy {
		fields["trip"] = ""
	}
	return r.setMeta(driverID, fields)
}

func (r *RedisRepository) SetTrip(driverID, tripID string) error {
	return r.setMeta(driverID, map[string]interface{}{"trip": tripID, "status": string(models.StatusBusy)})
}

func (r *RedisRepository) ClearTrip(driverID string) error {
	return r.setMeta(driverID, map[string]interface{}{"trip": "", "status": string(models.StatusOnline)})
}

func (r *RedisRepository) SetProfile(driverID, vehicleType string, rating float64) error {
	return r.setMeta(driverID, map[string]interface{}{"vehicle": vehicleType, "rating": rating})
}

func (r *RedisRepository) History(driverID string) []models.LocationSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histories[driverID]
	if !ok {
		return nil
	}
	return h.snapshot(time.Now())
}

func (r *RedisRepository) MarkOffline(driverID string) error {
	return r.setMeta(driverID, map[string]interface{}{"status": string(models.StatusOffline), "trip": ""})
}

func (r *RedisRepository) setMeta(driverID string, fields map[string]interface{}) error {
	if err := r.client.HSet(context.Background(), metaKey(driverID), fields).Err(); err != nil {
		return faults.Upstream(err, "redis meta write")
	}
	return nil
}

func (r *RedisRepository) Close() error { return r.client.Close() }
