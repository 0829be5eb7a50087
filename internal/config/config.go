package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch server
// process. Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint    string
	GeocodeEndpoint string
	PushEndpoint    string

	StripeKey string

	AcceptTimeout   time.Duration
	DisconnectGrace time.Duration
	ETACacheTTL     time.Duration

	StationaryThresholdM float64
	MatchMaxDistanceM    float64
	MatchLimit           int
	OfferFanout          int
	PickupFenceM         float64
	DestFenceM           float64
	FarePerKm            float64
	Currency             string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		RedisGeoKey:          "drivers_geo",
		KafkaTopic:           "driver-locations",
		AcceptTimeout:        30 * time.Second,
		DisconnectGrace:      30 * time.Second,
		ETACacheTTL:          15 * time.Second,
		StationaryThresholdM: 25,
		MatchMaxDistanceM:    5000,
		MatchLimit:           10,
		OfferFanout:          3,
		PickupFenceM:         100,
		DestFenceM:           150,
		FarePerKm:            120,
		Currency:             "usd",
		LogLevel:             "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setStringFromEnv(&cfg.GeocodeEndpoint, "GEOCODE_ENDPOINT")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.StripeKey = os.Getenv("STRIPE_KEY")

	setDurationFromEnv(&cfg.AcceptTimeout, "TRIP_ACCEPT_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.DisconnectGrace, "SESSION_DISCONNECT_GRACE", &errs)
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	setFloatFromEnv(&cfg.StationaryThresholdM, "GATE_STATIONARY_THRESHOLD_M", &errs)
	setFloatFromEnv(&cfg.MatchMaxDistanceM, "MATCH_MAX_DISTANCE_M", &errs)
	setIntFromEnv(&cfg.MatchLimit, "MATCH_LIMIT", &errs)
	setIntFromEnv(&cfg.OfferFanout, "OFFER_FANOUT", &errs)
	setFloatFromEnv(&cfg.PickupFenceM, "PICKUP_FENCE_M", &errs)
	setFloatFromEnv(&cfg.DestFenceM, "DEST_FENCE_M", &errs)
	setFloatFromEnv(&cfg.FarePerKm, "FARE_PER_KM", &errs)
	setStringFromEnv(&cfg.Currency, "FARE_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_LIMIT must be > 0"))
	}
	if cfg.OfferFanout <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_FANOUT must be > 0"))
	}
	if cfg.AcceptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TRIP_ACCEPT_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
