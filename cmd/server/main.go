package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/gate"
	"github.com/example/ride-dispatch/internal/geofence"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/location"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/trip"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Location store: Redis geo index when configured, in-memory otherwise.
	var locs location.Repository
	if cfg.RedisAddr != "" {
		locs = location.NewRedisRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis location store", "addr", cfg.RedisAddr)
	} else {
		locs = location.NewMemoryRepository()
		logger.Info("using in-memory location store")
	}

	// Trip store: Postgres when a DSN is given, in-memory otherwise.
	var trips trip.Repository
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(logger, cfg.PGDSN)
		}
		pg, err := trip.NewPostgresRepository(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		trips = pg
		logger.Info("using postgres trip store")
	} else {
		trips = trip.NewMemoryRepository()
		logger.Info("using in-memory trip store")
	}

	var provider maps.Provider
	if cfg.OSRMEndpoint != "" {
		provider = maps.NewOSRMProvider(cfg.OSRMEndpoint, cfg.GeocodeEndpoint)
		logger.Info("using osrm maps provider", "endpoint", cfg.OSRMEndpoint)
	} else {
		provider = maps.SimProvider{}
		logger.Info("using simulated maps provider")
	}

	reg := registry.New(cfg.DisconnectGrace, logging.ForComponent(logger, "registry"))
	machine := trip.NewMachine(trips, cfg.AcceptTimeout, logging.ForComponent(logger, "trips"))
	defer machine.Shutdown()

	orch := dispatch.NewOrchestrator(dispatch.Config{
		MatchMaxDistanceM: cfg.MatchMaxDistanceM,
		MatchLimit:        cfg.MatchLimit,
		OfferFanout:       cfg.OfferFanout,
		PickupFenceM:      cfg.PickupFenceM,
		DestFenceM:        cfg.DestFenceM,
		FarePerKm:         cfg.FarePerKm,
		Currency:          cfg.Currency,
	}, logging.ForComponent(logger, "dispatch"))
	orch.Locations = locs
	orch.Registry = reg
	orch.Gate = gate.New(gate.Config{StationaryThresholdM: cfg.StationaryThresholdM})
	orch.Trips = machine
	orch.TripRepo = trips
	orch.Matcher = &matcher.Service{Locations: locs, Stats: trips}
	orch.ETA = eta.NewEngine(provider, cfg.ETACacheTTL, logging.ForComponent(logger, "eta"))
	orch.Fences = geofence.NewMonitor()
	orch.Maps = provider
	orch.Payments = payments.NewStripeClient(cfg.StripeKey)
	if cfg.PushEndpoint != "" {
		orch.Push = dispatch.NewPushDispatcher(cfg.PushEndpoint)
		logger.Info("push fallback enabled", "endpoint", cfg.PushEndpoint)
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		orch.Producer = producer
		logger.Info("publishing samples to kafka", "topic", cfg.KafkaTopic)
	}

	orch.Start()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(logging.ForComponent(logger, "http"), orch, reg, locs),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatch server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	reg.Shutdown()
}

// runMigrations applies the SQL files under migrations/ in name order.
// Failures are logged and skipped so a re-run against an initialized
// database stays harmless.
func runMigrations(logger *slog.Logger, dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		logger.Error("migration glob failed", "error", err)
		return
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			logger.Error("migration read failed", "file", f, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err = db.ExecContext(ctx, string(b))
		cancel()
		if err != nil {
			logger.Error("migration exec failed", "file", f, "error", err)
		}
	}
}
