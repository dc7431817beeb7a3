package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ajimenez-dev/circulation-backend/internal/analytics"
	"github.com/ajimenez-dev/circulation-backend/internal/circulation"
	"github.com/ajimenez-dev/circulation-backend/internal/ledger"
	"github.com/ajimenez-dev/circulation-backend/internal/ops"
	"github.com/ajimenez-dev/circulation-backend/internal/sweeps"
	"github.com/ajimenez-dev/circulation-backend/internal/vendors/boundless"
	"github.com/ajimenez-dev/circulation-backend/internal/vendors/odl"
	"github.com/ajimenez-dev/circulation-backend/internal/vendors/openaccess"
	"github.com/ajimenez-dev/circulation-backend/pkg/config"
	"github.com/ajimenez-dev/circulation-backend/pkg/db"
	"github.com/ajimenez-dev/circulation-backend/pkg/enums"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
	"github.com/ajimenez-dev/circulation-backend/pkg/metrics"
	"github.com/ajimenez-dev/circulation-backend/pkg/migrate"
	"github.com/ajimenez-dev/circulation-backend/pkg/pubsub"
	"github.com/ajimenez-dev/circulation-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "circulation-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "circulation-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerSvc, err := ledger.NewService(dbClient, ledgerRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	events := buildEventSink(context.Background(), cfg, logg)

	registry, reapers, err := buildAdapterRegistry(context.Background(), cfg, ledgerSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build adapter registry", err)
		os.Exit(1)
	}

	registerer := prometheus.NewRegistry()
	sweepMetrics := metrics.NewSweepJobMetrics(registerer)

	lock, err := sweeps.NewRedisLock(redisClient, redis.SweepLockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	sweepRegistry := sweeps.NewRegistry()
	availability, err := sweeps.NewAvailabilitySweep(ledgerSvc, registry, cfg.Sweeps.BatchSize, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create availability sweep", err)
		os.Exit(1)
	}
	sweepRegistry.Register(availability)

	reaping, err := sweeps.NewReapingSweep(ledgerSvc, reapers, events, sweepMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reaping sweep", err)
		os.Exit(1)
	}
	sweepRegistry.Register(reaping)

	holdQueue, err := sweeps.NewHoldQueueSweep(ledgerSvc, cfg.Sweeps.BatchSize, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create hold queue sweep", err)
		os.Exit(1)
	}
	sweepRegistry.Register(holdQueue)

	sweepSvc, err := sweeps.NewService(sweeps.ServiceParams{
		Logger:   logg,
		Registry: sweepRegistry,
		Lock:     lock,
		Metrics:  sweepMetrics,
		Interval: cfg.Sweeps.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	opsServer := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: ops.Router(logg, registerer, map[string]ops.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()

	logg.Info(ctx, "starting circulation worker")
	sweepSvc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "shutting down ops server", err)
	}
	logg.Info(ctx, "circulation worker shutting down gracefully")
}

// buildEventSink prefers Pub/Sub and degrades to a noop sink when the worker
// runs without GCP credentials.
func buildEventSink(ctx context.Context, cfg *config.Config, logg *logger.Logger) analytics.Sink {
	if cfg.GCP.ProjectID == "" {
		logg.Warn(ctx, "no GCP project configured, circulation events will be dropped")
		return analytics.Noop{}
	}
	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub, circulation events will be dropped", err)
		return analytics.Noop{}
	}
	sink, err := analytics.NewPubSubSink(client, cfg.PubSub.CirculationEventsTopic, logg)
	if err != nil {
		logg.Error(ctx, "failed to create event sink, circulation events will be dropped", err)
		return analytics.Noop{}
	}
	return sink
}

// buildAdapterRegistry binds every active collection to its protocol adapter.
// Boundless collections also get a catalog reaper.
func buildAdapterRegistry(ctx context.Context, cfg *config.Config, ledgerSvc ledger.Service, logg *logger.Logger) (*circulation.Registry, map[uuid.UUID]sweeps.PoolReaper, error) {
	collections, err := ledgerSvc.ActiveCollections(ctx)
	if err != nil {
		return nil, nil, err
	}

	registry := circulation.NewRegistry()
	reapers := map[uuid.UUID]sweeps.PoolReaper{}

	var odlAdapter *odl.Adapter
	var boundlessAdapter *boundless.Adapter
	var openAccessAdapter *openaccess.Adapter

	for _, collection := range collections {
		switch collection.Protocol {
		case enums.ProtocolODL:
			if odlAdapter == nil {
				client := odl.NewClient(cfg.ODL.Username, cfg.ODL.Password, cfg.ODL.RequestTimeout)
				odlAdapter, err = odl.NewAdapter(ledgerSvc, client, cfg.ODL, logg)
				if err != nil {
					return nil, nil, err
				}
			}
			registry.Register(collection.ID, odlAdapter)

		case enums.ProtocolBoundless:
			if boundlessAdapter == nil {
				client, err := boundless.NewClient(cfg.Boundless.BaseURL, cfg.Boundless.APIKey, cfg.Boundless.LibraryID, cfg.Boundless.RequestTimeout)
				if err != nil {
					return nil, nil, err
				}
				boundlessAdapter, err = boundless.NewAdapter(ledgerSvc, client, logg)
				if err != nil {
					return nil, nil, err
				}
			}
			registry.Register(collection.ID, boundlessAdapter)
			reapers[collection.ID] = boundlessAdapter

		case enums.ProtocolOpenAccess:
			if openAccessAdapter == nil {
				openAccessAdapter, err = openaccess.NewAdapter(openaccess.IdentifierResolver{})
				if err != nil {
					return nil, nil, err
				}
			}
			registry.Register(collection.ID, openAccessAdapter)

		default:
			logg.Warn(logg.WithCollectionID(ctx, collection.ID.String()), "collection uses an unknown protocol, skipping")
		}
	}

	return registry, reapers, nil
}
