package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"bankfeed/internal/app"
	"bankfeed/internal/infrastructure/postgres/listener"
	"bankfeed/internal/interfaces/scheduler"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/logger"
	"bankfeed/internal/shared/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := app.NewDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(cfg.Scheduler, deps.DueScheduler, deps.Orchestrator, log)
		if err != nil {
			return err
		}
		sched.Start()
	} else {
		log.Info("Scheduler is disabled")
	}

	var syncListener *listener.SyncListener
	if cfg.Listener.Enabled && sched != nil {
		syncListener = listener.NewSyncListener(cfg.Database.ConnectionString(), listener.HandlerFunc(func(_ context.Context, req listener.SyncRequest) {
			if err := sched.EnqueueConnectorSync(req.TenantID, req.ConnectorID, req.RequestID, req.ForceFull); err != nil {
				log.Warn("Dropped on-demand sync request",
					zap.Int64("tenant_id", req.TenantID),
					zap.String("connector_id", req.ConnectorID),
					zap.Error(err),
				)
			}
		}), log)
		syncListener.Start(ctx)
	}

	handler := SetupRoutes(deps, cfg, log)
	srv := StartServer(cfg.Server, handler, log)

	<-ctx.Done()

	if syncListener != nil {
		syncListener.Stop()
	}
	GracefulShutdown(srv, sched, cfg, log)
	return nil
}
