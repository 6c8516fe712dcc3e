package main

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"bankfeed/internal/interfaces/scheduler"
	"bankfeed/internal/shared/config"
)

// StartServer creates the HTTP server and starts it in the background.
func StartServer(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	return srv
}

// GracefulShutdown stops accepting requests, then drains the scheduler.
func GracefulShutdown(srv *http.Server, sched *scheduler.Scheduler, cfg *config.Config, logger *zap.Logger) {
	logger.Info("Server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	}

	if sched != nil {
		sched.Shutdown(cfg.Scheduler.ShutdownTimeout)
	}

	logger.Info("Server stopped")
}
