package main

import (
	"net/http"

	"go.uber.org/zap"

	"bankfeed/internal/app"
	httphandlers "bankfeed/internal/interfaces/http"
	"bankfeed/internal/shared/auth"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/middleware"
)

const maxRequestBodyBytes = 1 << 20

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *app.Dependencies, cfg *config.Config, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	connectorHandler := httphandlers.NewConnectorHandler(deps.Connectors, deps.Links, logger)
	syncHandler := httphandlers.NewSyncHandler(deps.Orchestrator, deps.DueScheduler, logger)

	jwt := auth.NewJWT(cfg.JWT.Secret, cfg.JWT.Issuer)
	httphandlers.RegisterRoutes(mux, connectorHandler, syncHandler, middleware.Auth(jwt, logger))

	// Outermost first.
	chain := []func(http.Handler) http.Handler{
		middleware.Recover(logger),
		middleware.RequestID,
		middleware.Logging(logger),
		middleware.SecurityHeaders,
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.MaxBodySize(maxRequestBodyBytes),
	}
	if cfg.Telemetry.Enabled {
		chain = append([]func(http.Handler) http.Handler{middleware.Telemetry(cfg.Telemetry.ServiceName)}, chain...)
	}

	var handler http.Handler = mux
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}
