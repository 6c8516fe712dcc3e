// Package app assembles the service's dependency graph from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bankfeed/internal/domain/accountlink"
	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/connector"
	"bankfeed/internal/domain/provider"
	"bankfeed/internal/infrastructure/crypto"
	"bankfeed/internal/infrastructure/firebase"
	"bankfeed/internal/infrastructure/postgres"
	"bankfeed/internal/infrastructure/providers/httpx"
	"bankfeed/internal/infrastructure/providers/openfinance"
	"bankfeed/internal/infrastructure/providers/restjson"
	"bankfeed/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	Vault     *crypto.Vault
	Providers *provider.Registry

	Connectors   *connector.Service
	Links        *accountlink.Service
	Orchestrator *banksync.Orchestrator
	DueScheduler *banksync.Scheduler
}

// NewDependencies connects to the database and wires repositories, provider
// adapters and domain services.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	db, err := postgres.New(ctx, cfg.Database.ConnectionString(), postgres.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to database", zap.String("host", cfg.Database.Host), zap.String("name", cfg.Database.Name))

	deps, err := build(ctx, cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return deps, nil
}

func build(ctx context.Context, cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	vault, err := crypto.NewVault(cfg.Encryption.Keys, cfg.Encryption.ActiveKID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential vault: %w", err)
	}

	registry, err := NewProviderRegistry(cfg.Providers)
	if err != nil {
		return nil, err
	}
	logger.Info("Provider adapters registered", zap.Strings("providers", registry.Codes()))

	connectorRepo := postgres.NewConnectorRepository(db)
	linkRepo := postgres.NewAccountLinkRepository(db)
	runRepo := postgres.NewSyncRunRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)
	importer := postgres.NewStatementImporter(db)

	connectors := connector.NewService(connectorRepo, ledgerRepo, registry, vault)
	links := accountlink.NewService(linkRepo, connectorRepo, ledgerRepo)

	orchestrator := banksync.NewOrchestrator(connectorRepo, links, runRepo, importer, registry, vault, logger)

	if cfg.Firebase.CredentialsFile != "" {
		msgClient, err := firebase.NewMessagingClient(ctx, cfg.Firebase.CredentialsFile)
		if err != nil {
			logger.Warn("Connector health alerts disabled", zap.Error(err))
		} else {
			orchestrator.SetHealthNotifier(firebase.NewHealthNotifier(msgClient, cfg.Firebase.AlertsTopicPrefix, logger))
			logger.Info("Connector health alerts enabled", zap.String("topic_prefix", cfg.Firebase.AlertsTopicPrefix))
		}
	}

	return &Dependencies{
		DB:           db,
		Vault:        vault,
		Providers:    registry,
		Connectors:   connectors,
		Links:        links,
		Orchestrator: orchestrator,
		DueScheduler: banksync.NewScheduler(connectorRepo, orchestrator, logger),
	}, nil
}

// NewProviderRegistry builds the adapter registry with per-provider rate limits.
func NewProviderRegistry(cfg config.ProvidersConfig) (*provider.Registry, error) {
	limits, err := httpx.LoadLimits(cfg.LimitsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider limits: %w", err)
	}

	client := func(code string) *httpx.Client {
		return httpx.NewClient(code, httpx.Options{Limiter: limits.Limiter(code)})
	}

	return provider.NewRegistry(
		openfinance.New(client(openfinance.Code)),
		restjson.New(client(restjson.Code)),
	)
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
