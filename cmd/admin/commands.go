package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bankfeed/internal/app"
	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/statement"
	"bankfeed/internal/shared/auth"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/logger"
)

// environment is what every database-backed command needs.
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	deps   *app.Dependencies
}

func setup(ctx context.Context) (*environment, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Logging.Level, "console")
	if err != nil {
		return nil, err
	}
	deps, err := app.NewDependencies(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, logger: log, deps: deps}, nil
}

func (e *environment) close() {
	e.deps.Close()
	_ = e.logger.Sync()
}

func withEnvironment(timeout *time.Duration, fn func(ctx context.Context, env *environment, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if timeout != nil && *timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, *timeout)
			defer cancel()
		}

		env, err := setup(ctx)
		if err != nil {
			return err
		}
		defer env.close()
		return fn(ctx, env, cmd)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	RunE: withEnvironment(nil, func(ctx context.Context, env *environment, cmd *cobra.Command) error {
		if err := env.deps.DB.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	}),
}

var syncDueFlags struct {
	tenantID int64
	limit    int
	timeout  time.Duration
}

var syncDueCmd = &cobra.Command{
	Use:   "sync-due",
	Short: "Sync every connector whose scheduled time has passed",
	RunE: withEnvironment(&syncDueFlags.timeout, func(ctx context.Context, env *environment, cmd *cobra.Command) error {
		opts := banksync.DueOptions{Limit: syncDueFlags.limit}
		if syncDueFlags.tenantID > 0 {
			opts.TenantID = &syncDueFlags.tenantID
		}
		report, err := env.deps.DueScheduler.SyncDueConnectors(ctx, opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	}),
}

var syncConnectorFlags struct {
	tenantID    int64
	connectorID string
	requestID   string
	fromDate    string
	toDate      string
	forceFull   bool
	timeout     time.Duration
}

var syncConnectorCmd = &cobra.Command{
	Use:   "sync-connector",
	Short: "Run a statement sync for one connector",
	RunE: withEnvironment(&syncConnectorFlags.timeout, func(ctx context.Context, env *environment, cmd *cobra.Command) error {
		f := syncConnectorFlags
		opts := banksync.SyncOptions{RequestID: f.requestID, ForceFull: f.forceFull}

		var err error
		if opts.FromDate, err = parseDateFlag("from", f.fromDate); err != nil {
			return err
		}
		if opts.ToDate, err = parseDateFlag("to", f.toDate); err != nil {
			return err
		}

		result, err := env.deps.Orchestrator.RunStatementSync(ctx, f.tenantID, f.connectorID, opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	}),
}

var testConnectionFlags struct {
	tenantID    int64
	connectorID string
	timeout     time.Duration
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check a connector's provider credentials",
	RunE: withEnvironment(&testConnectionFlags.timeout, func(ctx context.Context, env *environment, cmd *cobra.Command) error {
		result, err := env.deps.Orchestrator.TestConnection(ctx, testConnectionFlags.tenantID, testConnectionFlags.connectorID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	}),
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered provider adapters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		registry, err := app.NewProviderRegistry(cfg.Providers)
		if err != nil {
			return err
		}
		for _, code := range registry.Codes() {
			fmt.Fprintln(cmd.OutOrStdout(), code)
		}
		return nil
	},
}

var tokenFlags struct {
	tenantID int64
	userID   int64
	ttl      time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API bearer token for a tenant user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenFlags.tenantID <= 0 || tokenFlags.userID <= 0 {
			return errors.New("--tenant and --user must be positive")
		}
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		token, err := auth.NewJWT(cfg.JWT.Secret, cfg.JWT.Issuer).Generate(
			auth.Principal{TenantID: tokenFlags.tenantID, UserID: tokenFlags.userID},
			tokenFlags.ttl,
		)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func parseDateFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	d, err := statement.ParseDate(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &d, nil
}

func init() {
	syncDueCmd.Flags().Int64Var(&syncDueFlags.tenantID, "tenant", 0, "Restrict the sweep to one tenant")
	syncDueCmd.Flags().IntVar(&syncDueFlags.limit, "limit", banksync.DefaultDueLimit, "Maximum connectors to sync")
	syncDueCmd.Flags().DurationVar(&syncDueFlags.timeout, "timeout", 30*time.Minute, "Timeout for the sweep")

	syncConnectorCmd.Flags().Int64Var(&syncConnectorFlags.tenantID, "tenant", 0, "Tenant ID")
	syncConnectorCmd.Flags().StringVar(&syncConnectorFlags.connectorID, "connector", "", "Connector ID")
	syncConnectorCmd.Flags().StringVar(&syncConnectorFlags.requestID, "request-id", "", "Idempotency key")
	syncConnectorCmd.Flags().StringVar(&syncConnectorFlags.fromDate, "from", "", "Window start (YYYY-MM-DD)")
	syncConnectorCmd.Flags().StringVar(&syncConnectorFlags.toDate, "to", "", "Window end (YYYY-MM-DD)")
	syncConnectorCmd.Flags().BoolVar(&syncConnectorFlags.forceFull, "force-full", false, "Ignore the stored cursor")
	syncConnectorCmd.Flags().DurationVar(&syncConnectorFlags.timeout, "timeout", 10*time.Minute, "Timeout for the sync")
	_ = syncConnectorCmd.MarkFlagRequired("tenant")
	_ = syncConnectorCmd.MarkFlagRequired("connector")

	testConnectionCmd.Flags().Int64Var(&testConnectionFlags.tenantID, "tenant", 0, "Tenant ID")
	testConnectionCmd.Flags().StringVar(&testConnectionFlags.connectorID, "connector", "", "Connector ID")
	testConnectionCmd.Flags().DurationVar(&testConnectionFlags.timeout, "timeout", 2*time.Minute, "Timeout for the check")
	_ = testConnectionCmd.MarkFlagRequired("tenant")
	_ = testConnectionCmd.MarkFlagRequired("connector")

	tokenCmd.Flags().Int64Var(&tokenFlags.tenantID, "tenant", 0, "Tenant ID")
	tokenCmd.Flags().Int64Var(&tokenFlags.userID, "user", 0, "User ID")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", time.Hour, "Token lifetime")

	rootCmd.AddCommand(migrateCmd, syncDueCmd, syncConnectorCmd, testConnectionCmd, providersCmd, tokenCmd)
}
