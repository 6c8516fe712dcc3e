package banksync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bankfeed/internal/domain/accountlink"
	"bankfeed/internal/domain/connector"
	"bankfeed/internal/domain/provider"
	"bankfeed/internal/domain/statement"
	"bankfeed/internal/domain/syncrun"
)

var (
	syncTracer      = otel.Tracer("bankfeed/banksync")
	syncMeter       = otel.Meter("bankfeed/banksync")
	runTotal, _     = syncMeter.Int64Counter("banksync.runs.total", metric.WithDescription("Finalized sync runs by status"))
	runDuration, _  = syncMeter.Float64Histogram("banksync.run.duration", metric.WithDescription("Sync run duration in seconds"), metric.WithUnit("s"))
	linesFetched, _ = syncMeter.Int64Counter("banksync.lines.fetched", metric.WithDescription("Statement lines returned by providers"))
)

const maxRequestIDLength = 128

// ConnectorStore is the part of the connector repository the engine needs.
type ConnectorStore interface {
	GetByID(ctx context.Context, tenantID int64, id string) (*connector.Connector, error)
	SaveSyncState(ctx context.Context, c *connector.Connector, loaded connector.Status) error
	ListDue(ctx context.Context, filter connector.DueFilter) ([]*connector.Connector, error)
}

// LinkResolver returns a connector's ACTIVE links keyed by normalized external ID.
type LinkResolver interface {
	ActiveLinksByExternalID(ctx context.Context, connectorID string) (map[string]*accountlink.Link, error)
}

// AdapterResolver finds the adapter for a provider code.
type AdapterResolver interface {
	Get(code string) (provider.Adapter, error)
}

// HealthNotifier is told when a run moves a connector into or out of ERROR.
type HealthNotifier interface {
	ConnectorHealthChanged(ctx context.Context, c *connector.Connector, previous connector.Status) error
}

// SyncOptions are the optional inputs of a statement sync.
type SyncOptions struct {
	FromDate  *time.Time
	ToDate    *time.Time
	RequestID string
	ForceFull bool
	UserID    *int64
}

func (o *SyncOptions) normalize() error {
	o.RequestID = strings.TrimSpace(o.RequestID)
	if len(o.RequestID) > maxRequestIDLength {
		return connector.Invalid("request_id", "must be at most %d characters", maxRequestIDLength)
	}
	if o.FromDate != nil {
		d := statement.Date(*o.FromDate)
		o.FromDate = &d
	}
	if o.ToDate != nil {
		d := statement.Date(*o.ToDate)
		o.ToDate = &d
	}
	if o.FromDate != nil && o.ToDate != nil && o.FromDate.After(*o.ToDate) {
		return connector.Invalid("from_date", "must not be after to_date")
	}
	return nil
}

// SyncResult is everything a caller needs to inspect a run, whatever its outcome.
type SyncResult struct {
	Connector  *connector.Connector `json:"connector"`
	Run        *syncrun.Run         `json:"sync_run"`
	Imports    []*syncrun.Import    `json:"imports"`
	Idempotent bool                 `json:"idempotent"`
}

// Orchestrator drives statement pulls from provider adapters into the ledger.
type Orchestrator struct {
	connectors ConnectorStore
	links      LinkResolver
	runs       syncrun.Repository
	importer   statement.Importer
	adapters   AdapterResolver
	vault      connector.CredentialVault
	notifier   HealthNotifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrchestrator creates a new sync orchestrator
func NewOrchestrator(
	connectors ConnectorStore,
	links LinkResolver,
	runs syncrun.Repository,
	importer statement.Importer,
	adapters AdapterResolver,
	vault connector.CredentialVault,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		connectors: connectors,
		links:      links,
		runs:       runs,
		importer:   importer,
		adapters:   adapters,
		vault:      vault,
		logger:     logger.With(zap.String("component", "banksync")),
		now:        time.Now,
	}
}

// SetHealthNotifier enables connector health alerts.
func (o *Orchestrator) SetHealthNotifier(n HealthNotifier) {
	o.notifier = n
}

// RunStatementSync pulls statements for one connector and imports them into
// the linked bank accounts. A repeated request id returns the original run
// with Idempotent set and has no side effects.
func (o *Orchestrator) RunStatementSync(ctx context.Context, tenantID int64, connectorID string, opts SyncOptions) (*SyncResult, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ctx, span := syncTracer.Start(ctx, "banksync.RunStatementSync", trace.WithAttributes(
		attribute.Int64("tenant.id", tenantID),
		attribute.String("connector.id", connectorID),
		attribute.Bool("sync.force_full", opts.ForceFull),
	))
	defer span.End()

	conn, err := o.connectors.GetByID(ctx, tenantID, connectorID)
	if err != nil {
		return nil, err
	}
	if conn.Status == connector.StatusDisabled {
		return nil, connector.ErrDisabled
	}

	if opts.RequestID != "" {
		existing, err := o.runs.GetByRequestID(ctx, conn.ID, opts.RequestID)
		if err == nil {
			span.SetAttributes(attribute.Bool("sync.idempotent", true))
			return o.replay(ctx, conn, existing)
		}
		if !errors.Is(err, syncrun.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up sync run by request id: %w", err)
		}
	}

	started := o.now().UTC()
	run := &syncrun.Run{
		TenantID:          conn.TenantID,
		LegalEntityID:     conn.LegalEntityID,
		ConnectorID:       conn.ID,
		RunType:           syncrun.TypeStatementPull,
		Status:            syncrun.StatusRunning,
		WindowFrom:        opts.FromDate,
		WindowTo:          opts.ToDate,
		CursorBefore:      conn.LastCursor,
		StartedAt:         started,
		TriggeredByUserID: opts.UserID,
		Payload: syncrun.Payload{
			ProviderCode: conn.ProviderCode,
			ForceFull:    opts.ForceFull,
			Diagnostics:  []syncrun.Diagnostic{},
		},
	}
	if opts.ForceFull {
		run.CursorBefore = nil
	}
	if opts.RequestID != "" {
		rid := opts.RequestID
		run.RequestID = &rid
	}

	created, err := o.runs.Create(ctx, run)
	if errors.Is(err, syncrun.ErrDuplicateRequestID) {
		// Lost the insert race to a concurrent caller with the same key.
		winner, err := o.runs.GetByRequestID(ctx, conn.ID, opts.RequestID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read sync run after conflict: %w", err)
		}
		span.SetAttributes(attribute.Bool("sync.idempotent", true))
		return o.replay(ctx, conn, winner)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	run = created
	span.SetAttributes(attribute.String("sync_run.id", run.ID))

	log := o.logger.With(
		zap.Int64("tenant_id", conn.TenantID),
		zap.String("connector_id", conn.ID),
		zap.String("sync_run_id", run.ID),
		zap.String("provider", conn.ProviderCode),
	)
	log.Info("Sync run started", zap.Bool("force_full", opts.ForceFull))

	imports, pullErr := o.execute(ctx, log, conn, run, opts)
	if pullErr != nil {
		span.RecordError(pullErr)
		span.SetStatus(codes.Error, pullErr.Error())
	}

	return o.finalize(ctx, log, conn, run, imports, pullErr)
}

// TestConnection probes a connector's provider with its stored configuration.
// The connector itself is not modified.
func (o *Orchestrator) TestConnection(ctx context.Context, tenantID int64, connectorID string) (*provider.TestResult, error) {
	ctx, span := syncTracer.Start(ctx, "banksync.TestConnection", trace.WithAttributes(
		attribute.Int64("tenant.id", tenantID),
		attribute.String("connector.id", connectorID),
	))
	defer span.End()

	conn, err := o.connectors.GetByID(ctx, tenantID, connectorID)
	if err != nil {
		return nil, err
	}
	adapter, err := o.adapters.Get(conn.ProviderCode)
	if err != nil {
		return nil, err
	}
	creds, err := connector.OpenCredentials(o.vault, conn)
	if err != nil {
		return nil, err
	}

	res, err := adapter.TestConnection(ctx, conn.Config, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// ListSyncRuns returns a connector's runs, newest first.
func (o *Orchestrator) ListSyncRuns(ctx context.Context, filter syncrun.ListFilter) ([]*syncrun.Run, error) {
	if filter.Status != nil && !syncrun.IsValidStatus(*filter.Status) {
		return nil, connector.Invalid("status", "unsupported run status %q", *filter.Status)
	}
	conn, err := o.connectors.GetByID(ctx, filter.TenantID, filter.ConnectorID)
	if err != nil {
		return nil, err
	}
	filter.ConnectorID = conn.ID
	filter.Normalize()
	return o.runs.List(ctx, filter)
}

// GetSyncRun returns a run with its import rows.
func (o *Orchestrator) GetSyncRun(ctx context.Context, tenantID int64, runID string) (*syncrun.Run, []*syncrun.Import, error) {
	run, err := o.runs.GetByID(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	imports, err := o.runs.ListImports(ctx, run.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list sync run imports: %w", err)
	}
	return run, imports, nil
}

func (o *Orchestrator) replay(ctx context.Context, conn *connector.Connector, run *syncrun.Run) (*SyncResult, error) {
	imports, err := o.runs.ListImports(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync run imports: %w", err)
	}
	return &SyncResult{Connector: conn, Run: run, Imports: imports, Idempotent: true}, nil
}

// execute performs the provider pull and per-account imports. A non-nil
// error means the run failed as a whole.
func (o *Orchestrator) execute(ctx context.Context, log *zap.Logger, conn *connector.Connector, run *syncrun.Run, opts SyncOptions) ([]*syncrun.Import, error) {
	adapter, err := o.adapters.Get(conn.ProviderCode)
	if err != nil {
		return nil, err
	}
	links, err := o.links.ActiveLinksByExternalID(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	res, err := o.pull(ctx, adapter, conn, run.CursorBefore, opts)
	if err != nil {
		return nil, err
	}

	run.CursorAfter = res.NextCursor
	run.Payload.AccountsReturned = len(res.Accounts)
	linesFetched.Add(ctx, int64(res.LineCount()), metric.WithAttributes(attribute.String("provider", conn.ProviderCode)))

	var imports []*syncrun.Import
	for _, acct := range res.Accounts {
		link := links[accountlink.NormalizeExternalID(acct.ExternalAccountID)]
		if imp := o.importAccount(ctx, log, conn, run, link, acct, opts.UserID); imp != nil {
			imports = append(imports, imp)
		}
	}
	return imports, nil
}

// pull keeps decrypted credentials scoped to the adapter call.
func (o *Orchestrator) pull(ctx context.Context, adapter provider.Adapter, conn *connector.Connector, cursor *string, opts SyncOptions) (*provider.PullResult, error) {
	creds, err := connector.OpenCredentials(o.vault, conn)
	if err != nil {
		return nil, err
	}
	res, err := adapter.PullStatements(ctx, provider.PullRequest{
		Config:      conn.Config,
		Credentials: creds,
		Cursor:      cursor,
		FromDate:    opts.FromDate,
		ToDate:      opts.ToDate,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &provider.PullResult{}
	}
	return res, nil
}

func (o *Orchestrator) importAccount(
	ctx context.Context,
	log *zap.Logger,
	conn *connector.Connector,
	run *syncrun.Run,
	link *accountlink.Link,
	acct provider.AccountStatement,
	userID *int64,
) *syncrun.Import {
	lineCount := len(acct.Lines)
	extID := accountlink.NormalizeExternalID(acct.ExternalAccountID)

	if acct.Err != nil {
		run.ErrorCount++
		diag := syncrun.Diagnostic{
			Code:              syncrun.CodeAccountImportFailed,
			ExternalAccountID: extID,
			Message:           "provider returned unreadable account data: " + acct.Err.Error(),
		}
		if link != nil {
			diag.BankAccountID = link.BankAccountID
		}
		run.Payload.Add(diag)
		log.Warn("Skipping unreadable provider account", zap.String("external_account_id", extID), zap.Error(acct.Err))
		return nil
	}

	run.FetchedCount += lineCount

	if link == nil {
		run.SkippedUnmappedCount += lineCount
		run.Payload.Add(syncrun.Diagnostic{
			Code:              syncrun.CodeUnmappedAccount,
			ExternalAccountID: extID,
			LineCount:         lineCount,
			Message:           "no active account link for external account",
		})
		return nil
	}
	if lineCount == 0 {
		return nil
	}

	currency := strings.ToUpper(strings.TrimSpace(acct.CurrencyCode))
	if currency == "" {
		currency = link.CurrencyCode
	}
	lines := make([]statement.Line, lineCount)
	for i, l := range acct.Lines {
		if strings.TrimSpace(l.CurrencyCode) == "" {
			l.CurrencyCode = currency
		}
		lines[i] = l
	}

	res, err := o.importer.Import(ctx, statement.ImportRequest{
		TenantID:       conn.TenantID,
		BankAccountID:  link.BankAccountID,
		UserID:         userID,
		ImportSource:   statement.SourceAPI,
		SourceRef:      SourceRef(conn.ID, run.ID, extID),
		SourceFilename: fmt.Sprintf("%s-%s.json", strings.ToLower(conn.ProviderCode), extID),
		SourceMeta: map[string]any{
			"connector_id":        conn.ID,
			"connector_code":      conn.Code,
			"provider_code":       conn.ProviderCode,
			"sync_run_id":         run.ID,
			"external_account_id": extID,
			"account_name":        acct.AccountName,
		},
		Lines: lines,
	})

	switch {
	case errors.Is(err, statement.ErrDuplicateImport):
		run.DuplicateCount += lineCount
		run.Payload.Add(syncrun.Diagnostic{
			Code:              syncrun.CodeDuplicateBatch,
			ExternalAccountID: extID,
			BankAccountID:     link.BankAccountID,
			LineCount:         lineCount,
			Message:           "statement batch was already imported",
		})
		return nil
	case err != nil:
		run.ErrorCount++
		run.Payload.Add(syncrun.Diagnostic{
			Code:              syncrun.CodeAccountImportFailed,
			ExternalAccountID: extID,
			BankAccountID:     link.BankAccountID,
			LineCount:         lineCount,
			Message:           err.Error(),
		})
		log.Warn("Account import failed", zap.String("external_account_id", extID), zap.Error(err))
		return nil
	}

	run.ImportedCount += res.ImportedCount
	run.DuplicateCount += res.DuplicateCount

	imp, err := o.runs.CreateImport(ctx, &syncrun.Import{
		SyncRunID:         run.ID,
		AccountLinkID:     link.ID,
		BankAccountID:     link.BankAccountID,
		ExternalAccountID: extID,
		ImportID:          res.ImportID,
		ImportRef:         res.ImportRef,
		ImportedCount:     res.ImportedCount,
		DuplicateCount:    res.DuplicateCount,
	})
	if err != nil {
		run.ErrorCount++
		run.Payload.Add(syncrun.Diagnostic{
			Code:              syncrun.CodeAccountImportFailed,
			ExternalAccountID: extID,
			BankAccountID:     link.BankAccountID,
			Message:           "lines imported but audit row not recorded: " + err.Error(),
		})
		log.Error("Failed to record sync run import", zap.String("external_account_id", extID), zap.Error(err))
		return nil
	}
	return imp
}

func (o *Orchestrator) finalize(
	ctx context.Context,
	log *zap.Logger,
	conn *connector.Connector,
	run *syncrun.Run,
	imports []*syncrun.Import,
	pullErr error,
) (*SyncResult, error) {
	// Finalization must land even if the caller went away mid-pull.
	ctx = context.WithoutCancel(ctx)

	finished := o.now().UTC()
	run.FinishedAt = &finished

	var errMsg string
	switch {
	case pullErr != nil:
		run.Status = syncrun.StatusFailed
		errMsg = pullErr.Error()
		run.ErrorMessage = &errMsg
		run.CursorAfter = conn.LastCursor
		run.Payload.Add(syncrun.Diagnostic{Code: syncrun.CodeProviderError, Message: errMsg})
	case run.ErrorCount > 0 || run.SkippedUnmappedCount > 0:
		run.Status = syncrun.StatusPartial
	default:
		run.Status = syncrun.StatusSuccess
	}

	if err := o.runs.Finalize(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to finalize sync run: %w", err)
	}

	previous := conn.Status
	conn.FinalizeSync(connector.SyncOutcome{
		Failed:       pullErr != nil,
		CursorAfter:  run.CursorAfter,
		ErrorMessage: errMsg,
		At:           finished,
	})
	if err := o.connectors.SaveSyncState(ctx, conn, previous); err != nil {
		return nil, fmt.Errorf("failed to save connector sync state: %w", err)
	}
	o.notifyHealth(ctx, log, conn, previous)

	attrs := metric.WithAttributes(
		attribute.String("status", string(run.Status)),
		attribute.String("provider", conn.ProviderCode),
	)
	runTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, finished.Sub(run.StartedAt).Seconds(), attrs)

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("fetched", run.FetchedCount),
		zap.Int("imported", run.ImportedCount),
		zap.Int("duplicates", run.DuplicateCount),
		zap.Int("skipped_unmapped", run.SkippedUnmappedCount),
		zap.Int("errors", run.ErrorCount),
	}
	if pullErr != nil {
		log.Warn("Sync run failed", append(fields, zap.Error(pullErr))...)
	} else {
		log.Info("Sync run finished", fields...)
	}

	if imports == nil {
		imports = []*syncrun.Import{}
	}
	return &SyncResult{Connector: conn, Run: run, Imports: imports}, nil
}

func (o *Orchestrator) notifyHealth(ctx context.Context, log *zap.Logger, conn *connector.Connector, previous connector.Status) {
	if o.notifier == nil {
		return
	}
	entered := previous != connector.StatusError && conn.Status == connector.StatusError
	left := previous == connector.StatusError && conn.Status != connector.StatusError
	if !entered && !left {
		return
	}
	if err := o.notifier.ConnectorHealthChanged(ctx, conn, previous); err != nil {
		log.Warn("Failed to send connector health alert", zap.Error(err))
	}
}

// SourceRef is the import source reference for one account of one run.
func SourceRef(connectorID, runID, externalAccountID string) string {
	return fmt.Sprintf("bank-connector:%s:run:%s:account:%s", connectorID, runID, externalAccountID)
}
