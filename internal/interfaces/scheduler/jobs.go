package scheduler

import (
	"context"
	"fmt"
	"strconv"

	"bankfeed/internal/domain/banksync"

	"go.uber.org/zap"
)

// DueSyncer runs a sweep over due connectors.
type DueSyncer interface {
	SyncDueConnectors(ctx context.Context, opts banksync.DueOptions) (*banksync.DueReport, error)
}

// DueSweepJob syncs every connector whose next_sync_at has passed.
type DueSweepJob struct {
	syncer   DueSyncer
	tenantID *int64
	limit    int
	logger   *zap.Logger
	done     func()
}

func (j *DueSweepJob) Execute(ctx context.Context) error {
	if j.done != nil {
		defer j.done()
	}

	report, err := j.syncer.SyncDueConnectors(ctx, banksync.DueOptions{TenantID: j.tenantID, Limit: j.limit})
	if err != nil {
		return fmt.Errorf("due sweep: %w", err)
	}

	if report.Selected > 0 {
		j.logger.Info("Due sweep finished",
			zap.Int("selected", report.Selected),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
		)
	}
	return nil
}

func (j *DueSweepJob) Tenant() string {
	if j.tenantID == nil {
		return "*"
	}
	return strconv.FormatInt(*j.tenantID, 10)
}

func (j *DueSweepJob) Description() string {
	return "due connector sweep"
}

// ConnectorSyncJob runs a single connector sync requested from outside the
// HTTP API, e.g. through the database notification channel.
type ConnectorSyncJob struct {
	syncer      banksync.StatementSyncer
	tenantID    int64
	connectorID string
	opts        banksync.SyncOptions
	logger      *zap.Logger
}

func (j *ConnectorSyncJob) Execute(ctx context.Context) error {
	result, err := j.syncer.RunStatementSync(ctx, j.tenantID, j.connectorID, j.opts)
	if err != nil {
		return fmt.Errorf("sync connector %s: %w", j.connectorID, err)
	}

	j.logger.Info("Connector sync finished",
		zap.Int64("tenant_id", j.tenantID),
		zap.String("connector_id", j.connectorID),
		zap.String("sync_run_id", result.Run.ID),
		zap.String("status", string(result.Run.Status)),
		zap.Bool("idempotent", result.Idempotent),
	)
	return nil
}

func (j *ConnectorSyncJob) Tenant() string {
	return strconv.FormatInt(j.tenantID, 10)
}

func (j *ConnectorSyncJob) Description() string {
	return "sync connector " + j.connectorID
}
