package banksync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bankfeed/internal/domain/connector"
	"bankfeed/internal/domain/syncrun"
)

const (
	DefaultDueLimit = 20
	MaxDueLimit     = 100
)

// scheduledRequestNamespace seeds the deterministic request ids of scheduled runs.
var scheduledRequestNamespace = uuid.MustParse("6f1c2a8e-5d43-4b7a-9c1e-2f0b8d7a3e51")

// StatementSyncer runs one connector's statement sync.
type StatementSyncer interface {
	RunStatementSync(ctx context.Context, tenantID int64, connectorID string, opts SyncOptions) (*SyncResult, error)
}

// DueLister selects connectors whose scheduled time has passed.
type DueLister interface {
	ListDue(ctx context.Context, filter connector.DueFilter) ([]*connector.Connector, error)
}

// DueOptions narrows a sweep.
type DueOptions struct {
	TenantID *int64
	Limit    int
}

// DueOutcome reports what happened to one connector during a sweep.
type DueOutcome struct {
	TenantID    int64          `json:"tenant_id"`
	ConnectorID string         `json:"connector_id"`
	RequestID   string         `json:"request_id"`
	SyncRunID   string         `json:"sync_run_id,omitempty"`
	Status      syncrun.Status `json:"status,omitempty"`
	Idempotent  bool           `json:"idempotent"`
	Error       string         `json:"error,omitempty"`
}

// DueReport summarizes a sweep.
type DueReport struct {
	Selected  int          `json:"selected"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Outcomes  []DueOutcome `json:"outcomes"`
}

// Scheduler sweeps due connectors and syncs them one at a time.
type Scheduler struct {
	connectors DueLister
	syncer     StatementSyncer
	logger     *zap.Logger
	now        func() time.Time
}

// NewScheduler creates a new due-connector scheduler
func NewScheduler(connectors DueLister, syncer StatementSyncer, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		connectors: connectors,
		syncer:     syncer,
		logger:     logger.With(zap.String("component", "banksync.scheduler")),
		now:        time.Now,
	}
}

// SyncDueConnectors runs every due connector sequentially. A failing
// connector is reported in its outcome and never stops the sweep.
func (s *Scheduler) SyncDueConnectors(ctx context.Context, opts DueOptions) (*DueReport, error) {
	now := s.now().UTC()

	due, err := s.connectors.ListDue(ctx, connector.DueFilter{
		TenantID: opts.TenantID,
		Now:      now,
		Limit:    clampDueLimit(opts.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due connectors: %w", err)
	}

	report := &DueReport{Selected: len(due), Outcomes: make([]DueOutcome, 0, len(due))}
	for _, c := range due {
		outcome := s.syncOne(ctx, c, now)
		if outcome.Error != "" || outcome.Status == syncrun.StatusFailed {
			report.Failed++
		} else {
			report.Succeeded++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if len(due) > 0 {
		s.logger.Info("Due connector sweep finished",
			zap.Int("selected", report.Selected),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (s *Scheduler) syncOne(ctx context.Context, c *connector.Connector, now time.Time) (outcome DueOutcome) {
	outcome = DueOutcome{
		TenantID:    c.TenantID,
		ConnectorID: c.ID,
		RequestID:   ScheduledRequestID(c.TenantID, c.ID, now),
	}

	defer func() {
		if r := recover(); r != nil {
			outcome.Error = fmt.Sprintf("panic: %v", r)
			s.logger.Error("Scheduled sync panicked", zap.String("connector_id", c.ID), zap.Any("panic", r))
		}
	}()

	res, err := s.syncer.RunStatementSync(ctx, c.TenantID, c.ID, SyncOptions{RequestID: outcome.RequestID})
	if err != nil {
		outcome.Error = err.Error()
		s.logger.Warn("Scheduled sync failed",
			zap.Int64("tenant_id", c.TenantID),
			zap.String("connector_id", c.ID),
			zap.Error(err),
		)
		return outcome
	}

	outcome.SyncRunID = res.Run.ID
	outcome.Status = res.Run.Status
	outcome.Idempotent = res.Idempotent
	return outcome
}

// ScheduledRequestID is stable for a connector within one UTC minute, so
// duplicate triggers in that minute collapse into one run.
func ScheduledRequestID(tenantID int64, connectorID string, at time.Time) string {
	bucket := at.UTC().Truncate(time.Minute).Format("200601021504")
	key := fmt.Sprintf("%d:%s:%s", tenantID, connectorID, bucket)
	return "sched-" + uuid.NewSHA1(scheduledRequestNamespace, []byte(key)).String()
}

func clampDueLimit(limit int) int {
	if limit <= 0 {
		return DefaultDueLimit
	}
	if limit > MaxDueLimit {
		return MaxDueLimit
	}
	return limit
}
