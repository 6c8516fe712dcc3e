package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/shared/config"

	"go.uber.org/zap"
)

// Scheduler periodically submits due-connector sweeps to a worker pool and
// accepts on-demand connector syncs.
type Scheduler struct {
	workerPool    *WorkerPool
	due           DueSyncer
	syncer        banksync.StatementSyncer
	interval      time.Duration
	sweepLimit    int
	tenantID      *int64
	runOnStartup  bool
	logger        *zap.Logger
	sweepInFlight atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler from the SCHEDULER_ configuration.
func NewScheduler(cfg config.SchedulerConfig, due DueSyncer, syncer banksync.StatementSyncer, logger *zap.Logger) (*Scheduler, error) {
	if cfg.SweepInterval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	if cfg.WorkerCount < 1 || cfg.QueueSize < 1 {
		return nil, errors.New("worker count and queue size must be at least 1")
	}

	logger = logger.With(zap.String("component", "scheduler"))
	ctx, cancel := context.WithCancel(context.Background())

	logger.Info("Scheduler initialized",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Int("sweep_limit", cfg.SweepLimit),
		zap.Int("workers", cfg.WorkerCount),
		zap.Int("queue_size", cfg.QueueSize),
	)

	return &Scheduler{
		workerPool:   NewWorkerPool(cfg.WorkerCount, cfg.QueueSize, cfg.JobTimeout, logger),
		due:          due,
		syncer:       syncer,
		interval:     cfg.SweepInterval,
		sweepLimit:   cfg.SweepLimit,
		tenantID:     cfg.SchedulerTenant(),
		runOnStartup: cfg.RunOnStartup,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the worker pool and the sweep loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		s.logger.Info("Running initial sweep on startup")
		s.TriggerSweep()
	}

	s.wg.Add(1)
	go s.sweepLoop()

	s.logger.Info("Scheduler started")
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.TriggerSweep()
		}
	}
}

// TriggerSweep queues a due sweep unless one is already queued or running.
// It reports whether a sweep was queued.
func (s *Scheduler) TriggerSweep() bool {
	if !s.sweepInFlight.CompareAndSwap(false, true) {
		s.logger.Debug("Sweep already in flight, skipping tick")
		return false
	}

	job := &DueSweepJob{
		syncer:   s.due,
		tenantID: s.tenantID,
		limit:    s.sweepLimit,
		logger:   s.logger,
		done:     func() { s.sweepInFlight.Store(false) },
	}
	if err := s.workerPool.Submit(job); err != nil {
		s.sweepInFlight.Store(false)
		s.logger.Warn("Failed to queue due sweep", zap.Error(err))
		return false
	}
	return true
}

// EnqueueConnectorSync queues a single connector sync. An empty requestID
// lets the engine mint one.
func (s *Scheduler) EnqueueConnectorSync(tenantID int64, connectorID, requestID string, forceFull bool) error {
	return s.workerPool.Submit(&ConnectorSyncJob{
		syncer:      s.syncer,
		tenantID:    tenantID,
		connectorID: connectorID,
		opts:        banksync.SyncOptions{RequestID: requestID, ForceFull: forceFull},
		logger:      s.logger,
	})
}

// Shutdown stops the sweep loop and drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.logger.Info("Scheduler shutting down")

	s.cancel()
	s.wg.Wait()
	s.workerPool.ShutdownWithTimeout(timeout)

	s.logger.Info("Scheduler stopped")
}
