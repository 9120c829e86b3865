package workers

import (
	"context"
	"time"

	"github.com/docflowhq/docflow/internal/engine"
	"github.com/docflowhq/docflow/internal/services"
	"github.com/docflowhq/docflow/pkg/logger"
)

// SweepWorker periodically expires overdue approval slots and releases
// delay waits that have come due. Both sweeps resolve steps through the
// orchestrator lock, so running alongside live API traffic is safe.
type SweepWorker struct {
	approvalService *services.ApprovalService
	orchestrator    *engine.Orchestrator
	logger          *logger.Logger
	sweepInterval   time.Duration
	batchSize       int
	stopCh          chan struct{}
	doneCh          chan struct{}
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(
	approvalService *services.ApprovalService,
	orchestrator *engine.Orchestrator,
	log *logger.Logger,
	sweepInterval time.Duration,
	batchSize int,
) *SweepWorker {
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	return &SweepWorker{
		approvalService: approvalService,
		orchestrator:    orchestrator,
		logger:          log,
		sweepInterval:   sweepInterval,
		batchSize:       batchSize,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start starts the worker in the background
func (w *SweepWorker) Start(ctx context.Context) {
	w.logger.Info("Starting sweep worker",
		logger.String("interval", w.sweepInterval.String()),
		logger.Int("batch_size", w.batchSize),
	)

	go w.run(ctx)
}

// Stop stops the worker gracefully
func (w *SweepWorker) Stop() {
	w.logger.Info("Stopping sweep worker")
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Sweep worker stopped")
}

// run is the main worker loop
func (w *SweepWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep runs one pass of both timer sweeps
func (w *SweepWorker) sweep(ctx context.Context) {
	w.logger.Debug("Sweeping overdue approvals and due waits")

	if err := w.approvalService.ExpireOverdue(ctx, w.batchSize); err != nil {
		w.logger.Errorf("Failed to expire overdue approvals: %v", err)
	}

	if err := w.orchestrator.ReleaseDueWaits(ctx, w.batchSize); err != nil {
		w.logger.Errorf("Failed to release due wait steps: %v", err)
	}

	w.logger.Debug("Sweep pass completed")
}
