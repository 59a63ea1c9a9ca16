package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/usecase"
)

// DepositMonitor drives the deposit pipeline on a schedule: scan the
// chain for incoming transfers, then settle orders that reached the
// confirmation threshold.
type DepositMonitor struct {
	depositUsecase *usecase.DepositUsecase
	pollInterval   time.Duration
	logger         *zap.Logger
	stopChan       chan bool
}

func NewDepositMonitor(
	depositUsecase *usecase.DepositUsecase,
	pollInterval time.Duration,
	logger *zap.Logger,
) *DepositMonitor {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &DepositMonitor{
		depositUsecase: depositUsecase,
		pollInterval:   pollInterval,
		logger:         logger,
		stopChan:       make(chan bool),
	}
}

// Start runs the monitor loop until Stop is called or ctx is cancelled.
func (dm *DepositMonitor) Start(ctx context.Context) {
	dm.logger.Info("Starting deposit monitor worker",
		zap.Duration("poll_interval", dm.pollInterval))

	ticker := time.NewTicker(dm.pollInterval)
	defer ticker.Stop()

	// First pass immediately; deposits made while the service was down
	// should not wait a full interval.
	dm.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			dm.runCycle(ctx)

		case <-dm.stopChan:
			dm.logger.Info("Stopping deposit monitor worker")
			return

		case <-ctx.Done():
			dm.logger.Info("Context cancelled, stopping deposit monitor")
			return
		}
	}
}

func (dm *DepositMonitor) runCycle(ctx context.Context) {
	if err := dm.depositUsecase.ScanDeposits(ctx); err != nil {
		dm.logger.Error("Failed to scan deposits", zap.Error(err))
	}
	if err := dm.depositUsecase.ProcessPending(ctx); err != nil {
		dm.logger.Error("Failed to process pending deposits", zap.Error(err))
	}
}

// Stop stops the deposit monitor.
func (dm *DepositMonitor) Stop() {
	close(dm.stopChan)
}
