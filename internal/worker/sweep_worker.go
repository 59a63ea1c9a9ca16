package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cyberFlowTech/zapry-settlement/internal/usecase"
)

// SweepWorker periodically drains credited deposit addresses into the
// cold wallet.
type SweepWorker struct {
	sweepUsecase *usecase.SweepUsecase
	interval     time.Duration
	logger       *zap.Logger
	stopChan     chan bool
}

func NewSweepWorker(
	sweepUsecase *usecase.SweepUsecase,
	interval time.Duration,
	logger *zap.Logger,
) *SweepWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &SweepWorker{
		sweepUsecase: sweepUsecase,
		interval:     interval,
		logger:       logger,
		stopChan:     make(chan bool),
	}
}

func (sw *SweepWorker) Start(ctx context.Context) {
	sw.logger.Info("Starting sweep worker",
		zap.Duration("interval", sw.interval))

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	// Settle anything that was in flight when the service last stopped.
	if err := sw.sweepUsecase.ResumeInFlight(ctx); err != nil {
		sw.logger.Error("Failed to resume in-flight sweeps", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if err := sw.sweepUsecase.SweepCycle(ctx); err != nil {
				sw.logger.Error("Sweep cycle failed", zap.Error(err))
			}

		case <-sw.stopChan:
			sw.logger.Info("Stopping sweep worker")
			return

		case <-ctx.Done():
			sw.logger.Info("Context cancelled, stopping sweep worker")
			return
		}
	}
}

func (sw *SweepWorker) Stop() {
	close(sw.stopChan)
}
