package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultWorkerInterval = 15 * time.Second

// Worker triggers dispatch batches on a fixed interval. It provides no
// overlap guard: job-level claims make a concurrently started batch safe.
type Worker struct {
	dispatch *DispatchService
	logger   *zap.Logger
	interval time.Duration
}

func NewWorker(dispatch *DispatchService, interval time.Duration, logger *zap.Logger) (*Worker, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if interval <= 0 {
		interval = defaultWorkerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		dispatch: dispatch,
		logger:   logger,
		interval: interval,
	}, nil
}

func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial batch so already-due jobs do not wait for the first
	// ticker edge.
	if err := w.dispatch.DispatchBatch(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("worker initial dispatch failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.dispatch.DispatchBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("worker dispatch failed", zap.Error(err))
			}
		}
	}
}
