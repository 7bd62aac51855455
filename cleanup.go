package stepflow

import (
	"context"
	"log/slog"
	"time"
)

// CleanupService periodically deletes terminal executions older than the
// retention window from a PostgresTracker.
type CleanupService struct {
	tracker   *PostgresTracker
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
}

func NewCleanupService(
	tracker *PostgresTracker,
	retention time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}

	return &CleanupService{
		tracker:   tracker,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Run blocks until the context is cancelled or Stop is called, pruning on
// every tick.
func (c *CleanupService) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("cleanup service started",
		"retention", c.retention, "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cleanup service stopping: context cancelled")

			return
		case <-c.stopCh:
			c.logger.Info("cleanup service stopping: stop signal received")

			return
		case <-ticker.C:
			if err := c.runOnce(ctx); err != nil {
				c.logger.Error("cleanup pass failed", "error", err)
			}
		}
	}
}

func (c *CleanupService) Stop() {
	close(c.stopCh)
}

func (c *CleanupService) runOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-c.retention)

	removed, err := c.tracker.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.logger.Info("pruned terminal executions", "removed", removed)
	}

	return nil
}
