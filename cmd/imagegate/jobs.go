package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/basel-ax/imagegate/internal/logging"
	"github.com/basel-ax/imagegate/internal/registry"
	"github.com/basel-ax/imagegate/internal/repository"
)

// Active requests are reported every minute
const registryReportSchedule = "0 * * * * *"

type scheduleConfig struct {
	PruneSchedule  string
	Retention      time.Duration
	BackendTimeout time.Duration
}

// startCronJobs schedules history pruning (when history is enabled) and the
// in-flight request report. The caller stops the returned scheduler.
func startCronJobs(ctx context.Context, sc scheduleConfig, history repository.GenerationRepository, reg *registry.Registry, logger *logging.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())

	var pruneMutex sync.Mutex

	if history != nil {
		_, err := c.AddFunc(sc.PruneSchedule, func() {
			pruneMutex.Lock()
			defer pruneMutex.Unlock()
			pruneHistory(ctx, history, sc.Retention, time.Now(), logger)
		})
		if err != nil {
			return nil, fmt.Errorf("error scheduling history pruning: %w", err)
		}
	}

	_, err := c.AddFunc(registryReportSchedule, func() {
		reportActive(reg, sc.BackendTimeout, time.Now(), logger)
	})
	if err != nil {
		return nil, fmt.Errorf("error scheduling registry report: %w", err)
	}

	c.Start()
	logger.Info("cron scheduler started", zap.Int("jobs", len(c.Entries())))
	return c, nil
}

func pruneHistory(ctx context.Context, history repository.GenerationRepository, retention time.Duration, now time.Time, logger *logging.Logger) {
	cutoff := now.Add(-retention)
	deleted, err := history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error("[CRON] history pruning failed", zap.Error(err))
		return
	}
	logger.Info("[CRON] history pruned",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
}

// reportActive logs the in-flight requests. A request older than the backend
// timeout should already have resolved, so it is logged as a warning.
func reportActive(reg *registry.Registry, backendTimeout time.Duration, now time.Time, logger *logging.Logger) {
	entries := reg.Snapshot()
	if len(entries) == 0 {
		logger.Debug("[CRON] no active generations")
		return
	}

	oldest := entries[0]
	age := now.Sub(oldest.CreatedAt)
	fields := []zap.Field{
		zap.Int("active", len(entries)),
		zap.String("oldest_request_id", oldest.ID),
		zap.Duration("oldest_age", age),
	}
	if backendTimeout > 0 && age > backendTimeout {
		logger.Warn("[CRON] generation outlived backend timeout", fields...)
		return
	}
	logger.Info("[CRON] active generations", fields...)
}
