package retention

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"chatloom/pkg/config"
	"chatloom/pkg/logger"
	"chatloom/pkg/store"
)

const (
	defaultCron      = "0 2 * * *"
	defaultMinPeriod = 24 * time.Hour
	defaultBatchSize = 100
)

// Start launches the background purge scheduler when retention is enabled.
// Returns a cancel func; a no-op cancel when disabled.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	if _, err := effectivePeriod(cfg); err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithCancel(ctx)
	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period, "dry_run", cfg.DryRun)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and fires a run. gronx gives
// full cron syntax without pulling in a job framework.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err.Error())
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ctx, cfg); err != nil {
				logger.Error("retention_run_error", "error", err.Error())
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce executes a single purge pass over soft-deleted threads. Exposed
// for admin triggers and tests.
func RunOnce(ctx context.Context, cfg config.RetentionConfig) error {
	period, err := effectivePeriod(cfg)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-period)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	runID := fmt.Sprintf("run-%d", time.Now().UTC().UnixNano())
	logger.Info("retention_run_start", "run_id", runID, "cutoff", cutoff.Format(time.RFC3339), "dry_run", cfg.DryRun)

	threads, err := store.ListThreads()
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}

	var scanned, purged, inBatch int
	for _, th := range threads {
		select {
		case <-ctx.Done():
			logger.Info("retention_run_aborted", "run_id", runID, "scanned", scanned, "purged", purged)
			return ctx.Err()
		default:
		}
		scanned++
		if !th.Deleted || !time.Unix(0, th.DeletedTS).Before(cutoff) {
			continue
		}
		if cfg.DryRun {
			logger.Info("retention_would_purge", "thread", th.ID, "deleted_ts", th.DeletedTS)
			purged++
			continue
		}
		if err := store.PurgeThread(th.ID); err != nil {
			logger.Error("retention_purge_failed", "thread", th.ID, "error", err.Error())
			continue
		}
		purged++
		inBatch++
		if inBatch >= batchSize {
			inBatch = 0
			if cfg.BatchSleepMs > 0 {
				select {
				case <-time.After(time.Duration(cfg.BatchSleepMs) * time.Millisecond):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	logger.Info("retention_run_done", "run_id", runID, "scanned", scanned, "purged", purged)
	return nil
}

// effectivePeriod parses the configured period and clamps it to the
// minimum, guarding against a typo purging fresh threads.
func effectivePeriod(cfg config.RetentionConfig) (time.Duration, error) {
	period, err := parsePeriod(cfg.Period)
	if err != nil {
		return 0, fmt.Errorf("invalid retention period %q: %w", cfg.Period, err)
	}
	min := defaultMinPeriod
	if cfg.MinPeriod != "" {
		m, err := parsePeriod(cfg.MinPeriod)
		if err != nil {
			return 0, fmt.Errorf("invalid retention min_period %q: %w", cfg.MinPeriod, err)
		}
		min = m
	}
	if period < min {
		return 0, fmt.Errorf("retention period %s below minimum %s", period, min)
	}
	return period, nil
}

// parsePeriod accepts Go durations plus a day suffix ("30d").
func parsePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty period")
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
