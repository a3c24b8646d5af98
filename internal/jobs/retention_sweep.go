// Package jobs contains background workers that run on a schedule.
// The retention sweep physically reclaims expired audit data; request handling
// never depends on it because every read path already filters on expires_at.
// Jobs are designed to be idempotent — re-running after a crash produces the
// same result as a clean run.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/storage"
	"github.com/domara/audit-engine/internal/telemetry"
)

// RetentionSweep periodically deletes expired audit records (cascading their
// backups and undo actions), empty transaction groups, expired notifications,
// and the orphaned file bundles in blob storage. Rows go before blobs: a
// concurrent undo that already read its backup row can still download the
// bundle, while a row deleted first can never hand out a dangling path.
type RetentionSweep struct {
	records       *repositories.AuditRecordRepository
	groups        *repositories.TransactionGroupRepository
	backups       *repositories.BackupRepository
	notifications *repositories.NotificationRepository
	files         storage.Backend

	interval  time.Duration
	batchSize int
	stopChan  chan struct{}
}

// NewRetentionSweep creates the sweep. interval and batchSize come from the
// audit configuration; files may be nil when no blob storage is configured.
func NewRetentionSweep(
	records *repositories.AuditRecordRepository,
	groups *repositories.TransactionGroupRepository,
	backups *repositories.BackupRepository,
	notifications *repositories.NotificationRepository,
	files storage.Backend,
	interval time.Duration,
	batchSize int,
) *RetentionSweep {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &RetentionSweep{
		records:       records,
		groups:        groups,
		backups:       backups,
		notifications: notifications,
		files:         files,
		interval:      interval,
		batchSize:     batchSize,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs one sweep immediately, then
// repeats on the configured interval. The loop exits when ctx is cancelled or
// Stop() is called.
func (s *RetentionSweep) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("retention sweep started", "interval", s.interval, "batch_size", s.batchSize)
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			slog.Info("retention sweep stopped")
			return
		case <-ctx.Done():
			slog.Info("retention sweep context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *RetentionSweep) Stop() {
	close(s.stopChan)
}

func (s *RetentionSweep) runSweep(ctx context.Context) {
	start := time.Now()
	now := start

	// Bundle paths must be captured before the rows go: deleting an audit
	// record cascades its backup row, and a deleted row can no longer tell us
	// where its bundle lives.
	paths, err := s.backups.ExpiredFilePaths(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("retention sweep: failed to list expired file bundles", "error", err)
		return
	}

	records, err := s.records.DeleteExpired(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("retention sweep: failed to delete expired records", "error", err)
		return
	}
	telemetry.RetentionSweptTotal.WithLabelValues("records").Add(float64(records))

	bundles := 0
	if s.files != nil {
		for _, p := range paths {
			if err := s.files.Delete(ctx, p); err != nil {
				// Left behind for the next cycle; Delete tolerates retries.
				slog.Warn("retention sweep: failed to delete file bundle", "path", p, "error", err)
				continue
			}
			bundles++
		}
		telemetry.RetentionSweptTotal.WithLabelValues("bundles").Add(float64(bundles))
	}

	groups, err := s.groups.DeleteEmpty(ctx)
	if err != nil {
		slog.Error("retention sweep: failed to delete empty groups", "error", err)
		return
	}
	telemetry.RetentionSweptTotal.WithLabelValues("groups").Add(float64(groups))

	notifications, err := s.notifications.DeleteExpired(ctx, now)
	if err != nil {
		slog.Error("retention sweep: failed to delete expired notifications", "error", err)
		return
	}
	telemetry.RetentionSweptTotal.WithLabelValues("notifications").Add(float64(notifications))

	telemetry.RetentionSweepDuration.Observe(time.Since(start).Seconds())
	if records > 0 || groups > 0 || notifications > 0 || bundles > 0 {
		slog.Info("retention sweep completed",
			"records", records, "groups", groups,
			"notifications", notifications, "bundles", bundles,
			"duration", time.Since(start))
	}
}
