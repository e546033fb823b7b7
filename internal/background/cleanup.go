package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/fleetgate/internal/metrics"
)

// SourceEvictor drops attempt histories that have gone idle.
type SourceEvictor interface {
	EvictIdle(now time.Time) int
	SourceCount() int
}

// BlockPurger drops block records that are no longer active.
type BlockPurger interface {
	PurgeExpired(now time.Time) int
	ActiveCount(now time.Time) int
}

// FingerprintPruner drops fingerprint hashes outside the dedupe window.
type FingerprintPruner interface {
	PruneFingerprints(now time.Time) int
}

// EventPurger deletes persisted security events older than a cutoff.
type EventPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupTargets are the stores swept on every tick. Events may be nil when
// persistence is disabled.
type CleanupTargets struct {
	Sources      SourceEvictor
	Blocks       BlockPurger
	Fingerprints FingerprintPruner
	Events       EventPurger
}

// CleanupManager periodically evicts idle gate state and expired security events
type CleanupManager struct {
	targets        CleanupTargets
	logger         *slog.Logger
	interval       time.Duration
	eventRetention time.Duration
	now            func() time.Time
	stopCh         chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	targets CleanupTargets,
	logger *slog.Logger,
	interval time.Duration,
	eventRetention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		targets:        targets,
		logger:         logger,
		interval:       interval,
		eventRetention: eventRetention,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// WithClock replaces the time source, for tests.
func (cm *CleanupManager) WithClock(now func() time.Time) *CleanupManager {
	cm.now = now
	return cm
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep and refreshes the source gauges.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	now := cm.now()

	var evicted, purged, pruned int
	if cm.targets.Sources != nil {
		evicted = cm.targets.Sources.EvictIdle(now)
	}
	if cm.targets.Blocks != nil {
		purged = cm.targets.Blocks.PurgeExpired(now)
	}
	if cm.targets.Fingerprints != nil {
		pruned = cm.targets.Fingerprints.PruneFingerprints(now)
	}

	if evicted+purged+pruned > 0 {
		cm.logger.Info("gate state cleanup completed",
			slog.Int("sources_evicted", evicted),
			slog.Int("blocks_purged", purged),
			slog.Int("fingerprints_pruned", pruned),
		)
	}

	if cm.targets.Sources != nil && cm.targets.Blocks != nil {
		metrics.SetGateSources(cm.targets.Blocks.ActiveCount(now), cm.targets.Sources.SourceCount())
	}

	if cm.targets.Events == nil || cm.eventRetention <= 0 {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.targets.Events.PurgeBefore(cleanupCtx, now.Add(-cm.eventRetention))
	if err != nil {
		cm.logger.Error("failed to purge expired security events", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("security event purge completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
