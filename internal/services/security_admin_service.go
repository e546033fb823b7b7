package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/fleetgate/internal/metrics"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/BradenHooton/fleetgate/pkg/logger"
)

// DeviceCounter is the subset of DeviceService needed for statistics.
type DeviceCounter interface {
	CountDevices(ctx context.Context) (int64, error)
}

// SecurityEventLister is the subset of AuditService needed for the event feed.
type SecurityEventLister interface {
	RecentEvents(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error)
}

// SecurityAdminService backs the security statistics, status and block management endpoints.
type SecurityAdminService struct {
	clock       Clock
	locks       *KeyedMutex
	rateLimiter *RateLimitService
	blocks      *IPBlockService
	stats       *SecurityStatsService
	devices     DeviceCounter
	events      SecurityEventLister
	notifier    SecurityNotifier
	auditLogger *logger.AuditLogger
	logger      *slog.Logger
}

// NewSecurityAdminService creates a new SecurityAdminService. locks must be the
// same KeyedMutex the RegistrationService uses.
func NewSecurityAdminService(
	clock Clock,
	locks *KeyedMutex,
	rateLimiter *RateLimitService,
	blocks *IPBlockService,
	stats *SecurityStatsService,
	devices DeviceCounter,
	events SecurityEventLister,
	notifier SecurityNotifier,
	auditLogger *logger.AuditLogger,
	logger *slog.Logger,
) *SecurityAdminService {
	if clock == nil {
		clock = SystemClock{}
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &SecurityAdminService{
		clock:       clock,
		locks:       locks,
		rateLimiter: rateLimiter,
		blocks:      blocks,
		stats:       stats,
		devices:     devices,
		events:      events,
		notifier:    notifier,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// GetStatistics returns the aggregate gate counters.
func (s *SecurityAdminService) GetStatistics(ctx context.Context) (*models.SecurityStatistics, error) {
	now := s.clock.Now()
	snap := s.stats.Snapshot(now, s.blocks.ActiveCount(now))

	var total int64
	if s.devices != nil {
		n, err := s.devices.CountDevices(ctx)
		if err != nil {
			s.logger.Error("statistics: failed to count devices", slog.Any("error", err))
			return nil, fmt.Errorf("failed to count devices: %w", err)
		}
		total = n
	}

	return &models.SecurityStatistics{
		TotalAttempts:          snap.TotalAttempts,
		Successful:             snap.Successful,
		Failed:                 snap.Failed,
		SuccessRate:            snap.SuccessRate(),
		BlockedIPCount:         snap.BlockedSourceCount,
		AttemptsLastHour:       snap.AttemptsLastHour,
		HighRiskCount:          snap.HighRiskCount,
		TotalRegisteredDevices: total,
	}, nil
}

// GetStatus returns the overall security level.
func (s *SecurityAdminService) GetStatus() models.SecurityStatus {
	now := s.clock.Now()
	blocked := s.blocks.ActiveCount(now)
	monitored := s.rateLimiter.SourceCount()
	metrics.SetGateSources(blocked, monitored)
	return s.stats.Status(now, blocked, monitored)
}

// ListBlocks returns the blocks currently in force.
func (s *SecurityAdminService) ListBlocks() []models.BlockRecord {
	return s.blocks.ActiveBlocks(s.clock.Now())
}

// Unblock lifts a block on behalf of an administrator and resets the source's
// failure streak. It reports whether a block was active.
func (s *SecurityAdminService) Unblock(ctx context.Context, sourceKey, actorID string) bool {
	key := NormalizeSourceKey(sourceKey)
	unlock := s.locks.Lock(key)
	defer unlock()

	now := s.clock.Now()
	rec, unblocked := s.blocks.Unblock(key, now, true)
	if unblocked {
		s.notifier.BlockChanged(models.SecurityEventUnblock, rec, &actorID)
	}
	s.audit(models.SecurityEventUnblock, key, actorID, unblocked, nil)
	s.logger.InfoContext(ctx, "manual unblock",
		slog.String("source_key", key),
		slog.String("actor_id", actorID),
		slog.Bool("was_blocked", unblocked))
	return unblocked
}

// Block blocks a source key on behalf of an administrator. A zero duration
// uses the configured block duration.
func (s *SecurityAdminService) Block(ctx context.Context, sourceKey, reason string, duration time.Duration, actorID string) models.BlockRecord {
	key := NormalizeSourceKey(sourceKey)
	unlock := s.locks.Lock(key)
	defer unlock()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.BlockReasonManual
	}

	rec := s.blocks.BlockFor(key, s.clock.Now(), duration, reason)
	metrics.RecordBlock("manual")
	s.notifier.BlockChanged(models.SecurityEventManualBlock, rec, &actorID)
	s.audit(models.SecurityEventManualBlock, key, actorID, true, map[string]string{
		"reason":     reason,
		"expires_at": rec.ExpiresAt.UTC().Format(time.RFC3339),
	})
	s.logger.InfoContext(ctx, "manual block",
		slog.String("source_key", key),
		slog.String("actor_id", actorID),
		slog.Time("expires_at", rec.ExpiresAt))
	return rec
}

// RecentEvents returns the persisted security event feed.
func (s *SecurityAdminService) RecentEvents(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error) {
	if s.events == nil {
		return []*models.SecurityEvent{}, nil
	}
	return s.events.RecentEvents(ctx, eventType, limit)
}

func (s *SecurityAdminService) audit(eventType, key, actorID string, success bool, meta map[string]string) {
	if s.auditLogger == nil {
		return
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["actor_id"] = actorID
	s.auditLogger.LogBlockChange(logger.AuditEvent{
		EventType: eventType,
		SourceKey: key,
		Success:   success,
		Metadata:  meta,
	})
}
