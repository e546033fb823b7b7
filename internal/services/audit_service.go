package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
)

// SecurityEventRepository persists gate audit events.
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	ListRecent(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditService persists security events with a dual-write to slog
type AuditService struct {
	repo   SecurityEventRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo SecurityEventRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// RecordAttempt persists a finished registration attempt.
func (s *AuditService) RecordAttempt(ctx context.Context, attempt *models.RegistrationAttempt) error {
	event := models.NewAttemptEvent(attempt)

	s.logger.DebugContext(ctx, "security event",
		slog.String("event_type", event.EventType),
		slog.String("attempt_id", attempt.ID),
		slog.String("outcome", string(attempt.Outcome)))

	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
		return fmt.Errorf("persist attempt event: %w", err)
	}
	return nil
}

// RecordBlockEvent persists a block or unblock transition.
func (s *AuditService) RecordBlockEvent(ctx context.Context, eventType string, record *models.BlockRecord, actorID *string, at time.Time) error {
	event := models.NewBlockEvent(eventType, record, actorID, at)

	s.logger.InfoContext(ctx, "security event",
		slog.String("event_type", eventType),
		slog.String("source_key", record.SourceKey),
		slog.Any("actor_id", actorID),
		slog.String("reason", record.Reason))

	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", eventType),
			slog.Any("error", err))
		return fmt.Errorf("persist block event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events, optionally of one type.
func (s *AuditService) RecentEvents(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	events, err := s.repo.ListRecent(ctx, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return events, nil
}

// PurgeBefore deletes events older than cutoff.
func (s *AuditService) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge security events: %w", err)
	}
	return n, nil
}
