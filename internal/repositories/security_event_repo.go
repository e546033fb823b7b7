package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/fleetgate/internal/database"
	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository handles security event data access
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var ev models.SecurityEvent

	err := row.Scan(
		&ev.ID, &ev.EventType, &ev.SourceKey, &ev.Outcome, &ev.Reason,
		&ev.RiskScore, &ev.RiskLevel, &ev.ActorID, &ev.Metadata, &ev.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &ev, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		ev, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Create inserts a security event.
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, event_type, source_key, outcome, reason, risk_score, risk_level, actor_id, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	metadata := event.Metadata
	if metadata == nil {
		metadata = models.EventMetadata{}
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.EventType, event.SourceKey, event.Outcome, event.Reason,
		event.RiskScore, event.RiskLevel, event.ActorID, metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListRecent returns the newest events, filtered by type when eventType is not empty.
func (r *SecurityEventRepository) ListRecent(ctx context.Context, eventType string, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, source_key, outcome, reason, risk_score, risk_level, actor_id, metadata, created_at
		FROM security_events
		WHERE ($1 = '' OR event_type = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// ListBySource returns the newest events for one source key.
func (r *SecurityEventRepository) ListBySource(ctx context.Context, sourceKey string, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, source_key, outcome, reason, risk_score, risk_level, actor_id, metadata, created_at
		FROM security_events
		WHERE source_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, sourceKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// DeleteOlderThan removes events created before cutoff.
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete security events: %w", err)
	}
	return tag.RowsAffected(), nil
}
