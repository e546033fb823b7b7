package models

import (
	"database/sql/driver"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Security event types
const (
	SecurityEventRegistration = "registration_attempt"
	SecurityEventAutoBlock    = "auto_block"
	SecurityEventManualBlock  = "manual_block"
	SecurityEventUnblock      = "unblock"
	SecurityEventFlagged      = "flagged_for_review"
)

// SecurityEvent is a persisted gate audit record.
type SecurityEvent struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	EventType string        `db:"event_type" json:"event_type"`
	SourceKey string        `db:"source_key" json:"source_key"`
	Outcome   *string       `db:"outcome" json:"outcome,omitempty"`
	Reason    *string       `db:"reason" json:"reason,omitempty"`
	RiskScore *float64      `db:"risk_score" json:"risk_score,omitempty"`
	RiskLevel *string       `db:"risk_level" json:"risk_level,omitempty"`
	ActorID   *string       `db:"actor_id" json:"actor_id,omitempty"`
	Metadata  EventMetadata `db:"metadata" json:"metadata"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// EventMetadata holds additional context for security events
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(EventMetadata)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(bytes, &raw); err != nil {
		return err
	}
	*m = EventMetadata(raw)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(m))
}

// NewAttemptEvent converts a recorded attempt into a security event.
func NewAttemptEvent(attempt *RegistrationAttempt) *SecurityEvent {
	outcome := string(attempt.Outcome)
	ev := &SecurityEvent{
		ID:        uuid.New(),
		EventType: SecurityEventRegistration,
		SourceKey: attempt.SourceKey,
		Outcome:   &outcome,
		CreatedAt: attempt.Timestamp,
		Metadata: EventMetadata{
			"attempt_id":  attempt.ID,
			"device_name": attempt.DeviceName,
		},
	}
	if attempt.Reason != nil {
		reason := string(*attempt.Reason)
		ev.Reason = &reason
	}
	if attempt.RiskLevel != "" {
		score := attempt.RiskScore
		level := string(attempt.RiskLevel)
		ev.RiskScore = &score
		ev.RiskLevel = &level
	}
	if attempt.Fingerprint != nil {
		ev.Metadata["fingerprint_hash"] = attempt.Fingerprint.Hash()
	}
	if attempt.UserAgent != nil {
		ev.Metadata["user_agent"] = *attempt.UserAgent
	}
	if attempt.Flagged {
		ev.Metadata["markers"] = []string{MarkerFlaggedForReview}
	}
	if attempt.Degraded {
		ev.Metadata["degraded"] = true
	}
	return ev
}

// NewBlockEvent records a block or unblock transition.
func NewBlockEvent(eventType string, record *BlockRecord, actorID *string, at time.Time) *SecurityEvent {
	reason := record.Reason
	return &SecurityEvent{
		ID:        uuid.New(),
		EventType: eventType,
		SourceKey: record.SourceKey,
		Reason:    &reason,
		ActorID:   actorID,
		CreatedAt: at,
		Metadata: EventMetadata{
			"started_at":       record.StartedAt.UTC().Format(time.RFC3339),
			"expires_at":       record.ExpiresAt.UTC().Format(time.RFC3339),
			"duration_seconds": strconv.Itoa(int(record.ExpiresAt.Sub(record.StartedAt).Seconds())),
		},
	}
}
