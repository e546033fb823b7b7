package models

import "time"

// BlockReason values recorded on block records.
const (
	BlockReasonConsecutiveFailures = "consecutive_failures"
	BlockReasonManual              = "manual"
)

// BlockRecord is an IP block held by the block registry.
type BlockRecord struct {
	SourceKey      string    `json:"source_key"`
	StartedAt      time.Time `json:"started_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Reason         string    `json:"reason"`
	Manual         bool      `json:"manual"`
	ManualOverride bool      `json:"manual_override"`
}

// Active reports whether the block still applies at now.
func (b *BlockRecord) Active(now time.Time) bool {
	if b.ManualOverride {
		return false
	}
	return now.Before(b.ExpiresAt)
}

// Remaining returns how long the block still applies at now.
func (b *BlockRecord) Remaining(now time.Time) time.Duration {
	if !b.Active(now) {
		return 0
	}
	return b.ExpiresAt.Sub(now)
}
