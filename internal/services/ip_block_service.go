package services

import (
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
)

// FailureResetter clears the failure streak of a source key.
type FailureResetter interface {
	ResetFailures(key string)
}

// IPBlockConfig configures automatic blocking.
type IPBlockConfig struct {
	AutoBlockThreshold int
	BlockDuration      time.Duration
}

// IPBlockService tracks blocked source keys and their expiry.
type IPBlockService struct {
	blocks   *shardedMap[models.BlockRecord]
	failures FailureResetter
	config   IPBlockConfig
	logger   *slog.Logger
}

// NewIPBlockService creates a new IPBlockService
func NewIPBlockService(failures FailureResetter, config IPBlockConfig, logger *slog.Logger) *IPBlockService {
	return &IPBlockService{
		blocks:   newShardedMap[models.BlockRecord](),
		failures: failures,
		config:   config,
		logger:   logger,
	}
}

// ShouldAutoBlock reports whether a failure streak has reached the auto-block threshold.
func (s *IPBlockService) ShouldAutoBlock(consecutiveFailures int) bool {
	return s.config.AutoBlockThreshold > 0 && consecutiveFailures >= s.config.AutoBlockThreshold
}

// IsBlocked returns the active block for key, or nil. Expired records are dropped.
func (s *IPBlockService) IsBlocked(key string, now time.Time) *models.BlockRecord {
	var out *models.BlockRecord
	s.blocks.mutate(key, func(m map[string]models.BlockRecord) {
		rec, ok := m[key]
		if !ok {
			return
		}
		if !rec.Active(now) {
			delete(m, key)
			s.logger.Info("block expired", slog.String("source_key", key))
			return
		}
		out = &rec
	})
	return out
}

// RegisterBlock blocks key for the configured duration. An already active
// block is returned unchanged.
func (s *IPBlockService) RegisterBlock(key string, now time.Time, reason string) models.BlockRecord {
	return s.block(key, now, s.config.BlockDuration, reason, false)
}

// BlockFor blocks key for a caller-chosen duration on behalf of an administrator.
// An active block is replaced.
func (s *IPBlockService) BlockFor(key string, now time.Time, duration time.Duration, reason string) models.BlockRecord {
	if duration <= 0 {
		duration = s.config.BlockDuration
	}
	return s.block(key, now, duration, reason, true)
}

func (s *IPBlockService) block(key string, now time.Time, duration time.Duration, reason string, manual bool) models.BlockRecord {
	var (
		out     models.BlockRecord
		created bool
	)
	s.blocks.mutate(key, func(m map[string]models.BlockRecord) {
		if rec, ok := m[key]; ok && rec.Active(now) && !manual {
			out = rec
			return
		}
		created = true
		out = models.BlockRecord{
			SourceKey: key,
			StartedAt: now,
			ExpiresAt: now.Add(duration),
			Reason:    reason,
			Manual:    manual,
		}
		m[key] = out
	})
	if !created {
		return out
	}

	s.logger.Warn("source blocked",
		slog.String("source_key", key),
		slog.String("reason", out.Reason),
		slog.Bool("manual", out.Manual),
		slog.Time("expires_at", out.ExpiresAt))
	return out
}

// Unblock removes the block for key and reports whether one was active. An
// administrator unblock also resets the consecutive failure counter.
func (s *IPBlockService) Unblock(key string, now time.Time, byAdmin bool) (models.BlockRecord, bool) {
	var (
		rec   models.BlockRecord
		found bool
	)
	s.blocks.mutate(key, func(m map[string]models.BlockRecord) {
		rec, found = m[key]
		if found {
			found = rec.Active(now)
			delete(m, key)
		}
	})

	if byAdmin {
		rec.ManualOverride = found
		s.failures.ResetFailures(key)
	}
	if found {
		s.logger.Info("source unblocked",
			slog.String("source_key", key),
			slog.Bool("by_admin", byAdmin))
	}
	return rec, found
}

// ActiveBlocks lists the blocks in force at now, soonest expiry first.
func (s *IPBlockService) ActiveBlocks(now time.Time) []models.BlockRecord {
	var out []models.BlockRecord
	s.blocks.each(func(m map[string]models.BlockRecord) {
		for _, rec := range m {
			if rec.Active(now) {
				out = append(out, rec)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].SourceKey < out[j].SourceKey
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// ActiveCount counts the blocks in force at now.
func (s *IPBlockService) ActiveCount(now time.Time) int {
	n := 0
	s.blocks.each(func(m map[string]models.BlockRecord) {
		for _, rec := range m {
			if rec.Active(now) {
				n++
			}
		}
	})
	return n
}

// PurgeExpired drops records that no longer apply.
func (s *IPBlockService) PurgeExpired(now time.Time) int {
	purged := 0
	s.blocks.each(func(m map[string]models.BlockRecord) {
		for key, rec := range m {
			if !rec.Active(now) {
				delete(m, key)
				purged++
			}
		}
	})
	return purged
}
