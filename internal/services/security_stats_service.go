package services

import (
	"sync"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
)

// SecurityLevelThresholds decide the overall security status.
type SecurityLevelThresholds struct {
	ElevatedBlockedSources int
	CriticalBlockedSources int
	ElevatedHourlyFailures int
	CriticalHourlyFailures int
}

// SecurityStatsService keeps running counters of gate decisions.
type SecurityStatsService struct {
	mu            sync.Mutex
	total         int64
	successful    int64
	failed        int64
	highRisk      int64
	hourAttempts  *SlidingWindow
	hourFailures  *SlidingWindow
	highThreshold models.RiskLevel
	levels        SecurityLevelThresholds
}

// NewSecurityStatsService creates a new SecurityStatsService
func NewSecurityStatsService(levels SecurityLevelThresholds) *SecurityStatsService {
	return &SecurityStatsService{
		hourAttempts:  NewSlidingWindow(time.Hour),
		hourFailures:  NewSlidingWindow(time.Hour),
		highThreshold: models.RiskLevelHigh,
		levels:        levels,
	}
}

// Record folds one finished attempt into the counters.
func (s *SecurityStatsService) Record(attempt *models.RegistrationAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.hourAttempts.Add(attempt.Timestamp)
	if attempt.Outcome == models.OutcomeAccepted {
		s.successful++
	} else {
		s.failed++
		s.hourFailures.Add(attempt.Timestamp)
	}
	if attempt.RiskLevel != "" && attempt.RiskLevel.AtLeast(s.highThreshold) {
		s.highRisk++
	}
}

// Snapshot returns the counters at now. blockedCount comes from the block registry.
func (s *SecurityStatsService) Snapshot(now time.Time, blockedCount int) models.SecurityStatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := now.Add(-time.Hour).Add(time.Nanosecond)
	return models.SecurityStatisticsSnapshot{
		TotalAttempts:      s.total,
		Successful:         s.successful,
		Failed:             s.failed,
		BlockedSourceCount: blockedCount,
		AttemptsLastHour:   s.hourAttempts.CountSince(since),
		FailuresLastHour:   s.hourFailures.CountSince(since),
		HighRiskCount:      s.highRisk,
	}
}

// Status derives the overall security level at now.
func (s *SecurityStatsService) Status(now time.Time, blockedCount, monitoredSources int) models.SecurityStatus {
	snap := s.Snapshot(now, blockedCount)
	return models.SecurityStatus{
		Level:                s.level(blockedCount, snap.FailuresLastHour),
		BlockedIPCount:       blockedCount,
		RecentFailedAttempts: snap.FailuresLastHour,
		MonitoredSourceCount: monitoredSources,
		LastUpdated:          now,
	}
}

func (s *SecurityStatsService) level(blocked, hourFailures int) models.SecurityLevel {
	l := s.levels
	switch {
	case atOrAbove(blocked, l.CriticalBlockedSources) || atOrAbove(hourFailures, l.CriticalHourlyFailures):
		return models.SecurityLevelCritical
	case atOrAbove(blocked, l.ElevatedBlockedSources) || atOrAbove(hourFailures, l.ElevatedHourlyFailures):
		return models.SecurityLevelElevated
	default:
		return models.SecurityLevelNormal
	}
}

func atOrAbove(v, threshold int) bool {
	return threshold > 0 && v >= threshold
}
