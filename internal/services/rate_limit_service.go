package services

import (
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
)

// RateLimitConfig holds configuration for per-source rate limiting.
type RateLimitConfig struct {
	MaxAttemptsPerHour int
	MaxAttemptsPerDay  int
	// IdleTTL is how long a source may stay silent before its history is evicted.
	IdleTTL time.Duration
}

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// RateDecision is the result of a rate limit check.
type RateDecision struct {
	Allowed    bool
	Window     string
	RetryAfter time.Duration
	HourCount  int
	DayCount   int
}

type sourceState struct {
	// attempts holds every attempt; quota only those that count against the limits.
	attempts            *SlidingWindow
	quota               *SlidingWindow
	consecutiveFailures int
	lastSeen            time.Time
}

func (st *sourceState) history(key string) models.SourceHistory {
	return models.SourceHistory{
		SourceKey:           key,
		Attempts:            st.attempts.Snapshot(),
		ConsecutiveFailures: st.consecutiveFailures,
		LastSeen:            st.lastSeen,
	}
}

// RateLimitService tracks attempt history per source key in memory.
type RateLimitService struct {
	sources *shardedMap[*sourceState]
	config  RateLimitConfig
	logger  *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	if config.IdleTTL < dayWindow {
		config.IdleTTL = dayWindow
	}
	return &RateLimitService{
		sources: newShardedMap[*sourceState](),
		config:  config,
		logger:  logger,
	}
}

// NormalizeSourceKey canonicalizes a source key so the same client always maps
// to the same history.
func NormalizeSourceKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "unknown"
	}
	return key
}

// RecordAttempt appends an attempt to the source history and updates the
// consecutive failure counter. Accepted attempts reset the counter, rejected
// attempts increment it and blocked attempts leave it unchanged. Blocked
// attempts do not count against the rate limits.
func (s *RateLimitService) RecordAttempt(key string, at time.Time, outcome models.AttemptOutcome) models.SourceHistory {
	return s.record(key, at, outcome, outcome != models.OutcomeBlocked)
}

// RecordThrottled records an attempt that was turned away by the rate limit
// itself. It extends the failure streak but does not count against the limits.
func (s *RateLimitService) RecordThrottled(key string, at time.Time) models.SourceHistory {
	return s.record(key, at, models.OutcomeRejected, false)
}

func (s *RateLimitService) record(key string, at time.Time, outcome models.AttemptOutcome, counted bool) models.SourceHistory {
	var out models.SourceHistory
	s.sources.mutate(key, func(m map[string]*sourceState) {
		st, ok := m[key]
		if !ok {
			st = &sourceState{attempts: NewSlidingWindow(dayWindow), quota: NewSlidingWindow(dayWindow)}
			m[key] = st
		}
		st.attempts.Add(at)
		if counted {
			st.quota.Add(at)
		}
		if at.After(st.lastSeen) {
			st.lastSeen = at
		}
		switch outcome {
		case models.OutcomeAccepted:
			st.consecutiveFailures = 0
		case models.OutcomeRejected:
			st.consecutiveFailures++
		}
		out = st.history(key)
	})
	return out
}

// CountInWindow counts all recorded attempts in (now-window, now].
func (s *RateLimitService) CountInWindow(key string, now time.Time, window time.Duration) int {
	count := 0
	s.sources.view(key, func(m map[string]*sourceState) {
		if st, ok := m[key]; ok {
			count = countBetween(st.attempts, now.Add(-window), now)
		}
	})
	return count
}

// ConsecutiveFailures returns the current failure streak for key.
func (s *RateLimitService) ConsecutiveFailures(key string) int {
	n := 0
	s.sources.view(key, func(m map[string]*sourceState) {
		if st, ok := m[key]; ok {
			n = st.consecutiveFailures
		}
	})
	return n
}

// ResetFailures clears the failure streak for key. Attempt history is kept.
func (s *RateLimitService) ResetFailures(key string) {
	s.sources.mutate(key, func(m map[string]*sourceState) {
		if st, ok := m[key]; ok {
			st.consecutiveFailures = 0
		}
	})
}

// History returns a copy of the state held for key.
func (s *RateLimitService) History(key string) (models.SourceHistory, bool) {
	var (
		out   models.SourceHistory
		found bool
	)
	s.sources.view(key, func(m map[string]*sourceState) {
		if st, ok := m[key]; ok {
			out, found = st.history(key), true
		}
	})
	return out, found
}

// Check decides whether another attempt from key is allowed at now. Only
// accepted and rejected attempts that got past the limiter count. When a
// window is exhausted, RetryAfter is how long until enough attempts age out of
// it for the next one to be admitted.
func (s *RateLimitService) Check(key string, now time.Time) RateDecision {
	decision := RateDecision{Allowed: true}
	s.sources.view(key, func(m map[string]*sourceState) {
		st, ok := m[key]
		if !ok {
			return
		}
		decision.HourCount = countBetween(st.quota, now.Add(-hourWindow), now)
		decision.DayCount = countBetween(st.quota, now.Add(-dayWindow), now)

		if wait, over := retryAfter(st.quota, now, hourWindow, decision.HourCount, s.config.MaxAttemptsPerHour); over {
			decision.Allowed = false
			decision.Window = "hour"
			decision.RetryAfter = wait
		}
		if wait, over := retryAfter(st.quota, now, dayWindow, decision.DayCount, s.config.MaxAttemptsPerDay); over {
			decision.Allowed = false
			if wait > decision.RetryAfter {
				decision.Window = "day"
				decision.RetryAfter = wait
			}
		}
	})

	if !decision.Allowed {
		s.logger.Warn("source rate limited",
			slog.String("source_key", key),
			slog.String("window", decision.Window),
			slog.Int("hour_count", decision.HourCount),
			slog.Int("day_count", decision.DayCount),
			slog.Duration("retry_after", decision.RetryAfter))
	}
	return decision
}

// EvictIdle drops sources that have been silent longer than the idle TTL.
func (s *RateLimitService) EvictIdle(now time.Time) int {
	cutoff := now.Add(-s.config.IdleTTL)
	evicted := 0
	s.sources.each(func(m map[string]*sourceState) {
		for key, st := range m {
			if st.lastSeen.Before(cutoff) {
				delete(m, key)
				evicted++
				continue
			}
			st.attempts.Evict(now.Add(-dayWindow))
			st.quota.Evict(now.Add(-dayWindow))
		}
	})
	return evicted
}

// SourceCount returns the number of monitored sources.
func (s *RateLimitService) SourceCount() int {
	return s.sources.len()
}

// countBetween counts timestamps in (from, to].
func countBetween(w *SlidingWindow, from, to time.Time) int {
	return w.CountSince(from.Add(time.Nanosecond)) - w.CountSince(to.Add(time.Nanosecond))
}

func retryAfter(w *SlidingWindow, now time.Time, window time.Duration, count, limit int) (time.Duration, bool) {
	if limit <= 0 || count < limit {
		return 0, false
	}
	// the window admits again once count-limit+1 of its oldest attempts have aged out
	oldest, ok := w.NthSince(now.Add(-window).Add(time.Nanosecond), count-limit)
	if !ok {
		return 0, true
	}
	wait := oldest.Add(window).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait, true
}
