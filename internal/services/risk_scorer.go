package services

import (
	"math"
	"time"

	"github.com/BradenHooton/fleetgate/internal/config"
	"github.com/BradenHooton/fleetgate/internal/models"
)

// RiskInput is everything the scorer looks at. Score is a pure function of it.
type RiskInput struct {
	ConsecutiveFailures int
	At                  time.Time
	Findings            []string
	// RecentAttempts counts attempts from the source inside the burst window,
	// the one being scored included.
	RecentAttempts int
}

// RiskScorerConfig configures the scorer.
type RiskScorerConfig struct {
	Weights        config.RiskWeights
	Thresholds     config.RiskThresholds
	BurstThreshold int
	OffHoursStart  int
	OffHoursEnd    int
	Location       *time.Location
}

// RiskScorer computes additive risk scores.
type RiskScorer struct {
	config RiskScorerConfig
}

// NewRiskScorer creates a new RiskScorer
func NewRiskScorer(cfg RiskScorerConfig) *RiskScorer {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &RiskScorer{config: cfg}
}

// Score computes the assessment for in.
func (s *RiskScorer) Score(in RiskInput) models.RiskAssessment {
	w := s.config.Weights
	var factors []models.RiskFactor
	add := func(label string, points float64) {
		if points > 0 {
			factors = append(factors, models.RiskFactor{Label: label, Points: points})
		}
	}

	if in.ConsecutiveFailures > 0 {
		add(models.FactorPriorFailures, math.Min(float64(in.ConsecutiveFailures)*w.PriorFailure, w.PriorFailureCap))
	}
	if s.isOffHours(in.At) {
		add(models.FactorOffHours, w.OffHours)
	}

	seen := make(map[string]bool, len(in.Findings))
	for _, f := range in.Findings {
		if seen[f] {
			continue
		}
		seen[f] = true
		switch f {
		case models.FindingMissingFingerprint:
			add(f, w.MissingFingerprint)
		case models.FindingMissingUserAgent:
			add(f, w.MissingUserAgent)
		case models.FindingSuspiciousDeviceName:
			add(f, w.SuspiciousName)
		case models.FindingDuplicateFingerprint:
			add(f, w.DuplicateFingerprint)
		}
	}

	if s.config.BurstThreshold > 0 && in.RecentAttempts >= s.config.BurstThreshold {
		add(models.FactorBurst, w.Burst)
	}

	score := 0.0
	for _, f := range factors {
		score += f.Points
	}
	score = math.Round(score*100) / 100

	level := s.Classify(score)
	return models.RiskAssessment{
		Score:            score,
		Level:            level,
		Factors:          factors,
		FlaggedForReview: level == models.RiskLevelCritical,
	}
}

// Classify maps a score to its level.
func (s *RiskScorer) Classify(score float64) models.RiskLevel {
	t := s.config.Thresholds
	switch {
	case score >= t.Critical:
		return models.RiskLevelCritical
	case score >= t.High:
		return models.RiskLevelHigh
	case score >= t.Medium:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// DegradedAssessment is used when scoring itself fails. It classifies as high
// and takes the critical path of being flagged for review.
func (s *RiskScorer) DegradedAssessment() models.RiskAssessment {
	return models.RiskAssessment{
		Score:            s.config.Thresholds.High,
		Level:            models.RiskLevelHigh,
		Factors:          []models.RiskFactor{{Label: models.FactorScoringUnavailable, Points: s.config.Thresholds.High}},
		FlaggedForReview: true,
		Degraded:         true,
	}
}

func (s *RiskScorer) isOffHours(at time.Time) bool {
	hour := at.In(s.config.Location).Hour()
	start, end := s.config.OffHoursStart, s.config.OffHoursEnd
	if start == end {
		return false
	}
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}
