package models

// RiskLevel is the discretized classification of a risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.rank() >= other.rank()
}

func (l RiskLevel) rank() int {
	switch l {
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return 0
	}
}

// Finding labels produced by the fingerprint validator and consumed by the scorer.
const (
	FindingMissingFingerprint   = "missing_fingerprint"
	FindingMissingUserAgent     = "missing_user_agent"
	FindingBotLikeUserAgent     = "bot_like_user_agent"
	FindingSuspiciousDeviceName = "suspicious_device_name"
	FindingDuplicateFingerprint = "duplicate_fingerprint"
)

// Factor labels that do not originate from the validator.
const (
	FactorPriorFailures      = "prior_failures"
	FactorOffHours           = "off_hours"
	FactorBurst              = "burst"
	FactorScoringUnavailable = "scoring_unavailable"
)

// MarkerFlaggedForReview is attached to attempts the moderation workflow must look at.
const MarkerFlaggedForReview = "flagged_for_review"

// RiskFactor is one contribution to a risk score.
type RiskFactor struct {
	Label  string  `json:"label"`
	Points float64 `json:"points"`
}

// RiskAssessment is produced fresh for every scored request.
type RiskAssessment struct {
	Score            float64      `json:"score"`
	Level            RiskLevel    `json:"level"`
	Factors          []RiskFactor `json:"factors"`
	FlaggedForReview bool         `json:"flagged_for_review"`
	Degraded         bool         `json:"-"`
}

// Markers lists the downstream workflow markers for this assessment.
func (a *RiskAssessment) Markers() []string {
	if a.FlaggedForReview {
		return []string{MarkerFlaggedForReview}
	}
	return nil
}
