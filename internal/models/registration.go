package models

import "time"

// AttemptOutcome is the terminal state of one registration attempt.
type AttemptOutcome string

const (
	OutcomeAccepted AttemptOutcome = "accepted"
	OutcomeRejected AttemptOutcome = "rejected"
	OutcomeBlocked  AttemptOutcome = "blocked"
)

// RegistrationRequest is the enhanced registration payload submitted by a device.
type RegistrationRequest struct {
	SourceKey       string             `json:"-" validate:"required,max=128"`
	DeviceName      string             `json:"device_name" validate:"required,min=1,max=100"`
	RegistrationKey string             `json:"registration_key" validate:"required,min=8,max=128"`
	Location        *string            `json:"location,omitempty" validate:"omitempty,max=255"`
	Fingerprint     *DeviceFingerprint `json:"fingerprint,omitempty"`
	UserAgent       *string            `json:"user_agent,omitempty" validate:"omitempty,max=512"`
	// DecodeError is set when the body could not be decoded. The gate still
	// accounts for the attempt and rejects it as a validation failure.
	DecodeError error `json:"-" validate:"-"`
}

// UserAgentValue returns the submitted user agent or an empty string.
func (r *RegistrationRequest) UserAgentValue() string {
	if r.UserAgent == nil {
		return ""
	}
	return *r.UserAgent
}

// RegistrationAttempt is the immutable record of one inbound request.
type RegistrationAttempt struct {
	ID          string             `json:"id"`
	SourceKey   string             `json:"source_key"`
	Timestamp   time.Time          `json:"timestamp"`
	DeviceName  string             `json:"device_name"`
	Fingerprint *DeviceFingerprint `json:"fingerprint,omitempty"`
	UserAgent   *string            `json:"user_agent,omitempty"`
	Outcome     AttemptOutcome     `json:"outcome"`
	RiskScore   float64            `json:"risk_score"`
	RiskLevel   RiskLevel          `json:"risk_level,omitempty"`
	Reason      *ErrorKind         `json:"reason,omitempty"`
	Flagged     bool               `json:"flagged_for_review"`
	Degraded    bool               `json:"degraded"`
}

// SourceHistory is a point-in-time copy of the rate limiter state for one source key.
type SourceHistory struct {
	SourceKey           string      `json:"source_key"`
	Attempts            []time.Time `json:"attempts"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastSeen            time.Time   `json:"last_seen"`
}

// DeviceCredentials are handed back to the device after provisioning. The gate
// treats them as opaque.
type DeviceCredentials struct {
	DeviceID     string    `json:"device_id"`
	CompanyID    string    `json:"company_id"`
	DeviceSecret string    `json:"device_secret"`
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RegistrationOutcome is the successful gate decision.
type RegistrationOutcome struct {
	Credentials    *DeviceCredentials `json:"device_credentials"`
	RiskAssessment *RiskAssessment    `json:"risk_assessment"`
}
