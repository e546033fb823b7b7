package models

import "time"

// Company is a tenant that owns a device fleet.
type Company struct {
	ID                       string     `db:"id"`
	Name                     string     `db:"name"`
	RegistrationKey          string     `db:"registration_key"`
	RegistrationKeyExpiresAt *time.Time `db:"registration_key_expires_at"`
}

// Device is a registered fleet member.
type Device struct {
	ID               string    `db:"id"`
	CompanyID        string    `db:"company_id"`
	Name             string    `db:"name"`
	Location         *string   `db:"location"`
	HardwareID       *string   `db:"hardware_id"`
	MACAddresses     []string  `db:"mac_addresses"`
	FingerprintHash  *string   `db:"fingerprint_hash"`
	SecretHash       string    `db:"secret_hash"`
	RegisteredFromIP string    `db:"registered_from_ip"`
	RiskScore        float64   `db:"risk_score"`
	RiskLevel        RiskLevel `db:"risk_level"`
	FlaggedForReview bool      `db:"flagged_for_review"`
	CreatedAt        time.Time `db:"created_at"`
}

// DeviceRegistration is what the gate hands to the provisioning collaborator
// once a request has passed every check.
type DeviceRegistration struct {
	SourceKey       string
	DeviceName      string
	RegistrationKey string
	Location        *string
	Fingerprint     *DeviceFingerprint
	Assessment      *RiskAssessment
}
