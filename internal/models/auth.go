package models

import "github.com/golang-jwt/jwt/v5"

// Token types
const (
	TokenTypeAccess = "access"
	TokenTypeDevice = "device"
)

// RoleAdmin is the role allowed to manage blocks and read security views.
const RoleAdmin = "admin"

// TokenClaims are carried by operator bearer tokens.
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// DeviceClaims are carried by the access token issued to a newly registered device.
type DeviceClaims struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
	CompanyID string `json:"company_id"`
	jwt.RegisteredClaims
}
