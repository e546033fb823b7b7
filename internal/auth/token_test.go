package auth

import (
	"testing"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_DeviceToken(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, 30*24*time.Hour)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return fixed }

	token, expiresAt, err := tm.GenerateDeviceToken("device-1", "company-1")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(30*24*time.Hour), expiresAt)

	claims, err := tm.ValidateDeviceToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeDevice, claims.Type)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, "company-1", claims.CompanyID)
	assert.Equal(t, "device-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err, "device tokens must not pass as operator tokens")
}

func TestTokenManager_Expiry(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Minute, time.Hour)
	issued := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return issued }

	token, err := tm.GenerateAccessToken("u-1", "ops@example.com", models.RoleAdmin)
	require.NoError(t, err)

	tm.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	issuer := NewTokenManager(testSecret, time.Minute, time.Hour)
	verifier := NewTokenManager("another-secret-that-is-at-least-32-characters", time.Minute, time.Hour)

	token, err := issuer.GenerateAccessToken("u-1", "ops@example.com", models.RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}
