package auth

import (
	"errors"
	"fmt"
	"strings"

	pkgauth "github.com/BradenHooton/fleetgate/pkg/auth"
)

// DeviceSecretPrefix marks device secrets so they are recognizable in logs and scanners.
const DeviceSecretPrefix = "dvc_"

// ErrInvalidSecretFormat is returned for secrets not shaped like dvc_<64 hex chars>.
var ErrInvalidSecretFormat = errors.New("invalid device secret format")

// CredentialManager generates and verifies device secrets
type CredentialManager struct {
	prefix string
	cost   int
}

// NewCredentialManager creates a new CredentialManager hashing at the given bcrypt cost
func NewCredentialManager(cost int) *CredentialManager {
	return &CredentialManager{
		prefix: DeviceSecretPrefix,
		cost:   cost,
	}
}

// GenerateDeviceSecret generates a new secret in the format dvc_<64 hex chars>.
// The plaintext is returned to the device once; only the bcrypt hash is stored.
func (m *CredentialManager) GenerateDeviceSecret() (plain, hash string, err error) {
	hexPart, err := pkgauth.RandomHex()
	if err != nil {
		return "", "", err
	}
	plain = m.prefix + hexPart

	hash, err = pkgauth.HashSecret(plain, m.cost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash device secret: %w", err)
	}
	return plain, hash, nil
}

// ValidateFormat checks the shape of a presented secret.
func (m *CredentialManager) ValidateFormat(plain string) error {
	if !strings.HasPrefix(plain, m.prefix) {
		return fmt.Errorf("%w: missing prefix", ErrInvalidSecretFormat)
	}
	if len(plain) != len(m.prefix)+pkgauth.SecretBytes*2 {
		return fmt.Errorf("%w: expected %d chars, got %d", ErrInvalidSecretFormat, len(m.prefix)+pkgauth.SecretBytes*2, len(plain))
	}
	return nil
}

// VerifyDeviceSecret checks a presented secret against its stored hash.
func (m *CredentialManager) VerifyDeviceSecret(hash, plain string) error {
	if err := m.ValidateFormat(plain); err != nil {
		return err
	}
	return pkgauth.CompareSecret(hash, plain)
}
