package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultSecretCost is the bcrypt cost for device secrets.
	DefaultSecretCost = 12
	// SecretBytes is the amount of randomness in a generated secret.
	SecretBytes = 32
	// maxBcryptInput is the longest input bcrypt accepts.
	maxBcryptInput = 72
)

// HashSecret hashes a secret with bcrypt at the given cost.
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	if len(secret) > maxBcryptInput {
		return "", fmt.Errorf("secret exceeds %d bytes", maxBcryptInput)
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultSecretCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashed), nil
}

// CompareSecret reports a non-nil error when secret does not match hashed.
func CompareSecret(hashed, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret))
}

// RandomHex returns SecretBytes of crypto/rand output, hex encoded.
func RandomHex() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
