package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret generates a cryptographically secure random hex secret of n bytes
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateSecrets generates the secrets a deployment needs: the JWT signing
// key and the payment merchant secret
func GenerateSecrets() (jwtSecret, merchantSecret string, err error) {
	jwtSecret, err = GenerateSecret(32) // 256-bit
	if err != nil {
		return "", "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}

	merchantSecret, err = GenerateSecret(32)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate merchant secret: %w", err)
	}

	return jwtSecret, merchantSecret, nil
}
