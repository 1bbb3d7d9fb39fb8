package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// AccessCodeBytes is the amount of randomness in an access code; the
// hex encoding doubles it to 16 characters.
const AccessCodeBytes = 8

// GenerateAccessCode returns a cryptographically secure one-time code used
// to finish self-registration on the website.
func GenerateAccessCode() (string, error) {
	buf := make([]byte, AccessCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate access code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
