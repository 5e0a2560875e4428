package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateRunnerToken mints a fresh runner bearer token, matching the
// "plectr_run_"-prefixed random-secret shape system-admin runner creation
// uses. Returns the raw token (shown to the operator exactly once) and its
// bcrypt hash (the only form persisted).
func GenerateRunnerToken() (raw string, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	raw = "plectr_run_" + hex.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), 12)
	if err != nil {
		return "", "", fmt.Errorf("hash token: %w", err)
	}
	return raw, string(hashed), nil
}

// CheckRunnerToken reports whether raw matches the stored bcrypt hash.
func CheckRunnerToken(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
