// Package crypto provides the symmetric authenticated encryption used to
// store mirror access tokens at rest (§4.2). The key is read once from the
// environment at process start (§9 open question #6: rotation unsupported).
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

type CryptoError struct {
	msg string
}

func (e *CryptoError) Error() string { return e.msg }

// Sealer encrypts and decrypts mirror tokens with a single process-lifetime
// key.
type Sealer struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewSealer builds a Sealer from the raw 32-byte key text. Fails fast if the
// key isn't exactly 32 bytes, matching the spec's fail-fast requirement.
func NewSealer(key string) (*Sealer, error) {
	keyBytes := []byte(key)
	if len(keyBytes) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", chacha20poly1305.KeySize, len(keyBytes))
	}
	aead, err := chacha20poly1305.New(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("construct aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Encrypt draws a fresh random nonce and returns (ciphertext, nonce), both
// base64-encoded.
func (s *Sealer) Encrypt(plaintext string) (ciphertext string, nonce string, err error) {
	n := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nil, n, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(n), nil
}

// Decrypt reverses Encrypt. Fails with a *CryptoError on tag mismatch or
// malformed input.
func (s *Sealer) Decrypt(ciphertextB64, nonceB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", &CryptoError{"malformed ciphertext"}
	}
	n, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", &CryptoError{"malformed nonce"}
	}
	if len(n) != s.aead.NonceSize() {
		return "", &CryptoError{"malformed nonce"}
	}
	plaintext, err := s.aead.Open(nil, n, ciphertext, nil)
	if err != nil {
		return "", &CryptoError{"decryption failure: wrong key or corrupted data"}
	}
	return string(plaintext), nil
}
