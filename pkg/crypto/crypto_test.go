package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSealer_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewSealer("too-short")
	assert.Error(t, err)
}

func TestSealer_EncryptDecryptRoundTrip(t *testing.T) {
	sealer, err := NewSealer("01234567890123456789012345678901")
	require.NoError(t, err)

	ciphertext, nonce, err := sealer.Encrypt("gh_token_super_secret")
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.NotEmpty(t, nonce)

	plaintext, err := sealer.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, "gh_token_super_secret", plaintext)
}

func TestSealer_DecryptFailsOnTamperedCiphertext(t *testing.T) {
	sealer, err := NewSealer("01234567890123456789012345678901")
	require.NoError(t, err)

	ciphertext, nonce, err := sealer.Encrypt("secret-value")
	require.NoError(t, err)

	tampered := "AA" + ciphertext[2:]
	_, err = sealer.Decrypt(tampered, nonce)
	assert.Error(t, err)
}

func TestSealer_EncryptProducesFreshNonceEachTime(t *testing.T) {
	sealer, err := NewSealer("01234567890123456789012345678901")
	require.NoError(t, err)

	_, nonceA, err := sealer.Encrypt("same-plaintext")
	require.NoError(t, err)
	_, nonceB, err := sealer.Encrypt("same-plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, nonceA, nonceB)
}
