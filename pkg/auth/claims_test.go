package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("any-key-at-all"))
	require.NoError(t, err)
	return signed
}

func TestParseBearer_ExtractsUserFromUnverifiedClaims(t *testing.T) {
	id := uuid.New()
	tok := signedToken(t, Claims{
		Sub:               id.String(),
		PreferredUsername: "ada",
		Email:             "ada@plectr.dev",
	})

	user, err := ParseBearer(tok)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "ada@plectr.dev", user.Email)
}

func TestParseBearer_RejectsNonUUIDSubject(t *testing.T) {
	tok := signedToken(t, Claims{Sub: "not-a-uuid"})

	_, err := ParseBearer(tok)
	assert.Error(t, err)
}

func TestParseBearer_DefaultsMissingUsername(t *testing.T) {
	tok := signedToken(t, Claims{Sub: uuid.New().String()})

	user, err := ParseBearer(tok)
	require.NoError(t, err)
	assert.Equal(t, "unknown", user.Username)
}

func TestParseBearer_RejectsGarbageToken(t *testing.T) {
	_, err := ParseBearer("not-even-a-jwt")
	assert.Error(t, err)
}

func TestMintSystemToken_RoundTripsThroughParseBearer(t *testing.T) {
	s := &Service{}
	tok, err := s.MintSystemToken(time.Hour)
	require.NoError(t, err)

	user, err := ParseBearer(tok)
	require.NoError(t, err)
	assert.Equal(t, "plectr-ci-system", user.Username)
}

func TestGenerateRunnerToken_HasExpectedPrefix(t *testing.T) {
	raw, hash, err := GenerateRunnerToken()
	require.NoError(t, err)
	assert.Greater(t, len(raw), 18)
	assert.Contains(t, raw, "plectr_run_")
	assert.NotEmpty(t, hash)
}

func TestCheckRunnerToken_AcceptsMatchingRejectsMismatched(t *testing.T) {
	raw, hash, err := GenerateRunnerToken()
	require.NoError(t, err)

	assert.True(t, CheckRunnerToken(raw, hash))
	assert.False(t, CheckRunnerToken("plectr_run_wrongvalue", hash))
}
