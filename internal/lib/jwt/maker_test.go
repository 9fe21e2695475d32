package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaker_RoundTrip(t *testing.T) {
	maker := NewJWTMaker("test-secret", time.Hour)

	token, err := maker.GenerateToken("8d7f2c09-6f3a-4a1e-9b2d-1f0a5c3e7b11", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := maker.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "8d7f2c09-6f3a-4a1e-9b2d-1f0a5c3e7b11", claims.UserUID)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestMaker_WrongSecret(t *testing.T) {
	maker := NewJWTMaker("test-secret", time.Hour)
	other := NewJWTMaker("another-secret", time.Hour)

	token, err := maker.GenerateToken("8d7f2c09-6f3a-4a1e-9b2d-1f0a5c3e7b11", "user@example.com")
	require.NoError(t, err)

	_, err = other.ParseToken(token)
	assert.Error(t, err)
}

func TestMaker_ExpiredToken(t *testing.T) {
	maker := NewJWTMaker("test-secret", -time.Minute)

	token, err := maker.GenerateToken("8d7f2c09-6f3a-4a1e-9b2d-1f0a5c3e7b11", "user@example.com")
	require.NoError(t, err)

	_, err = maker.ParseToken(token)
	assert.Error(t, err)
}
