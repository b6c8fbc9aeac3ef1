package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensCarryUserAndPurpose(t *testing.T) {
	m := NewJWTManager("secret", 1, 7)

	access, err := m.GenerateToken(3, "alice", "USER")
	require.NoError(t, err)
	claims, err := m.VerifyToken(access, PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, uint(3), claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	_, err = m.VerifyToken(access, PurposeRefresh)
	assert.ErrorIs(t, err, ErrWrongPurpose)

	socket, err := m.GenerateSocketToken(3, "alice", "USER")
	require.NoError(t, err)
	_, err = m.VerifyToken(socket, PurposeAccess)
	assert.ErrorIs(t, err, ErrWrongPurpose)
	_, err = m.VerifyToken(socket, PurposeSocket)
	assert.NoError(t, err)
}

func TestVerifyRejectsForeignSecretAndExpiry(t *testing.T) {
	m := NewJWTManager("secret", 1, 7)
	other := NewJWTManager("other", 1, 7)

	tok, err := other.GenerateToken(1, "bob", "USER")
	require.NoError(t, err)
	_, err = m.VerifyToken(tok, PurposeAccess)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{
		UserID:  1,
		Purpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	s, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.VerifyToken(s, PurposeAccess)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
