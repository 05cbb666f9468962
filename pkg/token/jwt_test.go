package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyAccessToken(t *testing.T) {
	m := NewJWTManager("secret", 60, 7)

	tok, err := m.GenerateToken(42, "alice@example.com")
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, TypeAccess, claims.TokenType)
	assert.Equal(t, 3600, m.AccessTokenTTL())
}

func TestRefreshTokenIsNotAccessToken(t *testing.T) {
	m := NewJWTManager("secret", 60, 7)

	refresh, err := m.GenerateRefreshToken(1, "bob@example.com")
	require.NoError(t, err)

	_, err = m.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	claims, err := m.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, uint(1), claims.UserID)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	tok, err := NewJWTManager("one", 60, 7).GenerateToken(1, "a@b.c")
	require.NoError(t, err)

	_, err = NewJWTManager("two", 60, 7).VerifyToken(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", 60, 7)
	claims := CustomClaims{
		UserID:    1,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokensAreUnique(t *testing.T) {
	m := NewJWTManager("secret", 60, 7)
	a, _ := m.GenerateToken(1, "a@b.c")
	b, _ := m.GenerateToken(1, "a@b.c")
	assert.NotEqual(t, a, b)
}
