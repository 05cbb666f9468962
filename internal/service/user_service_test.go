package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osapio-go/internal/repository"
	"osapio-go/pkg/token"
)

func newUserService(t *testing.T) (UserService, *memTokens, *token.JWTManager) {
	t.Helper()
	tokens := newMemTokens()
	jwtManager := token.NewJWTManager("test-secret", 30, 7)
	svc := NewUserService(repository.NewUserRepository(setupTestDB(t)), tokens, jwtManager)
	return svc, tokens, jwtManager
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, jwtManager := newUserService(t)
	ctx := context.Background()

	user, pair, err := svc.Register(ctx, " Alice@Example.com ", "secret1", "")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "alice", user.DisplayName)
	assert.NotEqual(t, "secret1", user.Password)
	assert.Equal(t, 30*60, pair.ExpiresIn)

	claims, err := jwtManager.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, _, err = svc.Register(ctx, "alice@example.com", "secret2", "")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = svc.Login(ctx, "alice@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, pair, err = svc.Login(ctx, "ALICE@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _, _ := newUserService(t)
	_, _, err := svc.Register(context.Background(), "not-an-email", "secret1", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = svc.Register(context.Background(), "bob@example.com", "123", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRefreshTokenRotates(t *testing.T) {
	svc, tokens, _ := newUserService(t)
	ctx := context.Background()
	_, pair, err := svc.Register(ctx, "carol@example.com", "secret1", "Carol")
	require.NoError(t, err)

	// access token 不能用于刷新
	_, err = svc.RefreshToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	next, err := svc.RefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)

	revoked, _ := tokens.IsBlacklisted(ctx, pair.RefreshToken)
	assert.True(t, revoked)
	_, err = svc.RefreshToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()
	_, pair, err := svc.Register(ctx, "dave@example.com", "secret1", "")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.AccessToken))
	revoked, err := svc.IsTokenRevoked(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, revoked)

	assert.ErrorIs(t, svc.Logout(ctx, "garbage"), ErrInvalidToken)
}

func TestProfileUpdate(t *testing.T) {
	svc, _, _ := newUserService(t)
	ctx := context.Background()
	user, _, err := svc.Register(ctx, "erin@example.com", "secret1", "")
	require.NoError(t, err)

	profile, err := svc.GetProfile(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, profile.LastLoginAt)

	updated, err := svc.UpdateProfile(ctx, user.ID, "  Erin  ")
	require.NoError(t, err)
	assert.Equal(t, "Erin", updated.DisplayName)

	_, err = svc.UpdateProfile(ctx, user.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GetProfile(ctx, 9999)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
