package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	manager := newTestTokenManager(t)

	access, err := manager.IssueAccess("user-1")
	require.NoError(t, err)
	refresh, err := manager.IssueRefresh("user-1")
	require.NoError(t, err)
	require.NotEqual(t, access, refresh)

	accessClaims, err := manager.VerifyAccess(access)
	require.NoError(t, err)
	require.Equal(t, "user-1", accessClaims.UserID)
	require.WithinDuration(t, time.Now(), accessClaims.IssuedAt, 5*time.Second)

	refreshClaims, err := manager.VerifyRefresh(refresh)
	require.NoError(t, err)
	require.Equal(t, "user-1", refreshClaims.UserID)
}

func TestTokenManager_TypeConfusionRejected(t *testing.T) {
	manager := newTestTokenManager(t)

	access, err := manager.IssueAccess("user-1")
	require.NoError(t, err)
	refresh, err := manager.IssueRefresh("user-1")
	require.NoError(t, err)

	_, err = manager.VerifyRefresh(access)
	require.ErrorIs(t, err, ErrTokenInvalid)
	_, err = manager.VerifyAccess(refresh)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	manager := newTestTokenManager(t)
	other, err := NewTokenManager(TokenConfig{
		AccessSecret:  []byte("different-access"),
		RefreshSecret: []byte("different-refresh"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)

	access, err := manager.IssueAccess("user-1")
	require.NoError(t, err)

	_, err = other.VerifyAccess(access)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenManager_ExpiredToken(t *testing.T) {
	manager := newTestTokenManager(t)

	// signed with the right secret and type but already past expiry
	now := time.Now().UTC()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
		"typ": tokenTypeRefresh,
	}).SignedString([]byte("refresh-secret"))
	require.NoError(t, err)

	_, err = manager.VerifyRefresh(expired)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenManager_MalformedAndMissingSubject(t *testing.T) {
	manager := newTestTokenManager(t)

	_, err := manager.VerifyAccess("not.a.jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
		"typ": tokenTypeAccess,
	}).SignedString([]byte("access-secret"))
	require.NoError(t, err)

	_, err = manager.VerifyAccess(noSubject)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNewTokenManager_Validation(t *testing.T) {
	_, err := NewTokenManager(TokenConfig{
		RefreshSecret: []byte("r"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	require.Error(t, err)

	_, err = NewTokenManager(TokenConfig{
		AccessSecret:  []byte("a"),
		RefreshSecret: []byte("r"),
		AccessTTL:     0,
		RefreshTTL:    time.Hour,
	})
	require.Error(t, err)
}
