package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2hunter2", hash)

	require.True(t, VerifyPassword("hunter2hunter2", hash))
	require.False(t, VerifyPassword("hunter3hunter3", hash))
	require.False(t, VerifyPassword("", hash))
}

func TestVerifyPassword_GarbageHash(t *testing.T) {
	require.False(t, VerifyPassword("anything", "not-a-bcrypt-hash"))
}
