package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse", hash)

	require.True(t, VerifyPassword(hash, "correct horse"))
	require.False(t, VerifyPassword(hash, "battery staple"))
	require.False(t, VerifyPassword("not-a-hash", "correct horse"))
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken(32)
	require.NoError(t, err)
	require.Len(t, first, 43)

	second, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = GenerateToken(0)
	require.ErrorIs(t, err, ErrInvalidLength)
}
