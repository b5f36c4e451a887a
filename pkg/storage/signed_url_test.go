package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)

	token, expiresAt, err := signer.Generate("export-1", "results/class-1.csv")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	resourceID, relPath, _, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "export-1", resourceID)
	require.Equal(t, "results/class-1.csv", relPath)
}

func TestSignedURLRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)

	token, _, err := signer.Generate("export-1", "results/class-1.csv")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token+"x", false)
	require.Error(t, err)

	other := NewSignedURLSigner("different", time.Minute)
	_, _, _, err = other.Parse(token, false)
	require.Error(t, err)
}

func TestSignedURLExpiry(t *testing.T) {
	signer := NewSignedURLSigner("secret", -time.Minute)
	signer.ttl = -time.Minute

	token, _, err := signer.Generate("export-1", "results/class-1.csv")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	_, _, _, err = signer.Parse(token, true)
	require.NoError(t, err)
}
