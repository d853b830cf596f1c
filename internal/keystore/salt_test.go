package keystore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
)

func TestSaltCreatedOnce(t *testing.T) {
	s := openStore(t)

	first, err := s.Salt()
	require.NoError(t, err)
	assert.Len(t, first, crypto.SaltSize)

	info, err := os.Stat(s.SaltPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerm), info.Mode().Perm())

	second, err := s.Salt()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A fresh Store over the same root sees the same salt
	s2, err := Open(s.Root(), nil)
	require.NoError(t, err)
	defer s2.Close()
	third, err := s2.Salt()
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestSaltCorrupt(t *testing.T) {
	s := openStore(t)
	require.NoError(t, os.WriteFile(s.SaltPath(), []byte("short"), FilePerm))

	_, err := s.Salt()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptSalt)
	assert.ErrorIs(t, err, kgerrors.ErrDerivation)

	data, err := os.ReadFile(s.SaltPath())
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), data, "a corrupt salt is never replaced")
}

func TestSaltDerivesSameKey(t *testing.T) {
	s := openStore(t)
	salt, err := s.Salt()
	require.NoError(t, err)

	kdf := crypto.NewKDF(crypto.StrategyPBKDF2)
	kdf.Iterations = crypto.MinIters

	k1, err := kdf.DeriveKey([]byte("pw"), salt)
	require.NoError(t, err)
	defer k1.Destroy()

	again, err := s.Salt()
	require.NoError(t, err)
	k2, err := kdf.DeriveKey([]byte("pw"), again)
	require.NoError(t, err)
	defer k2.Destroy()

	assert.True(t, k1.Equal(k2))
}
