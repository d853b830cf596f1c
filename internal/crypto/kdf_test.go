package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "github.com/illarion/keyguard/internal/errors"
)

func testSalt(b byte) []byte {
	return bytes.Repeat([]byte{b}, SaltSize)
}

func TestDeriveIsDeterministic(t *testing.T) {
	k1, err := Derive([]byte("hunter2"), testSalt(1))
	require.NoError(t, err)
	defer k1.Destroy()

	k2, err := Derive([]byte("hunter2"), testSalt(1))
	require.NoError(t, err)
	defer k2.Destroy()

	assert.Len(t, k1.Bytes(), KeySize)
	assert.True(t, k1.Equal(k2))
}

func TestDeriveDependsOnInputs(t *testing.T) {
	base, err := Derive([]byte("hunter2"), testSalt(1))
	require.NoError(t, err)
	defer base.Destroy()

	otherSecret, err := Derive([]byte("hunter3"), testSalt(1))
	require.NoError(t, err)
	defer otherSecret.Destroy()

	otherSalt, err := Derive([]byte("hunter2"), testSalt(2))
	require.NoError(t, err)
	defer otherSalt.Destroy()

	assert.False(t, base.Equal(otherSecret), "secret change must change key")
	assert.False(t, base.Equal(otherSalt), "salt change must change key")
}

func TestDeriveDoesNotTouchSecret(t *testing.T) {
	secret := []byte("hunter2")
	k, err := Derive(secret, testSalt(1))
	require.NoError(t, err)
	k.Destroy()

	assert.Equal(t, []byte("hunter2"), secret)
}

func TestDeriveErrors(t *testing.T) {
	tests := []struct {
		name   string
		kdf    *KDF
		secret []byte
		salt   []byte
		want   error
	}{
		{"empty secret", NewKDF(StrategyPBKDF2), nil, testSalt(1), ErrEmptySecret},
		{"short salt", NewKDF(StrategyPBKDF2), []byte("pw"), []byte("short"), ErrInvalidSalt},
		{"long salt", NewKDF(StrategyArgon2id), []byte("pw"), make([]byte, 32), ErrInvalidSalt},
		{"weak iterations", &KDF{Strategy: StrategyPBKDF2, Iterations: 1000}, []byte("pw"), testSalt(1), ErrWeakParams},
		{"unknown strategy", &KDF{Strategy: "rot13", Iterations: DefaultIters}, []byte("pw"), testSalt(1), ErrUnknownStrat},
		{"empty mnemonic", NewKDF(StrategyMnemonic), []byte{}, nil, ErrEmptySecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := tt.kdf.DeriveKey(tt.secret, tt.salt)
			assert.Nil(t, k)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, kgerrors.ErrDerivation)
		})
	}
}

func TestValidateIterationBounds(t *testing.T) {
	var over int64 = MaxIters
	over++

	err := (&KDF{Strategy: StrategyPBKDF2, Iterations: int(over)}).Validate()
	assert.ErrorIs(t, err, ErrTooManyIters)
	assert.ErrorIs(t, err, kgerrors.ErrDerivation)

	assert.NoError(t, (&KDF{Strategy: StrategyPBKDF2, Iterations: int(over - 1)}).Validate())
	assert.NoError(t, (&KDF{Strategy: StrategyArgon2id}).Validate(), "argon2id ignores iterations")
}

func TestMnemonicStrategyIsDistinct(t *testing.T) {
	phrase := []byte("abandon ability able about above absent absorb abstract")

	m1, err := DeriveFromMnemonic(phrase)
	require.NoError(t, err)
	defer m1.Destroy()

	// salt is ignored by the mnemonic strategy
	m2, err := NewKDF(StrategyMnemonic).DeriveKey(phrase, testSalt(9))
	require.NoError(t, err)
	defer m2.Destroy()
	assert.True(t, m1.Equal(m2))

	p, err := Derive(phrase, testSalt(9))
	require.NoError(t, err)
	defer p.Destroy()
	assert.False(t, m1.Equal(p), "mnemonic and pbkdf2 must not coincide")
}

func TestArgon2idDeterministic(t *testing.T) {
	kdf := NewKDF(StrategyArgon2id)

	k1, err := kdf.DeriveKey([]byte("pw"), testSalt(3))
	require.NoError(t, err)
	defer k1.Destroy()

	k2, err := kdf.DeriveKey([]byte("pw"), testSalt(3))
	require.NoError(t, err)
	defer k2.Destroy()

	assert.True(t, k1.Equal(k2))
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"pbkdf2", "argon2id", "mnemonic"} {
		st, err := ParseStrategy(s)
		require.NoError(t, err)
		assert.Equal(t, Strategy(s), st)
	}

	_, err := ParseStrategy("scrypt")
	assert.ErrorIs(t, err, ErrUnknownStrat)
}

func TestGenerateSalt(t *testing.T) {
	s1, err := GenerateSalt()
	require.NoError(t, err)
	s2, err := GenerateSalt()
	require.NoError(t, err)

	assert.Len(t, s1, SaltSize)
	assert.NotEqual(t, s1, s2)
}

func TestKeyDestroy(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, KeySize)
	k, err := NewKey(raw)
	require.NoError(t, err)

	assert.Equal(t, make([]byte, KeySize), raw, "source must be wiped")
	assert.Len(t, k.Bytes(), KeySize)

	k.Destroy()
	k.Destroy()
	assert.Nil(t, k.Bytes())
}

func TestNewKeyRejectsWrongLength(t *testing.T) {
	raw := []byte("too short")
	_, err := NewKey(raw)

	assert.ErrorIs(t, err, kgerrors.ErrDerivation)
	assert.Equal(t, make([]byte, len(raw)), raw)
}
