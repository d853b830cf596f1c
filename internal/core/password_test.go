package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPasswordFromEnvClearsIt(t *testing.T) {
	t.Setenv(PasswordEnv, "correct horse")

	assert.Equal(t, []byte("correct horse"), GetPasswordFromEnv())
	_, set := os.LookupEnv(PasswordEnv)
	assert.False(t, set)
	assert.Nil(t, GetPasswordFromEnv())
}

func TestGetSecretPrefersEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "correct horse")

	secret, source, err := GetSecret(SecretOptions{VaultID: "v", UseKeyring: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("correct horse"), secret)
	assert.Equal(t, SourceEnv, source)
}
