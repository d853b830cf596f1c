package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "github.com/illarion/keyguard/internal/errors"
)

func quiet(program string) *Exec {
	e := New(program, nil)
	e.Stdin = nil
	e.Stdout = nil
	e.Stderr = nil
	return e
}

func TestNewDefaultProgram(t *testing.T) {
	assert.Equal(t, DefaultProgram, New("", nil).Program)
	assert.Equal(t, "sh", New("sh", nil).Program)
}

func TestRunPassesKeyFile(t *testing.T) {
	e := quiet("sh")
	res, err := e.Run(context.Background(), "/vault/key/alice.json", []string{"-c", `printf %s "$KEYGUARD_KEY_FILE"`})
	require.NoError(t, err)
	assert.Equal(t, "/vault/key/alice.json", string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
}

func TestRunHidesPassword(t *testing.T) {
	t.Setenv(PasswordEnv, "correct horse")
	t.Setenv(KeyFileEnv, "/stale/path")

	e := quiet("sh")
	res, err := e.Run(context.Background(), "/vault/key/alice.json",
		[]string{"-c", `printf '%s|%s' "${KEYGUARD_PASSWORD-unset}" "$KEYGUARD_KEY_FILE"`})
	require.NoError(t, err)
	assert.Equal(t, "unset|/vault/key/alice.json", string(res.Stdout))
}

func TestChildEnv(t *testing.T) {
	env := childEnv([]string{
		"HOME=/home/op",
		"KEYGUARD_PASSWORD=correct horse",
		"KEYGUARD_PASSWORD_HINT=kept",
		"KEYGUARD_KEY_FILE=/old",
	}, "/new")
	assert.Equal(t, []string{"HOME=/home/op", "KEYGUARD_PASSWORD_HINT=kept", "KEYGUARD_KEY_FILE=/new"}, env)
}

func TestRunCapturesStderr(t *testing.T) {
	e := quiet("sh")
	res, err := e.Run(context.Background(), "k", []string{"-c", "echo oops >&2"})
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(res.Stderr))
	assert.Empty(t, res.Stdout)
}

func TestRunNonZeroExit(t *testing.T) {
	e := quiet("sh")
	res, err := e.Run(context.Background(), "k", []string{"-c", "echo partial; exit 3"})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.ErrorIs(t, err, kgerrors.ErrExternal)

	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", string(res.Stdout))
}

func TestRunMissingProgram(t *testing.T) {
	e := quiet("keyguard-no-such-program")
	res, err := e.Run(context.Background(), "k", nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, kgerrors.ErrExternal)
}

func TestRunCancelled(t *testing.T) {
	e := quiet("sh")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx, "k", []string{"-c", "sleep 5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, kgerrors.ErrExternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Program: "comx", Code: 2}
	assert.Equal(t, "comx exited with status 2", err.Error())
	assert.Equal(t, kgerrors.ErrExternal, kgerrors.Kind(err))
}
