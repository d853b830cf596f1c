package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/gateway"
	"github.com/illarion/keyguard/internal/keystore"
	"github.com/illarion/keyguard/internal/storage"
)

// fakeGateway records what the program saw and lets a test mutate the
// scratch copy or fail
type fakeGateway struct {
	calls  int
	seen   []byte
	mutate func(keyFile string) error
	err    error
}

func (f *fakeGateway) Run(_ context.Context, keyFile string, _ []string) (*gateway.Result, error) {
	f.calls++
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	f.seen = data
	if f.mutate != nil {
		if err := f.mutate(keyFile); err != nil {
			return nil, err
		}
	}
	code := 0
	var exitErr *gateway.ExitError
	if errors.As(f.err, &exitErr) {
		code = exitErr.Code
	}
	return &gateway.Result{ExitCode: code}, f.err
}

func testKey(t *testing.T, b byte) *crypto.Key {
	t.Helper()
	key, err := crypto.NewKey(bytes.Repeat([]byte{b}, crypto.KeySize))
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	return key
}

func fastKDF() *crypto.KDF {
	kdf := crypto.NewKDF(crypto.StrategyPBKDF2)
	kdf.Iterations = crypto.MinIters
	return kdf
}

func openRunner(t *testing.T, root string, opts Options) *Runner {
	t.Helper()
	if opts.KDF == nil {
		opts.KDF = fastKDF()
	}
	r, err := Open(root, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeScratch(t *testing.T, r *Runner, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(r.Store().PlaintextPath(name), data, keystore.FilePerm))
}

func seal(t *testing.T, r *Runner, name string, data []byte, key *crypto.Key) {
	t.Helper()
	writeScratch(t, r, name, data)
	require.NoError(t, r.Encrypt(name, key))
}

func stateOf(t *testing.T, r *Runner, name string) keystore.State {
	t.Helper()
	state, err := r.Store().State(name)
	require.NoError(t, err)
	return state
}

func archived(t *testing.T, r *Runner, name string, key *crypto.Key) []byte {
	t.Helper()
	data, err := r.Store().ReadArchive(name, key)
	require.NoError(t, err)
	return data
}

func appendLine(line string) func(string) error {
	return func(keyFile string) error {
		f, err := os.OpenFile(keyFile, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(line)
		return err
	}
}

func TestRunSuccess(t *testing.T) {
	gw := &fakeGateway{mutate: appendLine("\n")}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw})
	key := testKey(t, 0x10)
	seal(t, r, "alice", []byte(`{"k":1}`), key)

	res, err := r.RunWithKey(context.Background(), "alice", key, []string{"status"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, []byte(`{"k":1}`), gw.seen)
	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
	assert.Equal(t, []byte("{\"k\":1}\n"), archived(t, r, "alice", key))

	pending, err := r.Journal().Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	entry, err := r.Journal().GetIndexEntry("alice")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.LastSealed.IsZero())
	assert.False(t, entry.LastUnsealed.IsZero())
}

func TestRunGatewayFailureReencrypts(t *testing.T) {
	gw := &fakeGateway{
		mutate: appendLine("changed"),
		err:    &gateway.ExitError{Program: "comx", Code: 2},
	}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw})
	key := testKey(t, 0x11)
	seal(t, r, "alice", []byte("v1 "), key)

	res, err := r.RunWithKey(context.Background(), "alice", key, nil)
	require.Error(t, err)

	var exitErr *gateway.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, kgerrors.ErrExternal, kgerrors.Kind(err))
	require.NotNil(t, res)
	assert.Equal(t, 2, res.ExitCode)

	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
	assert.Equal(t, []byte("v1 changed"), archived(t, r, "alice", key))
}

func TestRunDiscardPolicy(t *testing.T) {
	gw := &fakeGateway{
		mutate: appendLine("half written"),
		err:    &gateway.ExitError{Program: "comx", Code: 1},
	}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw, Policy: PolicyDiscard})
	key := testKey(t, 0x12)
	seal(t, r, "alice", []byte("original"), key)

	_, err := r.RunWithKey(context.Background(), "alice", key, nil)
	require.Error(t, err)

	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
	assert.Equal(t, []byte("original"), archived(t, r, "alice", key))
}

func TestRunDiscardPolicyOnSuccessSeals(t *testing.T) {
	gw := &fakeGateway{mutate: appendLine("+")}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw, Policy: PolicyDiscard})
	key := testKey(t, 0x13)
	seal(t, r, "alice", []byte("v"), key)

	_, err := r.RunWithKey(context.Background(), "alice", key, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("v+"), archived(t, r, "alice", key))
}

func TestRunEncryptFailureCombined(t *testing.T) {
	// The program swaps its key file for an empty directory, which
	// cannot be sealed. The guard still sweeps it.
	gw := &fakeGateway{
		mutate: func(keyFile string) error {
			if err := os.Remove(keyFile); err != nil {
				return err
			}
			return os.Mkdir(keyFile, keystore.DirPerm)
		},
		err: &gateway.ExitError{Program: "comx", Code: 3},
	}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw})
	key := testKey(t, 0x14)
	seal(t, r, "alice", []byte("original"), key)

	_, err := r.RunWithKey(context.Background(), "alice", key, nil)
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)

	var exitErr *gateway.ExitError
	assert.True(t, errors.As(err, &exitErr))
	assert.ErrorIs(t, err, kgerrors.ErrState)

	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
	assert.Equal(t, []byte("original"), archived(t, r, "alice", key))
}

func TestRunAbsent(t *testing.T) {
	gw := &fakeGateway{}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw})

	_, err := r.RunWithKey(context.Background(), "nobody", testKey(t, 0x15), nil)
	assert.ErrorIs(t, err, kgerrors.ErrNotFound)
	assert.Zero(t, gw.calls)

	pending, err := r.Journal().Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunWrongKey(t *testing.T) {
	gw := &fakeGateway{}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw})
	seal(t, r, "alice", []byte("secret"), testKey(t, 0x16))

	_, err := r.RunWithKey(context.Background(), "alice", testKey(t, 0x17), nil)
	assert.ErrorIs(t, err, crypto.ErrAuthFailed)
	assert.Zero(t, gw.calls)
	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
}

func TestRunPlaintextOnlySealsFirst(t *testing.T) {
	gw := &fakeGateway{}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw})
	key := testKey(t, 0x18)
	writeScratch(t, r, "alice", []byte("fresh"))

	_, err := r.RunWithKey(context.Background(), "alice", key, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), gw.seen)
	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
}

func TestRunBothNeedsConfirmation(t *testing.T) {
	gw := &fakeGateway{}
	root := t.TempDir()
	r := openRunner(t, root, Options{Gateway: gw})
	key := testKey(t, 0x19)
	seal(t, r, "alice", []byte("archive"), key)
	writeScratch(t, r, "alice", []byte("leftover"))

	_, err := r.RunWithKey(context.Background(), "alice", key, nil)
	assert.ErrorIs(t, err, ErrAmbiguousState)
	assert.Zero(t, gw.calls)
	assert.Equal(t, keystore.Both, stateOf(t, r, "alice"), "an unconfirmed leftover is not touched")
	require.NoError(t, r.Close())

	var asked []string
	r2 := openRunner(t, root, Options{Gateway: gw, Confirm: func(name string) bool {
		asked = append(asked, name)
		return true
	}})
	_, err = r2.RunWithKey(context.Background(), "alice", key, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, asked)
	assert.Equal(t, []byte("archive"), gw.seen)
	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r2, "alice"))
}

func TestRunCancelledStillSeals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{
		mutate: func(keyFile string) error {
			cancel()
			return nil
		},
		err: context.Canceled,
	}
	r := openRunner(t, t.TempDir(), Options{Gateway: gw})
	key := testKey(t, 0x1a)
	seal(t, r, "alice", []byte("data"), key)

	_, err := r.RunWithKey(ctx, "alice", key, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
}

func TestRunWithoutGateway(t *testing.T) {
	r := openRunner(t, t.TempDir(), Options{})
	_, err := r.RunWithKey(context.Background(), "alice", testKey(t, 0x1b), nil)
	assert.ErrorIs(t, err, kgerrors.ErrExternal)
}

func TestRunDerivesFromSecret(t *testing.T) {
	gw := &fakeGateway{}
	root := t.TempDir()
	r := openRunner(t, root, Options{Gateway: gw})

	key, err := r.DeriveKey([]byte("correct horse"))
	require.NoError(t, err)
	defer key.Destroy()
	seal(t, r, "alice", []byte("payload"), key)

	_, err = r.Run(context.Background(), "alice", []byte("correct horse"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), gw.seen)

	_, err = r.Run(context.Background(), "alice", []byte("wrong horse"), nil)
	assert.ErrorIs(t, err, crypto.ErrAuthFailed)

	_, err = r.Run(context.Background(), "alice", nil, nil)
	assert.ErrorIs(t, err, crypto.ErrEmptySecret)
}

func TestOpenBusy(t *testing.T) {
	root := t.TempDir()
	openRunner(t, root, Options{})

	_, err := Open(root, Options{LockTimeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, storage.ErrVaultBusy)
	assert.ErrorIs(t, err, kgerrors.ErrState)
}

func TestOpenRejectsPolicy(t *testing.T) {
	_, err := Open(t.TempDir(), Options{Policy: "preserve"})
	assert.ErrorIs(t, err, kgerrors.ErrState)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("reencrypt")
	require.NoError(t, err)
	assert.Equal(t, PolicyReencrypt, p)

	p, err = ParsePolicy("discard")
	require.NoError(t, err)
	assert.Equal(t, PolicyDiscard, p)

	_, err = ParsePolicy("")
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	r := openRunner(t, t.TempDir(), Options{})
	key := testKey(t, 0x1c)

	assert.ErrorIs(t, r.Encrypt("alice", key), kgerrors.ErrNotFound)

	seal(t, r, "alice", []byte("x"), key)
	require.NoError(t, r.Encrypt("alice", key), "sealing twice is a no-op")

	require.NoError(t, r.Decrypt("alice", key))
	assert.Equal(t, keystore.Both, stateOf(t, r, "alice"))

	// A checked out copy is sealed back without asking
	writeScratch(t, r, "alice", []byte("edited"))
	require.NoError(t, r.Encrypt("alice", key))
	assert.Equal(t, keystore.CiphertextOnly, stateOf(t, r, "alice"))
	assert.Equal(t, []byte("edited"), archived(t, r, "alice", key))

	entry, err := r.Journal().GetIndexEntry("alice")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.LastSealed.After(entry.LastUnsealed))
}

func TestEncryptRefusesLeftoverNextToArchive(t *testing.T) {
	r := openRunner(t, t.TempDir(), Options{})
	key := testKey(t, 0x1d)
	seal(t, r, "alice", []byte("archive"), key)
	writeScratch(t, r, "alice", []byte("leftover"))

	err := r.Encrypt("alice", key)
	assert.ErrorIs(t, err, ErrAmbiguousState)
	assert.Equal(t, []byte("archive"), archived(t, r, "alice", key))
	assert.Equal(t, keystore.Both, stateOf(t, r, "alice"))
}

func TestEncryptRefusesInterruptedRun(t *testing.T) {
	r := openRunner(t, t.TempDir(), Options{})
	key := testKey(t, 0x1e)
	seal(t, r, "alice", []byte("archive"), key)
	require.NoError(t, r.Decrypt("alice", key))
	_, err := r.Journal().Begin("alice", storage.PhaseInUse)
	require.NoError(t, err)
	writeScratch(t, r, "alice", []byte("half written"))

	assert.ErrorIs(t, r.Encrypt("alice", key), ErrAmbiguousState)
	assert.Equal(t, []byte("archive"), archived(t, r, "alice", key))
}

func TestDecryptOverScratchNeedsConfirmation(t *testing.T) {
	root := t.TempDir()
	r := openRunner(t, root, Options{})
	key := testKey(t, 0x1f)
	seal(t, r, "alice", []byte("archive"), key)
	require.NoError(t, r.Decrypt("alice", key))
	writeScratch(t, r, "alice", []byte("edited"))

	assert.ErrorIs(t, r.Decrypt("alice", key), ErrAmbiguousState)
	data, err := os.ReadFile(r.Store().PlaintextPath("alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("edited"), data, "unconfirmed decrypt must not overwrite the scratch copy")
	require.NoError(t, r.Close())

	r2 := openRunner(t, root, Options{Confirm: func(string) bool { return true }})
	require.NoError(t, r2.Decrypt("alice", key))
	data, err = os.ReadFile(r2.Store().PlaintextPath("alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("archive"), data)
}
