package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/illarion/keyguard/internal/core"
	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/gateway"
	"github.com/illarion/keyguard/internal/keyring"
	"github.com/illarion/keyguard/internal/logger"
	"github.com/illarion/keyguard/internal/storage"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

// secretOptions describes how to ask for r's secret
func secretOptions(r *core.Runner, confirm bool) (core.SecretOptions, error) {
	kdf, err := r.KDF()
	if err != nil {
		return core.SecretOptions{}, err
	}
	vaultID, err := r.VaultID()
	if err != nil {
		return core.SecretOptions{}, err
	}
	return core.SecretOptions{
		VaultID:    vaultID,
		UseKeyring: !cfg.NoKeyring,
		Mnemonic:   kdf.Strategy == crypto.StrategyMnemonic,
		Confirm:    confirm,
	}, nil
}

// GetKeyWithRetry derives the vault key and checks it against an
// archive. A stale keyring password is dropped and the operator is
// prompted instead. The caller destroys the key.
func GetKeyWithRetry(r *core.Runner) (*crypto.Key, error) {
	empty, err := vaultEmpty(r)
	if err != nil {
		return nil, err
	}

	opts, err := secretOptions(r, empty)
	if err != nil {
		return nil, err
	}

	secret, source, err := core.GetSecret(opts)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("source", string(source)).Object("secret", logger.Secret(secret)).Msg("secret read")
	key, err := r.DeriveKey(secret)
	crypto.ClearBytes(secret)
	if err != nil {
		return nil, err
	}

	err = r.VerifyKey(key)
	if err == nil {
		return key, nil
	}
	key.Destroy()

	if source != core.SourceKeyring || !errors.Is(err, crypto.ErrAuthFailed) {
		return nil, err
	}

	fmt.Fprintln(os.Stderr, "warning: password in keyring is stale, removing it")
	if err := keyring.DeletePassword(opts.VaultID); err != nil {
		log.Debug().Err(err).Msg("could not remove stale keyring entry")
	}

	opts.UseKeyring = false
	secret, _, err = core.GetSecret(opts)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(secret)

	key, err = r.DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	if err := r.VerifyKey(key); err != nil {
		key.Destroy()
		return nil, err
	}
	return key, nil
}

// vaultEmpty reports whether no archive exists yet, in which case a
// new password is being chosen and gets confirmed
func vaultEmpty(r *core.Runner) (bool, error) {
	entries, err := r.Store().List()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.State.HasCiphertext() {
			return false, nil
		}
	}
	return true, nil
}

// confirmOnTerminal asks the operator whether a leftover scratch copy
// may be discarded. Without a terminal the answer is no.
func confirmOnTerminal(name string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s has a plaintext copy next to its archive.\n", name)
	fmt.Fprintf(os.Stderr, "Discard the plaintext copy and keep the archive? [y/N]: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func alwaysConfirm(string) bool { return true }

// errorHint suggests a next step for err's kind
func errorHint(err error) string {
	switch kgerrors.Kind(err) {
	case kgerrors.ErrState:
		if errors.Is(err, core.ErrAmbiguousState) {
			return "Use 'keyguard diff <name>' to compare, then 'keyguard reconcile'"
		}
		return "Use 'keyguard status' to inspect the vault, then 'keyguard reconcile'"
	case kgerrors.ErrNotFound:
		return "Use 'keyguard status' to see what the vault holds"
	case kgerrors.ErrIO:
		return "Check that the vault directory exists and is writable"
	case kgerrors.ErrDerivation:
		return "Check --kdf and --iterations"
	}
	return ""
}

// HandleError prints err for the operator and returns the exit code.
// A failed external program passes its own exit code through.
func HandleError(err error) int {
	var exitErr *gateway.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if exitErr.Code > 0 {
			return exitErr.Code
		}
		return 1
	}

	switch {
	case errors.Is(err, storage.ErrVaultBusy):
		fmt.Fprintf(os.Stderr, "Error: another keyguard process is using this vault\n")
		fmt.Fprintf(os.Stderr, "Wait for it to finish or raise --lock-timeout\n")
		return 1
	case errors.Is(err, crypto.ErrAuthFailed):
		fmt.Fprintf(os.Stderr, "Error: wrong password, or the archive is corrupted\n")
		return 1
	case errors.Is(err, core.ErrPasswordMismatch):
		fmt.Fprintf(os.Stderr, "Error: passwords do not match\n")
		return 1
	}

	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(os.Stderr, hint)
	}
	return 1
}
