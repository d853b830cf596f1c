package core

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/gateway"
	"github.com/illarion/keyguard/internal/keyring"
)

// PasswordEnv holds the vault password for non-interactive use
const PasswordEnv = gateway.PasswordEnv

const mnemonicPrompt = "Please enter your mnemonic phrase (input will be hidden): "

var ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", kgerrors.ErrDerivation)

// SecretSource says where a secret came from
type SecretSource string

const (
	SourceEnv     SecretSource = "environment"
	SourceKeyring SecretSource = "keyring"
	SourcePrompt  SecretSource = "prompt"
)

// ReadPassword reads a password from the terminal without echoing.
// The prompt goes to stderr so stdout stays clean.
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(prompt string) ([]byte, error) {
	password1, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, ErrPasswordMismatch
	}

	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// ReadMnemonic prompts for a mnemonic phrase without echoing
func ReadMnemonic() ([]byte, error) {
	return ReadPassword(mnemonicPrompt)
}

// GetPasswordFromEnv reads the password from KEYGUARD_PASSWORD and removes
// it from the environment, or returns nil when it is unset
func GetPasswordFromEnv() []byte {
	password := os.Getenv(PasswordEnv)
	if password == "" {
		return nil
	}
	os.Unsetenv(PasswordEnv)
	result := make([]byte, len(password))
	copy(result, password)
	return result
}

// SecretOptions controls GetSecret
type SecretOptions struct {
	VaultID    string // keyring account, empty skips the keyring
	UseKeyring bool
	Mnemonic   bool // prompt for a mnemonic instead of a password
	Confirm    bool // prompt twice, for new secrets
}

// GetSecret returns the vault secret from the environment, the OS keyring
// or the terminal, in that order. The caller clears the bytes.
func GetSecret(opts SecretOptions) ([]byte, SecretSource, error) {
	if secret := GetPasswordFromEnv(); secret != nil {
		return secret, SourceEnv, nil
	}

	if opts.UseKeyring && opts.VaultID != "" {
		secret, err := keyring.GetPassword(opts.VaultID)
		if err == nil && len(secret) > 0 {
			return secret, SourceKeyring, nil
		}
		if err != nil && !errors.Is(err, keyring.ErrNoPassword) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	var (
		secret []byte
		err    error
	)
	switch {
	case opts.Mnemonic:
		secret, err = ReadMnemonic()
	case opts.Confirm:
		secret, err = ReadPasswordConfirm("Enter password: ")
	default:
		secret, err = ReadPassword("Enter password: ")
	}
	if err != nil {
		return nil, "", err
	}
	return secret, SourcePrompt, nil
}
