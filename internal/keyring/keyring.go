// Package keyring caches vault passwords in the OS keyring, keyed by the
// vault ID stored in the journal.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	kgerrors "github.com/illarion/keyguard/internal/errors"
)

const serviceName = "keyguard"

var ErrNoPassword = fmt.Errorf("%w: no password in keyring", kgerrors.ErrNotFound)

// SavePassword stores a password in the OS keyring
func SavePassword(vaultID string, password []byte) error {
	if err := keyring.Set(serviceName, vaultID, string(password)); err != nil {
		return fmt.Errorf("failed to save password to keyring: %w", err)
	}
	return nil
}

// GetPassword retrieves a password from the OS keyring. The caller
// clears the returned bytes.
func GetPassword(vaultID string) ([]byte, error) {
	password, err := keyring.Get(serviceName, vaultID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoPassword
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	return []byte(password), nil
}

// DeletePassword removes a password from the OS keyring. Deleting a
// password that is not there is not an error.
func DeletePassword(vaultID string) error {
	if err := keyring.Delete(serviceName, vaultID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete password from keyring: %w", err)
	}
	return nil
}

// HasPassword checks if a password is stored in the keyring
func HasPassword(vaultID string) bool {
	_, err := keyring.Get(serviceName, vaultID)
	return err == nil
}
