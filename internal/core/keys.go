package core

import (
	"fmt"

	"github.com/illarion/keyguard/internal/crypto"
	"github.com/illarion/keyguard/internal/keystore"
	"github.com/illarion/keyguard/internal/storage"
)

// Init pins the KDF params, creates the salt and the vault ID. It is safe
// to call on an initialized vault; created reports whether anything was
// new.
func (r *Runner) Init() (created bool, err error) {
	params, err := r.journal.GetKDFParams()
	if err != nil {
		return false, journalErr(err)
	}
	created = params == nil

	if _, err := r.KDF(); err != nil {
		return false, err
	}
	if _, err := r.store.Salt(); err != nil {
		return false, err
	}
	if _, err := r.journal.GetOrCreateVaultID(); err != nil {
		return false, journalErr(err)
	}
	return created, nil
}

// KDF returns the derivation params pinned in the journal. On first use
// the configured params are validated and pinned.
func (r *Runner) KDF() (*crypto.KDF, error) {
	params, err := r.journal.GetKDFParams()
	if err != nil {
		return nil, journalErr(err)
	}

	if params == nil {
		if err := r.kdf.Validate(); err != nil {
			return nil, err
		}
		pinned := storage.KDFParams{Strategy: string(r.kdf.Strategy), Iterations: uint32(r.kdf.Iterations)}
		if err := r.journal.SetKDFParams(pinned); err != nil {
			return nil, journalErr(err)
		}
		r.log.Info().Str("strategy", pinned.Strategy).Uint32("iterations", pinned.Iterations).Msg("pinned key derivation params")
		return r.kdf, nil
	}

	strategy, err := crypto.ParseStrategy(params.Strategy)
	if err != nil {
		return nil, fmt.Errorf("journal has bad KDF params: %w", err)
	}
	kdf := &crypto.KDF{Strategy: strategy, Iterations: int(params.Iterations)}
	if kdf.Strategy != r.kdf.Strategy || (kdf.Strategy == crypto.StrategyPBKDF2 && kdf.Iterations != r.kdf.Iterations) {
		r.log.Warn().
			Str("pinned", params.Strategy).
			Str("configured", string(r.kdf.Strategy)).
			Msg("vault pins different KDF params, using the pinned ones")
	}
	return kdf, nil
}

// DeriveKey turns an operator secret into the vault key. The caller
// clears secret and destroys the key.
func (r *Runner) DeriveKey(secret []byte) (*crypto.Key, error) {
	kdf, err := r.KDF()
	if err != nil {
		return nil, err
	}

	var salt []byte
	if kdf.Strategy.UsesSalt() {
		if salt, err = r.store.Salt(); err != nil {
			return nil, err
		}
	}

	key, err := kdf.DeriveKey(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// VerifyKey checks key against the first archive in the vault. While a
// rekey is unfinished, key is checked against the archives it has not
// rewritten yet and any one of them opening is enough. A vault without
// archives accepts any key.
func (r *Runner) VerifyKey(key *crypto.Key) error {
	entries, err := r.store.List()
	if err != nil {
		return err
	}
	report, err := r.Scan()
	if err != nil {
		return err
	}
	pending := make(map[string]bool, len(report.Rekeying))
	for _, name := range report.Rekeying {
		pending[name] = true
	}

	var lastErr error
	for _, e := range entries {
		if !e.State.HasCiphertext() {
			continue
		}
		if len(pending) > 0 && !pending[e.Name] {
			continue
		}
		plaintext, err := r.store.ReadArchive(e.Name, key)
		if err == nil {
			crypto.ClearBytes(plaintext)
			return nil
		}
		lastErr = err
		if len(pending) == 0 {
			break
		}
	}
	return lastErr
}

// VaultID returns the vault's stable ID, creating it if needed
func (r *Runner) VaultID() (string, error) {
	id, err := r.journal.GetOrCreateVaultID()
	if err != nil {
		return "", journalErr(err)
	}
	return id, nil
}

// states returns the state of every credential on disk
func (r *Runner) states() ([]keystore.Entry, error) {
	entries, err := r.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list key files: %w", err)
	}
	return entries, nil
}
