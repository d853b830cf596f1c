package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/storage"
)

// Rekey re-encrypts every archive from oldKey to newKey. The salt and KDF
// params stay as they are, and plaintext never touches the disk.
//
// All archives are decrypted before the first one is rewritten, so a
// wrong oldKey changes nothing. Every archive to rewrite is journaled
// before the first write and cleared once it is under newKey; a rekey
// that stopped halfway is finished by calling Rekey again with the same
// keys. The vault must otherwise be reconciled first.
func (r *Runner) Rekey(ctx context.Context, oldKey, newKey *crypto.Key) error {
	if oldKey.Equal(newKey) {
		return fmt.Errorf("%w: the new password derives the current key", kgerrors.ErrDerivation)
	}

	report, err := r.Scan()
	if err != nil {
		return err
	}
	if len(report.Unsealed) > 0 || len(report.Ambiguous) > 0 || len(report.Stale) > 0 {
		return fmt.Errorf("%w: vault has leftovers, run reconcile first", kgerrors.ErrState)
	}
	resuming := len(report.Rekeying) > 0
	if resuming {
		r.log.Warn().Strs("pending", report.Rekeying).Msg("finishing an interrupted rekey")
	}

	entries, err := r.states()
	if err != nil {
		return err
	}

	type archive struct {
		name string
		data []byte
	}
	var archives []archive
	var rekeyed []string
	defer func() {
		for i := range archives {
			crypto.ClearBytes(archives[i].data)
		}
	}()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := r.store.ReadArchive(e.Name, oldKey)
		if err == nil {
			archives = append(archives, archive{name: e.Name, data: data})
			continue
		}
		if !resuming || !errors.Is(err, crypto.ErrAuthFailed) {
			return err
		}
		// The interrupted run may already have rewritten this one
		plaintext, newErr := r.store.ReadArchive(e.Name, newKey)
		if newErr != nil {
			return fmt.Errorf("%s opens with neither key: %w", e.Name, err)
		}
		crypto.ClearBytes(plaintext)
		rekeyed = append(rekeyed, e.Name)
	}

	for _, name := range rekeyed {
		if err := r.journal.Finish(name); err != nil {
			return journalErr(err)
		}
	}
	for _, a := range archives {
		if _, err := r.journal.Begin(a.name, storage.PhaseRekeying); err != nil {
			return journalErr(err)
		}
	}

	for i, a := range archives {
		if err := r.store.WriteArchive(a.name, newKey, a.data); err != nil {
			left := make([]string, 0, len(archives)-i)
			for _, rest := range archives[i:] {
				left = append(left, rest.name)
			}
			return fmt.Errorf("failed to rekey %s, still under the old key: %s (run passwd again to finish): %w",
				a.name, strings.Join(left, ", "), err)
		}
		if err := r.journal.Finish(a.name); err != nil {
			return journalErr(err)
		}
		r.markSealed(a.name)
		r.log.Debug().Str("credential", a.name).Msg("rekeyed")
	}

	r.log.Info().Int("count", len(archives)+len(rekeyed)).Msg("rekeyed vault")
	return nil
}
