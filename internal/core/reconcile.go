package core

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/illarion/keyguard/internal/crypto"
	"github.com/illarion/keyguard/internal/keystore"
	"github.com/illarion/keyguard/internal/storage"
)

// Report lists what a scan found or a reconcile changed
type Report struct {
	Unsealed  []string         // scratch copy without archive, not yet sealed
	Encrypted []string         // scratch copy without archive, now sealed
	Ambiguous []string         // scratch copy next to an archive, left alone
	Discarded []string         // scratch copy next to an archive, removed
	Stale     []storage.Record // operations a killed process left behind
	Rekeying  []string         // archives an interrupted rekey may have left under the old key
}

// Clean reports whether nothing needs the operator's attention
func (r *Report) Clean() bool {
	return len(r.Unsealed) == 0 && len(r.Ambiguous) == 0 && len(r.Stale) == 0 && len(r.Rekeying) == 0
}

// Scan reports leftovers without changing anything. It needs no key.
func (r *Runner) Scan() (*Report, error) {
	entries, err := r.states()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, e := range entries {
		switch e.State {
		case keystore.PlaintextOnly:
			report.Unsealed = append(report.Unsealed, e.Name)
		case keystore.Both:
			report.Ambiguous = append(report.Ambiguous, e.Name)
		}
	}

	pending, err := r.journal.Pending()
	if err != nil {
		return nil, journalErr(err)
	}
	for _, rec := range pending {
		if rec.Phase == storage.PhaseRekeying {
			report.Rekeying = append(report.Rekeying, rec.Name)
			continue
		}
		report.Stale = append(report.Stale, rec)
	}
	return report, nil
}

// Reconcile repairs what an interrupted run left behind. Unsealed key
// files are encrypted. A scratch copy next to an archive is removed only
// when confirm agrees, since the archive is authoritative. Stale journal
// records are reported and cleared, except those of an unfinished rekey,
// which are reported and kept for Rekey to finish. Failures on one credential do not
// stop the others; they are returned combined.
func (r *Runner) Reconcile(ctx context.Context, key *crypto.Key, confirm ConfirmFunc) (*Report, error) {
	if confirm == nil {
		confirm = r.confirm
	}

	entries, err := r.states()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var result *multierror.Error

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		log := r.log.WithCredential(e.Name)
		switch e.State {
		case keystore.PlaintextOnly:
			if err := r.store.EncryptKeyFile(e.Name, key); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", e.Name, err))
				report.Unsealed = append(report.Unsealed, e.Name)
				continue
			}
			r.markSealed(e.Name)
			report.Encrypted = append(report.Encrypted, e.Name)
			log.Info().Msg("sealed leftover key file")

		case keystore.Both:
			if !confirm(e.Name) {
				report.Ambiguous = append(report.Ambiguous, e.Name)
				log.Warn().Msg("scratch copy and archive both present, left alone")
				continue
			}
			if err := r.store.RemovePlaintext(e.Name); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", e.Name, err))
				report.Ambiguous = append(report.Ambiguous, e.Name)
				continue
			}
			report.Discarded = append(report.Discarded, e.Name)
			log.Info().Msg("removed leftover scratch copy")
		}
	}

	pending, err := r.journal.Pending()
	if err != nil {
		return report, combine(result.ErrorOrNil(), journalErr(err))
	}
	for _, rec := range pending {
		if rec.Phase == storage.PhaseRekeying {
			report.Rekeying = append(report.Rekeying, rec.Name)
			r.log.Warn().
				Str("credential", rec.Name).
				Str("op", rec.OpID).
				Msg("archive may still be under the old key, run passwd again to finish the rekey")
			continue
		}
		r.log.Warn().
			Str("credential", rec.Name).
			Str("op", rec.OpID).
			Str("phase", string(rec.Phase)).
			Time("started", rec.Started).
			Msg("clearing interrupted operation")
		if err := r.journal.Finish(rec.Name); err != nil {
			result = multierror.Append(result, journalErr(err))
			continue
		}
		report.Stale = append(report.Stale, rec)
	}

	return report, result.ErrorOrNil()
}
