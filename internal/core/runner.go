package core

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/gateway"
	"github.com/illarion/keyguard/internal/keystore"
	"github.com/illarion/keyguard/internal/logger"
	"github.com/illarion/keyguard/internal/storage"
)

// DefaultLockTimeout is how long Open waits for another keyguard process
// to release the vault
const DefaultLockTimeout = 5 * time.Second

var ErrAmbiguousState = fmt.Errorf("%w: both a scratch copy and an archive exist", kgerrors.ErrState)

// Policy decides what happens to the scratch copy after the external
// program failed
type Policy string

const (
	// PolicyReencrypt seals the scratch copy no matter how the program ended
	PolicyReencrypt Policy = "reencrypt"
	// PolicyDiscard drops the scratch copy after a failure, keeping the
	// archive as it was before the run
	PolicyDiscard Policy = "discard"
)

// ParsePolicy accepts "reencrypt" or "discard"
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyReencrypt, PolicyDiscard:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown failure policy %q", kgerrors.ErrState, s)
}

// Gateway runs the program that consumes a decrypted key file
type Gateway interface {
	Run(ctx context.Context, keyFile string, args []string) (*gateway.Result, error)
}

// ConfirmFunc asks the operator whether name's scratch copy may be
// discarded in favour of its archive
type ConfirmFunc func(name string) bool

// Options configures a Runner. Zero values are usable.
type Options struct {
	KDF         *crypto.KDF // used until the vault pins its own params
	Policy      Policy
	Gateway     Gateway
	Confirm     ConfirmFunc
	LockTimeout time.Duration
	Logger      *logger.Logger
}

// Runner drives a vault's key files through their lifecycle. It holds
// the vault lock from Open until Close.
type Runner struct {
	store   *keystore.Store
	journal *storage.Journal
	gw      Gateway
	kdf     *crypto.KDF
	policy  Policy
	confirm ConfirmFunc
	log     *logger.Logger
}

// Open locks the vault at root and prepares its layout. It fails with
// storage.ErrVaultBusy when another process holds the vault longer than
// opts.LockTimeout.
func Open(root string, opts Options) (*Runner, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.KDF == nil {
		opts.KDF = crypto.NewKDF(crypto.StrategyPBKDF2)
	}
	if opts.Policy == "" {
		opts.Policy = PolicyReencrypt
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Confirm == nil {
		opts.Confirm = func(string) bool { return false }
	}
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}

	journal, err := storage.Open(root, opts.LockTimeout)
	if err != nil {
		return nil, err
	}

	store, err := keystore.Open(root, opts.Logger)
	if err != nil {
		journal.Close()
		return nil, err
	}

	return &Runner{
		store:   store,
		journal: journal,
		gw:      opts.Gateway,
		kdf:     opts.KDF,
		policy:  opts.Policy,
		confirm: opts.Confirm,
		log:     opts.Logger,
	}, nil
}

// Close releases the vault lock
func (r *Runner) Close() error {
	var result *multierror.Error
	if err := r.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.journal.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Store returns the underlying key file store
func (r *Runner) Store() *keystore.Store {
	return r.store
}

// Journal returns the underlying journal
func (r *Runner) Journal() *storage.Journal {
	return r.journal
}

func journalErr(err error) error {
	return fmt.Errorf("%w: failed to update journal: %w", kgerrors.ErrIO, err)
}

// combine returns nil, the single error, or a multierror of all of them
func combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	return multierror.Append(nil, nonNil...)
}

// Run derives the key from secret and runs the external program against
// name's decrypted key file. See RunWithKey.
func (r *Runner) Run(ctx context.Context, name string, secret []byte, args []string) (*gateway.Result, error) {
	key, err := r.DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	return r.RunWithKey(ctx, name, key, args)
}

// RunWithKey decrypts name, hands the scratch copy to the external
// program and seals it again. However the run ends short of the process
// being killed, no scratch copy is left on disk.
//
// The program's error and a sealing error are both returned, combined.
// The Result is returned whenever the program ran.
func (r *Runner) RunWithKey(ctx context.Context, name string, key *crypto.Key, args []string) (*gateway.Result, error) {
	if r.gw == nil {
		return nil, fmt.Errorf("%w: no external program configured", kgerrors.ErrExternal)
	}
	log := r.log.WithCredential(name)

	if err := r.prepare(name, key); err != nil {
		return nil, err
	}

	rec, err := r.journal.Begin(name, storage.PhaseDecrypting)
	if err != nil {
		return nil, journalErr(err)
	}
	defer func() {
		if err := r.journal.Finish(name); err != nil {
			log.Warn().Err(err).Msg("could not clear journal record")
		}
	}()

	guard := r.store.Guard(name)
	defer guard.Close()

	if err := r.store.DecryptKeyFile(name, key); err != nil {
		return nil, err
	}
	guard.Arm()

	if err := r.journal.MarkUnsealed(name); err != nil {
		log.Warn().Err(err).Msg("could not update index")
	}
	if err := r.journal.Advance(rec, storage.PhaseInUse); err != nil {
		return nil, journalErr(err)
	}

	result, runErr := r.gw.Run(ctx, r.store.PlaintextPath(name), args)
	if runErr != nil {
		log.Warn().Err(runErr).Msg("external program failed")
	}

	if err := r.journal.Advance(rec, storage.PhaseEncrypting); err != nil {
		log.Warn().Err(err).Msg("could not update journal record")
	}

	if runErr != nil && r.policy == PolicyDiscard {
		log.Info().Msg("discarding scratch copy, archive left unchanged")
		return result, runErr
	}

	encErr := r.store.EncryptKeyFile(name, key)
	if encErr == nil {
		guard.Disarm()
		r.markSealed(name)
	}

	return result, combine(runErr, encErr)
}

// prepare brings name to CiphertextOnly before a run. A leftover scratch
// copy without an archive is sealed; one next to an archive is dropped
// only when the operator confirms.
func (r *Runner) prepare(name string, key *crypto.Key) error {
	state, err := r.store.State(name)
	if err != nil {
		return err
	}

	log := r.log.WithCredential(name)
	switch state {
	case keystore.PlaintextOnly:
		log.Warn().Msg("found unsealed key file, encrypting before use")
		if err := r.store.EncryptKeyFile(name, key); err != nil {
			return err
		}
		r.markSealed(name)
	case keystore.Both:
		if !r.confirm(name) {
			return fmt.Errorf("%w: %s (run reconcile or diff first)", ErrAmbiguousState, name)
		}
		log.Warn().Msg("discarding leftover scratch copy, archive is authoritative")
		if err := r.store.RemovePlaintext(name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) markSealed(name string) {
	size, err := r.store.ArchiveSize(name)
	if err == nil {
		err = r.journal.MarkSealed(name, size)
	}
	if err != nil {
		r.log.Warn().Err(err).Str("credential", name).Msg("could not update index")
	}
}

// Encrypt seals name's scratch copy. Sealing an already sealed
// credential is a no-op. A scratch copy next to an archive only replaces
// the archive when Decrypt checked it out; any other such copy is a
// leftover and fails with ErrAmbiguousState.
func (r *Runner) Encrypt(name string, key *crypto.Key) error {
	state, err := r.store.State(name)
	if err != nil {
		return err
	}
	if state == keystore.Both {
		out, err := r.checkedOut(name)
		if err != nil {
			return err
		}
		if !out {
			return fmt.Errorf("%w: %s has a plaintext copy next to its archive (run diff, then reconcile)", ErrAmbiguousState, name)
		}
	}

	if err := r.store.EncryptKeyFile(name, key); err != nil {
		return err
	}
	r.markSealed(name)
	if err := r.journal.Finish(name); err != nil {
		return journalErr(err)
	}
	return nil
}

// Decrypt restores name's scratch copy and leaves it on disk. The caller
// is responsible for sealing it again. An existing scratch copy is only
// overwritten once the operator confirms.
func (r *Runner) Decrypt(name string, key *crypto.Key) error {
	state, err := r.store.State(name)
	if err != nil {
		return err
	}
	if state == keystore.Both && !r.confirm(name) {
		return fmt.Errorf("%w: %s already has a plaintext copy", ErrAmbiguousState, name)
	}

	if err := r.store.DecryptKeyFile(name, key); err != nil {
		return err
	}
	if err := r.journal.MarkUnsealed(name); err != nil {
		r.log.Warn().Err(err).Str("credential", name).Msg("could not update index")
	}
	return nil
}

// checkedOut reports whether name's scratch copy was left by Decrypt:
// unsealed after it was last sealed, with no operation in flight
func (r *Runner) checkedOut(name string) (bool, error) {
	entry, err := r.journal.GetIndexEntry(name)
	if err != nil {
		return false, journalErr(err)
	}
	if entry == nil || !entry.LastUnsealed.After(entry.LastSealed) {
		return false, nil
	}

	pending, err := r.journal.Pending()
	if err != nil {
		return false, journalErr(err)
	}
	for _, rec := range pending {
		if rec.Name == name {
			return false, nil
		}
	}
	return true, nil
}
