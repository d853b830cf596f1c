package core

import (
	"context"
	"errors"
	"time"

	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/keystore"
	"github.com/illarion/keyguard/internal/storage"
)

// Algorithm names the archive cipher
const Algorithm = "AES-256-GCM"

// CredentialStatus is one row of the status table
type CredentialStatus struct {
	Name         string
	State        keystore.State
	Size         int64
	LastSealed   time.Time
	LastUnsealed time.Time
}

// StatusInfo contains status information
type StatusInfo struct {
	Root        string
	Journal     string // path of the vault's journal database
	VaultID     string // empty until the first keyring or init use
	Strategy    string // empty until a key was first derived
	Iterations  uint32
	Algorithm   string
	Credentials []CredentialStatus
	Pending     []storage.Record
	TotalSize   int64
}

// Status returns the current status. No password required.
func (r *Runner) Status(ctx context.Context) (*StatusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := &StatusInfo{
		Root:      r.store.Root(),
		Journal:   r.journal.Path(),
		Algorithm: Algorithm,
	}

	params, err := r.journal.GetKDFParams()
	if err != nil {
		return nil, journalErr(err)
	}
	if params != nil {
		status.Strategy = params.Strategy
		status.Iterations = params.Iterations
	}

	id, err := r.journal.GetVaultID()
	switch {
	case err == nil:
		status.VaultID = id
	case !errors.Is(err, kgerrors.ErrNotFound):
		return nil, journalErr(err)
	}

	entries, err := r.states()
	if err != nil {
		return nil, err
	}

	index, err := r.journal.Index()
	if err != nil {
		return nil, journalErr(err)
	}
	byName := make(map[string]storage.IndexEntry, len(index))
	for _, e := range index {
		byName[e.Name] = e
	}

	for _, e := range entries {
		cs := CredentialStatus{Name: e.Name, State: e.State}
		if idx, ok := byName[e.Name]; ok {
			cs.LastSealed = idx.LastSealed
			cs.LastUnsealed = idx.LastUnsealed
		}
		if e.State.HasCiphertext() {
			if size, err := r.store.ArchiveSize(e.Name); err == nil {
				cs.Size = size
				status.TotalSize += size
			}
		}
		status.Credentials = append(status.Credentials, cs)
	}

	status.Pending, err = r.journal.Pending()
	if err != nil {
		return nil, journalErr(err)
	}
	return status, nil
}
