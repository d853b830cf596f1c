package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	kgerrors "github.com/illarion/keyguard/internal/errors"
)

// JournalFile is the journal's file name inside the vault root
const JournalFile = ".keyguard.db"

// Bucket names
var (
	ConfigBucket = []byte("config") // KDF params, vault ID, timestamps
	OpsBucket    = []byte("ops")    // In-flight operations by credential name
	IndexBucket  = []byte("index")  // Public per-credential info for status
)

// Config keys
var (
	ConfigVersion  = []byte("version")
	ConfigCreated  = []byte("created")
	ConfigStrategy = []byte("kdf")
	ConfigIters    = []byte("iterations")
	ConfigVaultID  = []byte("vault_id")
)

var ErrVaultBusy = fmt.Errorf("%w: vault is in use by another keyguard process", kgerrors.ErrState)

// Journal provides BBolt-based bookkeeping for a vault
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal in vaultRoot. It waits up to timeout
// for another process to release the vault; zero waits forever.
func Open(vaultRoot string, timeout time.Duration) (*Journal, error) {
	if err := os.MkdirAll(vaultRoot, 0700); err != nil {
		return nil, kgerrors.IO("create", vaultRoot, err)
	}

	path := filepath.Join(vaultRoot, JournalFile)
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, ErrVaultBusy
		}
		return nil, fmt.Errorf("%w: failed to open journal: %w", kgerrors.ErrIO, err)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal and releases the vault lock
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.db.Path()
}

func (j *Journal) initialize() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, OpsBucket, IndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}
		created, _ := time.Now().MarshalBinary()
		return config.Put(ConfigCreated, created)
	})
}

// GetKDFParams returns the pinned KDF parameters, or nil if none are set yet
func (j *Journal) GetKDFParams() (*KDFParams, error) {
	var params *KDFParams
	err := j.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		strategy := config.Get(ConfigStrategy)
		if strategy == nil {
			return nil
		}
		iters := config.Get(ConfigIters)
		if len(iters) != 4 {
			return fmt.Errorf("%w: journal has a KDF strategy but no iterations", kgerrors.ErrState)
		}
		params = &KDFParams{
			Strategy:   string(strategy),
			Iterations: binary.BigEndian.Uint32(iters),
		}
		return nil
	})
	return params, err
}

// SetKDFParams pins the KDF parameters for the vault
func (j *Journal) SetKDFParams(params KDFParams) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		iters := make([]byte, 4)
		binary.BigEndian.PutUint32(iters, params.Iterations)
		if err := config.Put(ConfigStrategy, []byte(params.Strategy)); err != nil {
			return err
		}
		return config.Put(ConfigIters, iters)
	})
}

// GetVaultID retrieves the vault ID from config bucket
func (j *Journal) GetVaultID() (string, error) {
	var vaultID string
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(ConfigBucket).Get(ConfigVaultID)
		if data == nil {
			return fmt.Errorf("%w: vault_id", kgerrors.ErrNotFound)
		}
		vaultID = string(data)
		return nil
	})
	return vaultID, err
}

// GetOrCreateVaultID retrieves existing vault ID or generates a new one
func (j *Journal) GetOrCreateVaultID() (string, error) {
	vaultID, err := j.GetVaultID()
	if err == nil {
		return vaultID, nil
	}

	vaultID = uuid.NewString()
	err = j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ConfigBucket).Put(ConfigVaultID, []byte(vaultID))
	})
	if err != nil {
		return "", err
	}
	return vaultID, nil
}

// Begin records that an operation on name has started
func (j *Journal) Begin(name string, phase Phase) (*Record, error) {
	now := time.Now()
	rec := &Record{
		OpID:    uuid.NewString(),
		Name:    name,
		Phase:   phase,
		Started: now,
		Updated: now,
	}
	if err := j.putRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Advance moves an in-flight operation to the next phase
func (j *Journal) Advance(rec *Record, phase Phase) error {
	rec.Phase = phase
	rec.Updated = time.Now()
	return j.putRecord(rec)
}

func (j *Journal) putRecord(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(OpsBucket).Put([]byte(rec.Name), data)
	})
}

// Finish clears the in-flight record for name
func (j *Journal) Finish(name string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(OpsBucket).Delete([]byte(name))
	})
}

// Pending returns operations that never finished, oldest first
func (j *Journal) Pending() ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(OpsBucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	sort.Slice(records, func(a, b int) bool {
		return records[a].Started.Before(records[b].Started)
	})
	return records, err
}

// MarkSealed updates the index after name was encrypted
func (j *Journal) MarkSealed(name string, size int64) error {
	return j.updateIndex(name, func(e *IndexEntry) {
		e.Size = size
		e.LastSealed = time.Now()
	})
}

// MarkUnsealed updates the index after name was decrypted
func (j *Journal) MarkUnsealed(name string) error {
	return j.updateIndex(name, func(e *IndexEntry) {
		e.LastUnsealed = time.Now()
	})
}

func (j *Journal) updateIndex(name string, fn func(*IndexEntry)) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(IndexBucket)
		entry := IndexEntry{Name: name}
		if data := index.Get([]byte(name)); data != nil {
			if err := json.Unmarshal(data, &entry); err != nil {
				return err
			}
		}
		fn(&entry)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return index.Put([]byte(name), data)
	})
}

// GetIndexEntry returns a single index entry, or nil if name is unknown
func (j *Journal) GetIndexEntry(name string) (*IndexEntry, error) {
	var entry *IndexEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(IndexBucket).Get([]byte(name))
		if data == nil {
			return nil
		}
		entry = &IndexEntry{}
		return json.Unmarshal(data, entry)
	})
	return entry, err
}

// Index returns all index entries in name order
func (j *Journal) Index() ([]IndexEntry, error) {
	var entries []IndexEntry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(IndexBucket).ForEach(func(k, v []byte) error {
			var entry IndexEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
