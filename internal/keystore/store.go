package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
	"github.com/illarion/keyguard/internal/logger"
	"github.com/illarion/keyguard/internal/security"
)

const (
	KeyDir       = "key"
	EncryptedDir = "encrypted"
	SaltFile     = ".vault_salt"
	PlainExt     = ".json"
	CipherExt    = ".enc"

	DirPerm  = 0700 // Directory: owner rwx only
	FilePerm = 0600 // File: owner rw only
)

// saltRel is relative to the key directory, like every path the
// validator sees.
var saltRel = path.Join(EncryptedDir, SaltFile)

var (
	ErrNoArchive = fmt.Errorf("%w: encrypted key file", kgerrors.ErrNotFound)
	ErrNoKeyFile = fmt.Errorf("%w: key file", kgerrors.ErrNotFound)
)

// Store manages the key files of one vault
type Store struct {
	root   string
	keyDir string
	pv     *security.PathValidator
	log    *logger.Logger
}

// Open prepares the vault rooted at root, creating the key directories
// if needed. log may be nil.
func Open(root string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	keyDir := filepath.Join(absRoot, KeyDir)
	if err := os.MkdirAll(keyDir, DirPerm); err != nil {
		return nil, kgerrors.IO("create", keyDir, err)
	}

	pv, err := security.New(keyDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kgerrors.ErrIO, err)
	}

	s := &Store{
		root:   absRoot,
		keyDir: keyDir,
		pv:     pv,
		log:    log,
	}
	if err := s.ensureDirs(); err != nil {
		pv.Close()
		return nil, err
	}
	return s, nil
}

// Close releases resources held by the Store
func (s *Store) Close() error {
	return s.pv.Close()
}

// Root returns the absolute vault root
func (s *Store) Root() string {
	return s.root
}

// PlaintextPath returns the absolute path of name's scratch copy
func (s *Store) PlaintextPath(name string) string {
	return filepath.Join(s.keyDir, name+PlainExt)
}

// ArchivePath returns the absolute path of name's encrypted archive
func (s *Store) ArchivePath(name string) string {
	return filepath.Join(s.keyDir, EncryptedDir, name+CipherExt)
}

// SaltPath returns the absolute path of the vault salt
func (s *Store) SaltPath() string {
	return filepath.Join(s.keyDir, EncryptedDir, SaltFile)
}

func plainRel(name string) string {
	return name + PlainExt
}

func archiveRel(name string) string {
	return path.Join(EncryptedDir, name+CipherExt)
}

// ensureDirs creates key/ and key/encrypted/, idempotently
func (s *Store) ensureDirs() error {
	if err := s.pv.MkdirAllInRoot(EncryptedDir, DirPerm); err != nil {
		return kgerrors.IO("create", filepath.Join(s.keyDir, EncryptedDir), err)
	}
	return nil
}

func validateName(name string) error {
	if err := security.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %w", kgerrors.ErrState, err)
	}
	return nil
}

// exists reports whether rel is present as a regular file
func (s *Store) exists(rel string) (bool, error) {
	info, err := s.pv.StatInRoot(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, kgerrors.IO("stat", filepath.Join(s.keyDir, rel), err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is not a regular file", kgerrors.ErrState, filepath.Join(s.keyDir, rel))
	}
	return true, nil
}

// State reports where name currently lives on disk
func (s *Store) State(name string) (State, error) {
	if err := validateName(name); err != nil {
		return Absent, err
	}

	plain, err := s.exists(plainRel(name))
	if err != nil {
		return Absent, err
	}
	cipher, err := s.exists(archiveRel(name))
	if err != nil {
		return Absent, err
	}
	return stateOf(plain, cipher), nil
}

// List returns every credential with a scratch copy or an archive,
// sorted by name. Files that do not look like credentials are ignored.
func (s *Store) List() ([]Entry, error) {
	plain := make(map[string]bool)
	cipher := make(map[string]bool)

	collect := func(dir, ext string, into map[string]bool) error {
		entries, err := s.pv.ReadDirInRoot(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return kgerrors.IO("list", filepath.Join(s.keyDir, dir), err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ext) {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ext)
			if security.ValidateName(name) != nil {
				continue
			}
			into[name] = true
		}
		return nil
	}

	if err := collect(".", PlainExt, plain); err != nil {
		return nil, err
	}
	if err := collect(EncryptedDir, CipherExt, cipher); err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(plain)+len(cipher))
	for n := range plain {
		names[n] = struct{}{}
	}
	for n := range cipher {
		names[n] = struct{}{}
	}

	result := make([]Entry, 0, len(names))
	for n := range names {
		result = append(result, Entry{Name: n, State: stateOf(plain[n], cipher[n])})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// EncryptKeyFile moves name from its scratch copy into its archive.
//
// With a scratch copy present (PlaintextOnly or Both) the plaintext is
// encrypted, the archive replaced atomically, and the scratch copy
// removed. With only an archive present this is a no-op, so a retried
// or repeated call succeeds. With neither it fails with ErrNoKeyFile.
func (s *Store) EncryptKeyFile(name string, key *crypto.Key) error {
	state, err := s.State(name)
	if err != nil {
		return err
	}

	switch state {
	case CiphertextOnly:
		s.log.Debug().Str("credential", name).Msg("already encrypted, nothing to do")
		return nil
	case Absent:
		return fmt.Errorf("%w not found: %s", ErrNoKeyFile, s.PlaintextPath(name))
	}

	plaintext, err := s.pv.ReadFileInRoot(plainRel(name))
	if err != nil {
		return kgerrors.IO("read", s.PlaintextPath(name), err)
	}
	defer crypto.ClearBytes(plaintext)

	if err := s.WriteArchive(name, key, plaintext); err != nil {
		return err
	}

	if err := s.RemovePlaintext(name); err != nil {
		return err
	}

	s.log.Debug().Str("credential", name).Int("bytes", len(plaintext)).Msg("encrypted key file")
	return nil
}

// DecryptKeyFile restores name's scratch copy from its archive. The
// archive is authoritative: an existing scratch copy is overwritten.
// Fails with ErrNoArchive when there is no archive. On any failure no
// new plaintext is left on disk.
func (s *Store) DecryptKeyFile(name string, key *crypto.Key) error {
	state, err := s.State(name)
	if err != nil {
		return err
	}
	if !state.HasCiphertext() {
		return fmt.Errorf("%w not found: %s", ErrNoArchive, s.ArchivePath(name))
	}

	plaintext, err := s.ReadArchive(name, key)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(plaintext)

	if err := s.pv.WriteFileAtomic(plainRel(name), plaintext, FilePerm); err != nil {
		return kgerrors.IO("write", s.PlaintextPath(name), err)
	}

	s.log.Debug().Str("credential", name).Int("bytes", len(plaintext)).Msg("decrypted key file")
	return nil
}

// ReadArchive decrypts name's archive into memory without touching the
// scratch copy. The caller clears the returned bytes.
func (s *Store) ReadArchive(name string, key *crypto.Key) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	payload, err := s.pv.ReadFileInRoot(archiveRel(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w not found: %s", ErrNoArchive, s.ArchivePath(name))
		}
		return nil, kgerrors.IO("read", s.ArchivePath(name), err)
	}

	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := enc.Decrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", name, err)
	}
	return plaintext, nil
}

// ReadPlaintext reads name's scratch copy. The caller clears the bytes.
func (s *Store) ReadPlaintext(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	data, err := s.pv.ReadFileInRoot(plainRel(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w not found: %s", ErrNoKeyFile, s.PlaintextPath(name))
		}
		return nil, kgerrors.IO("read", s.PlaintextPath(name), err)
	}
	return data, nil
}

// WriteArchive encrypts plaintext under key and atomically replaces
// name's archive. The scratch copy is not touched.
func (s *Store) WriteArchive(name string, key *crypto.Key, plaintext []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		return err
	}

	payload, err := enc.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", name, err)
	}

	if err := s.ensureDirs(); err != nil {
		return err
	}
	if err := s.pv.WriteFileAtomic(archiveRel(name), payload, FilePerm); err != nil {
		return kgerrors.IO("write", s.ArchivePath(name), err)
	}
	return nil
}

// RemovePlaintext deletes name's scratch copy. A missing copy is not an
// error.
func (s *Store) RemovePlaintext(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	if err := s.pv.RemoveInRoot(plainRel(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return kgerrors.IO("remove", s.PlaintextPath(name), err)
	}
	return nil
}

// ArchiveSize returns the size of name's archive in bytes
func (s *Store) ArchiveSize(name string) (int64, error) {
	info, err := s.pv.StatInRoot(archiveRel(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w not found: %s", ErrNoArchive, s.ArchivePath(name))
		}
		return 0, kgerrors.IO("stat", s.ArchivePath(name), err)
	}
	return info.Size(), nil
}
