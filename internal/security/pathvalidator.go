package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrPathEscapes  = errors.New("path escapes vault")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
	ErrInvalidName  = errors.New("invalid credential name")
)

// MaxNameLen bounds credential names so "<name>.json" fits in a file name.
const MaxNameLen = 200

// PathValidator provides secure path validation and file operations
// that are confined to the vault key directory using the os.Root API.
type PathValidator struct {
	root     *os.Root
	rootPath string
}

// New creates a new PathValidator for the directory at the given path.
// All file operations stay inside it, preventing path traversal through
// crafted credential names or symlinks.
func New(rootPath string) (*PathValidator, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault root: %w", err)
	}

	return &PathValidator{
		root:     root,
		rootPath: absPath,
	}, nil
}

// Close releases resources held by the PathValidator.
func (pv *PathValidator) Close() error {
	if pv.root != nil {
		return pv.root.Close()
	}
	return nil
}

// Path returns the absolute directory the validator is confined to
func (pv *PathValidator) Path() string {
	return pv.rootPath
}

// ValidateName checks that name can be used as a credential name.
// A name must be a single local path element: no separators, no
// leading dot (reserved for vault files like .vault_salt), no control
// characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidName, ErrEmptyPath)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLen)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %w: %q", ErrInvalidName, ErrPathEscapes, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidName, name)
		}
	}
	return nil
}

// ValidateAndNormalize validates a path relative to the root and returns
// it cleaned and slash-separated. It rejects:
// - Empty paths
// - Absolute paths
// - Paths that escape the root (using ..)
// - Paths that are not local (using filepath.IsLocal)
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(filepath.Clean(userPath)), nil
}

func (pv *PathValidator) platformPath(path string) (string, error) {
	if _, err := pv.ValidateAndNormalize(filepath.FromSlash(path)); err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	return filepath.FromSlash(path), nil
}

// WriteFileAtomic writes data to a temporary sibling, syncs it and renames
// it over path, so readers never observe a partially written file.
func (pv *PathValidator) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	p, err := pv.platformPath(path)
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(p), "."+filepath.Base(p)+"."+uuid.NewString()+".tmp")
	f, err := pv.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		pv.root.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		pv.root.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		pv.root.Remove(tmp)
		return err
	}

	if err := pv.root.Rename(tmp, p); err != nil {
		pv.root.Remove(tmp)
		return err
	}
	return nil
}

// MkdirAllInRoot creates directories within the root.
func (pv *PathValidator) MkdirAllInRoot(path string, perm os.FileMode) error {
	p, err := pv.platformPath(path)
	if err != nil {
		return err
	}
	return pv.root.MkdirAll(p, perm)
}

// ReadFileInRoot reads a file within the root.
func (pv *PathValidator) ReadFileInRoot(path string) ([]byte, error) {
	p, err := pv.platformPath(path)
	if err != nil {
		return nil, err
	}
	return pv.root.ReadFile(p)
}

// StatInRoot stats a file within the root without following a final symlink.
func (pv *PathValidator) StatInRoot(path string) (os.FileInfo, error) {
	p, err := pv.platformPath(path)
	if err != nil {
		return nil, err
	}
	return pv.root.Lstat(p)
}

// RemoveInRoot removes a file within the root.
func (pv *PathValidator) RemoveInRoot(path string) error {
	p, err := pv.platformPath(path)
	if err != nil {
		return err
	}
	return pv.root.Remove(p)
}

// ReadDirInRoot lists a directory within the root. "." lists the root itself.
func (pv *PathValidator) ReadDirInRoot(path string) ([]fs.DirEntry, error) {
	if path == "." {
		return fs.ReadDir(pv.root.FS(), ".")
	}
	p, err := pv.platformPath(path)
	if err != nil {
		return nil, err
	}
	return fs.ReadDir(pv.root.FS(), filepath.ToSlash(p))
}
